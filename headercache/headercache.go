// Package headercache caches the first bytes of snapshot files in a small
// key-value store, so that directory opens do not have to touch the blob
// store for every tiny read.
//
// Entries are keyed by physical file name and cover either the file's first
// N bytes or, for tiny files, its whole content. The cache is strictly an
// accelerator: a Miss or NotReady answer is always safe.
package headercache

import "context"

// State classifies a Lookup answer.
type State uint8

const (
	// Miss means the cache holds no entry for the requested range.
	Miss State = iota
	// NotReady means the cache is not initialized yet. Callers treat it
	// like Miss for serving but still trigger a fill, since the cache
	// index is only created on the first put.
	NotReady
	// Hit means Bytes covers [From, To).
	Hit
)

// CachedBlob is the result of a Lookup. For a Hit, Bytes holds the cached
// content of [From, To) of the file; callers must treat it as read-only.
type CachedBlob struct {
	State State
	Bytes []byte
	From  int64
	To    int64
}

// Covers reports whether the blob holds all bytes of [from, to).
func (b CachedBlob) Covers(from, to int64) bool {
	return b.State == Hit && b.From <= from && to <= b.To
}

// Length returns the number of cached bytes.
func (b CachedBlob) Length() int64 {
	return int64(len(b.Bytes))
}

// Cache is the header cache contract.
//
// Implementations must be safe for concurrent use. Put is fire-and-forget:
// it may complete asynchronously, and onDone is invoked exactly once with
// the outcome, on an arbitrary goroutine.
type Cache interface {
	// Lookup returns the cached entry for the first `length` bytes of the
	// named file starting at `from`. Callers only ever query the prefix
	// (from == 0).
	Lookup(ctx context.Context, name string, from, length int64) CachedBlob
	// Put stores bytes as the content of [from, from+len(b)) of the named
	// file.
	Put(ctx context.Context, name string, from int64, b []byte, onDone func(error))
}
