package sharedcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/snapcache/fetch"
	"github.com/hupe1980/snapcache/internal/ranges"
)

// ErrEvicted is returned by every operation against a region that has been
// reclaimed. Callers branch on it to fall back to direct blob store reads.
var ErrEvicted = errors.New("sharedcache: region evicted")

// errWriteWithoutToken guards positional writes: only jobs running on the
// cache-fetch pool hold a valid token.
var errWriteWithoutToken = errors.New("sharedcache: positional write without fetch token")

// Reader copies length bytes from the channel into the caller's buffer.
// channelPos is where the requested range starts inside the channel,
// relativePos is the same position relative to the start of the requested
// range. It returns the number of bytes it consumed.
type Reader func(ch Channel, channelPos, relativePos, length int64) (int64, error)

// Writer fills one contiguous unpopulated sub-range of a declared write
// range. channelPos is the sub-range start inside the channel, relativePos
// the same position relative to the declared write range. Each call to
// progress(bytesSoFar) makes the written prefix visible to concurrent
// readers.
type Writer func(ctx context.Context, tok *fetch.Token, ch Channel, channelPos, relativePos, length int64, progress func(int64)) error

// Channel is positional access to a region's backing storage. Offsets are
// region-relative. Writes require a fetch token.
type Channel interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(tok *fetch.Token, p []byte, off int64) (int, error)
}

// File is a reference to the cache region backing one logical file.
//
// A File may be evicted at any time; operations in flight observe
// ErrEvicted. The handle does not pin the region against eviction.
type File struct {
	cache  *Cache
	key    string
	length int64
	base   int64

	tracker *tracker
	evicted atomic.Bool
}

// Evicted reports whether the region has been reclaimed.
func (f *File) Evicted() bool {
	return f.evicted.Load()
}

// Length returns the region length in bytes.
func (f *File) Length() int64 {
	return f.length
}

func (f *File) String() string {
	return fmt.Sprintf("sharedcache.File(%s, length=%d)", f.key, f.length)
}

// ReadIfAvailableOrPending serves r if it is entirely populated or claimed
// by in-flight writers. It returns nil when neither holds; otherwise the
// returned future completes with the reader's byte count once r is
// readable. The reader runs on the goroutine that makes the last byte of r
// visible, or on the caller's when r is already resident.
func (f *File) ReadIfAvailableOrPending(r ranges.Range, reader Reader) *Future {
	if r.IsEmpty() {
		return CompletedFuture(0, nil)
	}
	if f.evicted.Load() {
		return CompletedFuture(0, ErrEvicted)
	}
	fut := newFuture()
	fire := func(err error) {
		if err != nil {
			fut.complete(0, err)
			return
		}
		n, rerr := reader(f.channel(), r.From, 0, r.Len())
		fut.complete(n, rerr)
	}
	immediate, pending := f.tracker.awaitPending(r, fire)
	if !pending {
		return nil
	}
	if immediate != nil {
		immediate()
	}
	return fut
}

// PopulateAndRead declares intent to fill writeRange, which must contain
// readRange. Unpopulated sub-ranges are claimed and filled by writer
// callbacks scheduled on exec, at most one writer per sub-range. The
// returned future completes with the reader's byte count once readRange is
// readable.
func (f *File) PopulateAndRead(writeRange, readRange ranges.Range, reader Reader, writer Writer, exec *fetch.Pool) *Future {
	if !writeRange.Contains(readRange) {
		return CompletedFuture(0, fmt.Errorf("sharedcache: read range %s outside write range %s", readRange, writeRange))
	}
	if f.evicted.Load() {
		return CompletedFuture(0, ErrEvicted)
	}

	fut := newFuture()
	fire := func(err error) {
		if err != nil {
			fut.complete(0, err)
			return
		}
		n, rerr := reader(f.channel(), readRange.From, 0, readRange.Len())
		fut.complete(n, rerr)
	}

	// Gap claiming and waiter registration happen under one tracker lock
	// so a concurrent writer failure cannot slip in between and leave the
	// waiter behind forever.
	gaps, immediate := f.tracker.start(writeRange, readRange, fire)
	if immediate != nil {
		defer immediate()
	}

	for _, g := range gaps {
		g := g
		err := exec.Submit(context.Background(), func(ctx context.Context, tok *fetch.Token) {
			werr := writer(ctx, tok, f.channel(), g.r.From, g.r.From-writeRange.From, g.r.Len(), func(n int64) {
				runAll(f.tracker.progressTo(g, n))
			})
			if werr == nil && f.evicted.Load() {
				werr = ErrEvicted
			}
			runAll(f.tracker.finish(g, werr))
		})
		if err != nil {
			runAll(f.tracker.finish(g, err))
		}
	}

	return fut
}

func (f *File) channel() Channel {
	return &regionChannel{file: f}
}

func runAll(fires []func()) {
	for _, fire := range fires {
		fire()
	}
}

// regionChannel is a region-relative positional view of the cache's backing
// file, valid only while the region is live.
type regionChannel struct {
	file *File
}

func (c *regionChannel) ReadAt(p []byte, off int64) (int, error) {
	if c.file.evicted.Load() {
		return 0, ErrEvicted
	}
	if off < 0 || off+int64(len(p)) > c.file.length {
		return 0, fmt.Errorf("sharedcache: read [%d-%d) outside region of length %d", off, off+int64(len(p)), c.file.length)
	}
	return c.file.cache.backing.ReadAt(p, c.file.base+off)
}

func (c *regionChannel) WriteAt(tok *fetch.Token, p []byte, off int64) (int, error) {
	if !tok.Valid() {
		return 0, errWriteWithoutToken
	}
	if c.file.evicted.Load() {
		return 0, ErrEvicted
	}
	if off < 0 || off+int64(len(p)) > c.file.length {
		return 0, fmt.Errorf("sharedcache: write [%d-%d) outside region of length %d", off, off+int64(len(p)), c.file.length)
	}
	return c.file.cache.backing.WriteAt(p, c.file.base+off)
}
