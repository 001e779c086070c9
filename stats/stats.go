// Package stats collects per-input read statistics.
//
// All counters are safe for concurrent additive updates and may be read at
// any time. Integrate with external monitoring by periodically sampling an
// InputStats snapshot.
package stats

import (
	"sync/atomic"
	"time"
)

// TimedCounter tracks a count of events, the bytes they moved and the total
// time they took.
type TimedCounter struct {
	Count      atomic.Int64
	Bytes      atomic.Int64
	TotalNanos atomic.Int64
}

// Add records one event of n bytes taking d.
func (c *TimedCounter) Add(n int64, d time.Duration) {
	c.Count.Add(1)
	c.Bytes.Add(n)
	c.TotalNanos.Add(d.Nanoseconds())
}

// InputStats aggregates the counters emitted by a cached input and its
// clones and slices. The zero value is ready for use.
type InputStats struct {
	// OpenCount counts top-level constructions, not clones or slices.
	OpenCount atomic.Int64

	// CachedBytesRead counts bytes served from the shared cache file.
	CachedBytesRead atomic.Int64
	// CachedBytesWritten tracks bytes written into the shared cache file.
	CachedBytesWritten TimedCounter

	// IndexCacheBytesRead counts bytes served from the header cache.
	IndexCacheBytesRead atomic.Int64
	// IndexCacheFills tracks header cache fill operations.
	IndexCacheFills TimedCounter

	// BlobStoreBytesRequested counts bytes requested from the blob store,
	// across cache population and direct reads.
	BlobStoreBytesRequested atomic.Int64
	// DirectBytesRead tracks bytes read directly from the blob store after
	// a cache region was evicted mid-read.
	DirectBytesRead TimedCounter

	// ContiguousReads and NonContiguousReads classify reads by whether they
	// start where the previous read ended.
	ContiguousReads    atomic.Int64
	NonContiguousReads atomic.Int64
	// TotalBytesRead counts all bytes returned to callers.
	TotalBytesRead atomic.Int64

	// ForwardSeeks and BackwardSeeks classify seeks relative to the
	// previous seek position.
	ForwardSeeks  atomic.Int64
	BackwardSeeks atomic.Int64
}

// IncrementOpenCount records a top-level input construction.
func (s *InputStats) IncrementOpenCount() {
	s.OpenCount.Add(1)
}

// AddCachedBytesRead records n bytes served from the shared cache file.
func (s *InputStats) AddCachedBytesRead(n int64) {
	s.CachedBytesRead.Add(n)
}

// AddCachedBytesWritten records n bytes written to the shared cache file.
func (s *InputStats) AddCachedBytesWritten(n int64, d time.Duration) {
	s.CachedBytesWritten.Add(n, d)
}

// AddIndexCacheBytesRead records n bytes served from the header cache.
func (s *InputStats) AddIndexCacheBytesRead(n int64) {
	s.IndexCacheBytesRead.Add(n)
}

// StartIndexCacheFill opens a header cache fill measurement. The returned
// function must be called exactly once when the fill completes or fails.
func (s *InputStats) StartIndexCacheFill() func() {
	start := time.Now()
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			s.IndexCacheFills.Add(0, time.Since(start))
		}
	}
}

// AddBlobStoreBytesRequested records n bytes requested from the blob store.
func (s *InputStats) AddBlobStoreBytesRequested(n int64) {
	s.BlobStoreBytesRequested.Add(n)
}

// AddDirectBytesRead records n bytes read directly from the blob store.
func (s *InputStats) AddDirectBytesRead(n int64, d time.Duration) {
	s.DirectBytesRead.Add(n, d)
}

// IncrementBytesRead records a completed read of n bytes at position,
// classifying it against the end of the previous read.
func (s *InputStats) IncrementBytesRead(lastReadPosition, position int64, n int64) {
	if lastReadPosition == position {
		s.ContiguousReads.Add(1)
	} else {
		s.NonContiguousReads.Add(1)
	}
	s.TotalBytesRead.Add(n)
}

// IncrementSeeks records a seek from lastSeekPosition to position.
func (s *InputStats) IncrementSeeks(lastSeekPosition, position int64) {
	if position >= lastSeekPosition {
		s.ForwardSeeks.Add(1)
	} else {
		s.BackwardSeeks.Add(1)
	}
}
