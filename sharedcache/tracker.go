package sharedcache

import (
	"sort"
	"sync"

	"github.com/hupe1980/snapcache/internal/ranges"
)

// tracker records which byte ranges of a region are populated, which are
// being written right now and how far each write has progressed, and fires
// waiters as ranges become readable.
//
// All mutating methods return the waiters they satisfied or failed; the
// caller must invoke them after releasing its own references, never while
// holding the tracker lock (fire functions run arbitrary reader callbacks).
type tracker struct {
	mu       sync.Mutex
	complete []ranges.Range // sorted, disjoint, fully populated
	inflight []*gap
	waiters  []*waiter
}

// gap is a contiguous unpopulated sub-range claimed by exactly one writer.
type gap struct {
	r ranges.Range
	// progress is the number of bytes from r.From that are written and
	// visible to readers.
	progress int64
}

type waiter struct {
	r    ranges.Range
	fire func(error)
}

func newTracker() *tracker {
	return &tracker{}
}

// awaitPending registers fire to run once r is fully readable, provided r
// is covered by populated ranges plus ranges some writer has claimed. It
// returns pending=false when neither holds. When r is already readable the
// returned immediate func is fire itself, to be run by the caller outside
// the lock.
func (t *tracker) awaitPending(r ranges.Range, fire func(error)) (immediate func(), pending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.coveredLocked(r, false) {
		return func() { fire(nil) }, true
	}
	if !t.coveredLocked(r, true) {
		return nil, false
	}
	t.waiters = append(t.waiters, &waiter{r: r, fire: fire})
	return nil, true
}

// start claims the unpopulated, unclaimed gaps of write and registers fire
// to run once read is fully readable, all under one lock so no concurrent
// failure can slip between the claim and the registration. The caller must
// arrange exactly one writer per returned gap and run immediate, if
// non-nil, outside the lock.
func (t *tracker) start(write, read ranges.Range, fire func(error)) (gaps []*gap, immediate func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gaps = t.claimGapsLocked(write)
	if t.coveredLocked(read, false) {
		return gaps, func() { fire(nil) }
	}
	t.waiters = append(t.waiters, &waiter{r: read, fire: fire})
	return gaps, nil
}

func (t *tracker) coveredLocked(r ranges.Range, includeClaimed bool) bool {
	if r.IsEmpty() {
		return true
	}
	spans := make([]ranges.Range, 0, len(t.complete)+len(t.inflight))
	spans = append(spans, t.complete...)
	for _, g := range t.inflight {
		if includeClaimed {
			spans = append(spans, g.r)
		} else if g.progress > 0 {
			spans = append(spans, ranges.New(g.r.From, g.r.From+g.progress))
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].From < spans[j].From })

	pos := r.From
	for _, s := range spans {
		if s.From > pos {
			break
		}
		if s.To > pos {
			pos = s.To
		}
		if pos >= r.To {
			return true
		}
	}
	return pos >= r.To
}

// claimGapsLocked subtracts populated and claimed ranges from write and
// claims the remaining gaps for the caller.
func (t *tracker) claimGapsLocked(write ranges.Range) []*gap {
	spans := make([]ranges.Range, 0, len(t.complete)+len(t.inflight))
	spans = append(spans, t.complete...)
	for _, g := range t.inflight {
		spans = append(spans, g.r)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].From < spans[j].From })

	var claimed []*gap
	pos := write.From
	for _, s := range spans {
		if s.To <= pos {
			continue
		}
		if s.From >= write.To {
			break
		}
		if s.From > pos {
			g := &gap{r: ranges.New(pos, min(s.From, write.To))}
			claimed = append(claimed, g)
		}
		if s.To > pos {
			pos = s.To
		}
		if pos >= write.To {
			break
		}
	}
	if pos < write.To {
		claimed = append(claimed, &gap{r: ranges.New(pos, write.To)})
	}
	t.inflight = append(t.inflight, claimed...)
	return claimed
}

// progressTo records that the writer of g has made n bytes from the gap start
// visible, and returns the satisfied waiters to fire.
func (t *tracker) progressTo(g *gap, n int64) []func() {
	t.mu.Lock()
	if n > g.progress {
		g.progress = n
	}
	fires := t.collectSatisfiedLocked()
	t.mu.Unlock()
	return fires
}

// finish removes g from the in-flight set. On success its range becomes
// populated; on failure all waiters overlapping g fail with err. Returns
// the waiter callbacks to run.
func (t *tracker) finish(g *gap, err error) []func() {
	t.mu.Lock()
	for i, other := range t.inflight {
		if other == g {
			t.inflight = append(t.inflight[:i], t.inflight[i+1:]...)
			break
		}
	}

	var fires []func()
	if err == nil {
		t.insertCompleteLocked(g.r)
		fires = t.collectSatisfiedLocked()
	} else {
		remaining := t.waiters[:0]
		for _, w := range t.waiters {
			if w.r.From < g.r.To && g.r.From < w.r.To {
				w := w
				fires = append(fires, func() { w.fire(err) })
			} else {
				remaining = append(remaining, w)
			}
		}
		t.waiters = remaining
	}
	t.mu.Unlock()
	return fires
}

// fail aborts every in-flight write and waiter with err.
func (t *tracker) fail(err error) []func() {
	t.mu.Lock()
	t.inflight = nil
	fires := make([]func(), 0, len(t.waiters))
	for _, w := range t.waiters {
		w := w
		fires = append(fires, func() { w.fire(err) })
	}
	t.waiters = nil
	t.mu.Unlock()
	return fires
}

func (t *tracker) collectSatisfiedLocked() []func() {
	var fires []func()
	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if t.coveredLocked(w.r, false) {
			w := w
			fires = append(fires, func() { w.fire(nil) })
		} else {
			remaining = append(remaining, w)
		}
	}
	t.waiters = remaining
	return fires
}

func (t *tracker) insertCompleteLocked(r ranges.Range) {
	merged := make([]ranges.Range, 0, len(t.complete)+1)
	for _, s := range t.complete {
		if s.To < r.From || r.To < s.From {
			merged = append(merged, s)
			continue
		}
		r = ranges.Union(r, s)
	}
	merged = append(merged, r)
	sort.Slice(merged, func(i, j int) bool { return merged[i].From < merged[j].From })
	t.complete = merged
}
