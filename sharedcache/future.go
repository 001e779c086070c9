package sharedcache

import (
	"context"
	"sync"
)

// Future is the completion handle of an asynchronous cache operation. Its
// value is the number of bytes the operation's reader consumed.
type Future struct {
	done chan struct{}
	once sync.Once
	n    int64
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CompletedFuture returns a future that already holds the given result.
func CompletedFuture(n int64, err error) *Future {
	f := newFuture()
	f.complete(n, err)
	return f
}

func (f *Future) complete(n int64, err error) {
	f.once.Do(func() {
		f.n = n
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the operation completes or ctx is done, and returns the
// number of bytes read by the operation's reader callback.
func (f *Future) Wait(ctx context.Context) (int64, error) {
	select {
	case <-f.done:
		return f.n, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done returns a channel closed when the operation completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
