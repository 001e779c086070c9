// Package fetch runs asynchronous cache population jobs on a bounded pool.
//
// Jobs receive a Token that grants permission to perform positional writes
// into shared cache regions. Tokens are only ever handed to jobs running on
// a Pool, so holding one proves the caller is a cache-fetch goroutine.
package fetch

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("fetch: pool closed")

// Token grants the right to write into shared cache regions.
// Only the Pool can mint valid tokens.
type Token struct {
	pool *Pool
}

// Valid reports whether the token was issued by a pool.
func (t *Token) Valid() bool {
	return t != nil && t.pool != nil
}

// Job is a unit of cache population work.
type Job func(ctx context.Context, tok *Token)

// Pool bounds the number of concurrently running cache population jobs.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool running at most workers jobs concurrently.
// workers <= 0 defaults to 4.
func NewPool(workers int64) *Pool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules job for execution. It blocks only while the pool is at
// capacity; the job itself always runs on a pool goroutine, never on the
// caller's.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := p.ctx.Err(); err != nil {
		return ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		job(p.ctx, &Token{pool: p})
	}()
	return nil
}

// Close stops the pool. Jobs already running observe a canceled context.
func (p *Pool) Close() {
	p.cancel()
}
