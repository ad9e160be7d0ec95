package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// Executor runs query submissions on a bounded goroutine pool. Every run also
// holds one slot of the database semaphore, so at most maxDB queries are open
// against the back-end at once. A query paused at its limit keeps both.
type Executor struct {
	pool  *ants.Pool
	dbSem *semaphore.Weighted
	log   *slog.Logger
}

// NewExecutor starts a pool of size goroutines. maxDB <= 0 disables the
// database semaphore.
func NewExecutor(size int, maxDB int64, log *slog.Logger) (*Executor, error) {
	if log == nil {
		log = slog.Default()
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		log.Error("Query worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	e := &Executor{pool: pool, log: log}
	if maxDB > 0 {
		e.dbSem = semaphore.NewWeighted(maxDB)
	}
	return e, nil
}

// Go submits fn. It blocks while the pool is full and fails once the pool has
// been released. A submitted fn always runs, since it owes its stream a final
// signal.
func (e *Executor) Go(fn func()) error {
	return e.pool.Submit(func() {
		if e.dbSem != nil {
			if err := e.dbSem.Acquire(context.Background(), 1); err != nil {
				e.log.Error("failed to acquire db slot", "error", err)
			} else {
				defer e.dbSem.Release(1)
			}
		}
		fn()
	})
}

// Running is the number of submissions currently executing.
func (e *Executor) Running() int {
	return e.pool.Running()
}

// Release stops accepting work and waits up to timeout for running
// submissions.
func (e *Executor) Release(timeout time.Duration) error {
	return e.pool.ReleaseTimeout(timeout)
}
