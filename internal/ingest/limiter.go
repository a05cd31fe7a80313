package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"zapask/internal/metrics"
)

// Limiter bounds concurrent work. Waiters are admitted in arrival order, one
// per released slot.
type Limiter struct {
	sem     *semaphore.Weighted
	size    int
	waiting atomic.Int64
	active  atomic.Int64
}

func NewLimiter(size int) *Limiter {
	if size <= 0 {
		size = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Run waits for a slot, then calls fn. It returns ctx.Err() if the context
// ends while queued.
func (l *Limiter) Run(ctx context.Context, fn func(context.Context) error) error {
	metrics.FileQueueDepth.Set(float64(l.waiting.Add(1)))
	err := l.sem.Acquire(ctx, 1)
	metrics.FileQueueDepth.Set(float64(l.waiting.Add(-1)))
	if err != nil {
		return fmt.Errorf("waiting for ingestion slot: %w", err)
	}
	defer l.sem.Release(1)

	l.active.Add(1)
	defer l.active.Add(-1)

	return fn(ctx)
}

func (l *Limiter) Size() int { return l.size }

// Active is the number of calls currently holding a slot.
func (l *Limiter) Active() int { return int(l.active.Load()) }

// Waiting is the number of calls queued for a slot.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
