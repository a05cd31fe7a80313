package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundsConcurrency(t *testing.T) {
	l := NewLimiter(5)
	var inFlight, peak atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(5))
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, l.Waiting())
}

func TestLimiter_CancelledWhileQueued(t *testing.T) {
	l := NewLimiter(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = l.Run(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := l.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
}

func TestLimiter_ReturnsFnError(t *testing.T) {
	l := NewLimiter(0)
	assert.Equal(t, 1, l.Size())
	err := l.Run(context.Background(), func(context.Context) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}
