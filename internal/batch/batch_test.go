package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestEffort_IsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results := BestEffort(context.Background(), items, 2, func(_ context.Context, n int) (string, error) {
		if n%2 == 0 {
			return "", fmt.Errorf("item %d failed", n)
		}
		return fmt.Sprintf("ok-%d", n), nil
	})

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, []string{"ok-1", "ok-3", "ok-5"}, Values(results))
	assert.Equal(t, 2, Failed(results))

	err := Errors(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 2 failed")
	assert.Contains(t, err.Error(), "item 4 failed")
}

func TestBestEffort_SiblingFailureDoesNotCancel(t *testing.T) {
	results := BestEffort(context.Background(), []int{0, 1}, 0, func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return 0, errors.New("boom")
		}
		time.Sleep(20 * time.Millisecond)
		return n, ctx.Err()
	})

	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].OK())
}

func TestBestEffort_RespectsLimit(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 20)

	BestEffort(context.Background(), items, 3, func(_ context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestBestEffort_Empty(t *testing.T) {
	results := BestEffort(context.Background(), []string(nil), 1, func(context.Context, string) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	assert.Empty(t, results)
	assert.NoError(t, Errors(results))
}
