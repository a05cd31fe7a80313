package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDebouncer(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewRedisDebouncer(rdb, 5*time.Minute)
	ctx := context.Background()

	ok, err := d.Admit(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Admit(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = d.Admit(ctx, "T1", "C2")
	assert.True(t, ok)

	mr.FastForward(5*time.Minute + time.Second)
	ok, err = d.Admit(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDebouncer(t *testing.T) {
	d := NewMemoryDebouncer(10, 50*time.Millisecond)
	ctx := context.Background()

	ok, _ := d.Admit(ctx, "T1", "C1")
	assert.True(t, ok)
	ok, _ = d.Admit(ctx, "T1", "C1")
	assert.False(t, ok)
	ok, _ = d.Admit(ctx, "T2", "C1")
	assert.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	ok, _ = d.Admit(ctx, "T1", "C1")
	assert.True(t, ok)
}
