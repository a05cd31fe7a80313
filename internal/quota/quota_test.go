package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckAndConsume(t *testing.T) {
	mr, rdb := newTestRedis(t)
	g := NewGovernor(rdb, 2)
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	d, err := g.CheckAndConsume(ctx, "T1", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Used)
	assert.Equal(t, int64(1), d.Remaining)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), d.ResetAt)
	assert.Equal(t, 4*time.Hour, mr.TTL("ask_quota:T1:2024-06-01"))

	d, _ = g.CheckAndConsume(ctx, "T1", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	d, _ = g.CheckAndConsume(ctx, "T1", nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Used)

	d, _ = g.CheckAndConsume(ctx, "T2", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Used)
}

func TestCheckAndConsume_NewDayStartsFresh(t *testing.T) {
	mr, rdb := newTestRedis(t)
	g := NewGovernor(rdb, 1)
	now := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := g.CheckAndConsume(ctx, "T1", nil)
	require.NoError(t, err)
	d, _ := g.CheckAndConsume(ctx, "T1", nil)
	assert.False(t, d.Allowed)

	mr.FastForward(time.Minute)
	now = now.Add(time.Minute)
	d, _ = g.CheckAndConsume(ctx, "T1", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Used)
}

func TestCheckAndConsume_ConcurrentCountsAreUnique(t *testing.T) {
	_, rdb := newTestRedis(t)
	g := NewGovernor(rdb, 1000)
	const n = 50

	var mu sync.Mutex
	var used []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.CheckAndConsume(context.Background(), "T1", nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			used = append(used, int(d.Used))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(used)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, used)
}

func TestCheckAndConsume_RedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	_, err := NewGovernor(rdb, 30).CheckAndConsume(context.Background(), "T1", nil)
	assert.Error(t, err)
}

func TestFormatReset(t *testing.T) {
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	reset := nextUTCMidnight(now)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.Equal(t, "today at 8:00 PM", FormatReset(reset.In(ny), now))
	assert.Equal(t, "today at 9:00 AM", FormatReset(reset.In(tokyo), now))
	assert.Equal(t, "tomorrow at 12:00 AM", FormatReset(reset, now))
}

type fakeLookup struct {
	tz    string
	err   error
	calls int
}

func (f *fakeLookup) UserTimezone(ctx context.Context, userID string) (string, error) {
	f.calls++
	return f.tz, f.err
}

func TestTimezoneResolver(t *testing.T) {
	mr, rdb := newTestRedis(t)
	r := NewTimezoneResolver(rdb, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	lookup := &fakeLookup{tz: "Europe/Berlin"}
	loc := r.Resolve(ctx, lookup, "U1")
	assert.Equal(t, "Europe/Berlin", loc.String())
	assert.Equal(t, 1, lookup.calls)
	assert.Equal(t, 7*24*time.Hour, mr.TTL("user_timezone:U1"))

	loc = r.Resolve(ctx, lookup, "U1")
	assert.Equal(t, "Europe/Berlin", loc.String())
	assert.Equal(t, 1, lookup.calls)
}

func TestTimezoneResolver_FallsBackToUTC(t *testing.T) {
	mr, rdb := newTestRedis(t)
	r := NewTimezoneResolver(rdb, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	failing := &fakeLookup{err: errors.New("user_not_found")}
	assert.Equal(t, time.UTC, r.Resolve(ctx, failing, "U1"))
	assert.False(t, mr.Exists("user_timezone:U1"))

	bogus := &fakeLookup{tz: "Mars/Olympus_Mons"}
	assert.Equal(t, time.UTC, r.Resolve(ctx, bogus, "U2"))

	assert.Equal(t, time.UTC, r.Resolve(ctx, failing, ""))
	assert.Equal(t, 1, failing.calls)
}
