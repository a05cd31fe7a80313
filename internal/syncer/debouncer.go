package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// DefaultDebounce is how long a channel sync suppresses the next one.
const DefaultDebounce = 5 * time.Minute

// Debouncer admits at most one sync per channel per interval. Admit marks
// the channel as recently synced when it returns true.
type Debouncer interface {
	Admit(ctx context.Context, teamID, channelID string) (bool, error)
}

func debounceKey(teamID, channelID string) string {
	return "sync_debounce:" + teamID + ":" + channelID
}

type RedisDebouncer struct {
	rdb      redis.Cmdable
	interval time.Duration
}

func NewRedisDebouncer(rdb redis.Cmdable, interval time.Duration) *RedisDebouncer {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	return &RedisDebouncer{rdb: rdb, interval: interval}
}

func (d *RedisDebouncer) Admit(ctx context.Context, teamID, channelID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, debounceKey(teamID, channelID), time.Now().Unix(), d.interval).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check sync debounce: %w", err)
	}
	return ok, nil
}

type MemoryDebouncer struct {
	mu     sync.Mutex
	recent *expirable.LRU[string, struct{}]
}

func NewMemoryDebouncer(size int, interval time.Duration) *MemoryDebouncer {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	if size <= 0 {
		size = 10000
	}
	return &MemoryDebouncer{recent: expirable.NewLRU[string, struct{}](size, nil, interval)}
}

func (d *MemoryDebouncer) Admit(_ context.Context, teamID, channelID string) (bool, error) {
	key := debounceKey(teamID, channelID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.recent.Get(key); seen {
		return false, nil
	}
	d.recent.Add(key, struct{}{})
	return true, nil
}
