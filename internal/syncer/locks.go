package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out exclusive per-key leases. A key that is already held
// yields acquired == false and no error; callers treat that as "someone else
// is doing the work".
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// MemoryLocker is a process-local lock registry.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares leases between processes. A lease expires after ttl so
// a crashed holder cannot wedge a channel.
type RedisLocker struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(rdb redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, prefix: "sync_lock:"}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rdb, []string{redisKey}, token).Err()
		})
	}, true, nil
}
