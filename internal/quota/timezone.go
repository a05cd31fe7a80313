package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
)

const DefaultTimezoneTTL = 7 * 24 * time.Hour

type TimezoneLookup interface {
	UserTimezone(ctx context.Context, userID string) (string, error)
}

// TimezoneResolver caches user timezones in Redis.
type TimezoneResolver struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewTimezoneResolver(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *TimezoneResolver {
	if ttl <= 0 {
		ttl = DefaultTimezoneTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimezoneResolver{rdb: rdb, ttl: ttl, logger: logger}
}

func timezoneKey(userID string) string {
	return "user_timezone:" + userID
}

// Resolve returns the user's location. Any failure yields UTC, and failures
// are not cached.
func (r *TimezoneResolver) Resolve(ctx context.Context, lookup TimezoneLookup, userID string) *time.Location {
	if userID == "" {
		return time.UTC
	}

	name, err := r.rdb.Get(ctx, timezoneKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("Failed to read cached timezone", "user_id", userID, "error", err)
	}
	if err == nil {
		if loc, lerr := time.LoadLocation(name); lerr == nil {
			return loc
		}
	}

	name, err = lookup.UserTimezone(ctx, userID)
	if err != nil {
		r.logger.Warn("Failed to look up user timezone, using UTC", "user_id", userID, "error", err)
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		r.logger.Warn("Unknown user timezone, using UTC", "user_id", userID, "timezone", name)
		return time.UTC
	}

	if err := r.rdb.Set(ctx, timezoneKey(userID), name, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to cache user timezone", "user_id", userID, "error", err)
	}
	return loc
}
