// Package quota enforces each workspace's daily ask budget.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"zapask/internal/metrics"
)

const DefaultDailyLimit = 30

// consumeScript increments the day's counter and, on the first hit of the
// day, expires it at the next UTC midnight.
var consumeScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type Decision struct {
	Allowed   bool
	Used      int64
	Limit     int64
	Remaining int64
	// ResetAt is the next UTC midnight, expressed in the caller's location.
	ResetAt time.Time
}

type Governor struct {
	rdb   redis.Cmdable
	limit int64
	now   func() time.Time
}

func NewGovernor(rdb redis.Cmdable, dailyLimit int) *Governor {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	return &Governor{rdb: rdb, limit: int64(dailyLimit), now: time.Now}
}

func Key(teamID string, day time.Time) string {
	return fmt.Sprintf("ask_quota:%s:%s", teamID, day.UTC().Format("2006-01-02"))
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// CheckAndConsume charges one request to the team's budget for the current
// UTC day. The charge happens whether or not the request is allowed, so the
// caller must call it exactly once per request.
func (g *Governor) CheckAndConsume(ctx context.Context, teamID string, loc *time.Location) (Decision, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := g.now()
	reset := nextUTCMidnight(now)
	ttl := int64(reset.Sub(now.UTC()) / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	used, err := consumeScript.Run(ctx, g.rdb, []string{Key(teamID, now)}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume ask quota: %w", err)
	}

	d := Decision{
		Allowed: used <= g.limit,
		Used:    used,
		Limit:   g.limit,
		ResetAt: reset.In(loc),
	}
	if d.Allowed {
		d.Remaining = g.limit - used
	} else {
		metrics.QuotaRejections.Inc()
	}
	return d, nil
}

// FormatReset renders the reset time as "today at 3:04 PM" or "tomorrow at
// 3:04 PM" relative to now in the reset time's location.
func FormatReset(resetAt, now time.Time) string {
	local := now.In(resetAt.Location())
	day := "today"
	ry, rm, rd := resetAt.Date()
	ly, lm, ld := local.Date()
	if ry != ly || rm != lm || rd != ld {
		day = "tomorrow"
	}
	return fmt.Sprintf("%s at %s", day, resetAt.Format("3:04 PM"))
}
