// Package ratelimit bounds how many outbound calls a client may place.
// Phone calls cost real money and ring real phones; the caps are deliberately
// low and enforced in Redis so every instance shares the same budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrHourlyLimit = errors.New("hourly call limit reached")
	ErrDailyLimit  = errors.New("daily call limit reached")
)

// incrWindow atomically bumps a counter and starts its expiry window on
// first use. Returns the count after the increment.
var incrWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Limiter enforces rolling hourly and daily call caps per client key.
// A nil Limiter allows everything; callers can leave rate limiting
// unconfigured in development.
type Limiter struct {
	rdb    *redis.Client
	hourly int
	daily  int
	log    *slog.Logger
}

func New(rdb *redis.Client, hourly, daily int, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	if hourly <= 0 {
		hourly = 5
	}
	if daily <= 0 {
		daily = 20
	}
	return &Limiter{rdb: rdb, hourly: hourly, daily: daily, log: log}
}

// Allow records one call attempt for key and reports whether it fits the
// caps. The attempt is counted even when denied; hammering a closed limit
// does not reopen it sooner.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.rdb == nil {
		return nil
	}

	hourCount, err := l.bump(ctx, "calls:hourly:"+key, time.Hour)
	if err != nil {
		// Redis being down should not take call placement down with it.
		l.log.Warn("rate limit check failed, allowing call", "error", err)
		return nil
	}
	dayCount, err := l.bump(ctx, "calls:daily:"+key, 24*time.Hour)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing call", "error", err)
		return nil
	}

	if hourCount > int64(l.hourly) {
		l.log.Warn("call denied by hourly limit", "key", key, "count", hourCount)
		return fmt.Errorf("%w (%d per hour)", ErrHourlyLimit, l.hourly)
	}
	if dayCount > int64(l.daily) {
		l.log.Warn("call denied by daily limit", "key", key, "count", dayCount)
		return fmt.Errorf("%w (%d per day)", ErrDailyLimit, l.daily)
	}
	return nil
}

func (l *Limiter) bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	res, err := incrWindow.Run(ctx, l.rdb, []string{key}, int(window.Seconds())).Result()
	if err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result %T", res)
	}
	return n, nil
}
