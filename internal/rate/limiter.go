// Package rate implements the fixed-window request counters that guard the
// expensive operations: login, refresh, OTP issuance, and password reset.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis transport failures. Callers treat it as a
// fail-closed condition: an unanswerable limiter denies the request.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter counts hits per scope in wall-clock-aligned fixed windows. Every
// instance sharing the same Redis and prefix enforces the same limits, so
// horizontally scaled replicas need no coordination beyond the store.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func New(client redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "tg"
	}
	return &Limiter{redis: client, prefix: prefix, now: time.Now}
}

// Allow records one hit against scope and reports whether the caller is
// still inside limit for the current window. A limit of zero or less
// disables the check.
//
// Windows are aligned to the epoch, not to the first hit: the counter key
// embeds the window ordinal, so a new window starts exactly at the
// boundary and the old counter simply expires.
func (l *Limiter) Allow(ctx context.Context, scope string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window < time.Second {
		window = time.Second
	}

	slot := l.now().Unix() / int64(window/time.Second)
	key := fmt.Sprintf("%s:rl:%s:%d", l.prefix, scope, slot)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		// First hit in the window owns the expiry. The key only needs to
		// live until the window closes; the slack covers clock skew.
		if err := l.redis.Expire(ctx, key, window+time.Second).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count <= int64(limit), nil
}

// Reset clears the current window's counter for scope. Used after a
// successful verification so honest retries do not inherit the failures
// that preceded them.
func (l *Limiter) Reset(ctx context.Context, scope string, window time.Duration) error {
	if window < time.Second {
		window = time.Second
	}
	slot := l.now().Unix() / int64(window/time.Second)
	key := fmt.Sprintf("%s:rl:%s:%d", l.prefix, scope, slot)

	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
