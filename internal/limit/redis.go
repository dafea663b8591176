package limit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"edgauth.org/internal/auth"
)

// ErrUnavailable wraps failures talking to Redis.
var ErrUnavailable = errors.New("throttle backend unavailable")

// Config sets per-scope attempt ceilings sharing one fixed window.
type Config struct {
	Window time.Duration
	// Max maps a scope (auth.ScopeLogin, auth.ScopeReset) to its ceiling. Scopes absent here are unlimited.
	Max    map[string]int
	Prefix string
}

// RedisThrottle is a fixed-window attempt counter keyed by scope and subject.
type RedisThrottle struct {
	redis  redis.UniversalClient
	config Config
}

var _ auth.Throttle = (*RedisThrottle)(nil)

func NewRedisThrottle(client redis.UniversalClient, cfg Config) *RedisThrottle {
	if cfg.Prefix == "" {
		cfg.Prefix = "edgauth:throttle"
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &RedisThrottle{redis: client, config: cfg}
}

func (t *RedisThrottle) key(scope, subject string) string {
	return t.config.Prefix + ":" + scope + ":" + subject
}

// Allow reports whether the counter is still below the scope ceiling.
func (t *RedisThrottle) Allow(ctx context.Context, scope, subject string) (bool, error) {
	limit, ok := t.config.Max[scope]
	if !ok || limit <= 0 {
		return true, nil
	}
	raw, err := t.redis.Get(ctx, t.key(scope, subject)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt counter %q", ErrUnavailable, raw)
	}
	return count < limit, nil
}

// Hit increments the counter; the first hit in a window starts its expiry.
func (t *RedisThrottle) Hit(ctx context.Context, scope, subject string) error {
	if _, ok := t.config.Max[scope]; !ok {
		return nil
	}
	key := t.key(scope, subject)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Clear drops the counter, e.g. after a successful login.
func (t *RedisThrottle) Clear(ctx context.Context, scope, subject string) error {
	if err := t.redis.Del(ctx, t.key(scope, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks the backend, for readiness probes.
func (t *RedisThrottle) Ping(ctx context.Context) error {
	if err := t.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
