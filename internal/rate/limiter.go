package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle budgets. A zero budget disables that throttle.
type Config struct {
	MaxLoginFailures int           `yaml:"max_login_failures"`
	LoginWindow      time.Duration `yaml:"login_window"`
	MaxResetRequests int           `yaml:"max_reset_requests"`
	ResetWindow      time.Duration `yaml:"reset_window"`
}

// Limiter enforces fixed-window budgets with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	if prefix == "" {
		prefix = "cl"
	}
	return &Limiter{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *Limiter) loginKey(key string) string { return l.prefix + ":rl:login:" + key }
func (l *Limiter) resetKey(key string) string { return l.prefix + ":rl:reset:" + key }

// AllowLogin rejects the attempt when key has exhausted its failure budget.
func (l *Limiter) AllowLogin(ctx context.Context, key string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	count, err := l.redis.Get(ctx, l.loginKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxLoginFailures) {
		return ErrRateLimited
	}
	return nil
}

// FailedLogin records one failed attempt for key.
func (l *Limiter) FailedLogin(ctx context.Context, key string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.loginKey(key), l.config.LoginWindow)
	return err
}

// ResetLogin clears the failure counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.loginKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowResetRequest counts one reset request for key and rejects it once the
// window's budget is spent.
func (l *Limiter) AllowResetRequest(ctx context.Context, key string) error {
	if l.config.MaxResetRequests <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.resetKey(key), l.config.ResetWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxResetRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed window: only the first hit sets the TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
