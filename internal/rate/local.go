package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxLocalKeys = 100_000

// Local is an in-process limiter. Each key gets a token bucket refilled so that
// the configured budget is available once per window.
type Local struct {
	mu     sync.Mutex
	login  map[string]*rate.Limiter
	reset  map[string]*rate.Limiter
	config Config
}

func NewLocal(cfg Config) *Local {
	return &Local{
		login:  make(map[string]*rate.Limiter),
		reset:  make(map[string]*rate.Limiter),
		config: cfg,
	}
}

func bucket(m map[string]*rate.Limiter, key string, budget int, window time.Duration) *rate.Limiter {
	if lim, ok := m[key]; ok {
		return lim
	}
	if len(m) >= maxLocalKeys {
		clear(m)
	}
	if window <= 0 {
		window = time.Minute
	}
	lim := rate.NewLimiter(rate.Every(window/time.Duration(budget)), budget)
	m[key] = lim
	return lim
}

// AllowLogin rejects when key's failure bucket is empty. It does not consume.
func (l *Local) AllowLogin(_ context.Context, key string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket(l.login, key, l.config.MaxLoginFailures, l.config.LoginWindow).Tokens() < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) FailedLogin(_ context.Context, key string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket(l.login, key, l.config.MaxLoginFailures, l.config.LoginWindow).Allow()
	return nil
}

func (l *Local) ResetLogin(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.login, key)
	return nil
}

func (l *Local) AllowResetRequest(_ context.Context, key string) error {
	if l.config.MaxResetRequests <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !bucket(l.reset, key, l.config.MaxResetRequests, l.config.ResetWindow).Allow() {
		return ErrRateLimited
	}
	return nil
}
