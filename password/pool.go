package password

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolSaturated is returned when no hashing slot frees up within the queue timeout.
var ErrPoolSaturated = errors.New("password: hashing pool saturated")

// Pool runs Hasher calls with bounded concurrency. Argon2 is memory and CPU
// heavy, so an unbounded login flood would otherwise exhaust the host.
type Pool struct {
	hasher  Hasher
	slots   *semaphore.Weighted
	timeout time.Duration
}

// NewPool allows at most size concurrent hash or verify calls. Callers wait up
// to queueTimeout for a slot; zero means wait until ctx is done.
func NewPool(h Hasher, size int64, queueTimeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{hasher: h, slots: semaphore.NewWeighted(size), timeout: queueTimeout}
}

func (p *Pool) acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrPoolSaturated
	}
	return func() { p.slots.Release(1) }, nil
}

// Hash derives a digest once a slot is available.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return p.hasher.Hash(password)
}

// Verify checks password against digest once a slot is available.
func (p *Pool) Verify(ctx context.Context, password, digest string) (bool, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return p.hasher.Verify(password, digest)
}
