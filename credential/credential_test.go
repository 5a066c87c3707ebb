package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credlife/password"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingInvalidator) RevokeAllForIdentity(_ context.Context, identityID string, _ time.Time, reason string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, identityID+":"+reason)
	if r.err != nil {
		return nil, r.err
	}
	return []string{"s1", "s2"}, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestService(t *testing.T) (*Service, *recordingInvalidator) {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	inv := &recordingInvalidator{}
	svc, err := NewService(
		NewRedisRepository(newTestRedis(t), "test"),
		password.NewPool(h, 4, time.Second),
		password.Length(10, 128),
		inv,
		nil,
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, inv
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Create(ctx, "u1", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	c, err := svc.Create(ctx, "u1", "first-password")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Digest == "" || c.Digest == "first-password" {
		t.Fatalf("unexpected digest %q", c.Digest)
	}
	if _, err := svc.Create(ctx, "u1", "first-password"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	ok, err := svc.Verify(ctx, "u1", "first-password")
	if err != nil || !ok {
		t.Fatalf("expected verify success, ok=%v err=%v", ok, err)
	}
	ok, err = svc.Verify(ctx, "u1", "wrong-password")
	if err != nil || ok {
		t.Fatalf("expected verify failure, ok=%v err=%v", ok, err)
	}
	ok, err = svc.Verify(ctx, "missing", "first-password")
	if err != nil || ok {
		t.Fatalf("expected missing credential to fail closed, ok=%v err=%v", ok, err)
	}
}

func TestReplaceInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	svc, inv := newTestService(t)
	if _, err := svc.Create(ctx, "u1", "first-password"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Replace(ctx, "u1", "not-the-password", "second-password"); !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}
	if _, err := svc.Replace(ctx, "u1", "first-password", "first-password"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if _, err := svc.Replace(ctx, "u1", "first-password", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("failed replacements must not invalidate, got %v", inv.calls)
	}

	revoked, err := svc.Replace(ctx, "u1", "first-password", "second-password")
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(revoked) != 2 || len(inv.calls) != 1 || inv.calls[0] != "u1:"+ReasonPasswordChange {
		t.Fatalf("unexpected invalidation: revoked=%v calls=%v", revoked, inv.calls)
	}

	if ok, _ := svc.Verify(ctx, "u1", "first-password"); ok {
		t.Fatal("old password must no longer verify")
	}
	if ok, _ := svc.Verify(ctx, "u1", "second-password"); !ok {
		t.Fatal("new password must verify")
	}
}

func TestReplaceUnknownIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Replace(context.Background(), "ghost", "whatever-pass", "second-password"); !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}
}

func TestForceReplace(t *testing.T) {
	ctx := context.Background()
	svc, inv := newTestService(t)
	if _, err := svc.Create(ctx, "u1", "first-password"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.ForceReplace(ctx, "u1", "tiny"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.ForceReplace(ctx, "u1", "reset-password"); err != nil {
		t.Fatalf("ForceReplace: %v", err)
	}
	if ok, _ := svc.Verify(ctx, "u1", "reset-password"); !ok {
		t.Fatal("reset password must verify")
	}
	if len(inv.calls) != 1 || inv.calls[0] != "u1:"+ReasonPasswordReset {
		t.Fatalf("unexpected invalidation calls %v", inv.calls)
	}
}

func TestInvalidationFailureIsReported(t *testing.T) {
	ctx := context.Background()
	svc, inv := newTestService(t)
	if _, err := svc.Create(ctx, "u1", "first-password"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	inv.err = errors.New("registry down")

	_, err := svc.Replace(ctx, "u1", "first-password", "second-password")
	if !errors.Is(err, ErrSessionInvalidationFailed) || !errors.Is(err, inv.err) {
		t.Fatalf("expected joined invalidation error, got %v", err)
	}
}

func TestRedisSwapConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisRepository(newTestRedis(t), "test")
	now := time.Now()

	if err := repo.Swap(ctx, "u1", "a", "b", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Create(ctx, Credential{IdentityID: "u1", Digest: "a", CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Swap(ctx, "u1", "stale", "b", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := repo.Swap(ctx, "u1", "a", "b", now); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	c, err := repo.Get(ctx, "u1")
	if err != nil || c.Digest != "b" {
		t.Fatalf("unexpected credential %+v err=%v", c, err)
	}
}

func TestCurrentTracksReplacement(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	if _, err := svc.Create(ctx, "u1", "first-password"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	digest, ok, err := svc.Authenticate(ctx, "u1", "first-password")
	if err != nil || !ok || digest == "" {
		t.Fatalf("Authenticate: digest=%q ok=%v err=%v", digest, ok, err)
	}
	if current, err := svc.Current(ctx, "u1", digest); err != nil || !current {
		t.Fatalf("expected digest current, current=%v err=%v", current, err)
	}

	if _, err := svc.Replace(ctx, "u1", "first-password", "second-password"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if current, err := svc.Current(ctx, "u1", digest); err != nil || current {
		t.Fatalf("expected digest stale after Replace, current=%v err=%v", current, err)
	}

	if d, ok, err := svc.Authenticate(ctx, "u1", "first-password"); err != nil || ok || d != "" {
		t.Fatalf("old password must not authenticate: digest=%q ok=%v err=%v", d, ok, err)
	}
	if current, err := svc.Current(ctx, "missing", digest); err != nil || current {
		t.Fatalf("missing credential is never current, current=%v err=%v", current, err)
	}
}
