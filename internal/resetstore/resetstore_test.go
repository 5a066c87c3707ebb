package resetstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, maxAttempts int) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedis(rdb, "test", maxAttempts)
}

func TestMintParse(t *testing.T) {
	token, rec, err := Mint("user-1", time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	id, hash, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id != rec.ID || hash != rec.SecretHash {
		t.Fatalf("parsed token does not match minted record")
	}
	for _, bad := range []string{"", "nodot", "not-a-uuid.AAAA", rec.ID + ".short", rec.ID + ".!!!"} {
		if _, _, err := Parse(bad); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", bad, err)
		}
	}
}

func TestConsumeSingleUse(t *testing.T) {
	_, store := newTestStore(t, 5)
	ctx := context.Background()
	now := time.Now()

	token, rec, _ := Mint("user-1", now, 10*time.Minute)
	if err := store.Save(ctx, rec, now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, hash, _ := Parse(token)

	got, err := store.Consume(ctx, id, hash, now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.IdentityID != "user-1" {
		t.Fatalf("expected identity user-1, got %q", got.IdentityID)
	}
	if _, err := store.Consume(ctx, id, hash, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Consume: expected ErrNotFound, got %v", err)
	}
}

func TestConsumeMismatchCountsAttempts(t *testing.T) {
	_, store := newTestStore(t, 2)
	ctx := context.Background()
	now := time.Now()

	token, rec, _ := Mint("user-1", now, 10*time.Minute)
	_ = store.Save(ctx, rec, now)
	id, hash, _ := Parse(token)
	wrong := hash
	wrong[0] ^= 0xff

	if _, err := store.Consume(ctx, id, wrong, now); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected ErrSecretMismatch, got %v", err)
	}
	if _, err := store.Consume(ctx, id, wrong, now); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
	if _, err := store.Consume(ctx, id, hash, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record must be gone after attempts exceeded, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	_, store := newTestStore(t, 5)
	ctx := context.Background()
	now := time.Now()

	token, rec, _ := Mint("user-1", now, 10*time.Minute)
	_ = store.Save(ctx, rec, now)
	id, hash, _ := Parse(token)

	if _, err := store.Consume(ctx, id, hash, now.Add(11*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	_, store := newTestStore(t, 5)
	ctx := context.Background()
	now := time.Now()

	token, rec, _ := Mint("user-1", now, 10*time.Minute)
	_ = store.Save(ctx, rec, now)
	id, hash, _ := Parse(token)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, id, hash, now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestUnavailable(t *testing.T) {
	mr, store := newTestStore(t, 5)
	mr.Close()
	_, rec, _ := Mint("user-1", time.Now(), time.Minute)
	if err := store.Save(context.Background(), rec, time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
