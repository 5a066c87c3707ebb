package password

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type gatedHasher struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedHasher) enter() {
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-g.release
	g.inFlight.Add(-1)
}

func (g *gatedHasher) Hash(string) (string, error) { g.enter(); return "digest", nil }

func (g *gatedHasher) Verify(string, string) (bool, error) { g.enter(); return true, nil }

func TestPoolBoundsConcurrency(t *testing.T) {
	g := &gatedHasher{release: make(chan struct{})}
	p := NewPool(g, 2, 0)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Hash(context.Background(), "pw"); err != nil {
				t.Errorf("Hash: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	if peak := g.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent hashes, saw %d", peak)
	}
}

func TestPoolSaturationTimeout(t *testing.T) {
	g := &gatedHasher{release: make(chan struct{})}
	p := NewPool(g, 1, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Verify(context.Background(), "pw", "digest")
	}()
	time.Sleep(10 * time.Millisecond)

	if _, err := p.Hash(context.Background(), "pw"); !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}
	close(g.release)
	<-done
}

func TestPoolHonorsCallerCancel(t *testing.T) {
	g := &gatedHasher{release: make(chan struct{})}
	p := NewPool(g, 1, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Hash(context.Background(), "pw")
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Hash(ctx, "pw"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(g.release)
	<-done
}
