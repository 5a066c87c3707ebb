// Command credlife-loadtest drives an engine against Redis and reports
// validate and refresh latency. Its race phase presents one refresh token
// from many goroutines at once and fails if any session sees two winners.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/credlife"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/password"
	"github.com/MrEthical07/credlife/token"
)

const seedPassword = "loadtest-password-1"

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

type discardMailer struct{}

func (discardMailer) SendPasswordReset(context.Context, string, string, time.Time) error { return nil }

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	var (
		sessions  = flag.Int("sessions", 200, "number of sessions to seed")
		workers   = flag.Int("workers", 64, "number of concurrent workers")
		ops       = flag.Int("ops", 5000, "operations per phase")
		racers    = flag.Int("racers", 16, "goroutines presenting the same refresh token in the race phase")
		redisAddr = flag.String("redis", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix    = flag.String("prefix", "cl-load", "redis key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *workers <= 0 || *ops <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "sessions, workers and ops must be > 0; racers must be > 1")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := buildEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	states, err := seed(ctx, engine, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	validate := runPhase(*ops, *workers, states, func(s *sessionState) error {
		s.mu.Lock()
		access := s.access
		s.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, access)
		return err
	})
	refresh := runPhase(*ops, *workers, states, func(s *sessionState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access, s.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})
	violations, err := runRace(ctx, engine, states, *racers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race phase: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("validate", validate)
	printStats("refresh", refresh)
	fmt.Printf("race: sessions=%d racers=%d multi-winner sessions=%d\n", len(states), *racers, violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient, prefix string) (*credlife.Engine, error) {
	signing := make([]byte, 32)
	lookup := make([]byte, 32)
	if _, err := rand.Read(signing); err != nil {
		return nil, err
	}
	if _, err := rand.Read(lookup); err != nil {
		return nil, err
	}

	cfg := credlife.DefaultConfig()
	cfg.Token.SigningMethod = token.MethodHS256
	cfg.Token.PrivateKey = signing
	cfg.Token.LookupSecret = lookup
	cfg.Session.RedisPrefix = prefix
	// Hashing cost is irrelevant to session throughput.
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.RateLimit.Enabled = false
	cfg.Audit.DropIfFull = true

	return credlife.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityProvider(identity.NewMemoryProvider()).
		WithMailer(discardMailer{}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

func seed(ctx context.Context, engine *credlife.Engine, n int) ([]*sessionState, error) {
	fmt.Printf("seeding %d sessions...\n", n)
	start := time.Now()
	states := make([]*sessionState, n)
	for i := range states {
		pair, err := engine.Join(ctx, credlife.JoinRequest{
			Attributes: identity.Attributes{Email: fmt.Sprintf("load-%d@example.com", i)},
			Password:   seedPassword,
		})
		if err != nil {
			return nil, err
		}
		states[i] = &sessionState{access: pair.AccessToken, refresh: pair.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, workers int, states []*sessionState, op func(*sessionState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(states[i%len(states)])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runRace returns the number of sessions where more than one racer rotated
// the same refresh token.
func runRace(ctx context.Context, engine *credlife.Engine, states []*sessionState, racers int) (int, error) {
	violations := 0
	for _, s := range states {
		var (
			winners int64
			g       errgroup.Group
			start   = make(chan struct{})
		)
		presented := s.refresh
		for i := 0; i < racers; i++ {
			g.Go(func() error {
				<-start
				_, err := engine.Refresh(ctx, presented)
				switch {
				case err == nil:
					atomic.AddInt64(&winners, 1)
				case errorsAreExpected(err):
				default:
					return err
				}
				return nil
			})
		}
		close(start)
		if err := g.Wait(); err != nil {
			return violations, err
		}
		if winners > 1 {
			violations++
		}
	}
	return violations, nil
}

func errorsAreExpected(err error) bool {
	return errors.Is(err, credlife.ErrTokenReuseDetected) || errors.Is(err, credlife.ErrTokenInvalidOrRevoked)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
