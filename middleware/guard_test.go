package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credlife"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/password"
	"github.com/MrEthical07/credlife/token"
)

func newEngine(t *testing.T) *credlife.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := credlife.DefaultConfig()
	cfg.Token.SigningMethod = token.MethodHS256
	cfg.Token.PrivateKey = []byte(strings.Repeat("h", 32))
	cfg.Token.LookupSecret = []byte(strings.Repeat("l", 32))
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.PasswordReset.Enabled = false
	cfg.RateLimit.Enabled = false

	engine, err := credlife.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(identity.NewMemoryProvider()).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || p.IdentityID == "" {
			t.Errorf("principal missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, authorization string) int {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestGuardModes(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	pair, err := engine.Join(ctx, credlife.JoinRequest{
		Attributes: identity.Attributes{Email: "alice@example.com"},
		Password:   "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	jwtOnly := RequireJWTOnly(engine)(protected(t))
	strict := RequireStrict(engine)(protected(t))
	bearer := "Bearer " + pair.AccessToken

	for _, h := range []http.Handler{jwtOnly, strict} {
		if code := serve(h, bearer); code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", code)
		}
		if code := serve(h, ""); code != http.StatusUnauthorized {
			t.Fatalf("missing header: expected 401, got %d", code)
		}
		if code := serve(h, "Bearer garbage"); code != http.StatusUnauthorized {
			t.Fatalf("garbage token: expected 401, got %d", code)
		}
	}

	if err := engine.Logout(ctx, pair.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if code := serve(jwtOnly, bearer); code != http.StatusNoContent {
		t.Fatalf("jwt-only must accept until expiry, got %d", code)
	}
	if code := serve(strict, bearer); code != http.StatusUnauthorized {
		t.Fatalf("strict must reject a logged-out session, got %d", code)
	}
}

func TestGuardMapsInternalToUnavailable(t *testing.T) {
	h := Guard(func(context.Context, string) (*credlife.Principal, error) {
		return nil, credlife.ErrInternal
	})(protected(t))
	if code := serve(h, "Bearer x"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if code := serve(RequireStrict(nil)(protected(t)), "Bearer x"); code != http.StatusUnauthorized {
		t.Fatalf("nil engine: expected 401, got %d", code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"Bearer  abc": "abc",
		"Bearer ":     "",
		"Basic abc":   "",
		"":            "",
	}
	for in, want := range cases {
		got, ok := bearerToken(in)
		if got != want || ok != (want != "") {
			t.Fatalf("bearerToken(%q) = %q, %v", in, got, ok)
		}
	}
}
