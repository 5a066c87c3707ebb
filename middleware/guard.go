package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/credlife"
)

type principalContextKey struct{}

// ValidateFunc turns an access token into a principal.
type ValidateFunc func(ctx context.Context, accessToken string) (*credlife.Principal, error)

func PrincipalFromContext(ctx context.Context) (*credlife.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*credlife.Principal)
	return p, ok
}

// Guard rejects requests whose bearer token validate refuses. Store failures
// answer 503 so clients do not drop their tokens.
func Guard(validate ValidateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validate == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			p, err := validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, credlife.ErrInternal) || errors.Is(err, credlife.ErrEngineNotReady) {
					http.Error(w, "unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
