package registry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("registry: not found")
	// ErrAlreadyRevoked is returned by Store.Rotate when the compare-and-set
	// finds the presented token already revoked or superseded.
	ErrAlreadyRevoked   = errors.New("registry: token already revoked")
	ErrStoreUnavailable = errors.New("registry: store unavailable")
)

// RotateRequest describes one rotation attempt.
type RotateRequest struct {
	Presented RefreshToken
	Next      RefreshToken
	Now       time.Time
	// Precheck runs after the compare-and-set succeeded and before anything is
	// committed. A non-nil error aborts the rotation with no state change and
	// is returned unchanged.
	Precheck func(ctx context.Context, s Session) error
}

// Store persists sessions and refresh tokens.
type Store interface {
	CreateSession(ctx context.Context, s Session, t RefreshToken) error
	Session(ctx context.Context, sessionID string) (Session, error)
	RefreshTokenByLookup(ctx context.Context, lookupKey string) (RefreshToken, error)
	// Rotate atomically revokes req.Presented if and only if it is still the
	// session's current unrevoked token, then stores req.Next as the new
	// current token.
	Rotate(ctx context.Context, req RotateRequest) (Session, error)
	// RevokeSession reports whether the session transitioned from active to
	// revoked. Unknown and already revoked sessions return false, nil.
	RevokeSession(ctx context.Context, sessionID string, now time.Time, reason string) (bool, error)
	RevokeAllForIdentity(ctx context.Context, identityID string, now time.Time, reason string) ([]string, error)
	ActiveSessions(ctx context.Context, identityID string) ([]Session, error)
}
