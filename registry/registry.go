package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/credlife/gate"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/token"
)

var (
	ErrInvalidOrRevoked = errors.New("registry: refresh token invalid or revoked")
	ErrExpired          = errors.New("registry: refresh token expired")
	ErrReuseDetected    = errors.New("registry: refresh token reuse detected")
)

// FailureKind classifies a failed rotation.
type FailureKind uint8

const (
	FailureInvalid FailureKind = iota + 1
	FailureExpired
	FailureReuse
	FailureIneligible
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalid:
		return "invalid"
	case FailureExpired:
		return "expired"
	case FailureReuse:
		return "reuse"
	case FailureIneligible:
		return "ineligible"
	case FailureInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// RefreshError is returned by Rotate. SessionID and IdentityID are set when
// the presented token could be attributed.
type RefreshError struct {
	Kind           FailureKind
	SessionID      string
	IdentityID     string
	// Replayed is set when the presented token had already been consumed by a
	// rotation, whatever the state of its session.
	Replayed       bool
	// SessionRevoked is set when this call ended the session.
	SessionRevoked bool
	Err            error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("registry: rotate failed (%s): %v", e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Minter is the refresh side of the token issuer.
type Minter interface {
	IssueRefresh(sessionID string, now time.Time) (string, token.RefreshMaterial, error)
	LookupKey(plaintext string) string
	VerifyRefresh(plaintext, digest string) bool
}

// Checker is the account gate.
type Checker interface {
	Check(ctx context.Context, identityID string) (identity.Identity, error)
}

// Rotation is the outcome of a successful Rotate.
type Rotation struct {
	Session   Session
	Token     RefreshToken
	Plaintext string
	Previous  RefreshToken
	Identity  identity.Identity
}

// Registry is the only writer of session and refresh token state.
type Registry struct {
	store       Store
	minter      Minter
	gate        Checker
	keepOnReuse bool
}

// Option configures a Registry.
type Option func(*Registry)

// KeepSessionOnReuse reports reuse without revoking the session, so the
// session's current token keeps working.
func KeepSessionOnReuse() Option {
	return func(r *Registry) { r.keepOnReuse = true }
}

func New(store Store, minter Minter, checker Checker, opts ...Option) *Registry {
	r := &Registry{store: store, minter: minter, gate: checker}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartSession always creates a new session with a first refresh token.
func (r *Registry) StartSession(ctx context.Context, identityID, device string, now time.Time) (Session, RefreshToken, string, error) {
	sess := Session{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		IdentityID:     identityID,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
		DeviceMetadata: device,
	}

	plaintext, tok, err := r.mint(sess.ID, identityID, now)
	if err != nil {
		return Session{}, RefreshToken{}, "", err
	}
	sess.CurrentTokenID = tok.ID

	if err := r.store.CreateSession(ctx, sess, tok); err != nil {
		return Session{}, RefreshToken{}, "", err
	}
	return sess, tok, plaintext, nil
}

// Rotate exchanges a presented refresh plaintext for a new one bound to the
// same session.
func (r *Registry) Rotate(ctx context.Context, plaintext string, now time.Time) (*Rotation, error) {
	if !token.WellFormed(plaintext) {
		return nil, &RefreshError{Kind: FailureInvalid, Err: ErrInvalidOrRevoked}
	}

	presented, err := r.store.RefreshTokenByLookup(ctx, r.minter.LookupKey(plaintext))
	if errors.Is(err, ErrNotFound) {
		return nil, &RefreshError{Kind: FailureInvalid, Err: ErrInvalidOrRevoked}
	}
	if err != nil {
		return nil, &RefreshError{Kind: FailureInternal, Err: err}
	}
	if !r.minter.VerifyRefresh(plaintext, presented.Digest) {
		return nil, &RefreshError{Kind: FailureInvalid, Err: ErrInvalidOrRevoked}
	}

	fail := func(kind FailureKind, err error) *RefreshError {
		return &RefreshError{Kind: kind, SessionID: presented.SessionID, IdentityID: presented.IdentityID, Err: err}
	}

	if presented.Revoked() {
		return nil, r.replayed(ctx, presented, now)
	}
	if presented.ExpiredAt(now) {
		return nil, fail(FailureExpired, ErrExpired)
	}

	nextPlain, next, err := r.mint(presented.SessionID, presented.IdentityID, now)
	if err != nil {
		return nil, fail(FailureInternal, err)
	}

	var ident identity.Identity
	sess, err := r.store.Rotate(ctx, RotateRequest{
		Presented: presented,
		Next:      next,
		Now:       now,
		Precheck: func(ctx context.Context, s Session) error {
			id, err := r.gate.Check(ctx, s.IdentityID)
			if err != nil {
				return err
			}
			ident = id
			return nil
		},
	})
	switch {
	case err == nil:
		revokedAt := now
		presented.RevokedAt = &revokedAt
		presented.RevokeReason = ReasonRotated
		return &Rotation{Session: sess, Token: next, Plaintext: nextPlain, Previous: presented, Identity: ident}, nil
	case errors.Is(err, ErrAlreadyRevoked):
		return nil, r.replayed(ctx, presented, now)
	case errors.Is(err, ErrNotFound):
		return nil, fail(FailureInvalid, ErrInvalidOrRevoked)
	case errors.Is(err, gate.ErrNotEligible):
		return nil, fail(FailureIneligible, err)
	default:
		return nil, fail(FailureInternal, err)
	}
}

// replayed handles a token that was already revoked when presented, or that
// lost the compare-and-set. A live session is treated as compromised.
func (r *Registry) replayed(ctx context.Context, presented RefreshToken, now time.Time) error {
	fail := func(kind FailureKind, err error) *RefreshError {
		return &RefreshError{
			Kind:       kind,
			SessionID:  presented.SessionID,
			IdentityID: presented.IdentityID,
			Replayed:   presented.Revoked() && presented.RevokeReason == ReasonRotated,
			Err:        err,
		}
	}

	sess, err := r.store.Session(ctx, presented.SessionID)
	if errors.Is(err, ErrNotFound) {
		return fail(FailureInvalid, ErrInvalidOrRevoked)
	}
	if err != nil {
		return fail(FailureInternal, err)
	}
	if !sess.Active {
		return fail(FailureInvalid, ErrInvalidOrRevoked)
	}

	if r.keepOnReuse {
		return fail(FailureReuse, ErrReuseDetected)
	}
	revoked, err := r.store.RevokeSession(ctx, sess.ID, now, ReasonReuseDetected)
	if err != nil {
		return fail(FailureReuse, errors.Join(ErrReuseDetected, err))
	}
	re := fail(FailureReuse, ErrReuseDetected)
	re.SessionRevoked = revoked
	return re
}

// RevokeSession ends one session. It is idempotent.
func (r *Registry) RevokeSession(ctx context.Context, sessionID string, now time.Time, reason string) (bool, error) {
	return r.store.RevokeSession(ctx, sessionID, now, reason)
}

// RevokeAllForIdentity ends every active session of identityID and returns
// the ids of the sessions it ended.
func (r *Registry) RevokeAllForIdentity(ctx context.Context, identityID string, now time.Time, reason string) ([]string, error) {
	return r.store.RevokeAllForIdentity(ctx, identityID, now, reason)
}

// Session returns one session by id.
func (r *Registry) Session(ctx context.Context, sessionID string) (Session, error) {
	return r.store.Session(ctx, sessionID)
}

// Sessions lists the active sessions of identityID.
func (r *Registry) Sessions(ctx context.Context, identityID string) ([]Session, error) {
	return r.store.ActiveSessions(ctx, identityID)
}

func (r *Registry) mint(sessionID, identityID string, now time.Time) (string, RefreshToken, error) {
	plaintext, m, err := r.minter.IssueRefresh(sessionID, now)
	if err != nil {
		return "", RefreshToken{}, err
	}
	return plaintext, RefreshToken{
		ID:         m.ID,
		SessionID:  m.SessionID,
		IdentityID: identityID,
		LookupKey:  m.LookupKey,
		Digest:     m.Digest,
		IssuedAt:   m.IssuedAt,
		ExpiresAt:  m.ExpiresAt,
	}, nil
}
