// Package credential stores and checks password digests, one per identity.
//
// Digests are replaced by compare-and-swap on the previous digest and are never
// deleted. Every successful replacement revokes all sessions of the identity
// through the SessionInvalidator.
package credential

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credlife/password"
)

var (
	ErrNotFound                  = errors.New("credential: not found")
	ErrExists                    = errors.New("credential: already exists")
	ErrConflict                  = errors.New("credential: concurrent update")
	ErrWeakPassword              = errors.New("credential: password does not satisfy policy")
	ErrInvalidCurrentPassword    = errors.New("credential: current password is incorrect")
	ErrPasswordReuse             = errors.New("credential: new password equals current password")
	ErrSessionInvalidationFailed = errors.New("credential: session invalidation failed")
	ErrStoreUnavailable          = errors.New("credential: store unavailable")
)

// Credential is the stored digest of one identity.
type Credential struct {
	IdentityID string
	Digest     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository persists credentials.
type Repository interface {
	Get(ctx context.Context, identityID string) (Credential, error)
	// Create fails with ErrExists if the identity already has a credential.
	Create(ctx context.Context, c Credential) error
	// Swap replaces the digest only if the stored digest still equals
	// expectedDigest, returning ErrConflict otherwise.
	Swap(ctx context.Context, identityID, expectedDigest, newDigest string, at time.Time) error
}

// SessionInvalidator revokes every session of an identity.
type SessionInvalidator interface {
	RevokeAllForIdentity(ctx context.Context, identityID string, now time.Time, reason string) ([]string, error)
}

// Revocation reasons recorded on sessions ended by a credential change.
const (
	ReasonPasswordChange = "password_change"
	ReasonPasswordReset  = "password_reset"
)

// Service implements the credential operations.
type Service struct {
	repo        Repository
	hasher      *password.Pool
	policy      password.Policy
	invalidator SessionInvalidator
	now         func() time.Time
	dummy       string
}

// NewService wires a Service. The dummy digest is computed once so that a
// verify against a missing credential costs the same as a real one.
func NewService(repo Repository, hasher *password.Pool, policy password.Policy, invalidator SessionInvalidator, now func() time.Time) (*Service, error) {
	if repo == nil || hasher == nil || invalidator == nil {
		return nil, errors.New("credential: repository, hasher and invalidator are required")
	}
	if now == nil {
		now = time.Now
	}
	dummy, err := hasher.Hash(context.Background(), "credlife-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("credential: prepare dummy digest: %w", err)
	}
	return &Service{repo: repo, hasher: hasher, policy: policy, invalidator: invalidator, now: now, dummy: dummy}, nil
}

// CheckPolicy applies the password policy without hashing.
func (s *Service) CheckPolicy(plaintext string) error {
	if s.policy == nil {
		return nil
	}
	if err := s.policy(plaintext); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	return nil
}

// Create hashes plaintext and stores it as the identity's credential.
func (s *Service) Create(ctx context.Context, identityID, plaintext string) (Credential, error) {
	if err := s.CheckPolicy(plaintext); err != nil {
		return Credential{}, err
	}
	digest, err := s.hasher.Hash(ctx, plaintext)
	if err != nil {
		return Credential{}, err
	}

	now := s.now().UTC()
	c := Credential{IdentityID: identityID, Digest: digest, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.Create(ctx, c); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Verify reports whether plaintext matches the stored digest. A missing
// credential yields false after an equivalent amount of hashing work.
func (s *Service) Verify(ctx context.Context, identityID, plaintext string) (bool, error) {
	_, ok, err := s.Authenticate(ctx, identityID, plaintext)
	return ok, err
}

// Authenticate is Verify that also returns the digest plaintext matched.
// Callers pass it to Current once the resulting session exists.
func (s *Service) Authenticate(ctx context.Context, identityID, plaintext string) (string, bool, error) {
	c, err := s.repo.Get(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		_, _ = s.hasher.Verify(ctx, plaintext, s.dummy)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	ok, err := s.hasher.Verify(ctx, plaintext, c.Digest)
	if err != nil || !ok {
		return "", false, err
	}
	return c.Digest, true, nil
}

// Current reports whether digest is still the stored credential of
// identityID. A replacement that completed after digest was read makes it
// false.
func (s *Service) Current(ctx context.Context, identityID, digest string) (bool, error) {
	c, err := s.repo.Get(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return digest != "" && subtle.ConstantTimeCompare([]byte(c.Digest), []byte(digest)) == 1, nil
}

// Burn performs one dummy verification. Callers use it on paths that never
// reach Verify, such as an unknown login selector.
func (s *Service) Burn(ctx context.Context, plaintext string) {
	_, _ = s.hasher.Verify(ctx, plaintext, s.dummy)
}

// Replace swaps the digest after proving knowledge of the current password,
// then revokes every session of the identity. It returns the revoked session
// ids.
func (s *Service) Replace(ctx context.Context, identityID, oldPlaintext, newPlaintext string) ([]string, error) {
	c, err := s.repo.Get(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		_, _ = s.hasher.Verify(ctx, oldPlaintext, s.dummy)
		return nil, ErrInvalidCurrentPassword
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(ctx, oldPlaintext, c.Digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCurrentPassword
	}
	if oldPlaintext == newPlaintext {
		return nil, ErrPasswordReuse
	}
	if err := s.CheckPolicy(newPlaintext); err != nil {
		return nil, err
	}
	return s.swapAndInvalidate(ctx, c, newPlaintext, ReasonPasswordChange)
}

// ForceReplace swaps the digest without an old-password check. It is used after a
// reset token has proven control of the recovery channel.
func (s *Service) ForceReplace(ctx context.Context, identityID, newPlaintext string) ([]string, error) {
	if err := s.CheckPolicy(newPlaintext); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		if _, err := s.Create(ctx, identityID, newPlaintext); err != nil {
			return nil, err
		}
		return s.invalidate(ctx, identityID, ReasonPasswordReset)
	}
	if err != nil {
		return nil, err
	}
	return s.swapAndInvalidate(ctx, c, newPlaintext, ReasonPasswordReset)
}

func (s *Service) swapAndInvalidate(ctx context.Context, c Credential, newPlaintext, reason string) ([]string, error) {
	digest, err := s.hasher.Hash(ctx, newPlaintext)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Swap(ctx, c.IdentityID, c.Digest, digest, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.invalidate(ctx, c.IdentityID, reason)
}

func (s *Service) invalidate(ctx context.Context, identityID, reason string) ([]string, error) {
	revoked, err := s.invalidator.RevokeAllForIdentity(ctx, identityID, s.now().UTC(), reason)
	if err != nil {
		return nil, errors.Join(ErrSessionInvalidationFailed, err)
	}
	return revoked, nil
}
