package resetstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const secretBytes = 32

var (
	ErrNotFound         = errors.New("reset record not found")
	ErrSecretMismatch   = errors.New("reset secret mismatch")
	ErrAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrMalformed        = errors.New("malformed reset token")
	ErrUnavailable      = errors.New("reset store unavailable")
)

// Record is one outstanding reset grant.
type Record struct {
	ID         string
	IdentityID string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Attempts   uint16
}

// Store persists reset records. Consume succeeds at most once per record.
type Store interface {
	Save(ctx context.Context, r Record, now time.Time) error
	Consume(ctx context.Context, id string, hash [32]byte, now time.Time) (Record, error)
}

// Mint creates a reset token for identityID. The returned string is
// "<uuid>.<base64url secret>".
func Mint(identityID string, now time.Time, ttl time.Duration) (string, Record, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", Record{}, err
	}
	r := Record{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		SecretHash: sha256.Sum256(secret),
		ExpiresAt:  now.Add(ttl),
	}
	return r.ID + "." + base64.RawURLEncoding.EncodeToString(secret), r, nil
}

// Parse splits a token into its record id and the hash of its secret.
func Parse(token string) (string, [32]byte, error) {
	id, enc, ok := strings.Cut(token, ".")
	if !ok {
		return "", [32]byte{}, ErrMalformed
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", [32]byte{}, ErrMalformed
	}
	secret, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil || len(secret) != secretBytes {
		return "", [32]byte{}, ErrMalformed
	}
	return id, sha256.Sum256(secret), nil
}
