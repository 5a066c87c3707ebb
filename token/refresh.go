package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	refreshSecretBytes = 32
	digestSaltBytes    = 16
	digestPrefix       = "s256"
)

// RefreshMaterial is everything the registry persists for a new refresh
// token. It never contains the plaintext.
type RefreshMaterial struct {
	ID        string
	SessionID string
	LookupKey string
	Digest    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueRefresh generates a fresh refresh secret bound to sessionID. The
// returned plaintext must be handed to the client and then forgotten.
func (i *Issuer) IssueRefresh(sessionID string, now time.Time) (string, RefreshMaterial, error) {
	secret := make([]byte, refreshSecretBytes)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", RefreshMaterial{}, fmt.Errorf("token: read refresh secret: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(secret)

	digest, err := digestRefresh(plaintext)
	if err != nil {
		return "", RefreshMaterial{}, err
	}

	issued := now.UTC()
	return plaintext, RefreshMaterial{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		SessionID: sessionID,
		LookupKey: i.LookupKey(plaintext),
		Digest:    digest,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(i.config.RefreshTTL),
	}, nil
}

// LookupKey derives the deterministic index key of a refresh plaintext. It is
// keyed, so possession of the storage layer alone does not allow offline
// guessing.
func (i *Issuer) LookupKey(plaintext string) string {
	mac := hmac.New(sha256.New, i.config.LookupSecret)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRefresh compares plaintext against a stored digest in constant time.
func (i *Issuer) VerifyRefresh(plaintext, digest string) bool {
	prefix, rest, ok := strings.Cut(digest, "$")
	if !ok || prefix != digestPrefix {
		return false
	}
	saltPart, sumPart, ok := strings.Cut(rest, "$")
	if !ok {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(sumPart)
	if err != nil {
		return false
	}
	got := saltedSum(salt, plaintext)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// WellFormed reports whether s could have been produced by IssueRefresh.
// Callers use it to reject garbage before touching storage.
func WellFormed(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(refreshSecretBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

func digestRefresh(plaintext string) (string, error) {
	salt := make([]byte, digestSaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("token: read digest salt: %w", err)
	}
	return digestPrefix + "$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(saltedSum(salt, plaintext)), nil
}

func saltedSum(salt []byte, plaintext string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(plaintext))
	return h.Sum(nil)
}
