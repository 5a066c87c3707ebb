package registry

import "time"

// Revocation reasons recorded on sessions and refresh tokens.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
)

// Session is one authenticated device context.
type Session struct {
	ID             string
	IdentityID     string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Active         bool
	DeviceMetadata string
	EndedAt        *time.Time
	EndReason      string
	CurrentTokenID string
}

// RefreshToken is one link of a session's rotation chain. Only derived values
// of the plaintext are stored.
type RefreshToken struct {
	ID           string
	SessionID    string
	IdentityID   string
	LookupKey    string
	Digest       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Revoked reports whether the token has been consumed or superseded.
func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// ExpiredAt reports whether the token is past its lifetime at now.
func (t RefreshToken) ExpiredAt(now time.Time) bool { return !t.ExpiresAt.After(now) }
