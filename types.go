package credlife

import (
	"context"
	"time"

	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/internal/audit"
	"github.com/MrEthical07/credlife/registry"
)

// TokenPair is returned by Join, Login and Refresh. The refresh token
// plaintext appears here exactly once.
type TokenPair struct {
	IdentityID       string
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// JoinRequest registers a new identity and opens its first session.
type JoinRequest struct {
	Attributes identity.Attributes
	Password   string `validate:"required,max=1024"`
	Device     string `validate:"max=512"`
}

// LoginRequest authenticates by selector (normally an email) and password.
type LoginRequest struct {
	Selector string `validate:"required,max=254"`
	Password string `validate:"required,max=1024"`
	Device   string `validate:"max=512"`
}

// Principal is the verified content of an access token.
type Principal struct {
	IdentityID string
	Role       string
	SessionID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Ext        map[string]string
}

// Session is an active login as reported by Engine.Sessions.
type Session = registry.Session

// Mailer delivers password reset tokens. Delivery failures are logged and
// never reported to the caller of RequestPasswordReset.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// Limiter throttles login and reset-request attempts. Keys are normalized
// selectors. Any non-nil error from AllowLogin or AllowResetRequest rejects the
// call: errors matching ErrRateLimited are reported as ErrRateLimited, anything
// else as ErrInternal.
type Limiter interface {
	AllowLogin(ctx context.Context, key string) error
	FailedLogin(ctx context.Context, key string) error
	ResetLogin(ctx context.Context, key string) error
	AllowResetRequest(ctx context.Context, key string) error
}

// Audit types re-exported for sink implementations.
type (
	AuditEvent    = audit.Event
	AuditSink     = audit.Sink
	AuditSeverity = audit.Severity
	AuditOutcome  = audit.Outcome
)

const (
	SeverityInfo     = audit.SeverityInfo
	SeverityWarning  = audit.SeverityWarning
	SeverityCritical = audit.SeverityCritical

	OutcomeSuccess = audit.OutcomeSuccess
	OutcomeFailure = audit.OutcomeFailure
	OutcomeDenied  = audit.OutcomeDenied
)
