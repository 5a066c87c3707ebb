package credlife

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/credlife/gate"
	"github.com/MrEthical07/credlife/internal/audit"
)

const (
	auditActionJoin                 = "join"
	auditActionLogin                = "login"
	auditActionRefresh              = "refresh"
	auditActionLogout               = "logout"
	auditActionLogoutAll            = "logout_all"
	auditActionPasswordChange       = "password_change"
	auditActionPasswordResetRequest = "password_reset_request"
	auditActionPasswordResetConfirm = "password_reset_confirm"
)

// errReplayAfterRevoke is audited, never returned: a token consumed by
// rotation was presented after its session had already ended.
var errReplayAfterRevoke = errors.New("consumed refresh token replayed after session end")

const (
	auditReasonInvalidCredentials = "invalid_credentials"
	auditReasonRateLimited        = "rate_limited"
	auditReasonInvalidToken       = "invalid_token"
	auditReasonExpired            = "expired"
	auditReasonReuse              = "reuse_detected"
	auditReasonReuseAfterRevoke   = "reuse_after_revoke"
	auditReasonWeakPassword       = "weak_password"
	auditReasonInvalidCurrent     = "invalid_current_password"
	auditReasonPasswordReuse      = "password_reuse"
	auditReasonExists             = "account_exists"
	auditReasonInvalidInput       = "invalid_input"
	auditReasonInvalidation       = "session_invalidation_failed"
	auditReasonResetInvalid       = "reset_token_invalid"
	auditReasonInternal           = "internal_error"
)

func auditReason(err error) string {
	var ne *AccountNotEligibleError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ne):
		return ne.Reason
	case errors.Is(err, errReplayAfterRevoke):
		return auditReasonReuseAfterRevoke
	case errors.Is(err, ErrInvalidCredentials):
		return auditReasonInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditReasonRateLimited
	case errors.Is(err, ErrTokenReuseDetected):
		return auditReasonReuse
	case errors.Is(err, ErrTokenExpired):
		return auditReasonExpired
	case errors.Is(err, ErrTokenInvalidOrRevoked):
		return auditReasonInvalidToken
	case errors.Is(err, ErrWeakPassword):
		return auditReasonWeakPassword
	case errors.Is(err, ErrInvalidCurrentPassword):
		return auditReasonInvalidCurrent
	case errors.Is(err, ErrPasswordReuse):
		return auditReasonPasswordReuse
	case errors.Is(err, ErrAccountExists):
		return auditReasonExists
	case errors.Is(err, ErrInvalidInput):
		return auditReasonInvalidInput
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditReasonInvalidation
	case errors.Is(err, ErrResetTokenInvalid):
		return auditReasonResetInvalid
	case errors.Is(err, gate.ErrNotEligible):
		return string(gate.ReasonOf(err))
	default:
		return auditReasonInternal
	}
}

// emitAudit records exactly one event for an engine call. Outcome and
// severity are derived from err.
func (e *Engine) emitAudit(ctx context.Context, action, identityID, sessionID string, err error, meta map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	outcome := audit.OutcomeSuccess
	severity := audit.SeverityInfo
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenReuseDetected), errors.Is(err, errReplayAfterRevoke):
		outcome, severity = audit.OutcomeDenied, audit.SeverityCritical
	case errors.Is(err, ErrAccountNotEligible), errors.Is(err, ErrRateLimited):
		outcome, severity = audit.OutcomeDenied, audit.SeverityWarning
	default:
		outcome, severity = audit.OutcomeFailure, audit.SeverityWarning
	}

	e.audit.Emit(ctx, audit.Event{
		ID:              uuid.NewString(),
		OccurredAt:      e.now().UTC(),
		Action:          action,
		IdentityID:      identityID,
		TargetSessionID: sessionID,
		Outcome:         outcome,
		Severity:        severity,
		Reason:          auditReason(err),
		Context:         meta,
	})
}
