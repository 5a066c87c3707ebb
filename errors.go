package credlife

import (
	"errors"

	"github.com/MrEthical07/credlife/gate"
)

var (
	// ErrInvalidCredentials covers unknown selectors and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotEligible is matched by every *AccountNotEligibleError.
	ErrAccountNotEligible = errors.New("account not eligible")
	ErrTokenExpired       = errors.New("token expired")
	// ErrTokenInvalidOrRevoked is returned for unknown, malformed or revoked
	// tokens when no live session is at stake.
	ErrTokenInvalidOrRevoked = errors.New("token invalid or revoked")
	// ErrTokenReuseDetected means a revoked refresh token was replayed against a
	// live session. The session has been revoked.
	ErrTokenReuseDetected        = errors.New("refresh token reuse detected")
	ErrWeakPassword              = errors.New("password does not satisfy policy")
	ErrInvalidCurrentPassword    = errors.New("current password is invalid")
	ErrPasswordReuse             = errors.New("new password must differ from current password")
	ErrAccountExists             = errors.New("account already exists")
	ErrResetTokenInvalid         = errors.New("password reset token invalid")
	ErrRateLimited               = errors.New("rate limited")
	ErrInternal                  = errors.New("internal error")
	ErrEngineNotReady            = errors.New("engine not initialized")
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	ErrInvalidInput              = errors.New("invalid input")
)

// AccountNotEligibleError reports why the account gate refused an identity.
type AccountNotEligibleError struct {
	Reason string
}

func (e *AccountNotEligibleError) Error() string {
	return "account not eligible: " + e.Reason
}

func (e *AccountNotEligibleError) Unwrap() error { return ErrAccountNotEligible }

func notEligible(err error) error {
	return &AccountNotEligibleError{Reason: string(gate.ReasonOf(err))}
}

func internalErr(err error) error {
	return errors.Join(ErrInternal, err)
}
