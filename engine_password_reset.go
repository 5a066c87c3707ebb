package credlife

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/credlife/gate"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/internal/resetstore"
)

// RequestPasswordReset mails a single-use reset token to email if it belongs
// to an eligible identity. The result never reveals whether it does: only an
// unready engine, a rate limit or a limiter outage produce an error, and none
// of them depend on the account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.resets == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	key := normalizeSelector(email)
	if err := e.validate.VarCtx(ctx, key, "required,email,max=254"); err != nil {
		e.emitAudit(ctx, auditActionPasswordResetRequest, "", "", ErrInvalidInput, nil)
		return nil
	}

	if e.limiter != nil {
		if err := e.limiter.AllowResetRequest(ctx, key); err != nil {
			mapped := e.limiterErr(err, auditActionPasswordResetRequest)
			if errors.Is(mapped, ErrRateLimited) {
				e.metrics.Inc(MetricRateLimited)
			}
			e.emitAudit(ctx, auditActionPasswordResetRequest, "", "", mapped, nil)
			return mapped
		}
	}
	e.metrics.Inc(MetricPasswordResetRequest)

	identityID, err := e.requestReset(ctx, key)
	e.emitAudit(ctx, auditActionPasswordResetRequest, identityID, "", err, nil)
	return nil
}

// requestReset returns the failure for auditing only.
func (e *Engine) requestReset(ctx context.Context, email string) (string, error) {
	ident, err := e.identities.GetBySelector(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return "", &AccountNotEligibleError{Reason: string(gate.ReasonNotFound)}
	}
	if err != nil {
		e.logger.Error("identity lookup failed", "op", auditActionPasswordResetRequest, "err", err)
		return "", internalErr(err)
	}
	if err := e.gate.CheckIdentity(ident); err != nil {
		return ident.ID, notEligible(err)
	}

	now := e.now()
	plaintext, rec, err := resetstore.Mint(ident.ID, now, e.config.PasswordReset.TTL)
	if err != nil {
		e.logger.Error("mint reset token failed", "identity_id", ident.ID, "err", err)
		return ident.ID, internalErr(err)
	}
	if err := e.resets.Save(ctx, rec, now); err != nil {
		e.logger.Error("save reset token failed", "identity_id", ident.ID, "err", err)
		return ident.ID, internalErr(err)
	}
	if err := e.mailer.SendPasswordReset(ctx, ident.Email, plaintext, rec.ExpiresAt); err != nil {
		e.logger.Error("send reset mail failed", "identity_id", ident.ID, "err", err)
		return ident.ID, internalErr(err)
	}
	return ident.ID, nil
}

// ConfirmPasswordReset consumes a reset token, sets newPassword and revokes
// every session of the identity. A token succeeds at most once.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.resets == nil {
		return ErrEngineNotReady
	}

	identityID, revoked, err := e.confirmReset(ctx, resetToken, newPassword)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditActionPasswordResetConfirm, identityID, "", err, nil)
		return err
	}
	e.metrics.Inc(MetricPasswordResetConfirmSuccess)
	e.metrics.Add(MetricSessionRevoked, revoked)
	e.emitAudit(ctx, auditActionPasswordResetConfirm, identityID, "", nil, map[string]string{
		"revoked_sessions": strconv.Itoa(revoked),
	})
	return nil
}

func (e *Engine) confirmReset(ctx context.Context, resetToken, newPassword string) (string, int, error) {
	id, hash, err := resetstore.Parse(resetToken)
	if err != nil {
		return "", 0, ErrResetTokenInvalid
	}
	// A policy failure leaves the token usable for a second attempt.
	if err := e.credentials.CheckPolicy(newPassword); err != nil {
		return "", 0, ErrWeakPassword
	}

	rec, err := e.resets.Consume(ctx, id, hash, e.now())
	if err != nil {
		switch {
		case errors.Is(err, resetstore.ErrNotFound),
			errors.Is(err, resetstore.ErrSecretMismatch),
			errors.Is(err, resetstore.ErrAttemptsExceeded):
			return "", 0, ErrResetTokenInvalid
		}
		e.logger.Error("consume reset token failed", "err", err)
		return "", 0, internalErr(err)
	}

	ident, err := e.gate.Check(ctx, rec.IdentityID)
	if err != nil {
		if errors.Is(err, gate.ErrNotEligible) {
			return rec.IdentityID, 0, notEligible(err)
		}
		e.logger.Error("identity lookup failed", "op", auditActionPasswordResetConfirm, "identity_id", rec.IdentityID, "err", err)
		return rec.IdentityID, 0, internalErr(err)
	}

	revoked, err := e.credentials.ForceReplace(ctx, ident.ID, newPassword)
	if err != nil {
		return ident.ID, 0, e.mapCredentialError(err, ident.ID, auditActionPasswordResetConfirm)
	}
	return ident.ID, len(revoked), nil
}
