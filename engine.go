package credlife

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/credlife/credential"
	"github.com/MrEthical07/credlife/gate"
	"github.com/MrEthical07/credlife/identity"
	"github.com/MrEthical07/credlife/internal/audit"
	"github.com/MrEthical07/credlife/internal/rate"
	"github.com/MrEthical07/credlife/internal/resetstore"
	"github.com/MrEthical07/credlife/registry"
	"github.com/MrEthical07/credlife/token"
)

// Engine orchestrates the credential and session lifecycle. Build one with
// New().With...().Build().
type Engine struct {
	config      Config
	logger      *slog.Logger
	now         func() time.Time
	validate    *validator.Validate
	identities  identity.Provider
	gate        *gate.Gate
	issuer      *token.Issuer
	credentials *credential.Service
	registry    *registry.Registry
	resets      resetstore.Store
	limiter     Limiter
	mailer      Mailer
	audit       *audit.Dispatcher
	metrics     *Metrics
}

// Close drains pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed reports audit events the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() error {
	if e == nil || e.registry == nil || e.credentials == nil || e.issuer == nil {
		return ErrEngineNotReady
	}
	return nil
}

func normalizeSelector(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Join creates an identity with a password credential and opens its first
// session.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	pair, identityID, err := e.join(ctx, req, now)
	if err != nil {
		e.metrics.Inc(MetricJoinFailure)
		e.emitAudit(ctx, auditActionJoin, identityID, "", err, nil)
		return nil, err
	}
	e.metrics.Inc(MetricJoinSuccess)
	e.emitAudit(ctx, auditActionJoin, pair.IdentityID, pair.SessionID, nil, deviceMeta(req.Device))
	return pair, nil
}

func (e *Engine) join(ctx context.Context, req JoinRequest, now time.Time) (*TokenPair, string, error) {
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, "", errors.Join(ErrInvalidInput, err)
	}
	// Policy first so a weak password never leaves an identity behind.
	if err := e.credentials.CheckPolicy(req.Password); err != nil {
		return nil, "", ErrWeakPassword
	}

	ident, err := e.identities.Create(ctx, req.Attributes)
	if errors.Is(err, identity.ErrDuplicate) {
		return nil, "", ErrAccountExists
	}
	if err != nil {
		e.logger.Error("identity create failed", "op", auditActionJoin, "err", err)
		return nil, "", internalErr(err)
	}

	cred, err := e.credentials.Create(ctx, ident.ID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrExists):
			return nil, ident.ID, ErrAccountExists
		case errors.Is(err, credential.ErrWeakPassword):
			return nil, ident.ID, ErrWeakPassword
		}
		e.logger.Error("credential create failed", "op", auditActionJoin, "identity_id", ident.ID, "err", err)
		return nil, ident.ID, internalErr(err)
	}

	if err := e.gate.CheckIdentity(ident); err != nil {
		e.metrics.Inc(MetricGateRejected)
		return nil, ident.ID, notEligible(err)
	}

	pair, err := e.issuePair(ctx, ident, req.Device, cred.Digest, now)
	if err != nil {
		return nil, ident.ID, err
	}
	return pair, ident.ID, nil
}

// Login verifies a password and opens a new session. Unknown selectors and
// wrong passwords are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	pair, identityID, err := e.login(ctx, req, e.now())
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricRateLimited)
		}
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditActionLogin, identityID, "", err, nil)
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditActionLogin, pair.IdentityID, pair.SessionID, nil, deviceMeta(req.Device))
	return pair, nil
}

func (e *Engine) login(ctx context.Context, req LoginRequest, now time.Time) (*TokenPair, string, error) {
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, "", errors.Join(ErrInvalidInput, err)
	}
	key := normalizeSelector(req.Selector)

	if e.limiter != nil {
		if err := e.limiter.AllowLogin(ctx, key); err != nil {
			return nil, "", e.limiterErr(err, auditActionLogin)
		}
	}

	ident, err := e.identities.GetBySelector(ctx, key)
	if errors.Is(err, identity.ErrNotFound) {
		e.credentials.Burn(ctx, req.Password)
		e.loginFailed(ctx, key)
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		e.logger.Error("identity lookup failed", "op", auditActionLogin, "err", err)
		return nil, "", internalErr(err)
	}

	digest, ok, err := e.credentials.Authenticate(ctx, ident.ID, req.Password)
	if err != nil {
		e.logger.Error("credential verify failed", "op", auditActionLogin, "identity_id", ident.ID, "err", err)
		return nil, ident.ID, internalErr(err)
	}
	if !ok {
		e.loginFailed(ctx, key)
		return nil, ident.ID, ErrInvalidCredentials
	}

	if err := e.gate.CheckIdentity(ident); err != nil {
		e.metrics.Inc(MetricGateRejected)
		if gate.ReasonOf(err) == gate.ReasonNotFound {
			return nil, ident.ID, ErrInvalidCredentials
		}
		return nil, ident.ID, notEligible(err)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, key); err != nil {
			e.logger.Warn("login limiter reset failed", "identity_id", ident.ID, "err", err)
		}
	}

	pair, err := e.issuePair(ctx, ident, req.Device, digest, now)
	if err != nil {
		return nil, ident.ID, err
	}
	return pair, ident.ID, nil
}

// limiterErr rejects the call either way. Only a real rate limit is reported
// as one; a limiter outage is internal.
func (e *Engine) limiterErr(err error, op string) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	e.logger.Error("rate limiter failed", "op", op, "err", err)
	return internalErr(err)
}

func (e *Engine) loginFailed(ctx context.Context, key string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.FailedLogin(ctx, key); err != nil {
		e.logger.Warn("login limiter record failed", "err", err)
	}
}

// issuePair opens a session for an identity whose password matched digest.
func (e *Engine) issuePair(ctx context.Context, ident identity.Identity, device, digest string, now time.Time) (*TokenPair, error) {
	sess, refresh, plaintext, err := e.registry.StartSession(ctx, ident.ID, device, now)
	if err != nil {
		e.logger.Error("start session failed", "identity_id", ident.ID, "err", err)
		return nil, internalErr(err)
	}
	e.metrics.Inc(MetricSessionCreated)

	// A password change whose revoke-all ran before StartSession cannot have
	// seen this session, so end it here.
	current, err := e.credentials.Current(ctx, ident.ID, digest)
	if err != nil || !current {
		if revoked, rerr := e.registry.RevokeSession(ctx, sess.ID, now, credential.ReasonPasswordChange); rerr != nil {
			e.logger.Error("revoke stale-credential session failed", "session_id", sess.ID, "err", rerr)
		} else if revoked {
			e.metrics.Inc(MetricSessionRevoked)
		}
		if err != nil {
			e.logger.Error("credential recheck failed", "identity_id", ident.ID, "session_id", sess.ID, "err", err)
			return nil, internalErr(err)
		}
		return nil, ErrInvalidCredentials
	}

	access, err := e.issuer.IssueAccess(ident.ID, ident.Role, sess.ID, now, nil)
	if err != nil {
		e.logger.Error("issue access failed", "identity_id", ident.ID, "session_id", sess.ID, "err", err)
		if _, rerr := e.registry.RevokeSession(ctx, sess.ID, now, registry.ReasonLogout); rerr != nil {
			e.logger.Error("revoke orphaned session failed", "session_id", sess.ID, "err", rerr)
		}
		return nil, internalErr(err)
	}

	return &TokenPair{
		IdentityID:       ident.ID,
		SessionID:        sess.ID,
		AccessToken:      access.Token,
		RefreshToken:     plaintext,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token and mints a new access token for the same
// session. Replaying a consumed token against a live session revokes it.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()
	now := e.now()

	rot, err := e.registry.Rotate(ctx, refreshToken, now)
	if err != nil {
		var re *registry.RefreshError
		identityID, sessionID, replayed := "", "", false
		if errors.As(err, &re) {
			identityID, sessionID, replayed = re.IdentityID, re.SessionID, re.Replayed
		}
		mapped := e.mapRefreshError(err, sessionID)
		e.metrics.Inc(MetricRefreshFailure)
		auditErr := mapped
		if replayed && errors.Is(mapped, ErrTokenInvalidOrRevoked) {
			// The caller only learns the token is dead; the replay of a
			// consumed token is still a theft signal.
			e.logger.Warn("consumed refresh token replayed after session end", "identity_id", identityID, "session_id", sessionID)
			auditErr = errReplayAfterRevoke
		}
		e.emitAudit(ctx, auditActionRefresh, identityID, sessionID, auditErr, nil)
		return nil, mapped
	}

	access, err := e.issuer.IssueAccess(rot.Identity.ID, rot.Identity.Role, rot.Session.ID, now, nil)
	if err != nil {
		e.logger.Error("issue access failed", "op", auditActionRefresh, "session_id", rot.Session.ID, "err", err)
		mapped := internalErr(err)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditActionRefresh, rot.Identity.ID, rot.Session.ID, mapped, nil)
		return nil, mapped
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditActionRefresh, rot.Identity.ID, rot.Session.ID, nil, nil)
	return &TokenPair{
		IdentityID:       rot.Identity.ID,
		SessionID:        rot.Session.ID,
		AccessToken:      access.Token,
		RefreshToken:     rot.Plaintext,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: rot.Token.ExpiresAt,
	}, nil
}

func (e *Engine) mapRefreshError(err error, sessionID string) error {
	var re *registry.RefreshError
	if !errors.As(err, &re) {
		e.logger.Error("refresh failed", "err", err)
		return internalErr(err)
	}
	switch re.Kind {
	case registry.FailureInvalid:
		return ErrTokenInvalidOrRevoked
	case registry.FailureExpired:
		return ErrTokenExpired
	case registry.FailureReuse:
		e.metrics.Inc(MetricRefreshReuseDetected)
		if re.SessionRevoked {
			e.metrics.Inc(MetricSessionRevoked)
		}
		e.logger.Warn("refresh token reuse detected", "identity_id", re.IdentityID, "session_id", sessionID)
		if re.Err != registry.ErrReuseDetected {
			// Revoking the compromised session failed; keep the cause.
			e.logger.Error("revoke after reuse failed", "session_id", sessionID, "err", re.Err)
			return errors.Join(ErrTokenReuseDetected, re.Err)
		}
		return ErrTokenReuseDetected
	case registry.FailureIneligible:
		e.metrics.Inc(MetricGateRejected)
		if errors.Is(re.Err, gate.ErrNotEligible) {
			return notEligible(re.Err)
		}
		return ErrTokenInvalidOrRevoked
	default:
		e.logger.Error("refresh failed", "identity_id", re.IdentityID, "session_id", sessionID, "err", re.Err)
		return internalErr(re.Err)
	}
}

// Logout ends one session. Unknown and already ended sessions succeed.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		e.emitAudit(ctx, auditActionLogout, "", "", ErrInvalidInput, nil)
		return ErrInvalidInput
	}
	now := e.now()

	identityID := ""
	if sess, err := e.registry.Session(ctx, sessionID); err == nil {
		identityID = sess.IdentityID
	}

	revoked, err := e.registry.RevokeSession(ctx, sessionID, now, registry.ReasonLogout)
	if err != nil {
		e.logger.Error("logout failed", "session_id", sessionID, "err", err)
		mapped := internalErr(err)
		e.emitAudit(ctx, auditActionLogout, identityID, sessionID, mapped, nil)
		return mapped
	}
	e.metrics.Inc(MetricLogout)
	if revoked {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditActionLogout, identityID, sessionID, nil, map[string]string{
		"revoked": strconv.FormatBool(revoked),
	})
	return nil
}

// LogoutByAccessToken ends the session bound to a valid access token.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		e.emitAudit(ctx, auditActionLogout, "", "", err, nil)
		return err
	}
	if p.SessionID == "" {
		e.emitAudit(ctx, auditActionLogout, p.IdentityID, "", ErrTokenInvalidOrRevoked, nil)
		return ErrTokenInvalidOrRevoked
	}
	return e.Logout(ctx, p.SessionID)
}

// LogoutAll ends every active session of identityID.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(identityID) == "" {
		e.emitAudit(ctx, auditActionLogoutAll, "", "", ErrInvalidInput, nil)
		return ErrInvalidInput
	}

	revoked, err := e.registry.RevokeAllForIdentity(ctx, identityID, e.now(), registry.ReasonLogoutAll)
	e.metrics.Add(MetricSessionRevoked, len(revoked))
	if err != nil {
		e.logger.Error("logout all failed", "identity_id", identityID, "err", err)
		mapped := internalErr(err)
		e.emitAudit(ctx, auditActionLogoutAll, identityID, "", mapped, nil)
		return mapped
	}
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, auditActionLogoutAll, identityID, "", nil, map[string]string{
		"revoked_sessions": strconv.Itoa(len(revoked)),
	})
	return nil
}

// ChangePassword replaces the credential after verifying the current
// password and revokes every session of the identity.
func (e *Engine) ChangePassword(ctx context.Context, identityID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(identityID) == "" {
		e.emitAudit(ctx, auditActionPasswordChange, "", "", ErrInvalidInput, nil)
		return ErrInvalidInput
	}

	revoked, err := e.credentials.Replace(ctx, identityID, current, next)
	if err != nil {
		mapped := e.mapCredentialError(err, identityID, auditActionPasswordChange)
		e.metrics.Inc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditActionPasswordChange, identityID, "", mapped, nil)
		return mapped
	}
	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.metrics.Add(MetricSessionRevoked, len(revoked))
	e.emitAudit(ctx, auditActionPasswordChange, identityID, "", nil, map[string]string{
		"revoked_sessions": strconv.Itoa(len(revoked)),
	})
	return nil
}

func (e *Engine) mapCredentialError(err error, identityID, op string) error {
	switch {
	case errors.Is(err, credential.ErrInvalidCurrentPassword), errors.Is(err, credential.ErrConflict):
		return ErrInvalidCurrentPassword
	case errors.Is(err, credential.ErrWeakPassword):
		return ErrWeakPassword
	case errors.Is(err, credential.ErrPasswordReuse):
		return ErrPasswordReuse
	case errors.Is(err, credential.ErrSessionInvalidationFailed):
		e.logger.Error("session invalidation after credential change failed", "op", op, "identity_id", identityID, "err", err)
		return errors.Join(ErrSessionInvalidationFailed, err)
	default:
		e.logger.Error("credential replace failed", "op", op, "identity_id", identityID, "err", err)
		return internalErr(err)
	}
}

// ValidateAccess verifies an access token without touching storage. A
// revoked session's access token stays valid until it expires.
func (e *Engine) ValidateAccess(_ context.Context, accessToken string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	claims, err := e.issuer.ParseAccess(accessToken, e.now())
	if errors.Is(err, token.ErrAccessExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrTokenInvalidOrRevoked
	}

	p := &Principal{
		IdentityID: claims.IdentityID(),
		Role:       claims.Role,
		SessionID:  claims.SessionID,
		Ext:        claims.Ext,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// ValidateSession verifies an access token like ValidateAccess and then
// requires its session to still be active, so logout takes effect before the
// token expires.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*Principal, error) {
	p, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, ErrTokenInvalidOrRevoked
	}
	sess, err := e.registry.Session(ctx, p.SessionID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrTokenInvalidOrRevoked
	}
	if err != nil {
		e.logger.Error("session lookup failed", "session_id", p.SessionID, "err", err)
		return nil, internalErr(err)
	}
	if !sess.Active || sess.IdentityID != p.IdentityID {
		return nil, ErrTokenInvalidOrRevoked
	}
	return p, nil
}

// Sessions lists the active sessions of identityID.
func (e *Engine) Sessions(ctx context.Context, identityID string) ([]Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sessions, err := e.registry.Sessions(ctx, identityID)
	if err != nil {
		e.logger.Error("list sessions failed", "identity_id", identityID, "err", err)
		return nil, internalErr(err)
	}
	return sessions, nil
}

func deviceMeta(device string) map[string]string {
	if device == "" {
		return nil
	}
	return map[string]string{"device": device}
}
