package civicauth

import (
	"context"
	"errors"
	"time"

	"github.com/civicsetu/civicauth/internal"
	"github.com/civicsetu/civicauth/internal/limiters"
	"github.com/civicsetu/civicauth/internal/rate"
	"github.com/civicsetu/civicauth/jwt"
	"github.com/civicsetu/civicauth/password"
	"github.com/civicsetu/civicauth/session"
)

// Engine is the authentication core. It owns every session, verification
// and reset record in redis; callers integrate their account database and
// delivery gateway through the collaborator interfaces. Construct with
// [Builder]; a zero Engine is not usable.
type Engine struct {
	config         Config
	sessionStore   *session.Store
	loginLimiter   *rate.Limiter
	accountLimiter *accountCreationLimiter
	codeStore      *verificationCodeStore
	codeLimiter    *limiters.VerificationLimiter
	progressStore  *verificationProgressStore
	upgradeStore   *upgradeTokenStore
	pendingRoles   *pendingRoleStore
	resetStore     *passwordResetStore
	resetLimiter   *passwordResetLimiter
	audit          *auditDispatcher
	metrics        *Metrics
	passwordHash   *password.Argon2
	jwtManager     *jwt.Manager
	userProvider   UserProvider
	profileStore   ProfileStore
	codeSender     CodeSender
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// ValidateSession resolves the opaque session token to the authenticated
// identity. Being authenticated is exactly this: a live session record
// resolves for the presented token.
func (e *Engine) ValidateSession(ctx context.Context, sessionToken string) (*AuthResult, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	sessionID, secret, err := internal.DecodeChallengeToken(sessionToken)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := e.sessionStore.Get(ctx, sessionID, internal.HashChallengeSecret(secret))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrTokenMismatch):
			return nil, ErrSessionNotFound
		default:
			return nil, err
		}
	}

	role := Role(sess.Role)
	switch role {
	case RoleCitizen, RoleAdmin:
	default:
		return nil, ErrRoleInvalid
	}

	return &AuthResult{
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      role,
		SessionID: sess.SessionID,
	}, nil
}

// ValidateAccess verifies a bearer access token without touching redis.
func (e *Engine) ValidateAccess(tokenStr string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &AuthResult{
		UserID:    claims.UID,
		Email:     claims.Email,
		Role:      role,
		SessionID: claims.SID,
	}, nil
}

// Logout deletes the session behind the token. Unknown or malformed
// tokens are treated as already logged out.
func (e *Engine) Logout(ctx context.Context, sessionToken string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	sessionID, secret, err := internal.DecodeChallengeToken(sessionToken)
	if err != nil {
		return nil
	}

	sess, err := e.sessionStore.Get(ctx, sessionID, internal.HashChallengeSecret(secret))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrTokenMismatch) {
			return nil
		}
		return err
	}

	if err := e.sessionStore.Delete(ctx, sessionID, sess.UserID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.UserID, sessionID, nil, nil)

	return nil
}

// LogoutAll deletes every session owned by the user.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return nil
	}

	if err := e.sessionStore.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, nil)

	return nil
}

// createSession mints a session plus both token forms for the user.
func (e *Engine) createSession(ctx context.Context, user UserRecord) (accessToken, sessionToken, sessionID string, err error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", "", ErrSessionCreationFailed
	}
	sessionID = sid.String()

	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", "", "", ErrSessionCreationFailed
	}

	now := time.Now()
	sess := &session.Session{
		SessionID: sessionID,
		UserID:    user.UserID,
		Email:     user.Email,
		Role:      uint8(user.Role),
		TokenHash: internal.HashChallengeSecret(secret),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.Lifetime).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess); err != nil {
		return "", "", "", ErrSessionCreationFailed
	}

	accessToken, err = e.jwtManager.CreateAccess(user.UserID, sessionID, user.Role.String(), user.Email)
	if err != nil {
		_ = e.sessionStore.Delete(ctx, sessionID, user.UserID)
		return "", "", "", ErrSessionCreationFailed
	}

	sessionToken, err = internal.EncodeChallengeToken(sessionID, secret)
	if err != nil {
		_ = e.sessionStore.Delete(ctx, sessionID, user.UserID)
		return "", "", "", ErrSessionCreationFailed
	}

	e.metricInc(MetricSessionCreated)

	return accessToken, sessionToken, sessionID, nil
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountDisabled:
		return ErrAccountDisabled
	default:
		return nil
	}
}
