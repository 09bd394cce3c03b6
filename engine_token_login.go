package civicauth

import (
	"context"
	"errors"
)

// LoginWithToken exchanges a one-time upgrade token, issued when every
// required verification channel was confirmed, for a full session. The
// token is consumed before any other work; a second exchange of the
// same token fails with [ErrUpgradeTokenInvalid].
func (e *Engine) LoginWithToken(ctx context.Context, token string) (*TokenLoginResult, error) {
	if e == nil || e.upgradeStore == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrUpgradeTokenInvalid
	}

	userID, err := e.upgradeStore.Consume(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, errUpgradeRedisUnavailable):
			e.metricInc(MetricTokenLoginFailure)
			return nil, ErrVerificationUnavailable
		default:
			e.metricInc(MetricUpgradeTokenRejected)
			e.metricInc(MetricTokenLoginFailure)
			e.emitAudit(ctx, auditEventTokenLoginFailure, false, "", "", ErrUpgradeTokenInvalid, nil)
			return nil, ErrUpgradeTokenInvalid
		}
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		e.metricInc(MetricTokenLoginFailure)
		e.emitAudit(ctx, auditEventTokenLoginFailure, false, userID, "", ErrUserNotFound, nil)
		return nil, ErrUserNotFound
	}
	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		e.metricInc(MetricTokenLoginFailure)
		e.emitAudit(ctx, auditEventTokenLoginFailure, false, userID, "", statusErr, nil)
		return nil, statusErr
	}

	access, sessionToken, sessionID, err := e.createSession(ctx, user)
	if err != nil {
		e.metricInc(MetricTokenLoginFailure)
		e.emitAudit(ctx, auditEventTokenLoginFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"reason": "session_creation"}
		})
		return nil, err
	}

	e.metricInc(MetricTokenLoginSuccess)
	e.metricInc(MetricSessionUpgraded)
	e.emitAudit(ctx, auditEventSessionUpgraded, true, userID, sessionID, nil, nil)

	return &TokenLoginResult{
		UserID:       user.UserID,
		Email:        user.Email,
		Role:         user.Role,
		AccessToken:  access,
		SessionToken: sessionToken,
	}, nil
}
