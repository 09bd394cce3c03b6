package civicauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/civicsetu/civicauth/internal"
)

// RequestPasswordReset starts a reset by emailing a one-time code to the
// account. The call is enumeration-safe: an unknown email resolves
// successfully without sending anything, and the caller cannot tell the
// difference. Errors are surfaced only for malformed input, throttling
// or backend unavailability.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.resetStore == nil || e.codeSender == nil || e.userProvider == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetUnavailable
	}
	if email == "" || !strings.Contains(email, "@") {
		return ErrPasswordResetInvalid
	}

	ip := clientIPFromContext(ctx)
	if e.resetLimiter != nil {
		if err := e.resetLimiter.CheckRequest(ctx, email, ip); err != nil {
			mapped := mapPasswordResetLimiterError(err)
			if errors.Is(mapped, ErrPasswordResetRateLimited) {
				e.emitRateLimit(ctx, "password_reset_request", nil)
			}
			return mapped
		}
	}

	e.metricInc(MetricPasswordResetRequest)

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		// Resolve as success so the caller cannot probe for accounts.
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, func() map[string]string {
			return map[string]string{"known_account": "false"}
		})
		return nil
	}
	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.UserID, "", nil, func() map[string]string {
			return map[string]string{"known_account": "inactive"}
		})
		return nil
	}

	code, err := internal.NewOTP(e.config.PasswordReset.OTPDigits)
	if err != nil {
		return ErrPasswordResetUnavailable
	}

	record := &passwordResetRecord{
		UserID:     user.UserID,
		SecretHash: internal.HashBytes([]byte(code)),
		ExpiresAt:  time.Now().Add(e.config.PasswordReset.ResetTTL).Unix(),
	}
	if err := e.resetStore.Save(ctx, email, record, e.config.PasswordReset.ResetTTL); err != nil {
		return ErrPasswordResetUnavailable
	}

	if err := e.codeSender.Send(ctx, ChannelEmail, email, code); err != nil {
		return ErrPasswordResetUnavailable
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.UserID, "", nil, nil)

	return nil
}

// ConfirmPasswordReset consumes the emailed code and installs the new
// password. Success revokes every session the account holds.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if e == nil || e.resetStore == nil || e.userProvider == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetUnavailable
	}
	if email == "" || code == "" {
		return ErrPasswordResetInvalid
	}
	if len(code) != e.config.PasswordReset.OTPDigits || !internal.IsNumeric(code) {
		return ErrPasswordResetInvalid
	}

	ip := clientIPFromContext(ctx)
	if e.resetLimiter != nil {
		if err := e.resetLimiter.CheckConfirm(ctx, email, ip); err != nil {
			mapped := mapPasswordResetLimiterError(err)
			if errors.Is(mapped, ErrPasswordResetRateLimited) {
				e.emitRateLimit(ctx, "password_reset_confirm", nil)
			}
			return mapped
		}
	}

	record, err := e.resetStore.Consume(ctx, email, internal.HashBytes([]byte(code)), e.config.PasswordReset.MaxAttempts)
	if err != nil {
		mapped := mapPasswordResetStoreError(err)
		if errors.Is(mapped, ErrPasswordResetAttempts) {
			e.metricInc(MetricPasswordResetAttemptsExceeded)
		} else {
			e.metricInc(MetricPasswordResetConfirmFailure)
		}
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", mapped, nil)
		return mapped
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, record.UserID, "", ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	if err := e.userProvider.UpdatePasswordHash(ctx, record.UserID, newHash); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, record.UserID, "", ErrPasswordResetUnavailable, nil)
		return ErrPasswordResetUnavailable
	}

	// A changed password invalidates everything issued under the old one.
	if e.sessionStore != nil {
		_ = e.sessionStore.DeleteAllForUser(ctx, record.UserID)
	}
	if e.loginLimiter != nil {
		_ = e.loginLimiter.ResetLogin(ctx, email, ip)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, record.UserID, "", nil, nil)

	return nil
}

func mapPasswordResetLimiterError(err error) error {
	switch {
	case errors.Is(err, errResetRateLimited):
		return ErrPasswordResetRateLimited
	case errors.Is(err, errResetRedisUnavailable):
		return ErrPasswordResetUnavailable
	default:
		return err
	}
}

func mapPasswordResetStoreError(err error) error {
	switch {
	case errors.Is(err, errResetAttemptsExceeded):
		return ErrPasswordResetAttempts
	case errors.Is(err, errResetRedisUnavailable):
		return ErrPasswordResetUnavailable
	default:
		return ErrPasswordResetInvalid
	}
}
