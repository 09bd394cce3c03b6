package civicauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventTokenLoginSuccess    = "token_login_success"
	auditEventTokenLoginFailure    = "token_login_failure"
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventRegisterDuplicate    = "register_duplicate"
	auditEventRegisterRateLimited  = "register_rate_limited"
	auditEventRegisterCompensated  = "register_compensated"
	auditEventCodeRequested        = "verification_code_requested"
	auditEventCodeConfirmed        = "verification_code_confirmed"
	auditEventCodeRejected         = "verification_code_rejected"
	auditEventVerificationComplete = "verification_complete"
	auditEventSessionUpgraded      = "session_upgraded"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventRoleRedirect         = "role_redirect"
	auditEventAccountStatusChange  = "account_status_change"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
)

// AuditErrorCode is the stable machine-readable error tag attached to
// failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrUserNotFound          AuditErrorCode = "user_not_found"
	auditErrAccountDisabled       AuditErrorCode = "account_disabled"
	auditErrAccountUnverified     AuditErrorCode = "account_unverified"
	auditErrPasswordPolicy        AuditErrorCode = "password_policy"
	auditErrAttemptsExceeded      AuditErrorCode = "attempts_exceeded"
	auditErrRoleMismatch          AuditErrorCode = "role_mismatch"
	auditErrChannelInvalid        AuditErrorCode = "channel_invalid"
	auditErrDeliveryFailed        AuditErrorCode = "delivery_failed"
	auditErrHandoffIncomplete     AuditErrorCode = "handoff_incomplete"
	auditErrProfileSaveFailed     AuditErrorCode = "profile_save_failed"
	auditErrDuplicate             AuditErrorCode = "duplicate"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRegistrationRateLimited),
		errors.Is(err, ErrCodeRateLimited),
		errors.Is(err, ErrPasswordResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrUpgradeTokenInvalid),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrPasswordResetInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrCodeAttemptsExceeded),
		errors.Is(err, ErrPasswordResetAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrRoleMismatch),
		errors.Is(err, ErrRoleInvalid):
		return auditErrRoleMismatch
	case errors.Is(err, ErrChannelInvalid):
		return auditErrChannelInvalid
	case errors.Is(err, ErrCodeDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrHandoffIncomplete):
		return auditErrHandoffIncomplete
	case errors.Is(err, ErrProfileSaveFailed):
		return auditErrProfileSaveFailed
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrProviderDuplicateIdentifier):
		return auditErrDuplicate
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrRegistrationUnavailable),
		errors.Is(err, ErrVerificationUnavailable),
		errors.Is(err, ErrPasswordResetUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
