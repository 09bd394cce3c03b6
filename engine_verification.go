package civicauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/civicsetu/civicauth/internal"
	"github.com/civicsetu/civicauth/internal/limiters"
)

// RequestCode generates a one-time code for the channel named in the
// hand-off and dispatches it through the delivery collaborator. The code
// itself is never stored; redis keeps its hash with a TTL and an attempt
// counter. A failed delivery leaves the channel unverified and is
// surfaced to the caller for a manual retry.
func (e *Engine) RequestCode(ctx context.Context, h Handoff, channel Channel) error {
	if e == nil || e.codeStore == nil || e.codeSender == nil {
		return ErrEngineNotReady
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if err := channelAllowed(h, channel); err != nil {
		return err
	}
	if err := e.bindHandoffToAccount(ctx, h, channel); err != nil {
		return err
	}

	contact := h.ContactFor(channel)
	ip := clientIPFromContext(ctx)

	if e.codeLimiter != nil {
		if err := e.codeLimiter.CheckRequest(ctx, channel.String(), contact, ip); err != nil {
			mapped := mapVerificationLimiterError(err)
			if errors.Is(mapped, ErrCodeRateLimited) {
				e.metricInc(MetricCodeRateLimited)
				e.emitRateLimit(ctx, "verification_request", func() map[string]string {
					return map[string]string{"channel": channel.String()}
				})
			}
			return mapped
		}
	}

	code, err := internal.NewOTP(e.config.Verification.OTPDigits)
	if err != nil {
		return ErrVerificationUnavailable
	}

	record := &verificationCodeRecord{
		UserID:     h.UID,
		SecretHash: internal.HashBytes([]byte(code)),
		ExpiresAt:  time.Now().Add(e.config.Verification.CodeTTL).Unix(),
		Channel:    channel,
	}
	if err := e.codeStore.Save(ctx, channel, contact, record, e.config.Verification.CodeTTL); err != nil {
		return ErrVerificationUnavailable
	}

	if err := e.codeSender.Send(ctx, channel, contact, code); err != nil {
		e.metricInc(MetricCodeDeliveryFailed)
		e.emitAudit(ctx, auditEventCodeRequested, false, h.UID, "", ErrCodeDeliveryFailed, func() map[string]string {
			return map[string]string{"channel": channel.String()}
		})
		return ErrCodeDeliveryFailed
	}

	e.metricInc(MetricCodeRequested)
	e.emitAudit(ctx, auditEventCodeRequested, true, h.UID, "", nil, func() map[string]string {
		return map[string]string{
			"channel": channel.String(),
			"mode":    h.Mode.String(),
		}
	})

	return nil
}

// ConfirmCode consumes the pending code for the channel. A match marks
// the channel verified; once every channel required by the hand-off's
// mode and role is verified, the account is activated and a one-time
// upgrade token is issued for the session exchange.
func (e *Engine) ConfirmCode(ctx context.Context, h Handoff, channel Channel, code string) (*ConfirmResult, error) {
	if e == nil || e.codeStore == nil || e.progressStore == nil || e.upgradeStore == nil {
		return nil, ErrEngineNotReady
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := channelAllowed(h, channel); err != nil {
		return nil, err
	}
	if len(code) != e.config.Verification.OTPDigits || !internal.IsNumeric(code) {
		return nil, ErrCodeInvalid
	}
	if err := e.bindHandoffToAccount(ctx, h, channel); err != nil {
		return nil, err
	}

	contact := h.ContactFor(channel)
	ip := clientIPFromContext(ctx)

	if e.codeLimiter != nil {
		if err := e.codeLimiter.CheckConfirm(ctx, channel.String(), contact, ip); err != nil {
			mapped := mapVerificationLimiterError(err)
			if errors.Is(mapped, ErrCodeRateLimited) {
				e.metricInc(MetricCodeRateLimited)
				e.emitRateLimit(ctx, "verification_confirm", func() map[string]string {
					return map[string]string{"channel": channel.String()}
				})
			}
			return nil, mapped
		}
	}

	record, err := e.codeStore.Consume(ctx, channel, contact, internal.HashBytes([]byte(code)), e.config.Verification.MaxAttempts)
	if err != nil {
		mapped := mapVerificationStoreError(err)
		if errors.Is(mapped, ErrCodeAttemptsExceeded) {
			e.metricInc(MetricCodeAttemptsExceeded)
		} else if errors.Is(mapped, ErrCodeInvalid) {
			e.metricInc(MetricCodeConfirmFailure)
		}
		e.emitAudit(ctx, auditEventCodeRejected, false, h.UID, "", mapped, func() map[string]string {
			return map[string]string{"channel": channel.String()}
		})
		return nil, mapped
	}

	userID := record.UserID
	if userID == "" {
		userID = h.UID
	}

	if err := e.progressStore.MarkVerified(ctx, userID, channel, e.config.Verification.ProgressTTL); err != nil {
		return nil, ErrVerificationUnavailable
	}

	e.metricInc(MetricCodeConfirmSuccess)
	e.emitAudit(ctx, auditEventCodeConfirmed, true, userID, "", nil, func() map[string]string {
		return map[string]string{"channel": channel.String()}
	})

	required := RequiredChannels(h.Mode, h.Role)
	all, err := e.progressStore.AllVerified(ctx, userID, required)
	if err != nil {
		return nil, ErrVerificationUnavailable
	}
	if !all {
		return &ConfirmResult{Channel: channel}, nil
	}

	if h.Mode == ModeRegister && e.userProvider != nil {
		if err := e.userProvider.UpdateAccountStatus(ctx, userID, AccountActive); err != nil {
			return nil, ErrVerificationUnavailable
		}
		e.emitAudit(ctx, auditEventAccountStatusChange, true, userID, "", nil, func() map[string]string {
			return map[string]string{"status": "active"}
		})
	}

	token, err := e.upgradeStore.Issue(ctx, userID, e.config.Verification.UpgradeTokenTTL)
	if err != nil {
		return nil, ErrVerificationUnavailable
	}

	// Progress is spent; the upgrade token now carries the outcome.
	_ = e.progressStore.Clear(ctx, userID)

	e.metricInc(MetricVerificationComplete)
	e.emitAudit(ctx, auditEventVerificationComplete, true, userID, "", nil, func() map[string]string {
		return map[string]string{"mode": h.Mode.String()}
	})

	return &ConfirmResult{
		Channel:      channel,
		AllVerified:  true,
		UpgradeToken: token,
	}, nil
}

// bindHandoffToAccount resolves the hand-off's account and rejects
// hand-offs whose contact or role does not belong to it. The send and
// confirm endpoints are unauthenticated, so the UID is untrusted input:
// without this check a caller could verify their own contact while
// naming someone else's account and walk away with that account's
// upgrade token.
func (e *Engine) bindHandoffToAccount(ctx context.Context, h Handoff, channel Channel) error {
	if e.userProvider == nil {
		return ErrEngineNotReady
	}
	if h.UID == "" {
		return ErrHandoffIncomplete
	}

	user, err := e.userProvider.GetUserByID(ctx, h.UID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrHandoffIncomplete
	}
	if err != nil {
		return ErrVerificationUnavailable
	}

	if user.Role != h.Role {
		return ErrHandoffIncomplete
	}
	switch channel {
	case ChannelEmail:
		if !strings.EqualFold(user.Email, h.Email) {
			return ErrHandoffIncomplete
		}
	case ChannelWhatsApp:
		if user.Mobile == "" || user.Mobile != h.Mobile {
			return ErrHandoffIncomplete
		}
	}

	return nil
}

// channelAllowed rejects channels outside the required set for the
// hand-off, so a login-mode flow cannot be satisfied over WhatsApp.
func channelAllowed(h Handoff, channel Channel) error {
	for _, c := range RequiredChannels(h.Mode, h.Role) {
		if c == channel {
			return nil
		}
	}
	return ErrChannelInvalid
}

func mapVerificationLimiterError(err error) error {
	switch {
	case errors.Is(err, limiters.ErrVerificationRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, limiters.ErrVerificationLimiterUnavailable):
		return ErrVerificationUnavailable
	default:
		return err
	}
}

func mapVerificationStoreError(err error) error {
	switch {
	case errors.Is(err, errCodeNotFound), errors.Is(err, errCodeSecretMismatch):
		return ErrCodeInvalid
	case errors.Is(err, errCodeAttemptsExceeded):
		return ErrCodeAttemptsExceeded
	case errors.Is(err, errCodeRedisUnavailable):
		return ErrVerificationUnavailable
	default:
		return ErrCodeInvalid
	}
}
