// Package limiters holds fixed-window throttles for the code
// verification flows.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerificationRateLimited        = errors.New("verification rate limited")
	ErrVerificationLimiterUnavailable = errors.New("verification limiter unavailable")
)

// VerificationConfig tunes the per-contact and per-IP budgets for
// requesting and confirming one-time codes.
type VerificationConfig struct {
	EnableContactThrottle bool
	EnableIPThrottle      bool
	WindowTTL             time.Duration
	MaxAttempts           int
}

type VerificationLimiter struct {
	redis  redis.UniversalClient
	config VerificationConfig
}

func NewVerificationLimiter(redisClient redis.UniversalClient, cfg VerificationConfig) *VerificationLimiter {
	return &VerificationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest throttles code delivery per channel+contact and per IP.
// The channel discriminator keeps a burst of WhatsApp sends from
// starving the email budget for the same user.
func (l *VerificationLimiter) CheckRequest(ctx context.Context, channel, contact, ip string) error {
	if l.config.EnableContactThrottle {
		if err := l.enforceFixedWindow(ctx, requestContactKey(channel, contact)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, requestIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// CheckConfirm throttles code confirmation per channel+contact and per IP.
func (l *VerificationLimiter) CheckConfirm(ctx context.Context, channel, contact, ip string) error {
	if l.config.EnableContactThrottle {
		if err := l.enforceFixedWindow(ctx, confirmContactKey(channel, contact)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, confirmIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *VerificationLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.WindowTTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrVerificationLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrVerificationRateLimited
	}

	return nil
}

func requestContactKey(channel, contact string) string {
	return "cvr:" + channel + ":" + contact
}

func requestIPKey(ip string) string {
	return "cvrip:" + ip
}

func confirmContactKey(channel, contact string) string {
	return "cvf:" + channel + ":" + contact
}

func confirmIPKey(ip string) string {
	return "cvfip:" + ip
}
