package civicauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var errResetRateLimited = errors.New("reset rate limited")

type passwordResetLimiter struct {
	redis  redis.UniversalClient
	config PasswordResetConfig
}

func newPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *passwordResetLimiter {
	return &passwordResetLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *passwordResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if err := l.enforceFixedWindow(ctx, resetRequestKey(email)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, resetRequestIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *passwordResetLimiter) CheckConfirm(ctx context.Context, email, ip string) error {
	if err := l.enforceFixedWindow(ctx, resetConfirmKey(email)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, resetConfirmIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *passwordResetLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.ResetTTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return errResetRateLimited
	}

	return nil
}

func resetRequestKey(email string) string {
	return "crr:" + contactDigest(email)
}

func resetRequestIPKey(ip string) string {
	return "crrip:" + ip
}

func resetConfirmKey(email string) string {
	return "crc:" + contactDigest(email)
}

func resetConfirmIPKey(ip string) string {
	return "crcip:" + ip
}
