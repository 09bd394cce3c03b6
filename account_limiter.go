package civicauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	errAccountRateLimited      = errors.New("account rate limited")
	errAccountRedisUnavailable = errors.New("account redis unavailable")
)

// accountCreationLimiter throttles registrations per email and per
// client IP so a single actor cannot mass-create accounts.
type accountCreationLimiter struct {
	redis  redis.UniversalClient
	config AccountConfig
}

func newAccountCreationLimiter(redisClient redis.UniversalClient, cfg AccountConfig) *accountCreationLimiter {
	return &accountCreationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *accountCreationLimiter) Enforce(ctx context.Context, email, ip string) error {
	if err := l.enforceKey(ctx, accountEmailKey(email)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, accountIPKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

func (l *accountCreationLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errAccountRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errAccountRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxPerWindow) {
		return errAccountRateLimited
	}

	return nil
}

func accountEmailKey(email string) string {
	return "cac:" + contactDigest(email)
}

func accountIPKey(ip string) string {
	return "cacip:" + ip
}
