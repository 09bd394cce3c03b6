package civicauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingRoleKeyPrefix = "cpr"

// pendingRoleStore remembers the role selected during an in-progress
// registration, keyed by identifier, so a role-less login between
// registration and verification still resolves to the intended role.
type pendingRoleStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newPendingRoleStore(redisClient redis.UniversalClient, ttl time.Duration) *pendingRoleStore {
	return &pendingRoleStore{
		redis:  redisClient,
		prefix: pendingRoleKeyPrefix,
		ttl:    ttl,
	}
}

func (s *pendingRoleStore) key(email string) string {
	return s.prefix + ":" + contactDigest(email)
}

func (s *pendingRoleStore) Set(ctx context.Context, email string, role Role) error {
	if err := s.redis.Set(ctx, s.key(email), role.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

// Get returns the remembered role and whether one was found.
func (s *pendingRoleStore) Get(ctx context.Context, email string) (Role, bool, error) {
	value, err := s.redis.Get(ctx, s.key(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RoleCitizen, false, nil
		}
		return RoleCitizen, false, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	role, err := ParseRole(value)
	if err != nil {
		// A stale or corrupt value falls back to the anonymous default.
		return RoleCitizen, false, nil
	}
	return role, true, nil
}
