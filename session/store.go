package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrTokenMismatch is returned when the presented token does not hash to the
// stored token hash.
var ErrTokenMismatch = errors.New("session token mismatch")

// ErrRedisUnavailable wraps transport-level redis failures.
var ErrRedisUnavailable = errors.New("session redis unavailable")

const minSlidingTTL = time.Second

// Store persists sessions in redis: one key per session plus a per-user set
// for logout-all. With sliding expiration enabled, reads within the second
// half of the lifetime extend the session.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	lifetime time.Duration
	sliding  bool
}

// NewStore wires a session store over the given redis client.
func NewStore(client redis.UniversalClient, prefix string, lifetime time.Duration, sliding bool) *Store {
	return &Store{
		redis:    client,
		prefix:   prefix,
		lifetime: lifetime,
		sliding:  sliding,
	}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userSetKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save writes the session and registers it in the owner's session set.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	encoded, err := encodeSession(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.SessionID), encoded, ttl)
	pipe.SAdd(ctx, s.userSetKey(sess.UserID), sess.SessionID)
	pipe.Expire(ctx, s.userSetKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get resolves a session by ID and verifies the presented token hash. Expired
// records are deleted on read. With sliding expiration, a session past the
// midpoint of its lifetime is extended by a full lifetime.
func (s *Store) Get(ctx context.Context, sessionID string, tokenHash [32]byte) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, ErrNotFound
	}
	// The ID lives in the key, not the record.
	sess.SessionID = sessionID

	now := time.Now()
	if now.Unix() >= sess.ExpiresAt {
		_ = s.Delete(ctx, sessionID, sess.UserID)
		return nil, ErrNotFound
	}

	if subtle.ConstantTimeCompare(sess.TokenHash[:], tokenHash[:]) != 1 {
		return nil, ErrTokenMismatch
	}

	if s.sliding {
		remaining := time.Unix(sess.ExpiresAt, 0).Sub(now)
		if remaining < s.lifetime/2 && remaining > minSlidingTTL {
			sess.ExpiresAt = now.Add(s.lifetime).Unix()
			if encoded, err := encodeSession(sess); err == nil {
				// Extension is best-effort; the current read already succeeded.
				_ = s.redis.Set(ctx, s.sessionKey(sessionID), encoded, s.lifetime).Err()
			}
		}
	}

	return sess, nil
}

// Delete removes a single session. Deleting an unknown session is not an
// error; logout is idempotent.
func (s *Store) Delete(ctx context.Context, sessionID, userID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	if userID != "" {
		pipe.SRem(ctx, s.userSetKey(userID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session owned by the user.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.redis.SMembers(ctx, s.userSetKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.sessionKey(id))
	}
	pipe.Del(ctx, s.userSetKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
