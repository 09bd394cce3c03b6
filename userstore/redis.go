// Package userstore is a redis-backed [civicauth.UserProvider], suitable
// for deployments that keep accounts next to the sessions instead of in a
// separate database.
package userstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/civicsetu/civicauth"
)

const (
	recordPrefix = "cu"
	emailPrefix  = "cue"
)

// Store persists account records under cu:<id> with a cue:<email digest>
// index for lookup by email. Records have no TTL; accounts live until
// deleted.
type Store struct {
	redis redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

type storedUser struct {
	UserID       string                  `json:"uid"`
	Email        string                  `json:"email"`
	Mobile       string                  `json:"mobile,omitempty"`
	PasswordHash string                  `json:"hash"`
	Role         civicauth.Role          `json:"role"`
	Status       civicauth.AccountStatus `json:"status"`
}

// CreateUser claims the email index first so two concurrent
// registrations for the same address cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, input civicauth.CreateUserInput) (civicauth.UserRecord, error) {
	ok, err := s.redis.SetNX(ctx, emailKey(input.Email), input.UserID, 0).Result()
	if err != nil {
		return civicauth.UserRecord{}, fmt.Errorf("userstore create: %w", err)
	}
	if !ok {
		return civicauth.UserRecord{}, civicauth.ErrProviderDuplicateIdentifier
	}

	record := storedUser{
		UserID:       input.UserID,
		Email:        input.Email,
		Mobile:       input.Mobile,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Status:       input.Status,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return civicauth.UserRecord{}, fmt.Errorf("userstore encode: %w", err)
	}
	if err := s.redis.Set(ctx, recordKey(input.UserID), data, 0).Err(); err != nil {
		// Release the index so the address is not burned by a half write.
		_ = s.redis.Del(ctx, emailKey(input.Email)).Err()
		return civicauth.UserRecord{}, fmt.Errorf("userstore create: %w", err)
	}

	return record.toRecord(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (civicauth.UserRecord, error) {
	id, err := s.redis.Get(ctx, emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return civicauth.UserRecord{}, civicauth.ErrUserNotFound
	}
	if err != nil {
		return civicauth.UserRecord{}, fmt.Errorf("userstore lookup: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (civicauth.UserRecord, error) {
	data, err := s.redis.Get(ctx, recordKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return civicauth.UserRecord{}, civicauth.ErrUserNotFound
	}
	if err != nil {
		return civicauth.UserRecord{}, fmt.Errorf("userstore lookup: %w", err)
	}

	var record storedUser
	if err := json.Unmarshal(data, &record); err != nil {
		return civicauth.UserRecord{}, fmt.Errorf("userstore decode: %w", err)
	}
	return record.toRecord(), nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, userID string, status civicauth.AccountStatus) error {
	return s.update(ctx, userID, func(record *storedUser) {
		record.Status = status
	})
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return s.update(ctx, userID, func(record *storedUser) {
		record.PasswordHash = newHash
	})
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	data, err := s.redis.Get(ctx, recordKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("userstore delete: %w", err)
	}

	var record storedUser
	keys := []string{recordKey(userID)}
	if json.Unmarshal(data, &record) == nil && record.Email != "" {
		keys = append(keys, emailKey(record.Email))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("userstore delete: %w", err)
	}
	return nil
}

// update rewrites the record under WATCH so concurrent field updates do
// not clobber each other.
func (s *Store) update(ctx context.Context, userID string, mutate func(*storedUser)) error {
	key := recordKey(userID)

	for attempt := 0; attempt < 4; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return civicauth.ErrUserNotFound
			}
			if err != nil {
				return fmt.Errorf("userstore update: %w", err)
			}

			var record storedUser
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("userstore decode: %w", err)
			}
			mutate(&record)

			out, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("userstore encode: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("userstore update: %w", redis.TxFailedErr)
}

func (u storedUser) toRecord() civicauth.UserRecord {
	return civicauth.UserRecord{
		UserID:       u.UserID,
		Email:        u.Email,
		Mobile:       u.Mobile,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Status:       u.Status,
	}
}

func recordKey(userID string) string {
	return recordPrefix + ":" + userID
}

func emailKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return emailPrefix + ":" + base64.RawURLEncoding.EncodeToString(sum[:16])
}
