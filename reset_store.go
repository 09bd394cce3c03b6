package civicauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetKeyPrefix       = "crs"
	resetRecordVersionV1 = 1
)

var (
	errResetNotFound         = errors.New("reset record not found")
	errResetSecretMismatch   = errors.New("reset secret mismatch")
	errResetAttemptsExceeded = errors.New("reset attempts exceeded")
	errResetRedisUnavailable = errors.New("reset redis unavailable")
)

// passwordResetRecord is the redis value for a pending password reset.
// The reset code itself is never stored, only its SHA-256 hash.
type passwordResetRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

type passwordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newPasswordResetStore(redisClient redis.UniversalClient) *passwordResetStore {
	return &passwordResetStore{
		redis:  redisClient,
		prefix: resetKeyPrefix,
	}
}

// key namespaces reset records by the digest of the email the code was
// sent to. One pending reset per account at a time.
func (s *passwordResetStore) key(email string) string {
	return s.prefix + ":" + contactDigest(email)
}

func (s *passwordResetStore) Save(ctx context.Context, email string, record *passwordResetRecord, ttl time.Duration) error {
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	return nil
}

// Consume atomically validates the provided code hash against the
// pending record. A match deletes the record so each reset code works
// exactly once. A mismatch bumps the attempt counter and deletes the
// record once the cap is reached.
func (s *passwordResetStore) Consume(ctx context.Context, email string, providedHash [32]byte, maxAttempts int) (*passwordResetRecord, error) {
	const maxRetries = 4
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		var matched *passwordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errResetNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errResetAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errResetNotFound
				}

				updated, err := encodePasswordResetRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errResetSecretMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errResetNotFound
			case errors.Is(err, errResetNotFound), errors.Is(err, errResetSecretMismatch), errors.Is(err, errResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errResetNotFound
}

func encodePasswordResetRecord(record *passwordResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("reset record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*passwordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &passwordResetRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}

	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
