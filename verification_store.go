package civicauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/civicsetu/civicauth/internal"
	"github.com/redis/go-redis/v9"
)

const (
	verificationCodeKeyPrefix   = "cvc"
	verificationCodeRecordV1    = 1
	verificationProgressPrefix  = "cvp"
	verificationConsumeMaxRetry = 4
)

var (
	errCodeNotFound         = errors.New("verification code not found")
	errCodeSecretMismatch   = errors.New("verification code mismatch")
	errCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	errCodeRedisUnavailable = errors.New("verification redis unavailable")
)

type verificationCodeRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
	Channel    Channel
}

// verificationCodeStore keeps one pending OTP record per (channel, contact).
// Requesting a new code overwrites the previous one; consuming is one-shot.
type verificationCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newVerificationCodeStore(redisClient redis.UniversalClient) *verificationCodeStore {
	return &verificationCodeStore{
		redis:  redisClient,
		prefix: verificationCodeKeyPrefix,
	}
}

func contactDigest(contact string) string {
	sum := internal.HashBytes([]byte(contact))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

func (s *verificationCodeStore) key(channel Channel, contact string) string {
	return s.prefix + ":" + channel.String() + ":" + contactDigest(contact)
}

func (s *verificationCodeStore) Save(
	ctx context.Context,
	channel Channel,
	contact string,
	record *verificationCodeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeVerificationCodeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(channel, contact), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	return nil
}

// Consume compares the provided code hash against the stored record inside a
// WATCH transaction. A match deletes the record; a mismatch increments the
// attempt counter and deletes the record once the cap is reached.
func (s *verificationCodeStore) Consume(
	ctx context.Context,
	channel Channel,
	contact string,
	providedHash [32]byte,
	maxAttempts int,
) (*verificationCodeRecord, error) {
	key := s.key(channel, contact)

	for i := 0; i < verificationConsumeMaxRetry; i++ {
		var matched *verificationCodeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationCodeRecord(data)
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
				return errCodeNotFound
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
					return errCodeAttemptsExceeded
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
					return errCodeNotFound
				}

				updated, err := encodeVerificationCodeRecord(record)
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
				return errCodeSecretMismatch
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
				return nil, errCodeNotFound
			case errors.Is(err, errCodeNotFound),
				errors.Is(err, errCodeSecretMismatch), errors.Is(err, errCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errCodeNotFound
}

func encodeVerificationCodeRecord(record *verificationCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(verificationCodeRecordV1)
	buf.WriteByte(byte(record.Channel))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("verification record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeVerificationCodeRecord(data []byte) (*verificationCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != verificationCodeRecordV1 {
		return nil, errors.New("invalid verification record version")
	}

	channel, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &verificationCodeRecord{
		Channel: Channel(channel),
	}

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

// verificationProgressStore records which channels an account has confirmed
// during its pending verification window.
type verificationProgressStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newVerificationProgressStore(redisClient redis.UniversalClient) *verificationProgressStore {
	return &verificationProgressStore{
		redis:  redisClient,
		prefix: verificationProgressPrefix,
	}
}

func (s *verificationProgressStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *verificationProgressStore) MarkVerified(ctx context.Context, userID string, channel Channel, ttl time.Duration) error {
	key := s.key(userID)
	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, key, channel.String())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

// AllVerified reports whether every required channel is in the progress set.
func (s *verificationProgressStore) AllVerified(ctx context.Context, userID string, required []Channel) (bool, error) {
	members, err := s.redis.SMembers(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}

	confirmed := make(map[string]struct{}, len(members))
	for _, m := range members {
		confirmed[m] = struct{}{}
	}
	for _, ch := range required {
		if _, ok := confirmed[ch.String()]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *verificationProgressStore) Clear(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}
