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

	"github.com/civicsetu/civicauth/internal"
	"github.com/redis/go-redis/v9"
)

const (
	upgradeTokenKeyPrefix = "cut"
	upgradeTokenRecordV1  = 1
)

var (
	errUpgradeNotFound         = errors.New("upgrade token not found")
	errUpgradeSecretMismatch   = errors.New("upgrade token secret mismatch")
	errUpgradeRedisUnavailable = errors.New("upgrade token redis unavailable")
)

type upgradeTokenRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
}

// upgradeTokenStore holds the one-time tokens issued after full channel
// verification. A token is the base64url packing of (id, secret); only the
// secret hash is persisted, and Consume deletes the record before returning.
type upgradeTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newUpgradeTokenStore(redisClient redis.UniversalClient) *upgradeTokenStore {
	return &upgradeTokenStore{
		redis:  redisClient,
		prefix: upgradeTokenKeyPrefix,
	}
}

func (s *upgradeTokenStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Issue creates a token for the user and returns its opaque wire form.
func (s *upgradeTokenStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	tokenID, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}

	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	token, err := internal.EncodeChallengeToken(tokenID.String(), secret)
	if err != nil {
		return "", err
	}

	record := &upgradeTokenRecord{
		UserID:     userID,
		SecretHash: internal.HashChallengeSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}

	encoded, err := encodeUpgradeTokenRecord(record)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, s.key(tokenID.String()), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errUpgradeRedisUnavailable, err)
	}

	return token, nil
}

// Consume validates and destroys the token, returning the owning user ID.
// A second Consume of the same token fails with errUpgradeNotFound.
func (s *upgradeTokenStore) Consume(ctx context.Context, token string) (string, error) {
	tokenID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		return "", errUpgradeNotFound
	}

	// GETDEL makes consumption one-shot without a WATCH round.
	data, err := s.redis.GetDel(ctx, s.key(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errUpgradeNotFound
		}
		return "", fmt.Errorf("%w: %v", errUpgradeRedisUnavailable, err)
	}

	record, err := decodeUpgradeTokenRecord(data)
	if err != nil {
		return "", errUpgradeNotFound
	}

	if time.Now().Unix() > record.ExpiresAt {
		return "", errUpgradeNotFound
	}

	providedHash := internal.HashChallengeSecret(secret)
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return "", errUpgradeSecretMismatch
	}

	return record.UserID, nil
}

func encodeUpgradeTokenRecord(record *upgradeTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(upgradeTokenRecordV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if len(record.UserID) > 65535 {
		return nil, errors.New("upgrade token user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeUpgradeTokenRecord(data []byte) (*upgradeTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != upgradeTokenRecordV1 {
		return nil, errors.New("invalid upgrade token record version")
	}

	record := &upgradeTokenRecord{}
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
