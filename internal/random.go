// Package internal holds identifier and secret generation shared by the
// engine's stores. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

type SessionID [16]byte

const (
	challengeSecretSize   = 32
	challengeTokenRawSize = 48
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewChallengeSecret generates the random half of an opaque challenge token
// (session upgrade tokens and password reset tokens share the layout).
func NewChallengeSecret() ([challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashChallengeSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeChallengeToken packs a challenge ID and its secret into a single
// opaque base64url token.
func EncodeChallengeToken(challengeID string, secret [challengeSecretSize]byte) (string, error) {
	cid, err := ParseSessionID(challengeID)
	if err != nil {
		return "", err
	}

	var raw [challengeTokenRawSize]byte
	copy(raw[:len(cid)], cid[:])
	copy(raw[len(cid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeChallengeToken reverses [EncodeChallengeToken].
func DecodeChallengeToken(token string) (string, [challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != challengeTokenRawSize {
		return "", secret, errors.New("invalid challenge token size")
	}

	var cid SessionID
	copy(cid[:], raw[:len(cid)])
	copy(secret[:], raw[len(cid):])

	return cid.String(), secret, nil
}

// NewOTP generates a numeric one-time code with the given digit count.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// IsNumeric reports whether s consists solely of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
