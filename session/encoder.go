package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersionV1 = 1

var errCorruptRecord = errors.New("corrupt session record")

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	buf.WriteByte(s.Role)

	if err := writeString(&buf, s.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, s.Email); err != nil {
		return nil, err
	}
	buf.Write(s.TokenHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordVersionV1 {
		return nil, errCorruptRecord
	}

	role, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	s := &Session{Role: role}

	if s.UserID, err = readString(reader); err != nil {
		return nil, errCorruptRecord
	}
	if s.Email, err = readString(reader); err != nil {
		return nil, errCorruptRecord
	}
	if _, err := io.ReadFull(reader, s.TokenHash[:]); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
