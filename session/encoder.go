package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionV1 = 1

// Encode serializes a session into the compact versioned binary form
// stored in Redis. The session ID is the storage key and is not encoded.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionV1)

	if err := writeString8(&buf, s.UserID, "userID"); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, s.Role, "role"); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, s.IPAddress, "ipAddress"); err != nil {
		return nil, err
	}
	if err := writeString16(&buf, s.UserAgent, "userAgent"); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LastActivityAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses the binary session form produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionV1 {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	if s.UserID, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.IPAddress, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.UserAgent, err = readString16(reader); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.LastActivityAt); err != nil {
		return nil, err
	}

	return s, nil
}

func writeString8(buf *bytes.Buffer, value, field string) error {
	if len(value) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(value)))
	buf.WriteString(value)
	return nil
}

func writeString16(buf *bytes.Buffer, value, field string) error {
	if len(value) > 65535 {
		return errors.New(field + " too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readString8(reader *bytes.Reader) (string, error) {
	length, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func readString16(reader *bytes.Reader) (string, error) {
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
