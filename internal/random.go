package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Opaque credential sizes. A refresh token on the wire is the record ID
// followed by the secret; only the secret's hash is ever stored.
const (
	tokenIDSize         = 16
	refreshSecretSize   = 32
	refreshTokenRawSize = tokenIDSize + refreshSecretSize
	csrfSecretSize      = 32
)

// TokenID is the random identifier half of an opaque credential.
type TokenID [tokenIDSize]byte

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs record ID and secret into a single opaque
// base64url string. The result is random bytes end to end, not parseable
// as a structured token by the holder.
func EncodeRefreshToken(tokenID string, secret [refreshSecretSize]byte) (string, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var id TokenID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

// NewCSRFToken returns a fresh CSRF token bound to the session via HMAC.
// Binding means a token observed on one session cannot be replayed against
// another even when both leak.
func NewCSRFToken(hmacKey []byte, sessionID string) (string, error) {
	var secret [csrfSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(secret[:])
	mac.Write([]byte(sessionID))
	sum := mac.Sum(nil)

	raw := make([]byte, 0, csrfSecretSize+len(sum))
	raw = append(raw, secret[:]...)
	raw = append(raw, sum...)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// VerifyCSRFBinding checks that the token's embedded MAC matches the
// session it is being presented for.
func VerifyCSRFBinding(hmacKey []byte, sessionID, token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	if len(raw) != csrfSecretSize+sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(raw[:csrfSecretSize])
	mac.Write([]byte(sessionID))

	return hmac.Equal(mac.Sum(nil), raw[csrfSecretSize:])
}

// HashToken produces the storage key digest for raw token material, used
// by the access-token blacklist so raw tokens never land in the store.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
