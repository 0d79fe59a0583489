package refresh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retailpoint/authkit/internal"
)

var (
	// ErrNotFound covers unknown, expired, and secret-mismatch tokens.
	// They are deliberately indistinguishable to the caller.
	ErrNotFound = errors.New("refresh token not found")
	// ErrReused marks a rotate attempt on an already-rotated token.
	ErrReused = errors.New("refresh token already used")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Record values are pipe-delimited so the rotation script can read them
// without a codec: secretHashHex|userID|sessionID|expiresAt|revoked.
// None of the fields can contain a pipe.
const rotateScript = `
local val = redis.call("GET", KEYS[1])
if not val then
  return {"missing"}
end
local h, uid, sid, exp, rev = string.match(val, "([^|]*)|([^|]*)|([^|]*)|([^|]*)|([^|]*)")
if h ~= ARGV[1] then
  return {"missing"}
end
if rev == "1" then
  return {"reused", uid, sid}
end
if tonumber(exp) <= tonumber(ARGV[2]) then
  return {"missing"}
end
local ttl = redis.call("TTL", KEYS[1])
redis.call("SET", KEYS[1], h .. "|" .. uid .. "|" .. sid .. "|" .. exp .. "|1")
if ttl > 0 then
  redis.call("EXPIRE", KEYS[1], ttl)
end
redis.call("SET", KEYS[2], ARGV[3] .. "|" .. uid .. "|" .. sid .. "|" .. ARGV[4] .. "|0")
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[5]))
redis.call("SADD", KEYS[3], ARGV[6])
redis.call("SREM", KEYS[3], ARGV[7])
return {"ok", uid, sid}
`

var rotateLua = redis.NewScript(rotateScript)

// Store keeps single-use refresh token records in Redis, keyed by the
// random record ID half of the opaque token. Only a hash of the secret
// half is stored. Revoked records are kept until their natural expiry so
// replay of a rotated token is detectable as reuse rather than reported
// as not-found.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// RotateResult reports the outcome of a rotation. On ErrReused the
// UserID and SessionID of the burned token are still populated so the
// caller can audit and react.
type RotateResult struct {
	Token     string
	TokenID   string
	UserID    string
	SessionID string
}

func encodeRecord(secretHash [32]byte, userID, sessionID string, expiresAt int64, revoked bool) string {
	rev := "0"
	if revoked {
		rev = "1"
	}
	return hex.EncodeToString(secretHash[:]) + "|" + userID + "|" + sessionID + "|" +
		strconv.FormatInt(expiresAt, 10) + "|" + rev
}

type record struct {
	secretHashHex string
	userID        string
	sessionID     string
	expiresAt     int64
	revoked       bool
}

func decodeRecord(val string) (record, error) {
	parts := strings.SplitN(val, "|", 5)
	if len(parts) != 5 {
		return record{}, errors.New("malformed refresh record")
	}
	expiresAt, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return record{}, errors.New("malformed refresh record")
	}
	return record{
		secretHashHex: parts[0],
		userID:        parts[1],
		sessionID:     parts[2],
		expiresAt:     expiresAt,
		revoked:       parts[4] == "1",
	}, nil
}

// Create mints a fresh opaque refresh token for the session and persists
// its record. The returned token is the only copy of the secret.
func (s *Store) Create(ctx context.Context, userID, sessionID string, ttl time.Duration) (string, string, error) {
	tokenID, err := internal.NewTokenID()
	if err != nil {
		return "", "", err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", err
	}

	token, err := internal.EncodeRefreshToken(tokenID.String(), secret)
	if err != nil {
		return "", "", err
	}

	expiresAt := time.Now().Add(ttl).Unix()
	val := encodeRecord(internal.HashRefreshSecret(secret), userID, sessionID, expiresAt, false)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenID.String()), val, ttl)
		pipe.SAdd(ctx, s.userKey(userID), tokenID.String())
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return token, tokenID.String(), nil
}

// Rotate atomically consumes the presented token and mints its successor.
// The validate-revoke-create sequence runs as one Redis script, so
// concurrent rotations of the same token produce exactly one winner; the
// losers observe the revoked record and get ErrReused.
//
// The preliminary read only learns the owning user for the index key;
// the script re-validates everything, so the read takes no part in the
// atomicity argument.
func (s *Store) Rotate(ctx context.Context, token string, ttl time.Duration) (*RotateResult, error) {
	tokenID, secret, err := internal.DecodeRefreshToken(token)
	if err != nil {
		return nil, ErrNotFound
	}

	rec, _, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	// The secret must match before the revoked state is disclosed, so a
	// forged token sharing only a record ID reads as not-found.
	presentedHash := internal.HashRefreshSecret(secret)
	if hex.EncodeToString(presentedHash[:]) != rec.secretHashHex {
		return nil, ErrNotFound
	}
	if rec.revoked {
		return &RotateResult{UserID: rec.userID, SessionID: rec.sessionID}, ErrReused
	}

	newTokenID, err := internal.NewTokenID()
	if err != nil {
		return nil, err
	}
	newSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	newToken, err := internal.EncodeRefreshToken(newTokenID.String(), newSecret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	newHash := internal.HashRefreshSecret(newSecret)

	raw, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tokenID), s.key(newTokenID.String()), s.userKey(rec.userID)},
		hex.EncodeToString(presentedHash[:]),
		now.Unix(),
		hex.EncodeToString(newHash[:]),
		now.Add(ttl).Unix(),
		int64(ttl.Seconds()),
		newTokenID.String(),
		tokenID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, errors.New("unexpected rotate script reply")
	}

	switch reply[0] {
	case "ok":
		return &RotateResult{
			Token:     newToken,
			TokenID:   newTokenID.String(),
			UserID:    replyString(reply, 1),
			SessionID: replyString(reply, 2),
		}, nil
	case "reused":
		return &RotateResult{
			UserID:    replyString(reply, 1),
			SessionID: replyString(reply, 2),
		}, ErrReused
	default:
		return nil, ErrNotFound
	}
}

// Peek validates the token without consuming it and returns its owner.
// Used for pre-rotation throttle checks; the rotation script re-checks
// everything, so Peek carries no correctness weight.
func (s *Store) Peek(ctx context.Context, token string) (userID, sessionID string, err error) {
	tokenID, secret, err := internal.DecodeRefreshToken(token)
	if err != nil {
		return "", "", ErrNotFound
	}

	rec, _, err := s.load(ctx, tokenID)
	if err != nil {
		return "", "", err
	}

	hash := internal.HashRefreshSecret(secret)
	if hex.EncodeToString(hash[:]) != rec.secretHashHex {
		return "", "", ErrNotFound
	}
	if rec.revoked {
		return rec.userID, rec.sessionID, ErrReused
	}
	if rec.expiresAt <= time.Now().Unix() {
		return "", "", ErrNotFound
	}
	return rec.userID, rec.sessionID, nil
}

// RevokeSession revokes every live refresh token belonging to the given
// session. Used on logout and session termination; idempotent.
func (s *Store) RevokeSession(ctx context.Context, userID, sessionID string) (int, error) {
	return s.revokeMatching(ctx, userID, func(rec record) bool {
		return rec.sessionID == sessionID
	})
}

// RevokeAll revokes every live refresh token of a user.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.revokeMatching(ctx, userID, func(record) bool { return true })
}

func (s *Store) revokeMatching(ctx context.Context, userID string, match func(record) bool) (int, error) {
	tokenIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, id := range tokenIDs {
		rec, ttl, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.redis.SRem(ctx, s.userKey(userID), id)
				continue
			}
			return revoked, err
		}
		if rec.revoked || !match(rec) {
			continue
		}
		if err := s.markRevoked(ctx, id, rec, ttl); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

func (s *Store) load(ctx context.Context, tokenID string) (record, time.Duration, error) {
	pipe := s.redis.Pipeline()
	getCmd := pipe.Get(ctx, s.key(tokenID))
	ttlCmd := pipe.TTL(ctx, s.key(tokenID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return record{}, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	val, err := getCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return record{}, 0, ErrNotFound
		}
		return record{}, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := decodeRecord(val)
	if err != nil {
		return record{}, 0, err
	}
	return rec, ttlCmd.Val(), nil
}

func (s *Store) markRevoked(ctx context.Context, tokenID string, rec record, ttl time.Duration) error {
	var hash [32]byte
	raw, err := hex.DecodeString(rec.secretHashHex)
	if err != nil || len(raw) != len(hash) {
		return errors.New("malformed refresh record")
	}
	copy(hash[:], raw)

	val := encodeRecord(hash, rec.userID, rec.sessionID, rec.expiresAt, true)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.redis.Set(ctx, s.key(tokenID), val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep prunes user index entries whose records have expired out of
// Redis. Returns the number pruned.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	pattern := s.prefix + "u:*"
	var cursor uint64
	pruned := 0

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, userKey := range keys {
			ids, err := s.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, id := range ids {
				exists, err := s.redis.Exists(ctx, s.key(id)).Result()
				if err != nil {
					return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, userKey, id).Err(); err != nil {
						return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return pruned, nil
}

func replyString(reply []interface{}, i int) string {
	if i >= len(reply) {
		return ""
	}
	s, _ := reply[i].(string)
	return s
}
