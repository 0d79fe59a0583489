package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures. Callers must
// treat it as deny, never allow.
var ErrRedisUnavailable = errors.New("redis unavailable")

const terminateSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var terminateSessionLua = redis.NewScript(terminateSessionScript)

// Store persists sessions in Redis with sliding expiry and keeps a
// write-through in-memory cache in front of the durable records.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	cache  *cache
}

// NewStore creates a session Store backed by the given Redis client.
// prefix namespaces the keys; cacheSize caps the in-memory layer.
func NewStore(redisClient redis.UniversalClient, prefix string, cacheSize int) *Store {
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		cache:  newCache(cacheSize),
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save persists a new session and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s.cache.put(sess)
	return nil
}

// Touch validates a session and, on success, slides its expiry to
// now+timeout and stamps last activity. Returns redis.Nil for missing
// and expired sessions alike; callers must not be able to tell a
// terminated session from one that never existed.
//
// Concurrent touches are commutative: each writes now+timeout, so the
// final expiry is the last writer's regardless of interleaving.
func (s *Store) Touch(ctx context.Context, sessionID string, timeout time.Duration) (*Session, error) {
	now := time.Now()

	sess, cached := s.cache.get(sessionID, now)
	if !cached {
		data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, redis.Nil
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		sess, err = Decode(data)
		if err != nil {
			return nil, err
		}
		sess.SessionID = sessionID
	}

	if sess.Expired(now) {
		if err := s.terminateIndexed(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	extended := *sess
	extended.ExpiresAt = now.Add(timeout).Unix()
	extended.LastActivityAt = now.Unix()

	data, err := Encode(&extended)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, timeout).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s.cache.put(&extended)
	return &extended, nil
}

// Get fetches a session without extending it.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	now := time.Now()

	if sess, ok := s.cache.get(sessionID, now); ok {
		return sess, nil
	}

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	if sess.Expired(now) {
		return nil, redis.Nil
	}

	s.cache.put(sess)
	return sess, nil
}

// Terminate removes a session. Terminated is absorbing: the ID is never
// reactivated. Reports whether a live record existed.
func (s *Store) Terminate(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := terminateSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s.cache.remove(sessionID)
	return existed == 1, nil
}

// TerminateAllExcept removes every session of a user other than keepID
// and returns how many were removed.
func (s *Store) TerminateAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	doomed := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if id != keepID {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	keys := make([]string, len(doomed))
	for i, id := range doomed {
		keys[i] = s.key(id)
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.userKey(userID), doomed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, id := range doomed {
		s.cache.remove(id)
	}
	return int(delCmd.Val()), nil
}

// ListActive returns the live sessions for a user. Dead index entries
// encountered along the way are pruned.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	sessions := make([]*Session, 0, len(sessionIDs))
	var dead []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				dead = append(dead, sessionIDs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionIDs[i]
		if sess.Expired(now) {
			dead = append(dead, sessionIDs[i])
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(dead) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), dead...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sessions, nil
}

// SweepExpired prunes dead session IDs from the user index sets and
// drops expired cache entries. Session records themselves self-expire
// via their Redis TTL; the sweep keeps the indexes from growing without
// bound. Returns the number of pruned index entries.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	removed := s.cache.sweep(time.Now())

	pattern := s.prefix + "u:*"
	var cursor uint64
	pruned := 0

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return pruned + removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, userKey := range keys {
			ids, err := s.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return pruned + removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			for _, id := range ids {
				exists, err := s.redis.Exists(ctx, s.key(id)).Result()
				if err != nil {
					return pruned + removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, userKey, id).Err(); err != nil {
						return pruned + removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					s.cache.remove(id)
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return pruned + removed, nil
}

func (s *Store) terminateIndexed(ctx context.Context, userID, sessionID string) error {
	if _, err := s.Terminate(ctx, userID, sessionID); err != nil {
		return err
	}
	return nil
}
