package authkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/retailpoint/authkit/internal"
)

// csrfGuard implements the double-submit check for state-changing
// requests. One token is current per session; each token embeds an HMAC
// binding it to its session, so a token lifted from one session fails
// against any other. Tokens rotate on every successful validation.
type csrfGuard struct {
	redis   redis.UniversalClient
	prefix  string
	hmacKey []byte
	cfg     CsrfConfig
}

func newCsrfGuard(redisClient redis.UniversalClient, prefix string, cfg CsrfConfig) *csrfGuard {
	return &csrfGuard{
		redis:   redisClient,
		prefix:  prefix,
		hmacKey: cfg.HmacKey,
		cfg:     cfg,
	}
}

func (g *csrfGuard) key(sessionID string) string {
	return g.prefix + "csrf:" + sessionID
}

// Issue mints and stores a fresh token for the session, replacing any
// previous one.
func (g *csrfGuard) Issue(ctx context.Context, sessionID string) (string, error) {
	token, err := internal.NewCSRFToken(g.hmacKey, sessionID)
	if err != nil {
		return "", err
	}
	if err := g.redis.Set(ctx, g.key(sessionID), token, g.cfg.TokenTTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Validate checks the presented token against the session's current one
// and, on success, rotates it. The replacement token is returned for the
// response cookie; the old token is dead either way.
func (g *csrfGuard) Validate(ctx context.Context, sessionID, presented string) (string, error) {
	if presented == "" {
		return "", ErrCsrfMissing
	}

	stored, err := g.redis.Get(ctx, g.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCsrfExpired
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return "", ErrCsrfMismatch
	}
	if !internal.VerifyCSRFBinding(g.hmacKey, sessionID, presented) {
		return "", ErrCsrfMismatch
	}

	return g.Issue(ctx, sessionID)
}

// Drop removes the session's token, called on logout and termination.
func (g *csrfGuard) Drop(ctx context.Context, sessionID string) error {
	if err := g.redis.Del(ctx, g.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep walks the token keyspace so records whose TTL lapsed are
// reclaimed by the store's lazy expiry. Returns the live count.
func (g *csrfGuard) Sweep(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := g.redis.Scan(ctx, cursor, g.prefix+"csrf:*", 100).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}
