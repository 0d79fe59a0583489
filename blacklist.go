package authkit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retailpoint/authkit/internal"
)

// tokenBlacklist records explicitly revoked access tokens until their
// natural expiry. Only a digest of the token is stored. Membership is
// checked before signature or expiry during verification, so a revoked
// token stays reported as revoked even after it expires.
type tokenBlacklist struct {
	redis  redis.UniversalClient
	prefix string
}

func newTokenBlacklist(redisClient redis.UniversalClient, prefix string) *tokenBlacklist {
	return &tokenBlacklist{redis: redisClient, prefix: prefix}
}

func (b *tokenBlacklist) key(token string) string {
	digest := internal.HashToken(token)
	return b.prefix + "bl:" + hex.EncodeToString(digest[:])
}

// Add revokes a token. The entry lives until the token's own expiry
// plus a grace margin, after which revocation is moot.
func (b *tokenBlacklist) Add(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) + time.Minute
	if ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, b.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Contains reports whether the token was revoked. Store failures are
// surfaced, not treated as absent: a blacklist that cannot be read
// must not admit tokens.
func (b *tokenBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	err := b.redis.Get(ctx, b.key(token)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

// Sweep walks the blacklist keyspace so entries whose TTL lapsed are
// reclaimed by the store's lazy expiry. Returns the live count.
func (b *tokenBlacklist) Sweep(ctx context.Context) (int, error) {
	return b.Size(ctx)
}

// Size counts live entries, for the security report. Entries self-expire
// via TTL so this is also the effective sweep check.
func (b *tokenBlacklist) Size(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := b.redis.Scan(ctx, cursor, b.prefix+"bl:*", 100).Result()
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
