package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited is returned once an attempt budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter-store failures. Limit checks
	// that cannot be evaluated are treated as exceeded.
	ErrStoreUnavailable = errors.New("rate counter store unavailable")
)

// CounterStore is the fixed-window counter backend. The default is the
// in-memory store; a Redis-backed store can be swapped in where limits
// must be shared across instances.
type CounterStore interface {
	// Increment bumps the counter and, on the first hit of a window,
	// arms its TTL. Returns the post-increment count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current count, zero for unknown keys.
	Get(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining window for a key, zero if unknown.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Reset deletes the given counters.
	Reset(ctx context.Context, keys ...string) error
}

// Config holds rate limiter tuning parameters.
type Config struct {
	MaxLoginAttempts int
	LoginWindow      time.Duration

	EnableIPThrottle bool

	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// Limiter enforces fixed-window attempt budgets for login and refresh.
// Counting is per identifier+origin pair for logins so one hostile
// origin cannot exhaust an account's budget for everyone else.
type Limiter struct {
	store  CounterStore
	config Config
}

func New(store CounterStore, cfg Config) *Limiter {
	return &Limiter{store: store, config: cfg}
}

func loginKey(identifier, ip string) string {
	return "rl:login:" + identifier + ":" + ip
}

func loginIPKey(ip string) string {
	return "rl:ip:" + ip
}

func refreshKey(sessionID string) string {
	return "rl:refresh:" + sessionID
}

// CheckLogin reports whether the identifier+origin pair still has login
// attempts left. It does not consume an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	count, err := l.store.Get(ctx, loginKey(identifier, ip))
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.store.Get(ctx, loginIPKey(ip))
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// RecordLoginFailure consumes one attempt for the identifier+origin
// pair. Returns ErrRateLimited when this failure exhausted the budget.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identifier, ip string) error {
	count, err := l.store.Increment(ctx, loginKey(identifier, ip), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.store.Increment(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the counters for an identifier+origin pair after a
// successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	keys := []string{loginKey(identifier, ip)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return l.store.Reset(ctx, keys...)
}

// RetryAfter returns how long until the identifier+origin pair may try
// again, zero when not currently limited.
func (l *Limiter) RetryAfter(ctx context.Context, identifier, ip string) (time.Duration, error) {
	count, err := l.store.Get(ctx, loginKey(identifier, ip))
	if err != nil {
		return 0, err
	}
	if count < int64(l.config.MaxLoginAttempts) {
		return 0, nil
	}
	return l.store.TTL(ctx, loginKey(identifier, ip))
}

// CheckRefresh consumes one refresh attempt for the session and reports
// whether the session is over its refresh budget.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.store.Increment(ctx, refreshKey(sessionID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns the current counter for an identifier+origin
// pair. Missing counters return zero and reveal nothing about whether
// the account exists.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier, ip string) (int, error) {
	count, err := l.store.Get(ctx, loginKey(identifier, ip))
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}
