package authkit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the engine. Callers match them with
// errors.Is; the httpapi package maps each to a stable HTTP status.
var (
	// ErrInvalidCredentials covers every credential mismatch, including
	// unknown users, so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned for inactive accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned while a PIN lockout is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrPinNotEnabled is returned for PIN login against accounts
	// without a provisioned PIN.
	ErrPinNotEnabled = errors.New("pin login not enabled")

	// ErrRateLimited is returned when the login attempt budget for an
	// identity+origin pair is exhausted.
	ErrRateLimited = errors.New("too many attempts, rate limited")
	// ErrRefreshRateLimited throttles refresh storms per session.
	ErrRefreshRateLimited = errors.New("refresh rate limited")

	// ErrTokenMissing is returned when no access token was presented.
	ErrTokenMissing = errors.New("access token missing")
	// ErrTokenInvalid is returned for malformed or badly signed tokens.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenExpired is returned when the token's exp claim has passed.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenBlacklisted is returned for explicitly revoked tokens and
	// takes precedence over expiry.
	ErrTokenBlacklisted = errors.New("access token revoked")

	// ErrRefreshInvalid is returned for unknown, revoked, or expired
	// refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse signals a rotate attempt on an already-rotated
	// token, a strong theft indicator.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrSessionExpired is returned when the session backing a request
	// is gone. Terminated and never-existing sessions are reported
	// identically.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotOwned is returned when a caller targets a session
	// belonging to another user.
	ErrSessionNotOwned = errors.New("session does not belong to caller")

	// ErrCsrfMissing is returned when a state-changing request carries
	// no CSRF token.
	ErrCsrfMissing = errors.New("csrf token missing")
	// ErrCsrfMismatch is returned when the presented token does not
	// match the stored one.
	ErrCsrfMismatch = errors.New("csrf token mismatch")
	// ErrCsrfExpired is returned when the stored token's TTL elapsed.
	ErrCsrfExpired = errors.New("csrf token expired")

	// ErrInsufficientPermissions is returned by ownership checks.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrNotFound is returned for missing users or sessions on
	// management operations.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps durable-store failures; callers treat it
	// as deny (fail closed), never allow.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when the engine was not built with
	// its required dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInternal is the catch-all for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// RateLimitedError carries how long the caller must wait before the
// attempt budget resets. It unwraps to ErrRateLimited, so existing
// errors.Is matches keep working.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %d minutes", e.RetryAfterMinutes())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterMinutes rounds the remaining window up to whole minutes,
// never below one.
func (e *RateLimitedError) RetryAfterMinutes() int {
	minutes := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
