package authkit

import (
	"context"
	"time"
)

// UserRecord is the account view the engine needs from the credential
// store: primary credential hash, optional PIN credential, and the
// persisted PIN lockout fields.
type UserRecord struct {
	UserID       string
	Username     string
	PasswordHash string
	Role         string

	PinHash           string
	PinEnabled        bool
	FailedPinAttempts int
	PinLockedUntil    time.Time

	Active bool
}

// CredentialStore is the repository interface callers implement to plug
// their user database into the engine. The engine never issues raw
// storage queries; every durable user mutation goes through here.
//
// Implementations must provide read-after-write consistency on a single
// record: a lockout update followed by a read of the same user returns
// the updated fields.
type CredentialStore interface {
	FindUserByID(ctx context.Context, userID string) (UserRecord, error)
	FindUserByUsername(ctx context.Context, username string) (UserRecord, error)

	// UpdatePinLockState persists failedPinAttempts and pinLockedUntil.
	// A zero lockedUntil means not locked.
	UpdatePinLockState(ctx context.Context, userID string, failedAttempts int, lockedUntil time.Time) error

	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// AuditStore is the optional durable sink for audit events. When the
// credential store also implements it, the engine's StoreSink appends
// events there and Query/Export become available.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
	QueryAuditEvents(ctx context.Context, criteria AuditQuery, limit, offset int) ([]AuditEvent, error)
}

// LoginResult is returned by Engine.Login and Engine.LoginWithPin.
type LoginResult struct {
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	CsrfToken    string

	// ExpiresIn is the access token lifetime in seconds, suitable for
	// the login response body and the access cookie's MaxAge.
	ExpiresIn int
}

// RefreshResult is returned by Engine.Refresh. The old refresh token is
// permanently revoked once this is produced.
type RefreshResult struct {
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// AuthResult is returned by Engine.Verify for a valid access token.
type AuthResult struct {
	UserID    string
	Role      string
	SessionID string
}

// SessionInfo is the caller-facing view of an active session, used by
// the session management endpoints.
type SessionInfo struct {
	SessionID      string
	UserID         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	IPAddress      string
	UserAgent      string
	Current        bool
}

// PinLockStatus reports the lockout state for a user.
type PinLockStatus struct {
	Locked    bool
	Remaining time.Duration
	Attempts  int
}

// ReuseHandler is invoked when a rotate attempt hits an already-rotated
// refresh token. The default engine behavior is to reject and audit the
// attempt; deployments that want to revoke the whole session family on
// theft signals can do so here.
type ReuseHandler func(ctx context.Context, userID, tokenID string)
