package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/retailpoint/authkit/internal/rate"
	"github.com/retailpoint/authkit/jwt"
	"github.com/retailpoint/authkit/password"
	"github.com/retailpoint/authkit/refresh"
	"github.com/retailpoint/authkit/session"
)

// Engine orchestrates the authentication flows: credential and PIN
// login, token refresh, request verification, and session management.
// Build one with the Builder; it is safe for concurrent use.
type Engine struct {
	config Config

	users      CredentialStore
	auditStore AuditStore

	sessions      *session.Store
	refreshTokens *refresh.Store
	limiter       *rate.Limiter
	limiterMemory *rate.MemoryStore
	lockout       *pinLockout
	blacklist     *tokenBlacklist
	csrf          *csrfGuard
	audit         *auditDispatcher
	metrics       *Metrics
	hasher        *password.Hasher
	jwtManager    *jwt.Manager
	reuseHandler  ReuseHandler

	janitor *janitor
}

// storeContext bounds a durable-store call. Timed-out checks fail
// closed through ErrStoreUnavailable.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Security.StoreTimeout)
}

// wrapStoreErr folds the per-package store sentinels into the engine's
// ErrStoreUnavailable so callers match one error.
func wrapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, refresh.ErrRedisUnavailable),
		errors.Is(err, rate.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates a username+password pair and establishes a new
// session with its access token, refresh token, and CSRF token.
//
// Unknown usernames and wrong passwords are reported identically as
// ErrInvalidCredentials, and both consume an attempt from the
// identity+origin rate budget.
func (e *Engine) Login(ctx context.Context, username, plainPassword string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if err := e.checkLoginBudget(ctx, username, ip); err != nil {
		return nil, err
	}

	storeCtx, cancel := e.storeContext(ctx)
	user, err := e.users.FindUserByUsername(storeCtx, username)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failLogin(ctx, username, ip, "", auditEventLoginFailure)
		}
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	if !user.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, user.UserID, "", false,
			map[string]string{"reason": "account_disabled"})
		return nil, ErrAccountDisabled
	}

	ok, err := e.hasher.Verify(plainPassword, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, username, ip, user.UserID, auditEventLoginFailure)
	}

	if err := e.limiter.ResetLogin(ctx, username, ip); err != nil {
		// Best effort; a stale counter only shortens the budget.
		e.metricInc(MetricStoreFailure)
	}

	result, err := e.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, user.UserID, result.SessionID, true, nil)
	return result, nil
}

// LoginWithPin authenticates a username+PIN pair. PIN failures feed the
// persisted lockout counter on top of the shared login rate budget; a
// locked account refuses the attempt before the PIN is even checked.
func (e *Engine) LoginWithPin(ctx context.Context, username, pin string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if err := e.checkLoginBudget(ctx, username, ip); err != nil {
		return nil, err
	}

	storeCtx, cancel := e.storeContext(ctx)
	user, err := e.users.FindUserByUsername(storeCtx, username)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failLogin(ctx, username, ip, "", auditEventPinLoginFailure)
		}
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	if !user.Active {
		e.metricInc(MetricPinLoginFailure)
		e.emitAudit(ctx, auditEventPinLoginFailure, user.UserID, "", false,
			map[string]string{"reason": "account_disabled"})
		return nil, ErrAccountDisabled
	}
	if !user.PinEnabled || user.PinHash == "" {
		e.metricInc(MetricPinLoginFailure)
		e.emitAudit(ctx, auditEventPinLoginFailure, user.UserID, "", false,
			map[string]string{"reason": "pin_not_enabled"})
		return nil, ErrPinNotEnabled
	}

	if status := e.lockout.Status(user, time.Now()); status.Locked {
		e.metricInc(MetricPinLoginFailure)
		e.emitAudit(ctx, auditEventPinLoginFailure, user.UserID, "", false,
			map[string]string{"reason": "locked"})
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(pin, user.PinHash)
	if err != nil || !ok {
		storeCtx, cancel := e.storeContext(ctx)
		tripped, lockErr := e.lockout.RecordFailure(storeCtx, user.UserID)
		cancel()
		if lockErr != nil {
			e.metricInc(MetricStoreFailure)
			return nil, lockErr
		}

		e.metricInc(MetricPinLoginFailure)
		if tripped {
			// The lockout supersedes the rate budget; this attempt does
			// not also consume a budget slot, so the caller keeps seeing
			// locked rather than rate limited.
			e.metricInc(MetricPinLockout)
			e.emitAudit(ctx, auditEventPinLockout, user.UserID, "", false,
				map[string]string{"lockout": e.config.Pin.LockoutDuration.String()})
			return nil, ErrAccountLocked
		}

		if limitErr := e.limiter.RecordLoginFailure(ctx, username, ip); limitErr != nil &&
			!errors.Is(limitErr, rate.ErrRateLimited) {
			return nil, wrapStoreErr(limitErr)
		}
		e.emitAudit(ctx, auditEventPinLoginFailure, user.UserID, "", false, nil)
		return nil, ErrInvalidCredentials
	}

	storeCtx, cancel = e.storeContext(ctx)
	err = e.lockout.Reset(storeCtx, user.UserID)
	cancel()
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, err
	}
	if err := e.limiter.ResetLogin(ctx, username, ip); err != nil {
		e.metricInc(MetricStoreFailure)
	}

	result, err := e.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPinLoginSuccess)
	e.emitAudit(ctx, auditEventPinLoginSuccess, user.UserID, result.SessionID, true, nil)
	return result, nil
}

func (e *Engine) checkLoginBudget(ctx context.Context, username, ip string) error {
	err := e.limiter.CheckLogin(ctx, username, ip)
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, "", "", false,
			map[string]string{"identifier": username})
		retryAfter, retryErr := e.limiter.RetryAfter(ctx, username, ip)
		if retryErr != nil || retryAfter <= 0 {
			return ErrRateLimited
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	e.metricInc(MetricStoreFailure)
	return wrapStoreErr(err)
}

// failLogin records a failed attempt and returns ErrInvalidCredentials,
// keeping unknown-user and wrong-password paths indistinguishable.
func (e *Engine) failLogin(ctx context.Context, username, ip, userID, eventType string) error {
	if err := e.limiter.RecordLoginFailure(ctx, username, ip); err != nil &&
		!errors.Is(err, rate.ErrRateLimited) {
		return wrapStoreErr(err)
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, eventType, userID, "", false, nil)
	return ErrInvalidCredentials
}

// establishSession mints the session, refresh token, access token, and
// CSRF token for an authenticated user.
func (e *Engine) establishSession(ctx context.Context, user UserRecord) (*LoginResult, error) {
	now := time.Now()
	sess := &session.Session{
		SessionID:      uuid.NewString(),
		UserID:         user.UserID,
		Role:           user.Role,
		IPAddress:      clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.Timeout).Unix(),
		LastActivityAt: now.Unix(),
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	if err := e.sessions.Save(storeCtx, sess); err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	refreshToken, _, err := e.refreshTokens.Create(storeCtx, user.UserID, sess.SessionID, e.config.Refresh.TTL)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	accessToken, _, err := e.jwtManager.CreateAccess(user.UserID, user.Role, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	csrfToken, err := e.csrf.Issue(storeCtx, sess.SessionID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	e.metricInc(MetricSessionCreated)
	return &LoginResult{
		UserID:       user.UserID,
		SessionID:    sess.SessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CsrfToken:    csrfToken,
		ExpiresIn:    int(e.config.Token.AccessTTL.Seconds()),
	}, nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates a refresh token: the presented token is permanently
// consumed and a new refresh+access pair is minted under the same
// session. Presenting an already-rotated token is reported as reuse and
// never yields credentials.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil || e.refreshTokens == nil {
		return nil, ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	userID, sessionID, err := e.refreshTokens.Peek(storeCtx, refreshToken)
	if err != nil {
		return nil, e.refreshFailure(ctx, userID, sessionID, err)
	}

	if err := e.limiter.CheckRefresh(ctx, sessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshLimited, userID, sessionID, false, nil)
			return nil, ErrRefreshRateLimited
		}
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	rotated, err := e.refreshTokens.Rotate(storeCtx, refreshToken, e.config.Refresh.TTL)
	if err != nil {
		if rotated != nil {
			userID, sessionID = rotated.UserID, rotated.SessionID
		}
		return nil, e.refreshFailure(ctx, userID, sessionID, err)
	}

	sess, err := e.sessions.Touch(storeCtx, rotated.SessionID, e.config.Session.Timeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Session died between issue and refresh. The just-minted
			// token must not outlive it.
			_, _ = e.refreshTokens.RevokeSession(storeCtx, rotated.UserID, rotated.SessionID)
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, rotated.UserID, rotated.SessionID, false,
				map[string]string{"reason": "session_expired"})
			return nil, ErrSessionExpired
		}
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	accessToken, _, err := e.jwtManager.CreateAccess(sess.UserID, sess.Role, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.metricInc(MetricSessionExtended)
	e.emitAudit(ctx, auditEventRefreshSuccess, sess.UserID, sess.SessionID, true, nil)

	return &RefreshResult{
		UserID:       sess.UserID,
		SessionID:    sess.SessionID,
		AccessToken:  accessToken,
		RefreshToken: rotated.Token,
		ExpiresIn:    int(e.config.Token.AccessTTL.Seconds()),
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, userID, sessionID string, err error) error {
	switch {
	case errors.Is(err, refresh.ErrReused):
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, userID, sessionID, false, nil)
		if e.reuseHandler != nil {
			e.reuseHandler(ctx, userID, sessionID)
		}
		return ErrRefreshReuse
	case errors.Is(err, refresh.ErrNotFound):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, userID, sessionID, false, nil)
		return ErrRefreshInvalid
	default:
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
}

/*
====================================
VERIFY
====================================
*/

// Verify authenticates a request-bearing access token. Order matters:
// the blacklist is consulted before signature and expiry, so a revoked
// token keeps reading as revoked even after it expires. A valid token
// also requires a live session, whose sliding window this call extends.
func (e *Engine) Verify(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenMissing
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	revoked, err := e.blacklist.Contains(storeCtx, accessToken)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}
	if revoked {
		e.metricInc(MetricVerifyFailure)
		e.metricInc(MetricTokenBlacklisted)
		return nil, ErrTokenBlacklisted
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if _, err := e.sessions.Touch(storeCtx, claims.SID, e.config.Session.Timeout); err != nil {
		if errors.Is(err, redis.Nil) {
			e.metricInc(MetricVerifyFailure)
			return nil, ErrSessionExpired
		}
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	e.metricInc(MetricVerifySuccess)
	e.metricInc(MetricSessionExtended)
	return &AuthResult{
		UserID:    claims.UID,
		Role:      claims.Role,
		SessionID: claims.SID,
	}, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout tears down the caller's session: the access token joins the
// blacklist for its remaining lifetime, the session is terminated, and
// its refresh tokens and CSRF token are revoked. The teardown runs for
// any well-signed token, expired included, so a session whose access
// token lapsed is still fully revoked. Idempotent; logging out an
// already-dead session succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccessClaims(accessToken)
	if err != nil {
		// Nothing verifiable to tear down; treat as already logged out.
		return nil
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := e.blacklist.Add(storeCtx, accessToken, expiresAt); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	existed, err := e.sessions.Terminate(storeCtx, claims.UID, claims.SID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	if _, err := e.refreshTokens.RevokeSession(storeCtx, claims.UID, claims.SID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
	if err := e.csrf.Drop(storeCtx, claims.SID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	if existed {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionTerminated)
		e.emitAudit(ctx, auditEventLogout, claims.UID, claims.SID, true, nil)
	}
	return nil
}

/*
====================================
PASSWORD
====================================
*/

// ChangePassword swaps the primary credential after verifying the old
// one. Every other session of the user is terminated and all refresh
// tokens are revoked; only the session making the change survives.
func (e *Engine) ChangePassword(ctx context.Context, userID, sessionID, oldPassword, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	user, err := e.users.FindUserByID(storeCtx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeBad, userID, sessionID, false, nil)
		return ErrInvalidCredentials
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeBad, userID, sessionID, false,
			map[string]string{"reason": "policy"})
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if err := e.users.UpdatePasswordHash(storeCtx, userID, newHash); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	if _, err := e.refreshTokens.RevokeAll(storeCtx, userID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
	if _, err := e.sessions.TerminateAllExcept(storeCtx, userID, sessionID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, userID, sessionID, true, nil)
	return nil
}

/*
====================================
CSRF
====================================
*/

// IssueCsrf mints the session's CSRF token, replacing the current one.
func (e *Engine) IssueCsrf(ctx context.Context, sessionID string) (string, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	token, err := e.csrf.Issue(storeCtx, sessionID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return "", wrapStoreErr(err)
	}
	return token, nil
}

// ValidateCsrf checks a state-changing request's CSRF token and rotates
// it on success. The returned replacement goes back in the cookie.
func (e *Engine) ValidateCsrf(ctx context.Context, sessionID, presented string) (string, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	next, err := e.csrf.Validate(storeCtx, sessionID, presented)
	if err != nil {
		switch {
		case errors.Is(err, ErrCsrfMissing), errors.Is(err, ErrCsrfMismatch), errors.Is(err, ErrCsrfExpired):
			e.metricInc(MetricCsrfRejected)
			e.emitAudit(ctx, auditEventCsrfRejected, "", sessionID, false, nil)
			return "", err
		default:
			e.metricInc(MetricStoreFailure)
			return "", wrapStoreErr(err)
		}
	}
	return next, nil
}

/*
====================================
ACCOUNT STATE
====================================
*/

// PinLockStatus reports the persisted PIN lockout state for a user.
func (e *Engine) PinLockStatus(ctx context.Context, userID string) (PinLockStatus, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	user, err := e.users.FindUserByID(storeCtx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PinLockStatus{}, ErrNotFound
		}
		return PinLockStatus{}, wrapStoreErr(err)
	}
	return e.lockout.Status(user, time.Now()), nil
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Close stops the background sweepers and flushes the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.janitor != nil {
		e.janitor.stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}
