package authkit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListSessions returns the caller's active sessions, most recent
// activity first is not guaranteed; callers sort as needed. The session
// matching currentSessionID is flagged Current.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	sessions, err := e.sessions.ListActive(storeCtx, userID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return nil, wrapStoreErr(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			SessionID:      sess.SessionID,
			UserID:         sess.UserID,
			CreatedAt:      time.Unix(sess.CreatedAt, 0),
			ExpiresAt:      time.Unix(sess.ExpiresAt, 0),
			LastActivityAt: time.Unix(sess.LastActivityAt, 0),
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			Current:        sess.SessionID == currentSessionID,
		})
	}
	return infos, nil
}

// TerminateSession ends one of the caller's sessions. Targeting a
// session owned by another user fails with ErrSessionNotOwned; the
// ownership check runs before any state changes.
func (e *Engine) TerminateSession(ctx context.Context, callerUserID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	sess, err := e.sessions.Get(storeCtx, sessionID)
	if err != nil {
		if isSessionMissing(err) {
			return ErrNotFound
		}
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
	if sess.UserID != callerUserID {
		e.emitAudit(ctx, auditEventSessionTerminated, callerUserID, sessionID, false,
			map[string]string{"reason": "not_owner"})
		return ErrSessionNotOwned
	}

	if _, err := e.sessions.Terminate(storeCtx, sess.UserID, sessionID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
	if _, err := e.refreshTokens.RevokeSession(storeCtx, sess.UserID, sessionID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}
	if err := e.csrf.Drop(storeCtx, sessionID); err != nil {
		e.metricInc(MetricStoreFailure)
		return wrapStoreErr(err)
	}

	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventSessionTerminated, callerUserID, sessionID, true, nil)
	return nil
}

// TerminateOtherSessions ends every session of the caller except the
// one making the request, revoking their refresh and CSRF tokens with
// them. Returns how many sessions were ended.
func (e *Engine) TerminateOtherSessions(ctx context.Context, userID, currentSessionID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	doomed, err := e.sessions.ListActive(storeCtx, userID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return 0, wrapStoreErr(err)
	}

	count, err := e.sessions.TerminateAllExcept(storeCtx, userID, currentSessionID)
	if err != nil {
		e.metricInc(MetricStoreFailure)
		return 0, wrapStoreErr(err)
	}

	for _, sess := range doomed {
		if sess.SessionID == currentSessionID {
			continue
		}
		if _, err := e.refreshTokens.RevokeSession(storeCtx, userID, sess.SessionID); err != nil {
			e.metricInc(MetricStoreFailure)
			return count, wrapStoreErr(err)
		}
		if err := e.csrf.Drop(storeCtx, sess.SessionID); err != nil {
			e.metricInc(MetricStoreFailure)
			return count, wrapStoreErr(err)
		}
	}

	if count > 0 {
		e.emitAudit(ctx, auditEventSessionsCleared, userID, currentSessionID, true,
			map[string]string{"terminated": strconv.Itoa(count)})
	}
	return count, nil
}

func isSessionMissing(err error) bool {
	return errors.Is(err, redis.Nil)
}
