package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit categories.
const (
	auditCategoryAuth    = "auth"
	auditCategorySession = "session"
	auditCategoryToken   = "token"
	auditCategoryAccount = "account"
)

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventLoginRateLimited  = "login_rate_limited"
	auditEventPinLoginSuccess   = "pin_login_success"
	auditEventPinLoginFailure   = "pin_login_failure"
	auditEventPinLockout        = "pin_lockout"
	auditEventRefreshSuccess    = "refresh_success"
	auditEventRefreshInvalid    = "refresh_invalid"
	auditEventRefreshReuse      = "refresh_reuse_detected"
	auditEventRefreshLimited    = "refresh_rate_limited"
	auditEventTokenBlacklisted  = "token_blacklisted"
	auditEventCsrfRejected      = "csrf_rejected"
	auditEventSessionTerminated = "session_terminated"
	auditEventSessionsCleared   = "sessions_terminated_bulk"
	auditEventLogout            = "logout"
	auditEventPasswordChanged   = "password_changed"
	auditEventPasswordChangeBad = "password_change_failure"
)

// severityFor classifies an event type. Plain failures are warnings;
// active-attack indicators and lockouts are errors; everything else is
// informational.
func severityFor(eventType string) string {
	switch eventType {
	case auditEventPinLockout, auditEventRefreshReuse:
		return SeverityError
	case auditEventLoginFailure, auditEventLoginRateLimited,
		auditEventPinLoginFailure, auditEventRefreshInvalid,
		auditEventRefreshLimited, auditEventCsrfRejected,
		auditEventTokenBlacklisted, auditEventPasswordChangeBad:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func categoryFor(eventType string) string {
	switch eventType {
	case auditEventRefreshSuccess, auditEventRefreshInvalid,
		auditEventRefreshReuse, auditEventRefreshLimited,
		auditEventTokenBlacklisted, auditEventCsrfRejected:
		return auditCategoryToken
	case auditEventSessionTerminated, auditEventSessionsCleared,
		auditEventLogout:
		return auditCategorySession
	case auditEventPasswordChanged, auditEventPasswordChangeBad,
		auditEventPinLockout:
		return auditCategoryAccount
	default:
		return auditCategoryAuth
	}
}

// emitAudit builds and queues an event. Severity and category come from
// the event type; callers only say what happened.
func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, details map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	status := StatusSuccess
	if !success {
		status = StatusFailure
	}

	e.audit.Emit(ctx, AuditEvent{
		ID:        uuid.NewString(),
		Category:  categoryFor(eventType),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Status:    status,
		Severity:  severityFor(eventType),
		Details:   details,
	})
}

// QueryAudit reads stored events. Available only when the engine was
// built with a durable audit store.
func (e *Engine) QueryAudit(ctx context.Context, criteria AuditQuery, limit, offset int) ([]AuditEvent, error) {
	if e.auditStore == nil {
		return nil, fmt.Errorf("%w: no audit store configured", ErrEngineNotReady)
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	events, err := e.auditStore.QueryAuditEvents(ctx, criteria, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return events, nil
}

// ExportAudit streams matching events as JSON lines to the sink writer.
func (e *Engine) ExportAudit(ctx context.Context, criteria AuditQuery, sink *JSONWriterSink) (int, error) {
	if sink == nil {
		return 0, errors.New("nil export sink")
	}

	const pageSize = 256
	exported := 0
	for offset := 0; ; offset += pageSize {
		events, err := e.QueryAudit(ctx, criteria, pageSize, offset)
		if err != nil {
			return exported, err
		}
		if len(events) == 0 {
			return exported, nil
		}
		if err := sink.Write(ctx, events); err != nil {
			return exported, err
		}
		exported += len(events)
		if len(events) < pageSize {
			return exported, nil
		}
	}
}

// AuditDropped reports how many events were lost to backpressure or
// exhausted retries since startup.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}
