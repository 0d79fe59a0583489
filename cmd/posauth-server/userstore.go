package main

import (
	"context"
	"sync"
	"time"

	authkit "github.com/retailpoint/authkit"
)

// memoryUserStore backs the server with the users seeded from config.
// It doubles as the durable audit store so Query/Export work out of the
// box. Production deployments replace this with their user database.
type memoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*authkit.UserRecord
	byName  map[string]string
	audited []authkit.AuditEvent
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{
		byID:   make(map[string]*authkit.UserRecord),
		byName: make(map[string]string),
	}
}

func (s *memoryUserStore) Put(user authkit.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := user
	s.byID[user.UserID] = &copied
	s.byName[user.Username] = user.UserID
}

func (s *memoryUserStore) FindUserByID(_ context.Context, userID string) (authkit.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[userID]
	if !ok {
		return authkit.UserRecord{}, authkit.ErrNotFound
	}
	return *user, nil
}

func (s *memoryUserStore) FindUserByUsername(_ context.Context, username string) (authkit.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return authkit.UserRecord{}, authkit.ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *memoryUserStore) UpdatePinLockState(_ context.Context, userID string, failedAttempts int, lockedUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return authkit.ErrNotFound
	}
	user.FailedPinAttempts = failedAttempts
	user.PinLockedUntil = lockedUntil
	return nil
}

func (s *memoryUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return authkit.ErrNotFound
	}
	user.PasswordHash = newHash
	return nil
}

func (s *memoryUserStore) AppendAuditEvent(_ context.Context, event authkit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audited = append(s.audited, event)
	return nil
}

func (s *memoryUserStore) QueryAuditEvents(_ context.Context, criteria authkit.AuditQuery, limit, offset int) ([]authkit.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]authkit.AuditEvent, 0, limit)
	skipped := 0
	for _, event := range s.audited {
		if !matches(criteria, event) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		matched = append(matched, event)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func matches(q authkit.AuditQuery, e authkit.AuditEvent) bool {
	if q.UserID != "" && q.UserID != e.UserID {
		return false
	}
	if q.SessionID != "" && q.SessionID != e.SessionID {
		return false
	}
	if q.Category != "" && q.Category != e.Category {
		return false
	}
	if q.Type != "" && q.Type != e.Type {
		return false
	}
	if q.Severity != "" && q.Severity != e.Severity {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}
