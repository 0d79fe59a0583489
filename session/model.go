package session

import "time"

// Session is a logical login record, tracked independently of tokens.
// A session can outlive several refresh-token rotations; it is the
// parent-of-record for "is this browser still logged in".
type Session struct {
	SessionID string
	UserID    string
	Role      string

	IPAddress string
	UserAgent string

	CreatedAt      int64
	ExpiresAt      int64
	LastActivityAt int64
}

// Expired reports whether the session's sliding window has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}
