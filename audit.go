package authkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit severities, derived from the event type rather than chosen by
// the caller so classification is uniform across the codebase.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Status    string            `json:"status"`
	Severity  string            `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditQuery filters stored events. Zero fields match everything.
type AuditQuery struct {
	UserID    string
	SessionID string
	Category  string
	Type      string
	Severity  string
	Since     time.Time
	Until     time.Time
}

// AuditSink receives event batches from the dispatcher. A failed write
// fails the whole batch; the dispatcher retries it as a unit.
type AuditSink interface {
	Write(ctx context.Context, events []AuditEvent) error
}

// NoOpSink discards everything.
type NoOpSink struct{}

func (NoOpSink) Write(context.Context, []AuditEvent) error { return nil }

// ChannelSink fans events out to a channel, useful for tests and for
// wiring a custom consumer.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Write(ctx context.Context, events []AuditEvent) error {
	for _, event := range events {
		select {
		case s.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink appends events as JSON lines to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Write(ctx context.Context, events []AuditEvent) error {
	if s == nil || s.writer == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := s.writer.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// StoreSink appends events to a durable AuditStore, enabling Query and
// Export on the engine.
type StoreSink struct {
	store AuditStore
}

func NewStoreSink(store AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, events []AuditEvent) error {
	for _, event := range events {
		if err := s.store.AppendAuditEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// MultiSink writes each batch to every sink. The first error wins, so a
// failing sink causes the batch to be retried against all of them;
// sinks must tolerate duplicate delivery.
type MultiSink struct {
	sinks []AuditSink
}

func NewMultiSink(sinks ...AuditSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, events []AuditEvent) error {
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, events); err != nil {
			return err
		}
	}
	return nil
}
