package authkit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// collectSink records every batch it receives and can be told to fail
// the first N writes.
type collectSink struct {
	mu       sync.Mutex
	batches  [][]AuditEvent
	failures int
}

func (s *collectSink) Write(_ context.Context, events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("sink down")
	}
	batch := make([]AuditEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *collectSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, batch := range s.batches {
		n += len(batch)
	}
	return n
}

func testEvent(id string) AuditEvent {
	return AuditEvent{
		ID:        id,
		Category:  auditCategoryAuth,
		Type:      auditEventLoginSuccess,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
		Status:    StatusSuccess,
		Severity:  SeverityInfo,
	}
}

func TestDispatcherBatchesAtSize(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    16,
		BatchSize:     3,
		FlushInterval: time.Hour,
	}, sink)
	defer d.Close()

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), testEvent("e"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("batch never flushed, delivered %d", sink.total())
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("batches: %v", sink.batches)
	}
}

func TestDispatcherFlushesOnInterval(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    16,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, sink)
	defer d.Close()

	d.Emit(context.Background(), testEvent("e"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    16,
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), testEvent("e"))
	}
	d.Close()

	if sink.total() != 5 {
		t.Fatalf("delivered %d, want 5", sink.total())
	}
	if d.Flushed() != 5 {
		t.Fatalf("flushed counter %d, want 5", d.Flushed())
	}
}

func TestDispatcherRetriesThenDelivers(t *testing.T) {
	sink := &collectSink{failures: 2}
	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    16,
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxRetries:    3,
	}, sink)

	d.Emit(context.Background(), testEvent("e"))
	d.Close()

	if sink.total() != 1 {
		t.Fatalf("delivered %d, want 1", sink.total())
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped %d, want 0", d.Dropped())
	}
}

func TestDispatcherDropsAfterExhaustedRetries(t *testing.T) {
	sink := &collectSink{failures: 100}
	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    16,
		BatchSize:     1,
		FlushInterval: time.Hour,
		MaxRetries:    1,
	}, sink)

	d.Emit(context.Background(), testEvent("e"))
	d.Close()

	if sink.total() != 0 {
		t.Fatalf("delivered %d, want 0", sink.total())
	}
	if d.Dropped() != 1 {
		t.Fatalf("dropped %d, want 1", d.Dropped())
	}
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	// A sink that blocks forever keeps the worker busy so the channel
	// backs up.
	blocked := make(chan struct{})
	sink := blockingSink{blocked: blocked}

	d := newAuditDispatcher(AuditConfig{
		Enabled:       true,
		BufferSize:    1,
		BatchSize:     1,
		FlushInterval: time.Hour,
		DropIfFull:    true,
	}, sink)
	t.Cleanup(func() {
		close(blocked)
		d.Close()
	})

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), testEvent("e"))
	}

	if d.Dropped() == 0 {
		t.Fatal("expected drops on a full buffer")
	}
}

type blockingSink struct {
	blocked chan struct{}
}

func (s blockingSink) Write(ctx context.Context, _ []AuditEvent) error {
	select {
	case <-s.blocked:
	case <-ctx.Done():
	}
	return nil
}

func TestSeverityClassification(t *testing.T) {
	cases := map[string]string{
		auditEventLoginSuccess:      SeverityInfo,
		auditEventRefreshSuccess:    SeverityInfo,
		auditEventLogout:            SeverityInfo,
		auditEventLoginFailure:      SeverityWarning,
		auditEventLoginRateLimited:  SeverityWarning,
		auditEventCsrfRejected:      SeverityWarning,
		auditEventPasswordChangeBad: SeverityWarning,
		auditEventPinLockout:        SeverityError,
		auditEventRefreshReuse:      SeverityError,
	}
	for eventType, want := range cases {
		if got := severityFor(eventType); got != want {
			t.Errorf("%s: got %s, want %s", eventType, got, want)
		}
	}
}

func TestCategoryClassification(t *testing.T) {
	cases := map[string]string{
		auditEventLoginSuccess:      auditCategoryAuth,
		auditEventPinLoginFailure:   auditCategoryAuth,
		auditEventRefreshReuse:      auditCategoryToken,
		auditEventCsrfRejected:      auditCategoryToken,
		auditEventLogout:            auditCategorySession,
		auditEventSessionTerminated: auditCategorySession,
		auditEventPasswordChanged:   auditCategoryAccount,
		auditEventPinLockout:        auditCategoryAccount,
	}
	for eventType, want := range cases {
		if got := categoryFor(eventType); got != want {
			t.Errorf("%s: got %s, want %s", eventType, got, want)
		}
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	events := []AuditEvent{testEvent("a"), testEvent("b")}
	if err := sink.Write(context.Background(), events); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, `"type":"login_success"`) {
			t.Fatalf("unexpected line: %s", line)
		}
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &collectSink{}
	b := &collectSink{}
	sink := NewMultiSink(a, b)

	if err := sink.Write(context.Background(), []AuditEvent{testEvent("e")}); err != nil {
		t.Fatal(err)
	}
	if a.total() != 1 || b.total() != 1 {
		t.Fatalf("delivery a=%d b=%d", a.total(), b.total())
	}
}
