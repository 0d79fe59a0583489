package authkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher decouples request paths from audit persistence. Events
// land on a bounded channel; a background goroutine collects them into
// batches and writes each batch when it reaches BatchSize or when the
// flush interval fires. A batch whose write fails is retried as a unit
// up to MaxRetries and only then dropped (counted, never silently).
type auditDispatcher struct {
	cfg  AuditConfig
	sink AuditSink

	ch   chan AuditEvent
	done chan struct{}
	wg   sync.WaitGroup

	dropped   atomic.Uint64
	flushed   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan AuditEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]AuditEvent, 0, d.cfg.BatchSize)

	for {
		select {
		case event := <-d.ch:
			batch = append(batch, event)
			if len(batch) >= d.cfg.BatchSize {
				batch = d.flush(batch)
			}
		case <-ticker.C:
			batch = d.flush(batch)
		case <-d.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case event := <-d.ch:
					batch = append(batch, event)
				default:
					d.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes the batch with retries. On success returns an empty
// slice reusing the backing array; on exhausted retries the batch is
// dropped and counted.
func (d *auditDispatcher) flush(batch []AuditEvent) []AuditEvent {
	if len(batch) == 0 {
		return batch
	}

	attempts := d.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := d.sink.Write(context.Background(), batch); err == nil {
			d.flushed.Add(uint64(len(batch)))
			return batch[:0]
		}
		if attempt < attempts-1 {
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
	}

	d.dropped.Add(uint64(len(batch)))
	return batch[:0]
}

// Emit queues an event. Never blocks the caller when DropIfFull is set;
// a full buffer increments the drop counter instead.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close flushes buffered events and stops the worker. Idempotent.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports events lost to a full buffer or exhausted retries.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Flushed reports events successfully handed to the sink.
func (d *auditDispatcher) Flushed() uint64 {
	if d == nil {
		return 0
	}
	return d.flushed.Load()
}
