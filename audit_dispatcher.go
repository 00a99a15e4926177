package goOTP

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// redactedAuditKeys never leave the engine, whatever a flow attaches.
var redactedAuditKeys = map[string]struct{}{
	"code":        {},
	"otp":         {},
	"secret":      {},
	"secret_hash": {},
	"password":    {},
}

// auditDispatcher hands events to the sink on one background goroutine so a
// slow sink never holds a challenge lock.
type auditDispatcher struct {
	sink       AuditSink
	logger     *slog.Logger
	dropIfFull bool

	queue   chan AuditEvent
	stop    chan struct{}
	worker  sync.WaitGroup
	stopped sync.Once
	closed  atomic.Bool

	dropped  atomic.Uint64
	panicked atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &auditDispatcher{
		sink:       sink,
		logger:     logger,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
	}

	d.worker.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.worker.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver isolates the worker from a panicking sink.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.logger.Error("goOTP: audit sink panicked",
				slog.String("event_type", event.EventType),
				slog.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event after stripping secret-bearing metadata. With
// DropIfFull a full buffer drops the event and bumps the dropped counter;
// otherwise Emit waits for room, for ctx to end, or for Close.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event.Metadata = scrubAuditMetadata(event.Metadata)

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close drains queued events and stops the worker. Later Emits are ignored.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopped.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func scrubAuditMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, secret := redactedAuditKeys[strings.ToLower(k)]; secret {
			continue
		}
		out[k] = v
	}
	return out
}
