package goOTP

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func newAuditTestEngine(t *testing.T, enabled bool, buffer int, sink AuditSink) *testEngine {
	t.Helper()
	return newTestEngine(t, func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = enabled
		cfg.Audit.BufferSize = buffer
		cfg.Audit.DropIfFull = true
		b.WithAuditSink(sink)
	})
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for audit event")
	}
	return AuditEvent{}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	te := newAuditTestEngine(t, false, 16, sink)

	_ = te.RequestPasswordReset(context.Background(), "ana@example.com")
	_, _ = te.Verify(context.Background(), "ana@example.com", PurposePasswordReset, "000000")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEventFieldsNeverCarryCode(t *testing.T) {
	sink := NewChannelSink(8)
	te := newAuditTestEngine(t, true, 16, sink)

	ctx := WithRequestID(WithClientIP(context.Background(), "203.0.113.9"), "req-1")
	if err := te.RequestPasswordReset(ctx, "Ana@Example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	code := te.notifier.lastCode(t, "ana@example.com")

	ev := nextEvent(t, sink)
	if ev.EventType != auditEventChallengeIssue || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Subject != "ana@example.com" || ev.Purpose != "password-reset" {
		t.Fatalf("unexpected scope: %+v", ev)
	}
	if ev.IP != "203.0.113.9" || ev.RequestID != "req-1" {
		t.Fatalf("context values not propagated: %+v", ev)
	}

	_, err := te.Verify(ctx, "ana@example.com", PurposePasswordReset, wrongCode(code))
	if err == nil {
		t.Fatalf("expected mismatch")
	}
	ev = nextEvent(t, sink)
	if ev.EventType != auditEventChallengeVerify || ev.Success || ev.Error != string(auditErrCodeMismatch) {
		t.Fatalf("unexpected verify event: %+v", ev)
	}

	raw, _ := json.Marshal(ev)
	if bytes.Contains(raw, []byte(code)) {
		t.Fatalf("audit event leaked the code: %s", raw)
	}
}

func TestAuditDropIfFullCountsDrops(t *testing.T) {
	sink := newGateSink()
	te := newAuditTestEngine(t, true, 1, sink)
	defer close(sink.gate)

	for i := 0; i < 8; i++ {
		_, _ = te.Verify(context.Background(), "ana@example.com", PurposePasswordReset, "000000")
	}

	if te.AuditDropped() == 0 {
		t.Fatalf("expected dropped events with a blocked sink")
	}
}

func TestAuditBlockingSinkDoesNotHoldChallengeLock(t *testing.T) {
	sink := newGateSink()
	te := newTestEngine(t, func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 1
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	})

	// The first event parks the worker, the second fills the queue and the
	// third Verify waits in Emit.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _ = te.Verify(context.Background(), "ana@example.com", PurposePasswordReset, "000000")
		}
	}()

	deadline := time.Now().Add(time.Second)
	for te.metrics.Value(MetricVerifyNoActive) < 3 {
		if time.Now().After(deadline) {
			close(sink.gate)
			t.Fatalf("verifies did not reach the audit emit")
		}
		time.Sleep(time.Millisecond)
	}

	acquired := make(chan struct{})
	go func() {
		unlock := te.lockFor("ana@example.com", PurposePasswordReset)()
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		close(sink.gate)
		t.Fatalf("challenge lock held while waiting on the audit sink")
	}

	close(sink.gate)
	<-done
}

func TestAuditDispatcherScrubsSecretMetadata(t *testing.T) {
	sink := NewChannelSink(4)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, sink, nil)
	defer d.Close()

	d.Emit(context.Background(), AuditEvent{
		EventType: auditEventChallengeVerify,
		Metadata:  map[string]string{"reason": "expired", "Code": "123456", "secret_hash": "$argon2id$x"},
	})

	ev := nextEvent(t, sink)
	if ev.Metadata["reason"] != "expired" {
		t.Fatalf("expected reason to survive, got %v", ev.Metadata)
	}
	if len(ev.Metadata) != 1 {
		t.Fatalf("expected secret keys to be removed, got %v", ev.Metadata)
	}
}

type panicSink struct {
	calls atomic.Int64
}

func (s *panicSink) Emit(context.Context, AuditEvent) {
	if s.calls.Add(1) == 1 {
		panic("sink exploded")
	}
}

func TestAuditDispatcherSurvivesSinkPanic(t *testing.T) {
	var logs bytes.Buffer
	sink := &panicSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink, slog.New(slog.NewTextHandler(&logs, nil)))

	d.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeIssue})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeIssue})
	d.Close()

	if got := sink.calls.Load(); got != 2 {
		t.Fatalf("expected the worker to keep delivering after a panic, got %d calls", got)
	}
	if d.panicked.Load() != 1 {
		t.Fatalf("expected one recorded panic, got %d", d.panicked.Load())
	}
	if !strings.Contains(logs.String(), "audit sink panicked") {
		t.Fatalf("expected panic to be logged, got %q", logs.String())
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{ErrAlreadyRegistered, auditErrAlreadyRegistered},
		{ErrDeliveryFailed, auditErrDeliveryFailed},
		{ErrNoActiveChallenge, auditErrNoActive},
		{&MismatchError{Remaining: 2}, auditErrCodeMismatch},
		{ErrAttemptsExhausted, auditErrAttemptsExhausted},
		{&FinalizeError{Cause: ErrIdentityUnavailable}, auditErrFinalizeFailed},
		{ErrInvalidSubject, auditErrInvalidRequest},
		{ErrStoreUnavailable, auditErrUnavailable},
		{context.DeadlineExceeded, auditErrUnavailable},
		{errSMTPDown, auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if auditErrorCode(nil) != "" {
		t.Fatalf("nil error must map to empty code")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeIssue, Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeVerify})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if ev.EventType != auditEventChallengeVerify {
		t.Fatalf("unexpected event type %q", ev.EventType)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeIssue, Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeVerify, Error: "code_mismatch"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"level":"INFO"`) {
		t.Fatalf("success should log at info: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"WARN"`) || !strings.Contains(lines[1], `"error":"code_mismatch"`) {
		t.Fatalf("failure should log at warn with code: %s", lines[1])
	}
}
