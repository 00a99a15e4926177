package goOTP

import (
	"log/slog"
	"time"

	"github.com/MrEthical07/goOTP/internal/keylock"
)

// Engine issues and verifies one-time codes. It is built once by Builder and
// is safe for concurrent use. Settings are fixed for its lifetime.
type Engine struct {
	config     Config
	codec      *Codec
	stores     [PurposeRegistration + 1]ChallengeStore
	notifier   Notifier
	identities IdentityStore
	locks      *keylock.Locker
	tickets    *finalizeLedger
	audit      *auditDispatcher
	metrics    *Metrics
	logger     *slog.Logger
	clock      func() time.Time
	closers    []func()
}

// Close stops background sweepers owned by the engine and drains the audit
// dispatcher. Stores passed in through the builder are not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the settings the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) store(purpose Purpose) ChallengeStore {
	if !purpose.Valid() {
		return nil
	}
	return e.stores[purpose]
}

func (e *Engine) lockFor(subject string, purpose Purpose) func() func() {
	key := purpose.String() + "|" + subject
	return func() func() {
		return e.locks.Lock(key)
	}
}

func (e *Engine) logError(msg string, purpose Purpose, err error) {
	e.logger.Error("goOTP: "+msg, slog.String("purpose", purpose.String()), slog.Any("error", err))
}
