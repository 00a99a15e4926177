package goOTP

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goOTP/internal/keylock"
)

// Builder assembles an Engine. A Builder can be used for exactly one Build.
type Builder struct {
	config Config

	stores     map[Purpose]ChallengeStore
	notifier   Notifier
	identities IdentityStore
	auditSink  AuditSink
	logger     *slog.Logger
	clock      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		stores: make(map[Purpose]ChallengeStore, 2),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore selects the backend for one purpose. Purposes without a store
// get an EphemeralStore owned by the engine.
func (b *Builder) WithStore(purpose Purpose, store ChallengeStore) *Builder {
	b.stores[purpose] = store
	return b
}

// WithNotifier sets the out-of-band delivery channel. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithIdentityStore sets the account backend used by the registration
// duplicate check and by the finalize steps.
func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

// WithAuditSink sets where audit events are delivered.
//
// The sink only receives events when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for expiry decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled turns the in-process counters on or off.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms records delivery latency buckets alongside the counters.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if cfg.Challenge.Digest == "" {
		cfg.Challenge.Digest = DigestSHA256
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}
	for purpose := range b.stores {
		if !purpose.Valid() {
			return nil, errors.New("store registered for unknown purpose")
		}
		if b.stores[purpose] == nil {
			return nil, errors.New("nil store registered for " + purpose.String())
		}
	}

	codec, err := NewCodec(cfg.Challenge.CodeDigits, cfg.Challenge.Digest)
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:     cfg,
		codec:      codec,
		notifier:   b.notifier,
		identities: b.identities,
		locks:      keylock.New(cfg.Ephemeral.Shards * 4),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		clock:      clock,
	}
	engine.tickets = newFinalizeLedger(cfg.Finalize, clock)

	for _, purpose := range []Purpose{PurposePasswordReset, PurposeRegistration} {
		if s, ok := b.stores[purpose]; ok {
			engine.stores[purpose] = s
			continue
		}
		eph := NewEphemeralStore(cfg.Ephemeral, clock)
		eph.StartSweeper(cfg.Ephemeral.SweepInterval, func(n int) {
			engine.metrics.Add(MetricSweepReclaimed, uint64(n))
			if n > 0 {
				logger.Debug("goOTP: swept expired challenges", slog.String("purpose", purpose.String()), slog.Int("count", n))
			}
		})
		engine.stores[purpose] = eph
		engine.closers = append(engine.closers, eph.Close)
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)

	b.built = true
	return engine, nil
}
