package goOTP

import (
	"errors"
	"time"
)

// Config holds every construction-time setting of an Engine. It is copied at
// Build and never read again.
type Config struct {
	Challenge ChallengeConfig
	Delivery  DeliveryConfig
	Ephemeral EphemeralConfig
	Finalize  FinalizeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig shapes every issued challenge.
type ChallengeConfig struct {
	CodeDigits  int
	TTL         time.Duration
	MaxAttempts int
	Digest      DigestAlgorithm
}

// DeliveryConfig bounds the notifier hand-off.
type DeliveryConfig struct {
	Timeout         time.Duration
	RollbackTimeout time.Duration
}

// EphemeralConfig configures stores created by NewEphemeralStore through the
// builder. SweepInterval of zero disables the background sweeper.
type EphemeralConfig struct {
	Shards        int
	SweepInterval time.Duration
}

// FinalizeConfig controls retry tickets handed out when the identity store
// fails after a successful verification. A zero TicketTTL disables tickets.
type FinalizeConfig struct {
	TicketTTL  time.Duration
	MaxTickets int
}

// AuditConfig mirrors the dispatcher settings.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig carries deployment-level hardening switches.
type SecurityConfig struct {
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the settings used when the builder is not given a Config.
func DefaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			CodeDigits:  6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			Digest:      DigestSHA256,
		},
		Delivery: DeliveryConfig{
			Timeout:         10 * time.Second,
			RollbackTimeout: 2 * time.Second,
		},
		Ephemeral: EphemeralConfig{
			Shards:        32,
			SweepInterval: time.Minute,
		},
		Finalize: FinalizeConfig{
			TicketTTL:  10 * time.Minute,
			MaxTickets: 10000,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency and, in ProductionMode, the hardening bounds.
func (c *Config) Validate() error {
	if c.Challenge.CodeDigits < 4 || c.Challenge.CodeDigits > 10 {
		return errors.New("Challenge CodeDigits must be between 4 and 10")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge MaxAttempts must be > 0")
	}
	switch c.Challenge.Digest {
	case "", DigestSHA256, DigestSHA512, DigestBLAKE3:
	default:
		return errors.New("Challenge Digest must be sha256, sha512, or blake3")
	}

	if c.Delivery.Timeout <= 0 {
		return errors.New("Delivery Timeout must be > 0")
	}
	if c.Delivery.RollbackTimeout <= 0 {
		return errors.New("Delivery RollbackTimeout must be > 0")
	}

	if c.Ephemeral.Shards <= 0 {
		return errors.New("Ephemeral Shards must be > 0")
	}
	if c.Ephemeral.SweepInterval < 0 {
		return errors.New("Ephemeral SweepInterval must be >= 0")
	}

	if c.Finalize.TicketTTL < 0 {
		return errors.New("Finalize TicketTTL must be >= 0")
	}
	if c.Finalize.TicketTTL > 0 && c.Finalize.MaxTickets <= 0 {
		return errors.New("Finalize MaxTickets must be > 0 when tickets are enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if c.Security.ProductionMode {
		if c.Challenge.CodeDigits < 6 {
			return errors.New("ProductionMode requires Challenge CodeDigits >= 6")
		}
		if c.Challenge.MaxAttempts > 5 {
			return errors.New("ProductionMode requires Challenge MaxAttempts <= 5")
		}
		if c.Challenge.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires Challenge TTL <= 15m")
		}
		if c.Delivery.Timeout > time.Minute {
			return errors.New("ProductionMode requires Delivery Timeout <= 1m")
		}
		if c.Finalize.TicketTTL > c.Challenge.TTL {
			return errors.New("ProductionMode requires Finalize TicketTTL <= Challenge TTL")
		}
	}

	return nil
}
