package main

import (
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/urfave/cli/v3"
)

type settings struct {
	Addr    string
	Metrics bool

	Digits          int
	TTL             time.Duration
	MaxAttempts     int
	Digest          string
	DeliveryTimeout time.Duration
	Production      bool

	DatabaseDSN string
	RedisAddr   string
	RedisPrefix string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	AppName      string

	TokenKey    string
	TokenTTL    time.Duration
	TokenIssuer string

	LogLevel  string
	LogFormat string
	Audit     bool
}

func settingsFromCLI(cmd *cli.Command) settings {
	return settings{
		Addr:    cmd.String("addr"),
		Metrics: cmd.Bool("metrics"),

		Digits:          int(cmd.Int("code-digits")),
		TTL:             cmd.Duration("code-ttl"),
		MaxAttempts:     int(cmd.Int("max-attempts")),
		Digest:          cmd.String("digest"),
		DeliveryTimeout: cmd.Duration("delivery-timeout"),
		Production:      cmd.Bool("production"),

		DatabaseDSN: cmd.String("database"),
		RedisAddr:   cmd.String("redis-addr"),
		RedisPrefix: cmd.String("redis-prefix"),

		SMTPHost:     cmd.String("smtp-host"),
		SMTPPort:     int(cmd.Int("smtp-port")),
		SMTPUsername: cmd.String("smtp-username"),
		SMTPPassword: cmd.String("smtp-password"),
		SMTPFrom:     cmd.String("smtp-from"),
		SMTPFromName: cmd.String("smtp-from-name"),
		SMTPTLS:      cmd.Bool("smtp-tls"),
		AppName:      cmd.String("app-name"),

		TokenKey:    cmd.String("token-key"),
		TokenTTL:    cmd.Duration("token-ttl"),
		TokenIssuer: cmd.String("token-issuer"),

		LogLevel:  cmd.String("log-level"),
		LogFormat: cmd.String("log-format"),
		Audit:     cmd.Bool("audit"),
	}
}

// engineConfig overlays the flags on goOTP.DefaultConfig. Zero durations keep
// the defaults.
func (s settings) engineConfig() goOTP.Config {
	cfg := goOTP.DefaultConfig()
	if s.Digits > 0 {
		cfg.Challenge.CodeDigits = s.Digits
	}
	if s.TTL > 0 {
		cfg.Challenge.TTL = s.TTL
		cfg.Finalize.TicketTTL = s.TTL
	}
	if s.MaxAttempts > 0 {
		cfg.Challenge.MaxAttempts = s.MaxAttempts
	}
	if s.Digest != "" {
		cfg.Challenge.Digest = goOTP.DigestAlgorithm(s.Digest)
	}
	if s.DeliveryTimeout > 0 {
		cfg.Delivery.Timeout = s.DeliveryTimeout
	}
	cfg.Security.ProductionMode = s.Production
	cfg.Audit.Enabled = s.Audit
	cfg.Metrics.Enabled = s.Metrics
	cfg.Metrics.EnableLatencyHistograms = s.Metrics
	return cfg
}
