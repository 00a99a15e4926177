// Command otpd serves goOTP password-reset and registration challenges over
// HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// sources chains an environment variable and a TOML key behind a flag.
func sources(envKey, tomlKey string, tomlSrc altsrc.Sourcer) cli.ValueSourceChain {
	chain := cli.EnvVars(envKey)
	chain.Chain = append(chain.Chain, toml.TOML(tomlKey, tomlSrc))
	return chain
}

func main() {
	var configFile string
	tomlSrc := altsrc.NewStringPtrSourcer(&configFile)

	cmd := &cli.Command{
		Name:    "otpd",
		Usage:   "One-time-passcode challenge server",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   flags(&configFile, tomlSrc),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func flags(configFile *string, tomlSrc altsrc.Sourcer) []cli.Flag {
	return []cli.Flag{
		// Config file
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.toml",
			Usage:       "Path to configuration file",
			Destination: configFile,
			Sources:     cli.EnvVars("OTPD_CONFIG"),
		},

		// Server
		&cli.StringFlag{
			Name:    "addr",
			Value:   "localhost:8080",
			Usage:   "Listen address",
			Sources: sources("OTPD_ADDR", "server.addr", tomlSrc),
		},
		&cli.BoolFlag{
			Name:    "metrics",
			Value:   true,
			Usage:   "Serve Prometheus metrics on /metrics",
			Sources: sources("OTPD_METRICS", "server.metrics", tomlSrc),
		},

		// Challenges
		&cli.IntFlag{
			Name:    "code-digits",
			Value:   6,
			Usage:   "Digits per code",
			Sources: sources("OTPD_CODE_DIGITS", "challenge.digits", tomlSrc),
		},
		&cli.DurationFlag{
			Name:    "code-ttl",
			Value:   0,
			Usage:   "Code lifetime (default 10m)",
			Sources: sources("OTPD_CODE_TTL", "challenge.ttl", tomlSrc),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Value:   5,
			Usage:   "Wrong codes allowed per challenge",
			Sources: sources("OTPD_MAX_ATTEMPTS", "challenge.max_attempts", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "digest",
			Value:   "sha256",
			Usage:   "Code digest: sha256, sha512, blake3",
			Sources: sources("OTPD_DIGEST", "challenge.digest", tomlSrc),
		},
		&cli.DurationFlag{
			Name:    "delivery-timeout",
			Value:   0,
			Usage:   "Bound on one email hand-off (default 10s)",
			Sources: sources("OTPD_DELIVERY_TIMEOUT", "challenge.delivery_timeout", tomlSrc),
		},
		&cli.BoolFlag{
			Name:    "production",
			Usage:   "Enforce production bounds on challenge settings",
			Sources: sources("OTPD_PRODUCTION", "challenge.production", tomlSrc),
		},

		// Storage
		&cli.StringFlag{
			Name:    "database",
			Value:   "./data/accounts.db",
			Usage:   "Accounts database: SQLite path or postgres:// URL",
			Sources: sources("OTPD_DATABASE", "database.dsn", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for registration challenges (memory when empty)",
			Sources: sources("OTPD_REDIS_ADDR", "redis.addr", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Value:   "otp",
			Usage:   "Redis key prefix",
			Sources: sources("OTPD_REDIS_PREFIX", "redis.prefix", tomlSrc),
		},

		// SMTP
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP relay host",
			Sources: sources("OTPD_SMTP_HOST", "smtp.host", tomlSrc),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP relay port",
			Sources: sources("OTPD_SMTP_PORT", "smtp.port", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: sources("OTPD_SMTP_USERNAME", "smtp.username", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: sources("OTPD_SMTP_PASSWORD", "smtp.password", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: sources("OTPD_SMTP_FROM", "smtp.from", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: sources("OTPD_SMTP_FROM_NAME", "smtp.from_name", tomlSrc),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS to the relay",
			Sources: sources("OTPD_SMTP_TLS", "smtp.tls", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "app-name",
			Value:   "goOTP",
			Usage:   "Product name used in emails",
			Sources: sources("OTPD_APP_NAME", "smtp.app_name", tomlSrc),
		},

		// Tokens
		&cli.StringFlag{
			Name:    "token-key",
			Usage:   "HS256 key (32+ bytes) for account tokens; tokens are off when empty",
			Sources: sources("OTPD_TOKEN_KEY", "token.key", tomlSrc),
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Value:   0,
			Usage:   "Account token lifetime (default 24h)",
			Sources: sources("OTPD_TOKEN_TTL", "token.ttl", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "token-issuer",
			Value:   "otpd",
			Usage:   "Account token issuer",
			Sources: sources("OTPD_TOKEN_ISSUER", "token.issuer", tomlSrc),
		},

		// Logging
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level: debug, info, warn, error",
			Sources: sources("OTPD_LOG_LEVEL", "log.level", tomlSrc),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format: text, json",
			Sources: sources("OTPD_LOG_FORMAT", "log.format", tomlSrc),
		},
		&cli.BoolFlag{
			Name:    "audit",
			Usage:   "Log audit events",
			Sources: sources("OTPD_AUDIT", "log.audit", tomlSrc),
		},
	}
}
