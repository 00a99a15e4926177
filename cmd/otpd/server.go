package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/accounts"
	"github.com/MrEthical07/goOTP/httpapi"
	"github.com/MrEthical07/goOTP/jwt"
	"github.com/MrEthical07/goOTP/metrics/export/prometheus"
	"github.com/MrEthical07/goOTP/notify"
	"github.com/MrEthical07/goOTP/password"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

func run(ctx context.Context, cmd *cli.Command) error {
	s := settingsFromCLI(cmd)
	logger := newLogger(os.Stdout, s.LogLevel, s.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting otpd", "addr", s.Addr, "database", accounts.DialectFor(s.DatabaseDSN))

	// Accounts
	db, err := accounts.Open(s.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open accounts database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()
	identities := accounts.New(db)
	resets := accounts.NewResetChallenges(db, nil)

	// Delivery
	mailer, err := notify.NewSMTP(notify.Config{
		Host:     s.SMTPHost,
		Port:     s.SMTPPort,
		Username: s.SMTPUsername,
		Password: s.SMTPPassword,
		From:     s.SMTPFrom,
		FromName: s.SMTPFromName,
		TLS:      s.SMTPTLS,
		AppName:  s.AppName,
	})
	if err != nil {
		return fmt.Errorf("failed to configure SMTP: %w", err)
	}

	// Engine
	cfg := s.engineConfig()
	builder := goOTP.New().
		WithConfig(cfg).
		WithNotifier(mailer).
		WithIdentityStore(identities).
		WithStore(goOTP.PurposePasswordReset, resets).
		WithLogger(logger)
	if s.Audit {
		builder.WithAuditSink(goOTP.NewSlogSink(logger))
	}
	if s.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{s.RedisAddr}})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		builder.WithStore(goOTP.PurposeRegistration, goOTP.NewRedisStore(rdb, goOTP.RedisStoreConfig{Prefix: s.RedisPrefix}))
		logger.Info("registration challenges in redis", "addr", s.RedisAddr)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	// HTTP
	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to configure password hashing: %w", err)
	}
	opts := []httpapi.Option{httpapi.WithLogger(logger), httpapi.WithDirectory(identities)}
	if s.TokenKey != "" {
		tokens, err := newTokenManager(s)
		if err != nil {
			return fmt.Errorf("failed to configure tokens: %w", err)
		}
		opts = append(opts, httpapi.WithTokens(tokens))
	}

	e := httpapi.NewServer(httpapi.New(engine, hasher, opts...), logger)
	if s.Metrics {
		e.GET("/metrics", echo.WrapHandler(prometheus.NewPrometheusExporter(engine).Handler()))
	}

	go purgeExpiredResets(ctx, resets, cfg.Challenge.TTL, logger)

	return serve(ctx, e, s.Addr, logger)
}

func newTokenManager(s settings) (*jwt.Manager, error) {
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return jwt.NewManager(jwt.Config{
		TTL:           ttl,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(s.TokenKey),
		Issuer:        s.TokenIssuer,
	})
}

// purgeExpiredResets clears reset columns that expired without a verify.
// Reads already treat them as absent; this only reclaims the row fields.
func purgeExpiredResets(ctx context.Context, resets *accounts.ResetChallenges, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := resets.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("failed to purge expired reset challenges", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired reset challenges", "count", n)
			}
		}
	}
}

func serve(ctx context.Context, e *echo.Echo, addr string, logger *slog.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("server running", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errChan:
		logger.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
