package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DukeRupert/portfolio/internal"
	"github.com/DukeRupert/portfolio/internal/csrf"
	"github.com/DukeRupert/portfolio/internal/email"
	"github.com/DukeRupert/portfolio/internal/handler"
	"github.com/DukeRupert/portfolio/internal/middleware"
	"github.com/DukeRupert/portfolio/internal/ratelimit"
	"github.com/DukeRupert/portfolio/internal/scheduler"
)

const (
	shutdownTimeout = 30 * time.Second
	verifyTimeout   = 15 * time.Second
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Shared state
	// ==========================================================================

	var (
		csrfStore csrf.Store
		limiter   ratelimit.Limiter
	)
	limiterCfg := ratelimit.Config{
		Max:    cfg.RateLimitMax,
		Window: cfg.RateLimitWindowDuration(),
	}

	switch cfg.StoreBackend {
	case internal.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		// Run migrations
		if err := internal.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")

		csrfStore = csrf.NewPostgresStore(pool, nil)
		limiter = ratelimit.NewPostgresLimiter(pool, limiterCfg)
	default:
		csrfStore = csrf.NewMemoryStore(nil)
		limiter = ratelimit.NewMemoryLimiter(limiterCfg)
	}
	logger.Info("State store ready", "backend", cfg.StoreBackend)

	csrfManager := csrf.NewManager(csrfStore, csrf.Options{
		TTL:         cfg.CSRFTokenTTL,
		RotateOnUse: cfg.CSRFRotateOnUse,
		Enabled:     cfg.CSRFEnabled,
	}, logger)
	if !cfg.CSRFEnabled {
		logger.Warn("CSRF validation disabled")
	}

	// ==========================================================================
	// Email
	// ==========================================================================

	smtpCfg := email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPass,
		PoolSize: cfg.SMTPPoolSize,
	}
	transport, err := email.NewTransport(smtpCfg)
	if err != nil {
		return fmt.Errorf("email transport initialization failed: %w", err)
	}

	dispatcher := email.NewSMTPDispatcher(transport, cfg.EmailUser, email.Options{
		MaxRetries:    cfg.EmailMaxRetries,
		RetryDelay:    cfg.EmailRetryDelay,
		SendTimeout:   cfg.EmailSendTimeout,
		RatePerSecond: cfg.EmailRatePerSecond,
	}, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("Email dispatcher close error", "error", err)
		}
	}()

	// Verification only reports; the server serves either way.
	go verifyEmail(ctx, smtpCfg, logger)

	// ==========================================================================
	// Background maintenance
	// ==========================================================================

	sched, err := scheduler.New(scheduler.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	sched.Every("csrf_sweep", cfg.CSRFSweepInterval, func(ctx context.Context) error {
		_, err := csrfManager.Sweep(ctx)
		return err
	})
	if evictor, ok := limiter.(ratelimit.Evictor); ok {
		sched.Every("ratelimit_evict", cfg.RateLimitWindowDuration(), func(ctx context.Context) error {
			n, err := evictor.Evict(ctx)
			if n > 0 {
				logger.Debug("Rate limit entries evicted", "count", n)
			}
			return err
		})
	}

	sched.Start(ctx)
	defer sched.Stop()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	healthHandler := handler.NewHealthHandler(handler.HealthConfig{
		Version:           cfg.AppVersion,
		Environment:       cfg.Env,
		EmailConfigured:   cfg.EmailConfigured(),
		MemoryThresholdMB: cfg.HealthMemoryThresholdMB,
	}, csrfManager, logger)

	router := handler.Routes(handler.RouterConfig{
		Logger:  logger,
		CSRF:    handler.NewCSRFHandler(csrfManager, logger),
		Contact: handler.NewContactHandler(csrfManager, dispatcher, cfg.EmailReceiver, logger),
		Health:  healthHandler,
		RateLimit: middleware.NewRateLimitMiddleware(
			limiter,
			cfg.RateLimitMax,
			cfg.RateLimitWindowDuration(),
			cfg.TrustedIPs,
			logger,
		),
		IsProduction:    cfg.IsProduction(),
		AllowedOrigins:  cfg.AllowedOrigins,
		TrustedProxies:  trustedProxies,
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
	})

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.EmailSendTimeout*time.Duration(cfg.EmailMaxRetries) + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server started",
			"address", server.Addr,
			"env", cfg.Env,
			"version", cfg.AppVersion,
			"csrf_enabled", cfg.CSRFEnabled,
			"rate_limit_max", cfg.RateLimitMax,
			"rate_limit_window", cfg.RateLimitWindowDuration(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// verifyEmail checks the SMTP credentials once at startup and logs the result.
func verifyEmail(ctx context.Context, cfg email.SMTPConfig, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if err := email.Verify(ctx, cfg); err != nil {
		logger.Error("Email service connection failed", "host", cfg.Host, "port", cfg.Port, "error", err)
		return
	}
	logger.Info("Email service connected", "host", cfg.Host, "port", cfg.Port)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
