package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/medspa-booking/internal/api/router"
	"github.com/wolfman30/medspa-booking/internal/appointments"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/clock"
	appconfig "github.com/wolfman30/medspa-booking/internal/config"
	"github.com/wolfman30/medspa-booking/internal/events"
	httpmiddleware "github.com/wolfman30/medspa-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-booking/internal/notify"
	"github.com/wolfman30/medspa-booking/internal/observability/tracing"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"ledger", cfg.LedgerBackend,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "medspa-booking-api",
		OTLPEndpoint: cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	hours, _ := cfg.ClinicHours()
	loc, _ := cfg.Location()
	metricsHandler, bookingMetrics := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	aws := newAWSClients(ctx, cfg, logger)

	lookup, err := setupCatalog(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to set up catalog", "error", err)
		os.Exit(1)
	}
	ledger, err := setupLedger(cfg, pool, aws, logger)
	if err != nil {
		logger.Error("failed to set up ledger", "error", err)
		os.Exit(1)
	}

	clk := clock.System()
	opts := []appointments.Option{
		appointments.WithHours(hours),
		appointments.WithLocation(loc),
		appointments.WithMetrics(bookingMetrics),
		appointments.WithLogger(logger.Component("appointments")),
	}
	if cache, err := appointments.NewAvailabilityCache(cfg.AvailabilityCacheSize, cfg.AvailabilityCacheTTL, clk); err == nil {
		opts = append(opts, appointments.WithAvailabilityCache(cache))
	} else {
		logger.Warn("availability cache disabled", "error", err)
	}
	if pool != nil {
		opts = append(opts, appointments.WithEvents(events.NewOutboxStore(pool).WithClock(clk)))
	}
	if trail := setupAuditTrail(cfg.DatabaseURL, logger); trail != nil {
		defer func() { _ = trail.db.Close() }()
		opts = append(opts, appointments.WithAudit(trail.Trail))
	}
	service := appointments.NewService(lookup, ledger, clk, opts...)

	notifyService := notify.NewService(setupEmailSender(cfg, aws, logger), notify.Config{
		ClinicName: cfg.ClinicName,
		Location:   loc,
	}, logger.Component("notify"))
	dispatcher := notify.NewDispatcher(notifyService, notify.DispatcherConfig{
		StaffEmails: cfg.StaffNotifyEmails,
		Timeout:     cfg.NotifyTimeout,
		Metrics:     bookingMetrics,
		Logger:      logger.Component("notify"),
	})

	handlerCfg := appointments.HandlerConfig{
		Notifier:       dispatcher,
		BookingTimeout: cfg.BookingTimeout,
		Logger:         logger.Component("http"),
	}
	if reconcile := setupReconcilePublisher(cfg, aws); reconcile != nil {
		handlerCfg.Reconciliation = reconcile
	}
	bookingHandler := appointments.NewHandler(service, setupVerifier(cfg, logger), handlerCfg)

	routerCfg := &router.Config{
		Logger:             logger,
		Appointments:       bookingHandler,
		Catalog:            catalog.NewHandler(lookup, logger.Component("catalog")),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Checks:             healthChecks(pool, redisClient),
		Tracing:            cfg.OTelEnabled,
	}
	if pool != nil {
		inbox := events.NewWebhookInbox(pool).WithClock(clk)
		routerCfg.StripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, inbox, bookingMetrics, logger)
		routerCfg.SquareWebhook = payments.NewSquareWebhookHandler(cfg.SquareWebhookSignatureKey, cfg.SquareWebhookURL, inbox, bookingMetrics, logger)
	} else {
		logger.Warn("payment webhooks disabled: DATABASE_URL not set")
	}
	if redisClient != nil {
		routerCfg.RedisRateLimiter = httpmiddleware.NewRedisRateLimiter(redisClient, int(cfg.RateLimitRPS*60), time.Minute, logger)
	} else {
		limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer limiter.Stop()
		routerCfg.RateLimiter = limiter
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BookingTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// In-flight confirmation emails finish before the process exits.
	dispatcher.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
