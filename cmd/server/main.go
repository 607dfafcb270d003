package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal"
	"github.com/arpeggiohq/arpeggio/internal/gateway"
	"github.com/arpeggiohq/arpeggio/internal/handler/api"
	"github.com/arpeggiohq/arpeggio/internal/handler/webhook"
	"github.com/arpeggiohq/arpeggio/internal/jobs"
	"github.com/arpeggiohq/arpeggio/internal/middleware"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// database/sql connection is only used to run migrations
	logger.Info().Msg("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info().Msg("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)

	// Event publishing degrades to a no-op when NATS is not configured.
	var pub notify.Publisher = notify.Noop{}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("NATS connection failed: %w", err)
		}
		defer nc.Drain()
		pub = notify.NewNATSPublisher(nc)
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS publisher connected")
	}

	metrics := telemetry.NewBusinessMetrics(cfg.Metrics.Namespace)

	invoices := service.NewInvoiceService(st, pub, logger)
	engine := service.NewPaymentEngine(st, pub, logger)
	generator := service.NewTermGenerator(st, invoices, logger)
	marker := service.NewOverdueMarker(st, pub, logger)
	reconciler := service.NewReconciler(st, engine, logger)

	provider := gateway.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	sweeper := jobs.NewSweeper(st, marker, metrics, logger)
	if cfg.Sweep.Schedule != "" {
		if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
			return fmt.Errorf("failed to start overdue sweeper: %w", err)
		}
		defer sweeper.Stop()
		logger.Info().Str("schedule", cfg.Sweep.Schedule).Msg("Overdue sweeper started")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Webhooks authenticate by signature, not by tenant header.
	webhookHandler := webhook.NewStripeHandler(provider, reconciler, metrics, logger)
	e.POST("/webhooks/stripe", webhookHandler.HandleWebhook)

	apiGroup := e.Group("/api/v1", middleware.ResolveTenant(middleware.TenantConfig{
		Resolver: store.NewResolver(st),
		Logger:   logger,
	}))
	invoiceHandler := api.NewInvoiceHandler(invoices, engine, generator, provider, metrics, logger, cfg.BaseURL)
	invoiceHandler.Register(apiGroup)

	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", addr).Msg("Starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-stop.Done():
	}

	logger.Info().Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			event := logger.Info()
			if v.Status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("request")
			return nil
		},
	})
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
