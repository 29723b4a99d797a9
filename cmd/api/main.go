package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-slot-booking/cmd/mainconfig"
	"github.com/wolfman30/medspa-slot-booking/internal/api/router"
	"github.com/wolfman30/medspa-slot-booking/internal/app/bootstrap"
	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/internal/clinic"
	appconfig "github.com/wolfman30/medspa-slot-booking/internal/config"
	"github.com/wolfman30/medspa-slot-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-slot-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-slot-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting medspa slot booking API",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := bootstrap.BuildRedisClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditDB, err := bootstrap.OpenAuditDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit database", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()

	var sqsClient *sqs.Client
	var sesClient *sesv2.Client
	if mainconfig.NeedsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sqsClient = sqs.NewFromConfig(awsCfg)
		sesClient = sesv2.NewFromConfig(awsCfg)
	}

	auditRecorder, closeAudit, err := bootstrap.BuildAuditRecorder(cfg, bootstrap.AuditSinks{DB: auditDB, SQS: sqsClient}, logger)
	if err != nil {
		logger.Error("failed to configure audit sinks", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeAudit(); err != nil {
			logger.Warn("audit sink close failed", "error", err)
		}
	}()

	deliverer, err := bootstrap.BuildCodeDeliverer(cfg, sesClient, logger)
	if err != nil {
		logger.Error("failed to configure code delivery", "error", err)
		os.Exit(1)
	}

	metricsHandler, bookingMetrics := setupMetrics()
	core := bootstrap.BuildCore(cfg, bootstrap.CoreDeps{
		Redis:     redisClient,
		Ledger:    bookings.NewRepository(pool),
		Auditor:   auditRecorder,
		Deliverer: deliverer,
		Metrics:   bookingMetrics,
	}, logger)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)
	go core.Sweeper.Run(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		Reservations:       handlers.NewReservationHandler(core.Service, logger),
		ClinicHandler:      clinic.NewHandler(core.ClinicStore, logger),
		Health:             handlers.NewHealthHandler(healthChecks(redisClient, pool, auditDB)),
		MetricsHandler:     metricsHandler,
		StaffAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; staff routes are disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}

// setupMetrics registers booking metrics plus Go runtime collectors on a
// private registry and returns the handler that serves them.
func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

func healthChecks(redisClient redis.UniversalClient, pool *pgxpool.Pool, auditDB *sql.DB) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if auditDB != nil {
		checks["audit_db"] = auditDB.PingContext
	}
	return checks
}
