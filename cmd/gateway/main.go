package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loginshield/rba-gateway/internal/app"
	"github.com/loginshield/rba-gateway/internal/auth"
	"github.com/loginshield/rba-gateway/internal/engine"
	"github.com/loginshield/rba-gateway/internal/guard"
	"github.com/loginshield/rba-gateway/internal/infra"
	"github.com/loginshield/rba-gateway/internal/provider"
	"github.com/loginshield/rba-gateway/internal/repository"
	"github.com/loginshield/rba-gateway/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Field allow-list, fixed for the life of the process
	fields, err := telemetry.LoadFields(cfg.FieldBoundsFile)
	if err != nil {
		return fmt.Errorf("load field bounds: %w", err)
	}
	validator := telemetry.NewValidator(fields, logger)

	// Denial store
	var denials guard.DenialStore
	switch cfg.DenialStore {
	case "redis":
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		denials = guard.NewRedisDenialStore(rdb, cfg.DenialTTLDuration())
		logger.Info("denial store: redis", "url", cfg.RedisURL)
	default:
		denials = guard.NewDenialCache(cfg.DenialTTLDuration())
		logger.Info("denial store: in-memory")
	}

	// Optional decision audit trail
	var pool *pgxpool.Pool
	var auditSink engine.AuditSink
	if cfg.AuditEnabled {
		pool, err = infra.NewPostgresPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		auditSink = repository.NewPgAuditSink(pool, repository.NewPgAuditRepository(), logger)
		logger.Info("decision audit trail enabled")
	}

	// Decision events
	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	// Scoring client and engine
	scorer := provider.NewHTTPScoringClient(cfg.ScoringEndpoint, logger)
	eng := engine.New(engine.Deps{
		Scorer:     scorer,
		Validator:  validator,
		Denials:    denials,
		Audit:      auditSink,
		Events:     producer,
		EventTopic: cfg.KafkaTopic,
		Threshold:  cfg.FailureThreshold,
		Logger:     logger,
	})

	verifier := auth.NewVerifier(cfg.AssertionSecret)

	router := app.NewRouter(app.RouterDeps{
		Engine:   eng,
		Verifier: verifier,
		Pool:     pool,
		Logger:   logger,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "threshold", cfg.FailureThreshold)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}
