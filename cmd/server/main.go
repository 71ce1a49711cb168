package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/josh5210/writefully/internal/config"
	"github.com/josh5210/writefully/internal/database"
	"github.com/josh5210/writefully/internal/engine"
	"github.com/josh5210/writefully/internal/events"
	"github.com/josh5210/writefully/internal/generator"
	"github.com/josh5210/writefully/internal/handler"
	"github.com/josh5210/writefully/internal/llm"
	"github.com/josh5210/writefully/internal/logger"
	"github.com/josh5210/writefully/internal/recovery"
	"github.com/josh5210/writefully/internal/repository"
)

func main() {
	// Missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	if err := run(cfg, zapLogger); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Fatal("server exited with error", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger.Info("connecting to database", zap.String("dsn", cfg.MaskedDSN()))
	pool, err := database.Connect(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(pool, cfg.MigrationsDir, zapLogger); err != nil {
		return err
	}

	store := repository.NewPgStore(pool, zapLogger)

	primary := llm.NewClient(llm.Config{
		BaseURL:          cfg.AIBaseURL,
		APIKey:           cfg.AIAPIKey,
		Model:            cfg.AIModel,
		MaxTokens:        cfg.AIMaxTokens,
		StoryPlanTimeout: cfg.AIStoryPlanTimeout,
		PageTimeout:      cfg.AIPageTimeout,
		DefaultTimeout:   cfg.AIDefaultTimeout,
	}, zapLogger)
	// The backup model is a fast fallback; it gets one flat, short budget.
	backup := llm.NewClient(llm.Config{
		BaseURL:          cfg.AIBaseURL,
		APIKey:           cfg.AIAPIKey,
		Model:            cfg.AIBackupModel,
		MaxTokens:        cfg.AIMaxTokens,
		StoryPlanTimeout: cfg.AIBackupTimeout,
		PageTimeout:      cfg.AIBackupTimeout,
		DefaultTimeout:   cfg.AIBackupTimeout,
	}, zapLogger)
	client := generator.NewFallbackClient(primary, backup, zapLogger)

	hub := events.NewHub(cfg.HeartbeatInterval, zapLogger)
	defer hub.Close()

	eng := engine.New(store, generator.NewSet(client, zapLogger), hub, engine.NewRegistry(), engine.Config{
		StoryPlanDeadline: cfg.StoryPlanDeadline,
		PageStageDeadline: cfg.PageStageDeadline,
		CritiqueDeadline:  cfg.CritiqueDeadline,
		JobTimeout:        cfg.JobTimeout,
		StoryTTL:          cfg.StoryTTL,
	}, zapLogger)

	recoverySvc := recovery.NewService(store, eng, hub, cfg.RecoveryInterval, zapLogger)
	janitor := recovery.NewJanitor(store, cfg.CleanupInterval, zapLogger)

	router := handler.New(ctx, eng, hub, recoverySvc, pool, zapLogger).Router()
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		zapLogger.Info("http server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return recoverySvc.Start(groupCtx)
	})
	group.Go(func() error {
		return janitor.Start(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
