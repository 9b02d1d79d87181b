package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/MLaitarovsky/docpilot/internal/config"
	"github.com/MLaitarovsky/docpilot/internal/llm"
	"github.com/MLaitarovsky/docpilot/internal/pipeline"
	"github.com/MLaitarovsky/docpilot/internal/progress"
	"github.com/MLaitarovsky/docpilot/internal/queue"
	"github.com/MLaitarovsky/docpilot/internal/store"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "worker")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	q := queue.New(redisClient, cfg.VisibilityTimeout)
	streams := progress.New(redisClient, cfg.HeartbeatInterval, cfg.TerminalEventTTL, logger)

	completer := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		MaxRetries: cfg.LLMMaxRetries,
		Timeout:    cfg.LLMTimeout,
	}, logger)

	orch := pipeline.New(st, q, streams, completer, cfg.LLMModel, pipeline.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Logger:       logger,
	})
	runner := pipeline.NewRunner(orch, q, st, cfg.WorkerPollInterval, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started", "visibility", cfg.VisibilityTimeout.String(), "poll", cfg.WorkerPollInterval.String())
	if err := runner.Run(ctx); err != nil {
		logger.Info("worker stopped", "reason", err)
	}
}
