package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/courseassist/internal/app"
	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/queue"
	"github.com/nikhilbhutani/courseassist/internal/queue/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	// Documents are embedded concurrently inside the pipeline, so a handful
	// of documents at a time is enough to saturate the provider.
	concurrency := max(1, 16/cfg.Ingestion.Concurrency)
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.DefaultQueue: 1,
			},
			Logger: slogAdapter{},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeDocumentIngest, workers.NewDocumentWorker(core.Service))

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}
