// Package app wires the ingestion and retrieval core from configuration. The
// API server and the queue worker share it so both run the same pipeline
// against the same index, file store and locks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/courseassist/internal/api/handlers"
	"github.com/nikhilbhutani/courseassist/internal/cache"
	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/database"
	"github.com/nikhilbhutani/courseassist/internal/document"
	"github.com/nikhilbhutani/courseassist/internal/embedding"
	"github.com/nikhilbhutani/courseassist/internal/generation"
	"github.com/nikhilbhutani/courseassist/internal/llm"
	"github.com/nikhilbhutani/courseassist/internal/queue"
	"github.com/nikhilbhutani/courseassist/internal/rag"
	"github.com/nikhilbhutani/courseassist/internal/storage"
	"github.com/nikhilbhutani/courseassist/internal/vectorstore"
	"github.com/nikhilbhutani/courseassist/internal/webhook"
)

const reportTTL = 7 * 24 * time.Hour

type App struct {
	Service *document.Service
	Index   vectorstore.VectorStore
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Queue   *queue.Client
	Webhook *webhook.Dispatcher
}

// New opens every dependency cfg selects. Redis is optional for synchronous
// ingestion: without it the ingestion guard is process-local and reports are
// not kept.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	if err := a.open(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config) error {
	index, err := a.openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	a.Index = index

	provider, err := llm.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	embedder := embedding.NewService(provider, cfg.Embedding.Model, cfg.Embedding.Dimensions)

	dims, err := index.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("read index dimension: %w", err)
	}
	if err := embedder.Establish(dims); err != nil {
		return err
	}

	files, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}

	var (
		locker  rag.Locker = rag.NewLocalLocker()
		reports document.ReportStore
		enq     document.Enqueuer
	)
	rdb, err := cache.NewClient(ctx, cfg.Redis)
	switch {
	case err == nil:
		a.Redis = rdb
		c := cache.NewCache(rdb)
		locker = rag.ChainLockers(locker, cache.NewLocker(c, cfg.Redis.LockTTL))
		reports = cache.NewReportStore(c, reportTTL)
		a.Queue = queue.NewClient(cfg.Redis)
		enq = a.Queue
	case cfg.Ingestion.Async:
		return fmt.Errorf("async ingestion needs redis: %w", err)
	default:
		slog.Warn("redis unavailable, using in-process ingestion guard", "error", err)
	}

	var fwd generation.Forwarder
	if cfg.Generation.AnthropicKey != "" {
		fwd = generation.NewAnthropicForwarder(cfg.Generation)
	}

	var notifier document.Notifier
	if cfg.Webhook.URL != "" {
		a.Webhook = webhook.NewDispatcher(cfg.Webhook.URL, cfg.Webhook.Secret)
		notifier = a.Webhook
	}

	a.Service = document.NewService(document.Deps{
		Pipeline:  rag.NewPipeline(embedder, index, locker, rag.OptionsFromConfig(cfg.Ingestion)),
		Retriever: rag.NewRetriever(embedder, index),
		Index:     index,
		Files:     files,
		Reports:   reports,
		Queue:     enq,
		Notifier:  notifier,
		Forwarder: fwd,
		Retrieval: cfg.Retrieval,
	})

	slog.Info("core ready",
		"vector_store", cfg.VectorStore.Backend,
		"embedding_provider", provider.Name(),
		"dimensions", embedder.Dimension(),
		"storage", cfg.Storage.Backend,
		"generation", fwd != nil,
	)
	return nil
}

func (a *App) openIndex(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "memory":
		return vectorstore.NewMemoryStore(), nil
	case "sqlite":
		return vectorstore.NewSQLiteStore(cfg.VectorStore.SQLitePath)
	case "pgvector":
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = pool
		if err := database.RunMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return vectorstore.NewPgVectorStore(pool), nil
	default:
		return nil, fmt.Errorf("vector store %q not supported", cfg.VectorStore.Backend)
	}
}

// Checks lists the dependencies /readyz probes.
func (a *App) Checks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if a.DB != nil {
		checks["database"] = a.DB.Ping
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.Index != nil {
		checks["vector_store"] = func(ctx context.Context) error {
			_, err := a.Index.Dimension(ctx)
			return err
		}
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.Webhook != nil {
		errs = append(errs, a.Webhook.Close())
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return errors.Join(errs...)
}
