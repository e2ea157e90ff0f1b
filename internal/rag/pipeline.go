package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/metrics"
	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/vectorstore"
	"github.com/nikhilbhutani/courseassist/pkg/chunker"
	"github.com/nikhilbhutani/courseassist/pkg/textextract"
)

// Embedder is the slice of the embedding service the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Chunking          chunker.ChunkOptions
	AllowedExtensions []string
	// MaxAttempts bounds embedding calls per chunk, first try included.
	MaxAttempts int
	BackoffBase time.Duration
	Concurrency int
	// BatchSize > 1 sends chunks to the provider in groups.
	BatchSize int
}

func OptionsFromConfig(cfg config.IngestionConfig) Options {
	return Options{
		Chunking:          cfg.Chunking,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffBase:       cfg.BackoffBase,
		Concurrency:       cfg.Concurrency,
		BatchSize:         cfg.BatchSize,
	}
}

func (o Options) withDefaults() Options {
	if o.Chunking.ChunkSize == 0 {
		o.Chunking = chunker.DefaultOptions()
	}
	if len(o.AllowedExtensions) == 0 {
		o.AllowedExtensions = []string{".txt", ".pdf"}
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	return o
}

type Pipeline struct {
	embedder Embedder
	store    vectorstore.VectorStore
	locker   Locker
	chunker  chunker.Chunker
	opts     Options
}

func NewPipeline(embedder Embedder, store vectorstore.VectorStore, locker Locker, opts Options) *Pipeline {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Pipeline{
		embedder: embedder,
		store:    store,
		locker:   locker,
		chunker:  chunker.New(),
		opts:     opts.withDefaults(),
	}
}

// Guard takes the per-document ingestion lock. Operations that must not
// interleave with an ingestion, such as deletion, hold it.
func (p *Pipeline) Guard(ctx context.Context, documentID string) (func(), error) {
	return p.locker.Acquire(ctx, documentID)
}

// Validate checks doc against the upload policy without touching any state.
func (p *Pipeline) Validate(doc models.Document) error {
	if strings.TrimSpace(doc.CourseID) == "" {
		return fmt.Errorf("%w: missing course", models.ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Filename) == "" {
		return fmt.Errorf("%w: missing filename", models.ErrInvalidDocument)
	}
	ext := textextract.ExtensionOf(doc.Filename)
	if !slices.Contains(p.opts.AllowedExtensions, ext) || !slices.Contains(textextract.SupportedTypes(), ext) {
		return fmt.Errorf("%w: %q", models.ErrUnsupportedExtension, ext)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("%w: empty content", models.ErrInvalidDocument)
	}
	return nil
}

// Ingest runs doc through validate, extract, chunk, embed and index. Chunks
// whose embedding keeps failing are skipped and listed in the report; the
// document is still indexed on the rest. The returned error is the report's
// failure cause, nil when it reached StateIndexed.
//
// A concurrent ingestion of the same document fails fast with
// models.ErrIngestionInProgress and a nil report.
func (p *Pipeline) Ingest(ctx context.Context, doc models.Document) (*models.IngestReport, error) {
	return p.ingest(ctx, doc, true)
}

// IngestHeld is Ingest for a caller that already holds the document's Guard,
// so storing the upload and indexing it happen under one lock.
func (p *Pipeline) IngestHeld(ctx context.Context, doc models.Document) (*models.IngestReport, error) {
	return p.ingest(ctx, doc, false)
}

func (p *Pipeline) ingest(ctx context.Context, doc models.Document, guard bool) (*models.IngestReport, error) {
	if doc.ID == "" {
		doc.ID = models.DocumentID(doc.CourseID, doc.Filename)
	}
	report := models.NewIngestReport(doc)
	log := slog.With("document_id", doc.ID, "course_id", doc.CourseID, "filename", doc.Filename)

	if err := p.Validate(doc); err != nil {
		return p.finish(report, err, log)
	}

	if guard {
		release, err := p.locker.Acquire(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	report.Advance(models.StateValidated)

	extracted, err := textextract.ExtractBytes(doc.Content, textextract.ExtensionOf(doc.Filename))
	if err != nil {
		return p.finish(report, fmt.Errorf("%w: extract text: %w", models.ErrInvalidDocument, err), log)
	}
	if strings.TrimSpace(extracted.Content) == "" {
		return p.finish(report, fmt.Errorf("%w: no extractable text", models.ErrInvalidDocument), log)
	}

	chunks, err := ChunkDocument(p.chunker, doc.ID, extracted.Content, p.opts.Chunking)
	if err != nil {
		return p.finish(report, fmt.Errorf("chunk: %w", err), log)
	}
	report.ChunkCount = len(chunks)
	report.Advance(models.StateChunked)

	report.Advance(models.StateEmbedding)
	vectors, outcomes, err := p.embedChunks(ctx, chunks)
	report.Outcomes = outcomes
	if err != nil {
		return p.finish(report, err, log)
	}

	entries := make([]models.IndexEntry, 0, len(chunks))
	for i, c := range chunks {
		if vectors[i] != nil {
			entries = append(entries, models.IndexEntry{CourseID: doc.CourseID, Chunk: c, Embedding: vectors[i]})
		}
	}
	report.Embedded = len(entries)
	if len(entries) == 0 {
		return p.finish(report, models.ErrNoChunksEmbedded, log)
	}

	// Past this point the swap runs to completion; before it, cancellation
	// discards the work.
	if err := ctx.Err(); err != nil {
		return p.finish(report, fmt.Errorf("ingestion cancelled: %w", err), log)
	}
	if err := p.store.UpsertDocument(context.WithoutCancel(ctx), doc.ID, doc.CourseID, entries); err != nil {
		return p.finish(report, fmt.Errorf("index document: %w", err), log)
	}

	report.Advance(models.StateIndexed)
	return p.finish(report, nil, log)
}

func (p *Pipeline) finish(report *models.IngestReport, err error, log *slog.Logger) (*models.IngestReport, error) {
	if err != nil {
		report.Fail(err)
		log.Warn("ingestion failed", "state", report.History[len(report.History)-2], "error", err)
	} else {
		log.Info("document indexed",
			"chunks", report.ChunkCount,
			"embedded", report.Embedded,
			"skipped", len(report.Skipped()),
		)
	}
	metrics.ObserveIngestion(string(report.State))
	return report, err
}

// embedChunks embeds every chunk under the concurrency limit. A nil vector
// marks a skipped chunk. Only fatal errors are returned: dimension mismatch
// or cancellation.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, []models.ChunkOutcome, error) {
	vectors := make([][]float32, len(chunks))
	outcomes := make([]models.ChunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		batch := chunks[start:min(start+p.opts.BatchSize, len(chunks))]
		g.Go(func() error {
			if len(batch) > 1 {
				done, err := p.embedBatch(gctx, batch, vectors, outcomes)
				if done || err != nil {
					return err
				}
			}
			for _, c := range batch {
				if err := p.embedOne(gctx, c, vectors, outcomes); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, outcomes, err
	}
	return vectors, outcomes, nil
}

// embedBatch tries one provider call for the whole batch. It reports false
// when the caller should fall back to embedding chunk by chunk. A provider
// that stayed unavailable for every attempt has used up the batch's retry
// budget, so its chunks are skipped rather than retried one by one.
func (p *Pipeline) embedBatch(ctx context.Context, batch []models.Chunk, vectors [][]float32, outcomes []models.ChunkOutcome) (bool, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var vecs [][]float32
	attempts, err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = p.embedder.EmbedBatch(ctx, texts)
		return err
	})

	switch {
	case err == nil:
		for i, c := range batch {
			vectors[c.Index] = vecs[i]
			outcomes[c.Index] = models.ChunkOutcome{Index: c.Index, Kind: models.OutcomeEmbedded, Attempts: attempts}
		}
		return true, nil
	case errors.Is(err, models.ErrDimensionMismatch):
		return false, fmt.Errorf("embed chunks %d-%d: %w", batch[0].Index, batch[len(batch)-1].Index, err)
	case ctx.Err() != nil:
		return false, fmt.Errorf("embed chunks %d-%d: %w", batch[0].Index, batch[len(batch)-1].Index, ctx.Err())
	case errors.Is(err, models.ErrProviderUnavailable):
		for _, c := range batch {
			outcomes[c.Index] = models.ChunkOutcome{Index: c.Index, Kind: models.OutcomeSkipped, Attempts: attempts, Reason: err.Error()}
			metrics.ObserveSkippedChunk(skipReason(err))
		}
		slog.Warn("batch skipped", "document_id", batch[0].DocumentID,
			"first_chunk", batch[0].Index, "size", len(batch), "attempts", attempts, "error", err)
		return true, nil
	}

	slog.Debug("batch embedding failed, falling back to single chunks",
		"first_chunk", batch[0].Index, "size", len(batch), "attempts", attempts, "error", err)
	return false, nil
}

func (p *Pipeline) embedOne(ctx context.Context, c models.Chunk, vectors [][]float32, outcomes []models.ChunkOutcome) error {
	var vec []float32
	attempts, err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		vec, err = p.embedder.Embed(ctx, c.Text)
		return err
	})

	switch {
	case err == nil:
		vectors[c.Index] = vec
		outcomes[c.Index] = models.ChunkOutcome{Index: c.Index, Kind: models.OutcomeEmbedded, Attempts: attempts}
		return nil
	case errors.Is(err, models.ErrDimensionMismatch):
		return fmt.Errorf("embed chunk %d: %w", c.Index, err)
	case ctx.Err() != nil:
		return fmt.Errorf("embed chunk %d: %w", c.Index, ctx.Err())
	}

	outcomes[c.Index] = models.ChunkOutcome{Index: c.Index, Kind: models.OutcomeSkipped, Attempts: attempts, Reason: err.Error()}
	metrics.ObserveSkippedChunk(skipReason(err))
	slog.Warn("chunk skipped", "document_id", c.DocumentID, "chunk_index", c.Index, "attempts", attempts, "error", err)
	return nil
}

// retry calls fn until it succeeds, fails with a non-retryable error or
// MaxAttempts is reached. Backoff grows quadratically with the attempt.
func (p *Pipeline) retry(ctx context.Context, fn func(context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		metrics.ObserveEmbedAttempt(err == nil)
		if err == nil || !models.Retryable(err) || attempt >= p.opts.MaxAttempts {
			return attempt, err
		}

		backoff := time.Duration(attempt*attempt) * p.opts.BackoffBase
		slog.Debug("retrying embedding call", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, models.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrProviderRejected):
		return "rejected"
	default:
		return "other"
	}
}
