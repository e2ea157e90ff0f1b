package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/queue"
)

// Ingester runs a stored upload through the ingestion pipeline.
type Ingester interface {
	IngestStored(ctx context.Context, courseID, filename string) (*models.IngestReport, error)
}

type DocumentWorker struct {
	ingester Ingester
}

func NewDocumentWorker(ingester Ingester) *DocumentWorker {
	return &DocumentWorker{ingester: ingester}
}

// ProcessTask handles queue.TypeDocumentIngest. Failures no retry can fix
// are returned wrapped in asynq.SkipRetry; a concurrent ingestion or an
// outage is retried with asynq's backoff.
func (w *DocumentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseIngestPayload(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	report, err := w.ingester.IngestStored(ctx, payload.CourseID, payload.Filename)
	switch {
	case err == nil:
		slog.Info("queued document indexed",
			"document_id", report.DocumentID,
			"embedded", report.Embedded,
			"skipped", len(report.Skipped()),
		)
		return nil
	case errors.Is(err, models.ErrInvalidDocument),
		errors.Is(err, models.ErrDocumentNotFound),
		errors.Is(err, models.ErrDimensionMismatch):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
