package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/generation"
	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/rag"
	"github.com/nikhilbhutani/courseassist/internal/storage"
	"github.com/nikhilbhutani/courseassist/internal/vectorstore"
	"github.com/nikhilbhutani/courseassist/pkg/textextract"
)

// ReportStore keeps the latest ingestion report per document.
type ReportStore interface {
	Save(ctx context.Context, r *models.IngestReport) error
	Load(ctx context.Context, documentID string) (*models.IngestReport, error)
	Delete(ctx context.Context, documentID string) error
}

// Enqueuer schedules background ingestion of a stored upload.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, courseID, filename string) (string, error)
}

// Notifier is told about background ingestions that finished.
type Notifier interface {
	NotifyIngest(report *models.IngestReport)
}

// Deps wires a Service. Reports, Queue, Notifier and Forwarder are optional.
type Deps struct {
	Pipeline  *rag.Pipeline
	Retriever *rag.Retriever
	Index     vectorstore.VectorStore
	Files     storage.Storage
	Reports   ReportStore
	Queue     Enqueuer
	Notifier  Notifier
	Forwarder generation.Forwarder
	Retrieval config.RetrievalConfig
}

// Service is the entry point the web layer and the worker call into.
type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	if deps.Retrieval.TopK <= 0 {
		deps.Retrieval.TopK = 5
	}
	if deps.Retrieval.MaxContextSize <= 0 {
		deps.Retrieval.MaxContextSize = 4000
	}
	return &Service{Deps: deps}
}

type QueuedDocument struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id"`
}

type QuestionResult struct {
	Retrieval *models.RetrievalResult `json:"retrieval"`
	Answer    *generation.Answer      `json:"answer,omitempty"`
}

func newDocument(courseID, filename string, content []byte) models.Document {
	doc := models.NewDocument(courseID, filename, content)
	doc.ContentType = mime.TypeByExtension(textextract.ExtensionOf(filename))
	return doc
}

// SubmitDocument stores the upload and indexes it before returning. The
// document's guard is held from the write of the raw bytes until the index
// swap, so a rejected concurrent submission leaves both untouched.
func (s *Service) SubmitDocument(ctx context.Context, courseID, filename string, content []byte) (*models.IngestReport, error) {
	doc := newDocument(courseID, filename, content)
	if err := s.Pipeline.Validate(doc); err != nil {
		report := models.NewIngestReport(doc)
		report.Fail(err)
		return report, err
	}

	release, err := s.Pipeline.Guard(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.store(ctx, doc); err != nil {
		return nil, err
	}

	report, err := s.Pipeline.IngestHeld(ctx, doc)
	s.saveReport(ctx, report)
	return report, err
}

// SubmitDocumentAsync validates and stores the upload, then leaves the
// ingestion to a worker. The received report is saved before the task is
// queued so a fast worker's report is never overwritten by it.
func (s *Service) SubmitDocumentAsync(ctx context.Context, courseID, filename string, content []byte) (*QueuedDocument, error) {
	if s.Queue == nil {
		return nil, errors.New("async ingestion is not configured")
	}

	doc := newDocument(courseID, filename, content)
	if err := s.Pipeline.Validate(doc); err != nil {
		return nil, err
	}

	release, err := s.Pipeline.Guard(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	report := models.NewIngestReport(doc)
	err = s.store(ctx, doc)
	if err == nil {
		s.saveReport(ctx, report)
	}
	// The worker takes the guard itself.
	release()
	if err != nil {
		return nil, err
	}

	taskID, err := s.Queue.EnqueueIngest(ctx, courseID, filename)
	if err != nil {
		err = fmt.Errorf("enqueue ingestion: %w", err)
		report.Fail(err)
		s.saveReport(ctx, report)
		return nil, err
	}
	return &QueuedDocument{DocumentID: doc.ID, TaskID: taskID}, nil
}

// IngestStored re-reads a stored upload and runs it through the pipeline.
func (s *Service) IngestStored(ctx context.Context, courseID, filename string) (*models.IngestReport, error) {
	rc, err := s.Files.Download(ctx, courseID, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored upload: %w", err)
	}

	report, err := s.Pipeline.Ingest(ctx, newDocument(courseID, filename, content))
	s.saveReport(ctx, report)
	if s.Notifier != nil && report != nil {
		s.Notifier.NotifyIngest(report)
	}
	return report, err
}

// SubmitQuestion assembles the course context for question and, when a
// forwarder is configured, the generated answer. An empty context is not
// forwarded.
func (s *Service) SubmitQuestion(ctx context.Context, courseID, question string) (*QuestionResult, error) {
	res, err := s.Retriever.Retrieve(ctx, courseID, question, s.Retrieval.TopK, s.Retrieval.MaxContextSize)
	if err != nil {
		return nil, err
	}

	out := &QuestionResult{Retrieval: res}
	if s.Forwarder == nil || res.Used == 0 {
		return out, nil
	}

	ans, err := s.Forwarder.Answer(ctx, question, res.Context)
	if err != nil {
		return out, fmt.Errorf("forward question: %w", err)
	}
	out.Answer = ans
	return out, nil
}

// DeleteDocument removes the index entries and then the stored upload. Both
// steps are idempotent; the call only succeeds when both do, so a failed
// delete is safe to repeat.
func (s *Service) DeleteDocument(ctx context.Context, courseID, filename string) error {
	documentID := models.DocumentID(courseID, filename)

	release, err := s.Pipeline.Guard(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	if err := s.Index.DeleteDocument(ctx, documentID); err != nil {
		errs = append(errs, fmt.Errorf("delete index entries: %w", err))
	}
	if err := s.Files.Delete(ctx, courseID, filename); err != nil {
		errs = append(errs, fmt.Errorf("delete stored upload: %w", err))
	}
	if len(errs) > 0 {
		slog.Error("document deletion incomplete", "document_id", documentID, "course_id", courseID, "error", errors.Join(errs...))
		return errors.Join(errs...)
	}

	if s.Reports != nil {
		if err := s.Reports.Delete(ctx, documentID); err != nil {
			slog.Warn("drop ingestion report", "document_id", documentID, "error", err)
		}
	}
	slog.Info("document deleted", "document_id", documentID, "course_id", courseID)
	return nil
}

func (s *Service) Download(ctx context.Context, courseID, filename string) (io.ReadCloser, error) {
	return s.Files.Download(ctx, courseID, filename)
}

// Report returns the latest ingestion report of (courseID, filename).
func (s *Service) Report(ctx context.Context, courseID, filename string) (*models.IngestReport, error) {
	if s.Reports == nil {
		return nil, models.ErrDocumentNotFound
	}
	return s.Reports.Load(ctx, models.DocumentID(courseID, filename))
}

func (s *Service) store(ctx context.Context, doc models.Document) error {
	if err := s.Files.Upload(ctx, doc.CourseID, doc.Filename, bytes.NewReader(doc.Content), doc.ContentType); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

func (s *Service) saveReport(ctx context.Context, report *models.IngestReport) {
	if s.Reports == nil || report == nil {
		return
	}
	if err := s.Reports.Save(context.WithoutCancel(ctx), report); err != nil {
		slog.Warn("save ingestion report", "document_id", report.DocumentID, "error", err)
	}
}
