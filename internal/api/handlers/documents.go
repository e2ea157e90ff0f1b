package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/courseassist/internal/document"
	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/tenant"
	"github.com/nikhilbhutani/courseassist/pkg/textextract"
)

// DocumentService is what the document routes need from document.Service.
type DocumentService interface {
	SubmitDocument(ctx context.Context, courseID, filename string, content []byte) (*models.IngestReport, error)
	SubmitDocumentAsync(ctx context.Context, courseID, filename string, content []byte) (*document.QueuedDocument, error)
	DeleteDocument(ctx context.Context, courseID, filename string) error
	Download(ctx context.Context, courseID, filename string) (io.ReadCloser, error)
	Report(ctx context.Context, courseID, filename string) (*models.IngestReport, error)
}

type DocumentHandler struct {
	svc       DocumentService
	maxUpload int64
	async     bool
}

// NewDocumentHandler builds the document routes. maxUpload is in bytes;
// async makes background ingestion the default for uploads.
func NewDocumentHandler(svc DocumentService, maxUpload int64, async bool) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &DocumentHandler{svc: svc, maxUpload: maxUpload, async: async}
}

// Upload accepts a multipart "file" field. With ?async=true (or async by
// default) it answers 202 once the file is stored and queued; otherwise it
// answers with the finished ingestion report.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	courseID := tenant.CourseFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file required", models.ErrInvalidDocument))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read file"})
		return
	}

	async := h.async
	if v := r.URL.Query().Get("async"); v != "" {
		async, _ = strconv.ParseBool(v)
	}

	if async {
		queued, err := h.svc.SubmitDocumentAsync(r.Context(), courseID, header.Filename, content)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"filename": header.Filename, "queued": queued})
		return
	}

	report, err := h.svc.SubmitDocument(r.Context(), courseID, header.Filename, content)
	if err != nil {
		status := statusFor(err)
		if report == nil || status == http.StatusBadRequest || status == http.StatusConflict {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, map[string]any{"error": errorMessage(err), "report": report})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Download streams the original upload back.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	courseID := tenant.CourseFromContext(r.Context())
	filename := chi.URLParam(r, "filename")

	rc, err := h.svc.Download(r.Context(), courseID, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(textextract.ExtensionOf(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("download interrupted", "course_id", courseID, "filename", filename, "error", err)
	}
}

// Report returns the latest ingestion report, which lists skipped chunks.
func (h *DocumentHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), tenant.CourseFromContext(r.Context()), chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Delete removes the document from the index and the file store. A failure
// leaves the caller to retry.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	courseID := tenant.CourseFromContext(r.Context())
	filename := chi.URLParam(r, "filename")

	if err := h.svc.DeleteDocument(r.Context(), courseID, filename); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "deleted",
		"document_id": models.DocumentID(courseID, filename),
	})
}
