package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/courseassist/internal/generation"
	"github.com/nikhilbhutani/courseassist/internal/models"
)

// msgBadExtension is shown for uploads outside the allowed file types.
const msgBadExtension = "You can't upload this type of file"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps the core error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, models.ErrInvalidDocument), errors.Is(err, models.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIngestionInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, generation.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrProviderRejected), errors.Is(err, models.ErrNoChunksEmbedded):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if errors.Is(err, models.ErrUnsupportedExtension) {
		return msgBadExtension
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err)})
}
