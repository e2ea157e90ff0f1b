package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDocument is returned for uploads rejected at validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrUnsupportedExtension is the ErrInvalidDocument raised for a file
	// type outside the upload policy.
	ErrUnsupportedExtension = fmt.Errorf("%w: file type not allowed", ErrInvalidDocument)
	// ErrProviderUnavailable marks a transient embedding provider failure.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrProviderRejected marks a malformed or empty provider response.
	ErrProviderRejected = errors.New("embedding provider rejected input")
	// ErrDimensionMismatch signals a provider/store misconfiguration. Never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIngestionInProgress is returned when the document is already being ingested.
	ErrIngestionInProgress = errors.New("ingestion in progress")
	ErrDocumentNotFound    = errors.New("document not found")
	// ErrInvalidQuery is returned for a blank question or missing course.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNoChunksEmbedded is returned when every chunk of a document was skipped.
	ErrNoChunksEmbedded = errors.New("no chunks embedded")
)

// Retryable reports whether err is worth retrying on the ingestion path.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrDimensionMismatch)
}
