package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/models"
)

// Storage holds original upload bytes keyed by (courseID, filename).
type Storage interface {
	Upload(ctx context.Context, courseID, filename string, data io.Reader, contentType string) error
	// Download fails with models.ErrDocumentNotFound for an unknown key.
	Download(ctx context.Context, courseID, filename string) (io.ReadCloser, error)
	// Delete is idempotent.
	Delete(ctx context.Context, courseID, filename string) error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.UploadDir)
	case "supabase":
		return NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("storage backend %q not supported", cfg.Backend)
	}
}

// checkKey rejects keys that could escape their course folder.
func checkKey(courseID, filename string) error {
	for _, part := range []string{courseID, filename} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) || strings.ContainsRune(part, 0) {
			return fmt.Errorf("%w: bad storage key %q/%q", models.ErrInvalidDocument, courseID, filename)
		}
	}
	return nil
}

func objectPath(courseID, filename string) string {
	return url.PathEscape(courseID) + "/" + url.PathEscape(filename)
}
