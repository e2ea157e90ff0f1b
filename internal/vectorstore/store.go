package vectorstore

import (
	"context"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// VectorStore is the course-partitioned chunk index. Every read is scoped to
// exactly one course.
type VectorStore interface {
	// UpsertDocument replaces every entry of documentID with entries in one
	// atomic step. Concurrent queries see either the old or the new set.
	UpsertDocument(ctx context.Context, documentID, courseID string, entries []models.IndexEntry) error
	// DeleteDocument removes every entry of documentID. Deleting an absent
	// document is not an error.
	DeleteDocument(ctx context.Context, documentID string) error
	// Query returns at most k entries of courseID ranked by descending cosine
	// similarity to vector.
	Query(ctx context.Context, courseID string, vector []float32, k int) ([]models.ScoredChunk, error)
	// Dimension returns the established vector length, 0 while unset.
	Dimension(ctx context.Context) (int, error)
	Close() error
}
