package cache

import (
	"context"
	"errors"
	"time"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// ReportStore keeps the latest IngestReport per document.
type ReportStore struct {
	cache *Cache
	ttl   time.Duration
}

func NewReportStore(c *Cache, ttl time.Duration) *ReportStore {
	return &ReportStore{cache: c, ttl: ttl}
}

func reportKey(documentID string) string {
	return "ingest:report:" + documentID
}

func (s *ReportStore) Save(ctx context.Context, r *models.IngestReport) error {
	return s.cache.Set(ctx, reportKey(r.DocumentID), r, s.ttl)
}

// Load returns models.ErrDocumentNotFound when no report is recorded.
func (s *ReportStore) Load(ctx context.Context, documentID string) (*models.IngestReport, error) {
	var r models.IngestReport
	if err := s.cache.Get(ctx, reportKey(documentID), &r); err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *ReportStore) Delete(ctx context.Context, documentID string) error {
	return s.cache.Delete(ctx, reportKey(documentID))
}
