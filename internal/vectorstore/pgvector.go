package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// PgVectorStore keeps the index in Postgres. The schema lives in the
// database package migrations.
type PgVectorStore struct {
	db   *pgxpool.Pool
	dims atomic.Int64
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) UpsertDocument(ctx context.Context, documentID, courseID string, entries []models.IndexEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(entries) > 0 {
		// The meta row lock serializes first writers racing to set the dimension.
		if _, err := tx.Exec(ctx,
			`INSERT INTO vector_store_meta (id, dimension) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
			len(entries[0].Embedding),
		); err != nil {
			return fmt.Errorf("init dimension: %w", err)
		}
		var dims int
		if err := tx.QueryRow(ctx, `SELECT dimension FROM vector_store_meta WHERE id = 1 FOR SHARE`).Scan(&dims); err != nil {
			return fmt.Errorf("read dimension: %w", err)
		}
		if _, err := checkEntries(dims, entries); err != nil {
			return err
		}
		s.dims.Store(int64(dims))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM index_entries WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear document %s: %w", documentID, err)
	}

	batch := &pgx.Batch{}
	for _, e := range stamp(documentID, courseID, entries) {
		batch.Queue(
			`INSERT INTO index_entries (document_id, chunk_index, course_id, start_offset, end_offset, content, token_count, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.Chunk.DocumentID, e.Chunk.Index, e.CourseID, e.Chunk.Start, e.Chunk.End, e.Chunk.Text, e.Chunk.TokenCount,
			pgvector.NewVector(e.Embedding),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM index_entries WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (s *PgVectorStore) Query(ctx context.Context, courseID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	dims, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(dims, len(vector)); err != nil {
		return nil, err
	}
	if k <= 0 || dims == 0 {
		return nil, nil
	}

	// course_id is part of the only statement that reads entries. <=> is NaN
	// when either side is a zero vector; that scores 0 like the other stores.
	rows, err := s.db.Query(ctx,
		`SELECT document_id, chunk_index, course_id, start_offset, end_offset, content, token_count,
		        COALESCE(NULLIF(1 - (embedding <=> $2), 'NaN'::float8), 0) AS score
		 FROM index_entries
		 WHERE course_id = $1
		 ORDER BY score DESC, document_id, chunk_index
		 LIMIT $3`,
		courseID, pgvector.NewVector(vector), k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var r models.ScoredChunk
		if err := rows.Scan(
			&r.Chunk.DocumentID, &r.Chunk.Index, &r.CourseID, &r.Chunk.Start, &r.Chunk.End,
			&r.Chunk.Text, &r.Chunk.TokenCount, &r.Score,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return results, nil
}

func (s *PgVectorStore) Dimension(ctx context.Context) (int, error) {
	if d := s.dims.Load(); d > 0 {
		return int(d), nil
	}
	var dims int
	err := s.db.QueryRow(ctx, `SELECT dimension FROM vector_store_meta WHERE id = 1`).Scan(&dims)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	s.dims.Store(int64(dims))
	return dims, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PgVectorStore) Close() error { return nil }
