package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	"github.com/nikhilbhutani/courseassist/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_entries (
	document_id  TEXT    NOT NULL,
	chunk_index  INTEGER NOT NULL,
	course_id    TEXT    NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	content      TEXT    NOT NULL,
	token_count  INTEGER NOT NULL DEFAULT 0,
	embedding    BLOB    NOT NULL,
	PRIMARY KEY (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_index_entries_course ON index_entries (course_id);
CREATE TABLE IF NOT EXISTS vector_store_meta (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	dimension INTEGER NOT NULL
);
`

// SQLiteStore is a single-file durable index. Queries scan the course
// partition and score in Go.
//
// Writes go through a single connection so replace transactions never hit
// SQLITE_BUSY. Reads use their own read-only pool; under WAL they see the
// last committed state and never wait on a writer.
type SQLiteStore struct {
	writer *sql.DB
	reader *sql.DB
}

const sqliteReaders = 4

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	writer, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(sqliteSchema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	reader, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader %s: %w", path, err)
	}
	reader.SetMaxOpenConns(sqliteReaders)

	return &SQLiteStore{writer: writer, reader: reader}, nil
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, documentID, courseID string, entries []models.IndexEntry) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if len(entries) > 0 {
		dims, err := dimensionOf(ctx, tx)
		if err != nil {
			return err
		}
		if dims, err = checkEntries(dims, entries); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vector_store_meta (id, dimension) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`, dims,
		); err != nil {
			return fmt.Errorf("init dimension: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clear document %s: %w", documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO index_entries (document_id, chunk_index, course_id, start_offset, end_offset, content, token_count, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range stamp(documentID, courseID, entries) {
		if _, err := stmt.ExecContext(ctx,
			e.Chunk.DocumentID, e.Chunk.Index, e.CourseID, e.Chunk.Start, e.Chunk.End, e.Chunk.Text, e.Chunk.TokenCount,
			encodeVector(e.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", e.Chunk.Index, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.writer.ExecContext(ctx, `DELETE FROM index_entries WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, courseID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	dims, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(dims, len(vector)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.reader.QueryContext(ctx,
		`SELECT document_id, chunk_index, course_id, start_offset, end_offset, content, token_count, embedding
		 FROM index_entries
		 WHERE course_id = ?`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	qn := norm(vector)
	var results []models.ScoredChunk
	for rows.Next() {
		var (
			r    models.ScoredChunk
			blob []byte
		)
		if err := rows.Scan(
			&r.Chunk.DocumentID, &r.Chunk.Index, &r.CourseID, &r.Chunk.Start, &r.Chunk.End,
			&r.Chunk.Text, &r.Chunk.TokenCount, &blob,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s/%d: %w", r.Chunk.DocumentID, r.Chunk.Index, err)
		}
		if err := checkDimension(dims, len(v)); err != nil {
			return nil, err
		}
		r.Score = cosine(vector, qn, v, norm(v))
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return topK(results, k), nil
}

func (s *SQLiteStore) Dimension(ctx context.Context) (int, error) {
	return dimensionOf(ctx, s.reader)
}

func (s *SQLiteStore) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dimensionOf(ctx context.Context, q queryRower) (int, error) {
	var dims int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM vector_store_meta WHERE id = 1`).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return dims, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
