package models

import (
	"time"

	"github.com/google/uuid"
)

// documentNamespace scopes the name-based document ids so the same
// (course, filename) pair always maps to the same id.
var documentNamespace = uuid.MustParse("6f1d8f86-3c3e-4c0b-9f0e-2b8b3a7d5e11")

// DocumentID derives the stable id of the document identified by
// (courseID, filename).
func DocumentID(courseID, filename string) string {
	return uuid.NewSHA1(documentNamespace, []byte(courseID+"/"+filename)).String()
}

type Document struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	Content     []byte    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// NewDocument builds a Document with its derived id.
func NewDocument(courseID, filename string, content []byte) Document {
	return Document{
		ID:         DocumentID(courseID, filename),
		CourseID:   courseID,
		Filename:   filename,
		Content:    content,
		UploadedAt: time.Now().UTC(),
	}
}

// Chunk is a span of a document's extracted text. Start and End are
// character offsets into that text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count,omitempty"`
}

// IndexEntry is the persisted (course, chunk, embedding) triple. It is keyed
// by (DocumentID, Chunk.Index).
type IndexEntry struct {
	CourseID  string
	Chunk     Chunk
	Embedding []float32
}

type ScoredChunk struct {
	CourseID string  `json:"course_id"`
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
}

// RetrievalResult is the ranked chunk list for one question plus the context
// assembled from it.
type RetrievalResult struct {
	CourseID string        `json:"course_id"`
	Question string        `json:"question"`
	Chunks   []ScoredChunk `json:"chunks"`
	Context  string        `json:"context"`
	// Used counts the leading Chunks that made it into Context.
	Used int `json:"used"`
}
