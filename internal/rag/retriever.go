package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nikhilbhutani/courseassist/internal/metrics"
	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/internal/vectorstore"
)

// contextSeparator joins chunk texts in an assembled context. It counts
// toward the size limit.
const contextSeparator = "\n\n"

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	embedder QueryEmbedder
	store    vectorstore.VectorStore
}

func NewRetriever(embedder QueryEmbedder, store vectorstore.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds question, ranks courseID's chunks against it and packs the
// best into a context of at most maxContextSize characters. The embed call
// is not retried; provider errors are returned as they are.
func (r *Retriever) Retrieve(ctx context.Context, courseID, question string, k, maxContextSize int) (*models.RetrievalResult, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("%w: missing course", models.ErrInvalidQuery)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", models.ErrInvalidQuery)
	}

	start := time.Now()
	result, err := r.retrieve(ctx, courseID, question, k, maxContextSize)
	if err != nil {
		metrics.ObserveRetrieval("error", time.Since(start), 0)
		return nil, err
	}
	metrics.ObserveRetrieval("ok", time.Since(start), result.Used)
	return result, nil
}

func (r *Retriever) retrieve(ctx context.Context, courseID, question string, k, maxContextSize int) (*models.RetrievalResult, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	chunks, err := r.store.Query(ctx, courseID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	text, used := AssembleContext(chunks, maxContextSize)
	return &models.RetrievalResult{
		CourseID: courseID,
		Question: question,
		Chunks:   chunks,
		Context:  text,
		Used:     used,
	}, nil
}

// AssembleContext concatenates chunk texts in the given order and stops at
// the first chunk that would push the size past maxSize. It returns the
// context and how many chunks it holds. Sizes are in characters.
func AssembleContext(chunks []models.ScoredChunk, maxSize int) (string, int) {
	var (
		sb   strings.Builder
		size int
		used int
	)
	for _, c := range chunks {
		n := utf8.RuneCountInString(c.Chunk.Text)
		if used > 0 {
			n += len(contextSeparator)
		}
		if size+n > maxSize {
			break
		}
		if used > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(c.Chunk.Text)
		size += n
		used++
	}
	return sb.String(), used
}
