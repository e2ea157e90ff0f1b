package rag

import (
	"github.com/nikhilbhutani/courseassist/internal/models"
	"github.com/nikhilbhutani/courseassist/pkg/chunker"
	"github.com/nikhilbhutani/courseassist/pkg/tokenizer"
)

// ChunkDocument splits text into the chunk sequence of documentID.
func ChunkDocument(c chunker.Chunker, documentID, text string, opts chunker.ChunkOptions) ([]models.Chunk, error) {
	spans, err := c.Chunk(text, opts)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = models.Chunk{
			DocumentID: documentID,
			Index:      s.Index,
			Start:      s.Start,
			End:        s.End,
			Text:       s.Content,
			TokenCount: tokenizer.CountTokens(s.Content),
		}
	}
	return chunks, nil
}
