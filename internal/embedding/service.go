package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nikhilbhutani/courseassist/internal/llm"
	"github.com/nikhilbhutani/courseassist/internal/models"
)

// maxBatch is the largest input list sent to a provider in one request.
const maxBatch = 100

// Service is the only path from the core to an embedding provider. It does
// not retry; callers own the retry policy.
type Service struct {
	provider llm.Provider
	model    string
	dims     atomic.Int64
}

// NewService wraps provider. When dims is zero the dimensionality is
// established by the first successful response.
func NewService(provider llm.Provider, model string, dims int) *Service {
	s := &Service{provider: provider, model: model}
	s.dims.Store(int64(dims))
	return s
}

// Dimension returns the established dimensionality, or 0 before the first
// vector has been seen.
func (s *Service) Dimension() int {
	return int(s.dims.Load())
}

// Establish pins the dimensionality to dims, typically the dimension a
// vector store already holds. It fails if a different one is already set.
func (s *Service) Establish(dims int) error {
	if dims <= 0 {
		return nil
	}
	if s.dims.CompareAndSwap(0, int64(dims)) {
		return nil
	}
	if cur := s.Dimension(); cur != dims {
		return fmt.Errorf("%w: provider produces %d, store holds %d", models.ErrDimensionMismatch, cur, dims)
	}
	return nil
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatch {
		end := min(i+maxBatch, len(texts))
		vecs, err := s.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/maxBatch, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := s.provider.GenerateEmbedding(ctx, llm.EmbeddingRequest{
		Model: s.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d inputs",
			models.ErrProviderRejected, s.provider.Name(), got, len(texts))
	}

	for i, v := range resp.Embeddings {
		if err := s.check(v); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	return resp.Embeddings, nil
}

var errEmptyVector = errors.New("empty vector")

func (s *Service) check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: %w", models.ErrProviderRejected, errEmptyVector)
	}
	n := int64(len(v))
	if s.dims.CompareAndSwap(0, n) {
		return nil
	}
	if want := s.dims.Load(); want != n {
		return fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, n, want)
	}
	return nil
}
