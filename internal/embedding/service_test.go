package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/llm"
	"github.com/nikhilbhutani/courseassist/internal/models"
)

type fakeProvider struct {
	OnGenerate func(req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error)
	calls      int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GenerateEmbedding(_ context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	f.calls++
	return f.OnGenerate(req)
}

// lengthVectors returns [len(text), 1] for every input.
func lengthVectors(req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	out := make([][]float32, len(req.Input))
	for i, t := range req.Input {
		out[i] = []float32{float32(len(t)), 1}
	}
	return &llm.EmbeddingResponse{Embeddings: out}, nil
}

func TestEmbed_EstablishesDimension(t *testing.T) {
	s := NewService(&fakeProvider{OnGenerate: lengthVectors}, "m", 0)
	assert.Equal(t, 0, s.Dimension())

	v, err := s.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v)
	assert.Equal(t, 2, s.Dimension())
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	s := NewService(&fakeProvider{OnGenerate: lengthVectors}, "m", 768)
	_, err := s.Embed(context.Background(), "abc")
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.False(t, models.Retryable(err))
}

func TestEmbed_EmptyResponseRejected(t *testing.T) {
	for name, resp := range map[string]*llm.EmbeddingResponse{
		"nil":          nil,
		"no vectors":   {},
		"empty vector": {Embeddings: [][]float32{{}}},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewService(&fakeProvider{OnGenerate: func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
				return resp, nil
			}}, "m", 0)
			_, err := s.Embed(context.Background(), "x")
			assert.ErrorIs(t, err, models.ErrProviderRejected)
		})
	}
}

func TestEmbed_PassesProviderErrorsThrough(t *testing.T) {
	cause := errors.Join(models.ErrProviderUnavailable, errors.New("dial tcp: refused"))
	p := &fakeProvider{OnGenerate: func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
		return nil, cause
	}}
	_, err := NewService(p, "m", 0).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Equal(t, 1, p.calls, "no retries inside the adapter")
}

func TestEmbedBatch_PreservesOrderAcrossRequests(t *testing.T) {
	p := &fakeProvider{OnGenerate: lengthVectors}
	s := NewService(p, "m", 0)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = string(make([]byte, i))
	}
	vecs, err := s.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 250)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}
	assert.Equal(t, 3, p.calls)
}

func TestEmbedBatch_CountMismatchRejected(t *testing.T) {
	p := &fakeProvider{OnGenerate: func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
		return &llm.EmbeddingResponse{Embeddings: [][]float32{{1}}}, nil
	}}
	_, err := NewService(p, "m", 0).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, models.ErrProviderRejected)
}

func TestEmbedBatch_Empty(t *testing.T) {
	p := &fakeProvider{OnGenerate: lengthVectors}
	vecs, err := NewService(p, "m", 0).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, p.calls)
}

func TestEstablish(t *testing.T) {
	s := NewService(&fakeProvider{OnGenerate: lengthVectors}, "m", 0)
	require.NoError(t, s.Establish(0))
	require.NoError(t, s.Establish(2))
	require.NoError(t, s.Establish(2))
	assert.ErrorIs(t, s.Establish(3), models.ErrDimensionMismatch)
}
