package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "text-embedding-004"

type GeminiProvider struct {
	client *genai.Client
	model  string
	dims   *int32
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, dims int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	p := &GeminiProvider{client: client, model: model}
	if dims > 0 {
		d := int32(dims)
		p.dims = &d
	}
	return p, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	contents := make([]*genai.Content, 0, len(req.Input))
	for _, text := range req.Input {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}

	result, err := p.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: p.dims,
		TaskType:             "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, classifyGemini(err)
	}
	if result == nil {
		return nil, rejected(p.Name(), errors.New("empty response"))
	}

	embeddings := make([][]float32, 0, len(result.Embeddings))
	for _, e := range result.Embeddings {
		if e == nil {
			embeddings = append(embeddings, nil)
			continue
		}
		embeddings = append(embeddings, e.Values)
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: embeddings,
	}, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("gemini", apiErr.Code, err)
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) {
		return classifyStatus("gemini", apiPtr.Code, err)
	}
	return unavailable("gemini", err)
}
