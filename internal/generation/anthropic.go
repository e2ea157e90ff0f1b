package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nikhilbhutani/courseassist/internal/config"
)

// ErrUnavailable marks a generation failure worth retrying later.
var ErrUnavailable = errors.New("generation service unavailable")

const systemPrompt = `You are a course assistant. Answer the student's question using only the course material below.
If the material does not contain the answer, say that you don't know.`

// Forwarder hands an assembled context and question to an answer service.
type Forwarder interface {
	Answer(ctx context.Context, question, contextText string) (*Answer, error)
}

type Answer struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type AnthropicForwarder struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicForwarder(cfg config.GenerationConfig, opts ...option.RequestOption) *AnthropicForwarder {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.AnthropicKey)}, opts...)
	return &AnthropicForwarder{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (f *AnthropicForwarder) Answer(ctx context.Context, question, contextText string) (*Answer, error) {
	prompt := fmt.Sprintf("Course material:\n%s\n\nQuestion: %s", contextText, question)

	resp, err := f.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(f.model),
		MaxTokens: f.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("anthropic answer: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Answer{
		Text:         sb.String(),
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
