package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/config"
)

func testConfig() config.GenerationConfig {
	return config.GenerationConfig{AnthropicKey: "test-key", Model: "claude-sonnet-4-20250514", MaxTokens: 256}
}

func TestAnthropicForwarder_Answer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Contains(t, mustJSON(t, msgs[0]), "Office hours are Monday")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",
			"content":[{"type":"text","text":"Monday."}],"stop_reason":"end_turn",
			"usage":{"input_tokens":12,"output_tokens":2}}`))
	}))
	defer srv.Close()

	f := NewAnthropicForwarder(testConfig(), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	ans, err := f.Answer(context.Background(), "When are office hours?", "Office hours are Monday")
	require.NoError(t, err)
	assert.Equal(t, "Monday.", ans.Text)
	assert.Equal(t, 12, ans.InputTokens)
}

func TestAnthropicForwarder_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer srv.Close()

	f := NewAnthropicForwarder(testConfig(), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := f.Answer(context.Background(), "q", "ctx")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAnthropicForwarder_BadRequestIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	f := NewAnthropicForwarder(testConfig(), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := f.Answer(context.Background(), "q", "ctx")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
