package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

func TestDispatcher_DeliversSignedReport(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "s3cret")
	report := models.NewIngestReport(models.NewDocument("CS009A", "week1.txt", []byte("x")))
	report.Advance(models.StateIndexed)

	d.NotifyIngest(report)
	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, body)
	assert.Equal(t, EventIngestFinished, headers.Get("X-Webhook-Event"))
	assert.Equal(t, Sign(body, "s3cret"), headers.Get("X-Webhook-Signature"))
	assert.NotEmpty(t, headers.Get("X-Webhook-ID"))

	var got models.IngestReport
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, report.DocumentID, got.DocumentID)
	assert.Equal(t, models.StateIndexed, got.State)
}

func TestDispatcher_NoSecretNoSignature(t *testing.T) {
	var (
		mu  sync.Mutex
		sig = "unset"
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sig = r.Header.Get("X-Webhook-Signature")
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "")
	d.NotifyIngest(models.NewIngestReport(models.NewDocument("CS009A", "week1.txt", nil)))
	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, sig)
}

func TestSign(t *testing.T) {
	assert.Equal(t, Sign([]byte("a"), "k"), Sign([]byte("a"), "k"))
	assert.NotEqual(t, Sign([]byte("a"), "k"), Sign([]byte("a"), "other"))
	assert.Contains(t, Sign([]byte("a"), "k"), "sha256=")
}
