package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "cs009a", "test.txt", strings.NewReader("Test file for CS009A"), "text/plain"))
	_, err = os.Stat(filepath.Join(root, "cs009a", "test.txt"))
	require.NoError(t, err)

	rc, err := s.Download(ctx, "cs009a", "test.txt")
	require.NoError(t, err)
	assert.Equal(t, "Test file for CS009A", readAll(t, rc))

	require.NoError(t, s.Upload(ctx, "cs009a", "test.txt", strings.NewReader("v2"), "text/plain"))
	rc, err = s.Download(ctx, "cs009a", "test.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", readAll(t, rc))

	require.NoError(t, s.Delete(ctx, "cs009a", "test.txt"))
	require.NoError(t, s.Delete(ctx, "cs009a", "test.txt"))
	_, err = s.Download(ctx, "cs009a", "test.txt")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"../escape.txt", "a/b.txt", "..", ""} {
		err := s.Upload(context.Background(), "c", name, strings.NewReader("x"), "")
		assert.ErrorIs(t, err, models.ErrInvalidDocument, name)
	}
	_, err = s.Download(context.Background(), "..", "x.txt")
	assert.ErrorIs(t, err, models.ErrInvalidDocument)
}

func TestSupabaseStorage(t *testing.T) {
	var (
		mu      sync.Mutex
		objects = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		key := strings.TrimPrefix(r.URL.EscapedPath(), "/storage/v1/object/documents/")

		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			b, _ := io.ReadAll(r.Body)
			objects[key] = string(b)
		case http.MethodGet:
			body, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(body))
		case http.MethodDelete:
			if _, ok := objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(objects, key)
		}
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "service-key", "documents")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "cs009a", "week 1.pdf", strings.NewReader("%PDF"), "application/pdf"))
	assert.Contains(t, objects, "cs009a/week%201.pdf")

	rc, err := s.Download(ctx, "cs009a", "week 1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", readAll(t, rc))

	require.NoError(t, s.Delete(ctx, "cs009a", "week 1.pdf"))
	require.NoError(t, s.Delete(ctx, "cs009a", "week 1.pdf"), "missing objects delete cleanly")

	_, err = s.Download(ctx, "cs009a", "week 1.pdf")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}
