package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

type SupabaseStorage struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewSupabaseStorage(supabaseURL, serviceKey, bucket string) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL:    supabaseURL + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (s *SupabaseStorage) objectURL(courseID, filename string) (string, error) {
	if err := checkKey(courseID, filename); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, objectPath(courseID, filename)), nil
}

func (s *SupabaseStorage) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == http.MethodPost {
		// Re-uploads under the same key replace the object.
		req.Header.Set("x-upsert", "true")
	}
	return s.httpClient.Do(req)
}

func (s *SupabaseStorage) Upload(ctx context.Context, courseID, filename string, data io.Reader, contentType string) error {
	url, err := s.objectURL(courseID, filename)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := s.do(ctx, http.MethodPost, url, data, contentType)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SupabaseStorage) Download(ctx context.Context, courseID, filename string) (io.ReadCloser, error) {
	url, err := s.objectURL(courseID, filename)
	if err != nil {
		return nil, err
	}

	resp, err := s.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s/%s", models.ErrDocumentNotFound, courseID, filename)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, courseID, filename string) error {
	url, err := s.objectURL(courseID, filename)
	if err != nil {
		return err
	}

	resp, err := s.do(ctx, http.MethodDelete, url, nil, "")
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete failed (%d)", resp.StatusCode)
	}
	return nil
}
