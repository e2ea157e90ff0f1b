package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nikhilbhutani/courseassist/internal/models"
)

// LocalStorage keeps uploads under root/<course>/<filename>.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) path(courseID, filename string) (string, error) {
	if err := checkKey(courseID, filename); err != nil {
		return "", err
	}
	return filepath.Join(s.root, courseID, filename), nil
}

// Upload writes to a temp file and renames it into place, so readers never
// see a partial file.
func (s *LocalStorage) Upload(ctx context.Context, courseID, filename string, data io.Reader, _ string) error {
	dst, err := s.path(courseID, filename)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create course dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

func (s *LocalStorage) Download(_ context.Context, courseID, filename string) (io.ReadCloser, error) {
	p, err := s.path(courseID, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrDocumentNotFound, courseID, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, courseID, filename string) error {
	p, err := s.path(courseID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}
