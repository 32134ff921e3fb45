package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage writes attachment binaries to a directory on disk. It stands in
// for S3 in development and tests.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage builds a LocalStorage rooted at dir.
func NewLocalStorage(dir, baseURL string) *LocalStorage {
	return &LocalStorage{dir: dir, baseURL: baseURL}
}

// Put writes the object under dir and returns its URL.
func (s *LocalStorage) Put(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
