package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type fileStorage struct {
	dir string
}

// NewFileStorage creates a Storage that keeps blobs under a local directory
func NewFileStorage(dir string) (Storage, error) {
	if dir == "" {
		return nil, goerr.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	return &fileStorage{dir: dir}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.dir, cleaned), nil
}

// fileWriter writes to a temporary file and renames it on Close so that readers never
// see a partial blob.
type fileWriter struct {
	*os.File
	dst string
}

func (w *fileWriter) Close() error {
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", w.dst))
	}
	if err := os.Rename(w.File.Name(), w.dst); err != nil {
		_ = os.Remove(w.File.Name())
		return goerr.Wrap(err, "failed to rename temp file", goerr.V("path", w.dst))
	}
	return nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	dst, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("path", dst))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("path", dst))
	}
	return &fileWriter{File: tmp, dst: dst}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "no such file", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("path", src))
	}
	return f, nil
}
