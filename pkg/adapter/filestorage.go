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

// fileStorage implements Storage on a local directory. Writes go to a
// temporary file that is renamed into place on Close.
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage rooted at dir, creating it if needed
func NewFileStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	return &fileStorage{root: dir}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.root, clean), nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create object directory", goerr.V("key", key))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("key", key))
	}
	return &atomicFile{File: tmp, dest: path}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(ErrObjectNotFound, "object does not exist", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}

type atomicFile struct {
	*os.File
	dest string
}

func (f *atomicFile) Close() error {
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(f.File.Name())
		return goerr.Wrap(err, "failed to sync temp file")
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.File.Name())
		return goerr.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(f.File.Name(), f.dest); err != nil {
		_ = os.Remove(f.File.Name())
		return goerr.Wrap(err, "failed to move object into place", goerr.V("dest", f.dest))
	}
	return nil
}
