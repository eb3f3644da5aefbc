package contentstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps assets under a base directory. The default store for
// offline deployments.
type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) path(loc Location) string {
	return filepath.Join(s.base, filepath.Clean(string(loc)))
}

func (s *FSStore) Get(_ context.Context, loc Location) ([]byte, error) {
	b, err := os.ReadFile(s.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *FSStore) Put(_ context.Context, loc Location, data []byte, _ string) error {
	dst := s.path(loc)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (s *FSStore) Delete(_ context.Context, loc Location) error {
	err := os.Remove(s.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
