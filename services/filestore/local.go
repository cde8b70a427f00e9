package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

var errInvalidKey = errors.New("invalid file key")

// DiskStore keeps files under a root directory. Keys are slash separated.
type DiskStore struct {
	root string
}

var _ core.FileStore = (*DiskStore)(nil)

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating %s", root)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", errInvalidKey
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DiskStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return errors.Wrapf(err, "creating directory of %s", key)
	}

	f, err := os.Create(p)
	if err != nil {
		return errors.Wrapf(err, "creating %s", key)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return errors.Wrapf(err, "writing %s", key)
	}
	return errors.Wrapf(f.Close(), "closing %s", key)
}

func (s *DiskStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "opening %s", key)
	}
	return f, nil
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return core.ErrFileNotFound
		}
		return errors.Wrapf(err, "removing %s", key)
	}
	return nil
}

// MemoryStore is a FileStore for tests and demo mode.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ core.FileStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = content
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[key]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	return io.NopCloser(strings.NewReader(string(content))), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[key]; !ok {
		return core.ErrFileNotFound
	}
	delete(s.files, key)
	return nil
}

// Has reports whether key is stored.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[key]
	return ok
}
