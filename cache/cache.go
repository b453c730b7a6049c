// Package cache stores compiled context binaries so later loads can skip graph composition.
package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/pkg/errors"
)

// Extension is appended to a model name to form the artifact name.
const Extension = ".bin"

// ErrNotFound is returned by Load for artifacts the store does not hold.
var ErrNotFound = errors.New("artifact not found")

// Store persists context binaries by model name.
type Store interface {
	// Save writes data as the artifact for name, replacing any previous one.
	Save(ctx context.Context, name string, data []byte) error
	// Load returns the artifact for name or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
}

// ArtifactName returns the file name a model's context binary is stored under.
func ArtifactName(model string) string {
	return model + Extension
}

// Save writes data through store and records the outcome.
func Save(ctx context.Context, store Store, name string, data []byte) error {
	err := store.Save(ctx, name, data)
	metrics.ObserveCacheWrite(err)
	return err
}

// FileStore keeps artifacts in a local directory.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. An empty dir means the working directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, ArtifactName(name))
}

// Save writes the artifact to a temporary file and renames it into place.
func (s *FileStore) Save(_ context.Context, name string, data []byte) error {
	dst := s.path(name)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating cache dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ArtifactName(name)+".tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "renaming into %s", dst)
	}
	return nil
}

// Load reads the artifact for name.
func (s *FileStore) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", s.path(name))
	}
	return data, nil
}

// Discard is a Store that keeps nothing.
type Discard struct{}

// Save drops data.
func (Discard) Save(context.Context, string, []byte) error { return nil }

// Load always reports ErrNotFound.
func (Discard) Load(_ context.Context, name string) ([]byte, error) {
	return nil, errors.Wrap(ErrNotFound, name)
}
