package cache

import (
	"context"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/nvr-ai/edgerunner/logger"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts in a Google Cloud Storage bucket under Prefix.
type GCSStore struct {
	Bucket string
	Prefix string

	client *storage.Client
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore connects to Cloud Storage with the ambient credentials or the given client
// options.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs store: empty bucket")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS storage client")
	}
	return &GCSStore{Bucket: bucket, Prefix: prefix, client: client}, nil
}

func (s *GCSStore) key(name string) string {
	return path.Join(s.Prefix, ArtifactName(name))
}

func (s *GCSStore) url(name string) string {
	return "gs://" + s.Bucket + "/" + s.key(name)
}

// Save uploads the artifact, replacing any existing object.
func (s *GCSStore) Save(ctx context.Context, name string, data []byte) error {
	startedAt := time.Now()
	w := s.client.Bucket(s.Bucket).Object(s.key(name)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "uploading %s", s.url(name))
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "closing GCS writer for %s", s.url(name))
	}

	logger.Log.Info("uploaded context binary", "url", s.url(name), "bytes", len(data), "duration", time.Since(startedAt))
	return nil
}

// Load downloads the artifact for name.
func (s *GCSStore) Load(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.Bucket).Object(s.key(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrap(ErrNotFound, s.url(name))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening object %s", s.url(name))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s", s.url(name))
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
