package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "mobilenet_v3_small.bin", ArtifactName("mobilenet_v3_small"))
}

// TestFileStoreRoundTrip saves, replaces and loads an artifact in a directory that does not
// exist yet.
func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s := NewFileStore(dir)

	require.NoError(t, s.Save(ctx, "net", []byte("first")))
	require.NoError(t, s.Save(ctx, "net", []byte("second")))

	data, err := s.Load(ctx, "net")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are removed")
	assert.Equal(t, "net.bin", entries[0].Name())
}

func TestFileStoreNotFound(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Load(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreSaveFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := NewFileStore(file).Save(context.Background(), "net", []byte("x"))
	assert.Error(t, err)
}

func TestSaveRecordsOutcome(t *testing.T) {
	failures := testutil.ToFloat64(metrics.CacheWrites.WithLabelValues(metrics.ResultFailure))
	successes := testutil.ToFloat64(metrics.CacheWrites.WithLabelValues(metrics.ResultSuccess))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.NoError(t, Save(context.Background(), NewFileStore(t.TempDir()), "net", []byte("x")))
	assert.Error(t, Save(context.Background(), NewFileStore(file), "net", []byte("x")))

	assert.Equal(t, successes+1, testutil.ToFloat64(metrics.CacheWrites.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, failures+1, testutil.ToFloat64(metrics.CacheWrites.WithLabelValues(metrics.ResultFailure)))
}

func TestDiscard(t *testing.T) {
	var s Store = Discard{}
	assert.NoError(t, s.Save(context.Background(), "net", []byte("x")))
	_, err := s.Load(context.Background(), "net")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGCSStoreNaming(t *testing.T) {
	_, err := NewGCSStore(context.Background(), "", "models")
	assert.Error(t, err)

	s, err := NewGCSStore(context.Background(), "edge-artifacts", "qnn/v2", option.WithoutAuthentication())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "qnn/v2/net.bin", s.key("net"))
	assert.Equal(t, "gs://edge-artifacts/qnn/v2/net.bin", s.url("net"))
}
