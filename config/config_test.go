package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.NoError(t, Development().Validate())

	dev := Development()
	assert.Equal(t, VersionStrict, dev.QNN.VersionMode)
	assert.Equal(t, "console", dev.Log.Format)
	assert.Equal(t, VersionLenient, Default().QNN.VersionMode)
	assert.Equal(t, SessionShared, Default().QNN.Sessions)
}

// TestLoadMergesOverDefaults verifies that fields absent from the file keep their default.
func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgerunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
qnn:
  libraryDir: /opt/qnn/lib
  sessions: per-model
cache:
  backend: gcs
  bucket: models
  prefix: contexts/
onnx:
  intraOpThreads: 4
  cuda:
    deviceID: 1
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/opt/qnn/lib", c.QNN.LibraryDir)
	assert.Equal(t, SessionPerModel, c.QNN.Sessions)
	assert.Equal(t, VersionLenient, c.QNN.VersionMode)
	assert.Equal(t, CacheGCS, c.Cache.Backend)
	assert.Equal(t, "contexts/", c.Cache.Prefix)
	assert.Equal(t, 4, c.ONNX.IntraOpThreads)
	assert.Equal(t, 1, c.ONNX.CUDA.DeviceID)
	assert.True(t, c.ONNX.CUDA.DoCopyInDefaultStream)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("log: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"version mode", func(c *Config) { c.QNN.VersionMode = "loose" }, "qnn.versionMode"},
		{"sessions", func(c *Config) { c.QNN.Sessions = "pooled" }, "qnn.sessions"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "s3" }, "cache.backend"},
		{"gcs bucket", func(c *Config) { c.Cache.Backend = CacheGCS }, "cache.bucket"},
		{"intra op threads", func(c *Config) { c.ONNX.IntraOpThreads = -1 }, "onnx.intraOpThreads"},
		{"inter op threads", func(c *Config) { c.ONNX.InterOpThreads = -2 }, "onnx.interOpThreads"},
		{"cuda device", func(c *Config) { c.ONNX.CUDA.DeviceID = -1 }, "onnx.cuda.deviceID"},
		{"cuda memory", func(c *Config) { c.ONNX.CUDA.GPUMemLimit = -1 }, "onnx.cuda.gpuMemLimit"},
		{"arena strategy", func(c *Config) { c.ONNX.CUDA.ArenaExtendStrategy = 2 }, "onnx.cuda.arenaExtendStrategy"},
		{"conv search", func(c *Config) { c.ONNX.CUDA.CudnnConvAlgoSearch = 3 }, "onnx.cuda.cudnnConvAlgoSearch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
