// Package config holds the process configuration: logging, the vendor runtime, the context
// binary cache and the interpreter backend.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SessionPolicy selects how backend sessions are shared between models.
type SessionPolicy string

const (
	// SessionShared keeps one reference counted session per delegate.
	SessionShared SessionPolicy = "shared"
	// SessionPerModel opens a session for every model.
	SessionPerModel SessionPolicy = "per-model"
)

// VersionMode selects how unknown record versions are handled.
type VersionMode string

const (
	// VersionLenient reads unknown record versions through the oldest layout.
	VersionLenient VersionMode = "lenient"
	// VersionStrict rejects unknown record versions.
	VersionStrict VersionMode = "strict"
)

// CacheBackend selects where context binaries are written.
type CacheBackend string

const (
	// CacheFile writes next to the model library, or to Cache.Dir when set.
	CacheFile CacheBackend = "file"
	// CacheGCS writes to a Google Cloud Storage bucket.
	CacheGCS CacheBackend = "gcs"
	// CacheNone discards context binaries.
	CacheNone CacheBackend = "none"
)

// Config is the complete configuration.
type Config struct {
	Log     LogConfig     `json:"log"     yaml:"log"`
	QNN     QNNConfig     `json:"qnn"     yaml:"qnn"`
	Cache   CacheConfig   `json:"cache"   yaml:"cache"`
	ONNX    ONNXConfig    `json:"onnx"    yaml:"onnx"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level"  yaml:"level"`
	// Format is json or console.
	Format string `json:"format" yaml:"format"`
}

// QNNConfig configures the vendor runtime.
type QNNConfig struct {
	// LibraryDir is prepended to the backend and system library names. Empty uses the
	// dynamic linker search path.
	LibraryDir string `json:"libraryDir"  yaml:"libraryDir"`
	// VersionMode is lenient or strict.
	VersionMode VersionMode `json:"versionMode" yaml:"versionMode"`
	// Sessions is shared or per-model.
	Sessions SessionPolicy `json:"sessions"    yaml:"sessions"`
}

// CacheConfig configures the context binary store.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" yaml:"backend"`
	// Dir overrides the directory of the file backend.
	Dir string `json:"dir"     yaml:"dir"`
	// Bucket and Prefix locate artifacts of the gcs backend.
	Bucket string `json:"bucket"  yaml:"bucket"`
	Prefix string `json:"prefix"  yaml:"prefix"`
	// Reuse restores a stored context binary instead of composing a model library when the
	// store holds one for the model.
	Reuse bool `json:"reuse"   yaml:"reuse"`
}

// ONNXConfig configures the interpreter backend.
type ONNXConfig struct {
	// SharedLibraryPath is the onnxruntime shared library. Empty uses the platform default.
	SharedLibraryPath string `json:"sharedLibraryPath" yaml:"sharedLibraryPath"`
	// IntraOpThreads and InterOpThreads size the runtime thread pools. Zero lets the runtime
	// decide.
	IntraOpThreads int `json:"intraOpThreads"    yaml:"intraOpThreads"`
	InterOpThreads int `json:"interOpThreads"    yaml:"interOpThreads"`
	// CUDA options apply when a model is moved to the GPU.
	CUDA CUDAConfig `json:"cuda"              yaml:"cuda"`
}

// CUDAConfig is the subset of CUDA execution provider options the backend forwards.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAConfig struct {
	DeviceID int `json:"deviceID"            yaml:"deviceID"`
	// GPUMemLimit caps the device memory arena in bytes. Zero means no limit.
	GPUMemLimit int64 `json:"gpuMemLimit"         yaml:"gpuMemLimit"`
	// ArenaExtendStrategy is 0 (next power of two) or 1 (same as requested).
	ArenaExtendStrategy int `json:"arenaExtendStrategy" yaml:"arenaExtendStrategy"`
	// CudnnConvAlgoSearch is 0 (exhaustive), 1 (heuristic) or 2 (default).
	CudnnConvAlgoSearch   int  `json:"cudnnConvAlgoSearch"   yaml:"cudnnConvAlgoSearch"`
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
	EnableCudaGraph       bool `json:"enableCudaGraph"       yaml:"enableCudaGraph"`
	UseTF32               bool `json:"useTF32"               yaml:"useTF32"`
	PreferNHWC            bool `json:"preferNHWC"            yaml:"preferNHWC"`
}

// MetricsConfig configures the Prometheus endpoint of long running commands.
type MetricsConfig struct {
	// Listen is the address the /metrics handler binds to. Empty disables it.
	Listen string `json:"listen" yaml:"listen"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		QNN: QNNConfig{
			VersionMode: VersionLenient,
			Sessions:    SessionShared,
		},
		Cache: CacheConfig{Backend: CacheFile},
		ONNX: ONNXConfig{
			CUDA: CUDAConfig{
				CudnnConvAlgoSearch:   1,
				DoCopyInDefaultStream: true,
			},
		},
	}
}

// Development returns a configuration for local work: verbose console logs and strict
// record version checks.
func Development() Config {
	c := Default()
	c.Log = LogConfig{Level: "debug", Format: "console"}
	c.QNN.VersionMode = VersionStrict
	c.Metrics.Listen = "127.0.0.1:9090"
	return c
}

// Load reads a YAML file over the defaults. Fields absent from the file keep their default.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged and validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.QNN.VersionMode {
	case VersionLenient, VersionStrict:
	default:
		return errors.Errorf("qnn.versionMode must be lenient or strict, got %q", c.QNN.VersionMode)
	}
	switch c.QNN.Sessions {
	case SessionShared, SessionPerModel:
	default:
		return errors.Errorf("qnn.sessions must be shared or per-model, got %q", c.QNN.Sessions)
	}

	switch c.Cache.Backend {
	case CacheFile, CacheNone:
	case CacheGCS:
		if c.Cache.Bucket == "" {
			return errors.New("cache.bucket is required for the gcs backend")
		}
	default:
		return errors.Errorf("cache.backend must be file, gcs or none, got %q", c.Cache.Backend)
	}

	if c.ONNX.IntraOpThreads < 0 {
		return errors.Errorf("onnx.intraOpThreads must not be negative, got %d", c.ONNX.IntraOpThreads)
	}
	if c.ONNX.InterOpThreads < 0 {
		return errors.Errorf("onnx.interOpThreads must not be negative, got %d", c.ONNX.InterOpThreads)
	}
	cuda := c.ONNX.CUDA
	if cuda.DeviceID < 0 {
		return errors.Errorf("onnx.cuda.deviceID must not be negative, got %d", cuda.DeviceID)
	}
	if cuda.GPUMemLimit < 0 {
		return errors.Errorf("onnx.cuda.gpuMemLimit must not be negative, got %d", cuda.GPUMemLimit)
	}
	if cuda.ArenaExtendStrategy != 0 && cuda.ArenaExtendStrategy != 1 {
		return errors.Errorf("onnx.cuda.arenaExtendStrategy must be 0 or 1, got %d", cuda.ArenaExtendStrategy)
	}
	if cuda.CudnnConvAlgoSearch < 0 || cuda.CudnnConvAlgoSearch > 2 {
		return errors.Errorf("onnx.cuda.cudnnConvAlgoSearch must be 0, 1 or 2, got %d", cuda.CudnnConvAlgoSearch)
	}
	return nil
}
