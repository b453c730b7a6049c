// Package edgerunner loads neural network models from several runtimes behind one model and
// tensor interface. Model libraries (.so) and context binaries (.bin) run on the vendor NPU
// runtime, ONNX models run on onnxruntime.
package edgerunner

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nvr-ai/edgerunner/cache"
	"github.com/nvr-ai/edgerunner/config"
	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/onnx"
	"github.com/nvr-ai/edgerunner/qnn"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/nvr-ai/edgerunner/qnn/native"
	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned for model files no compiled in runtime can load.
var ErrUnsupportedFormat = errors.New("unsupported model format")

// Option customizes a Runner.
type Option func(*Runner)

// WithLoader opens vendor libraries through l instead of the native loader.
func WithLoader(l api.Loader) Option {
	return func(r *Runner) { r.loader = l }
}

// WithAllocator allocates vendor records and tensor buffers from a.
func WithAllocator(a memory.Allocator) Option {
	return func(r *Runner) { r.alloc = a }
}

// WithProvider hands out vendor sessions from p. The session policy, loader and allocator
// of the configuration are then ignored.
func WithProvider(p qnn.SessionProvider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithStore saves and reuses context binaries through s instead of the configured cache.
func WithStore(s cache.Store) Option {
	return func(r *Runner) { r.store = s }
}

// Runner creates models that share one vendor session provider and one cache store.
type Runner struct {
	cfg      config.Config
	loader   api.Loader
	alloc    memory.Allocator
	provider qnn.SessionProvider
	store    cache.Store
	closers  []io.Closer

	// loaderErr is returned by vendor model loads when no loader could be created.
	loaderErr error
}

// New builds a runner from cfg.
//
// Arguments:
//   - ctx: Used to connect remote cache stores.
//   - cfg: The configuration. It is validated first.
//   - opts: Overrides for the loader, allocator, provider or store.
//
// Returns:
//   - *Runner: The runner. Close it to release remote store clients.
//   - error: An error if cfg is invalid or the cache store cannot be created.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if r.provider == nil {
		r.provider = r.newProvider()
	}
	if r.store == nil {
		store, err := r.newStore(ctx)
		if err != nil {
			return nil, err
		}
		r.store = store
	}
	return r, nil
}

func (r *Runner) newProvider() qnn.SessionProvider {
	if r.loader == nil {
		l, err := native.NewLoader()
		if err != nil {
			r.loaderErr = err
			logger.Log.Debug("vendor runtime unavailable", "error", err)
		}
		r.loader = l
	}
	if r.alloc == nil {
		r.alloc = native.Allocator()
	}

	mode := api.Lenient
	if r.cfg.QNN.VersionMode == config.VersionStrict {
		mode = api.Strict
	}
	opts := qnn.SessionOptions{
		LibraryDir:  r.cfg.QNN.LibraryDir,
		VersionMode: mode,
		Allocator:   r.alloc,
	}

	if r.cfg.QNN.Sessions == config.SessionPerModel {
		return qnn.NewPerModelSessions(r.loader, opts)
	}
	return qnn.NewSharedSessions(r.loader, opts)
}

// newStore returns the configured cache store, or nil when binaries are saved next to the
// model library.
func (r *Runner) newStore(ctx context.Context) (cache.Store, error) {
	c := r.cfg.Cache
	switch c.Backend {
	case config.CacheGCS:
		s, err := cache.NewGCSStore(ctx, c.Bucket, c.Prefix)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, s)
		return s, nil
	case config.CacheNone:
		return cache.Discard{}, nil
	default:
		if c.Dir == "" {
			return nil, nil
		}
		return cache.NewFileStore(c.Dir), nil
	}
}

// Config returns the configuration the runner was built from.
func (r *Runner) Config() config.Config { return r.cfg }

// Provider returns the vendor session provider.
func (r *Runner) Provider() qnn.SessionProvider { return r.provider }

// Extension returns the lower case extension of path without the dot.
func Extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// NewModel loads the model at path, choosing the runtime by file extension: so and bin go
// to the vendor runtime, onnx to onnxruntime.
//
// Arguments:
//   - path: The model file.
//
// Returns:
//   - model.Model: The model, nil on any failure.
//   - error: An error naming the failing step.
func (r *Runner) NewModel(path string) (model.Model, error) {
	switch ext := Extension(path); ext {
	case "so":
		if m := r.reuse(path); m != nil {
			return m, nil
		}
		return r.loadQNN(path)
	case "bin":
		return r.loadQNN(path)
	case "onnx":
		m, err := onnx.Load(path, onnx.OptionsFromConfig(r.cfg.ONNX))
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", path)
	}
}

// NewModelFromBuffer loads a model held in memory. ext names the format as NewModel's file
// extensions do. Model libraries cannot be loaded from memory.
func (r *Runner) NewModelFromBuffer(buf []byte, ext string) (model.Model, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "bin":
		if r.loaderErr != nil {
			return nil, r.loaderErr
		}
		m, err := qnn.LoadBuffer(buf, r.qnnOptions(""))
		if err != nil {
			return nil, err
		}
		return m, nil
	case "onnx":
		m, err := onnx.LoadBuffer(buf, onnx.OptionsFromConfig(r.cfg.ONNX))
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "buffer of type %q", ext)
	}
}

func (r *Runner) qnnOptions(name string) qnn.Options {
	return qnn.Options{Provider: r.provider, Store: r.store, Name: name}
}

func (r *Runner) loadQNN(path string) (model.Model, error) {
	if r.loaderErr != nil {
		return nil, r.loaderErr
	}
	m, err := qnn.Load(path, r.qnnOptions(""))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// reuse restores the stored context binary of the model library at path when reuse is
// enabled and the store holds one. Without a configured store it looks next to the library. Any failure falls back to composing.
func (r *Runner) reuse(path string) model.Model {
	if !r.cfg.Cache.Reuse || r.loaderErr != nil {
		return nil
	}

	store := r.store
	if store == nil {
		store = cache.NewFileStore(filepath.Dir(path))
	}

	name := model.NameFromPath(path)
	binary, err := store.Load(context.Background(), name)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if logger.Log.Errors("loading cached context binary", err, "model", name) {
		return nil
	}

	m, err := qnn.LoadBuffer(binary, r.qnnOptions(name))
	if logger.Log.Errors("restoring cached context binary", err, "model", name) {
		return nil
	}
	logger.Log.Info("restored cached context binary", "model", name, "bytes", len(binary))
	return m
}

// Close releases remote store clients.
func (r *Runner) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

var (
	defaultOnce   sync.Once
	defaultRunner *Runner
	defaultErr    error
)

// Default returns the process wide runner built from config.Default.
func Default() (*Runner, error) {
	defaultOnce.Do(func() {
		defaultRunner, defaultErr = New(context.Background(), config.Default())
	})
	return defaultRunner, defaultErr
}

// NewModel loads the model at path with the default runner.
func NewModel(path string) (model.Model, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.NewModel(path)
}

// NewModelFromBuffer loads a model held in memory with the default runner.
func NewModelFromBuffer(buf []byte, ext string) (model.Model, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.NewModelFromBuffer(buf, ext)
}
