package qnn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvr-ai/edgerunner/cache"
	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

// Options configures model construction.
type Options struct {
	// Provider hands out backend sessions. Required.
	Provider SessionProvider
	// Store receives the context binary after a successful compose. Nil stores it next to
	// the model library.
	Store cache.Store
	// Name overrides the model name derived from the path. Models restored from a buffer
	// are otherwise unnamed.
	Name string
}

// Model is a model executed by the vendor runtime on the NPU.
type Model struct {
	model.Base

	opts    Options
	session *Session
	graph   *Graph
	inputs  []*TensorBinding
	outputs []*TensorBinding
	closed  bool
}

var _ model.Model = (*Model)(nil)

// Load builds a model from a file: a model library (.so) is composed and finalized, a
// context binary (.bin) is restored.
//
// Arguments:
//   - path: The model library or context binary.
//   - opts: Session provider, cache store and name.
//
// Returns:
//   - *Model: The executable model.
//   - error: An error naming the failing step. No model is returned on failure.
func Load(path string, opts Options) (*Model, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "so":
		return build(path, opts, func(m *Model) error { return m.compose(path) })
	case "bin":
		binary, err := os.ReadFile(path)
		if err != nil {
			metrics.ObserveLoad(backendLabel, err)
			return nil, errors.Wrapf(err, "reading context binary %s", path)
		}
		return build(path, opts, func(m *Model) error { return m.restore(binary) })
	default:
		err := errors.Errorf("unsupported model file %q", path)
		metrics.ObserveLoad(backendLabel, err)
		return nil, err
	}
}

// LoadBuffer restores a model from a context binary held in memory.
func LoadBuffer(binary []byte, opts Options) (*Model, error) {
	return build(opts.Name, opts, func(m *Model) error { return m.restore(binary) })
}

func build(path string, opts Options, steps func(m *Model) error) (*Model, error) {
	if opts.Provider == nil {
		err := errors.New("qnn model: nil session provider")
		metrics.ObserveLoad(backendLabel, err)
		return nil, err
	}

	m := &Model{Base: model.NewBase(path, model.NPU), opts: opts}
	if opts.Name != "" {
		m.SetName(opts.Name)
	}

	err := m.open(steps)
	metrics.ObserveLoad(backendLabel, err)
	if err != nil {
		logger.Log.Error("model creation failed", "model", m.Name(), "error", err)
		logger.Log.Errors("cleaning up failed model", m.Close())
		return nil, err
	}

	logger.Log.Info("model ready", "model", m.Name(), "graph", m.graph.Name(),
		"inputs", m.NumInputs(), "outputs", m.NumOutputs(), "precision", m.Precision())
	return m, nil
}

func (m *Model) open(steps func(m *Model) error) error {
	session, err := m.opts.Provider.Acquire(model.NPU)
	if err != nil {
		return errors.Wrap(err, "open backend")
	}
	m.session = session
	m.graph = NewGraph(session)

	if err := steps(m); err != nil {
		return err
	}
	return m.bind()
}

func (m *Model) compose(path string) error {
	g := m.graph
	if err := g.LoadLibrary(path); err != nil {
		return errors.Wrap(err, "load model library")
	}
	if err := g.CreateContext(); err != nil {
		return errors.Wrap(err, "create context")
	}
	if err := g.Compose(); err != nil {
		return errors.Wrap(err, "compose graphs")
	}
	m.SetPrecision(g.DetectPrecision())
	if err := g.ApplyConfig(); err != nil {
		return errors.Wrap(err, "apply graph config")
	}
	if err := g.Finalize(); err != nil {
		return errors.Wrap(err, "finalize graph")
	}
	m.saveContextBinary(path)
	return g.Activate()
}

func (m *Model) saveContextBinary(path string) {
	store := m.opts.Store
	if store == nil {
		store = cache.NewFileStore(filepath.Dir(path))
	}

	binary, err := m.graph.ContextBinary()
	if err == nil {
		err = cache.Save(context.Background(), store, m.Name(), binary)
	}
	if logger.Log.Errors("saving context binary", err, "model", m.Name()) {
		return
	}
	logger.Log.Debug("context binary saved", "model", m.Name(), "bytes", len(binary))
}

func (m *Model) restore(binary []byte) error {
	g := m.graph
	if err := g.Restore(binary); err != nil {
		return errors.Wrap(err, "restore context binary")
	}
	m.SetPrecision(g.DetectPrecision())
	return g.Activate()
}

func (m *Model) bind() error {
	alloc := m.session.Allocator()

	bindAll := func(records []api.Tensor, kind string) ([]*TensorBinding, []tensor.Tensor, error) {
		bindings := make([]*TensorBinding, 0, len(records))
		views := make([]tensor.Tensor, 0, len(records))
		for i := range records {
			b, err := Bind(alloc, &records[i])
			if err != nil {
				for _, done := range bindings {
					done.Release()
				}
				return nil, nil, errors.Wrapf(err, "bind %s %d", kind, i)
			}
			bindings = append(bindings, b)
			views = append(views, b)
		}
		return bindings, views, nil
	}

	inputs, inViews, err := bindAll(m.graph.Inputs(), "input")
	if err != nil {
		return err
	}
	m.inputs = inputs

	outputs, outViews, err := bindAll(m.graph.Outputs(), "output")
	if err != nil {
		return err
	}
	m.outputs = outputs

	m.SetTensors(inViews, outViews)
	return nil
}

// ApplyDelegate accepts only the NPU. Other delegates fail and change nothing.
func (m *Model) ApplyDelegate(d model.Delegate) model.Status {
	if d != model.NPU {
		return model.Fail
	}
	m.SetDelegate(d)
	return model.Success
}

// Execute runs the graph once over the current input contents.
func (m *Model) Execute() model.Status {
	return model.StatusOf(m.run(func() error { return m.graph.Execute() }))
}

// ExecuteContext runs the graph once, returning early with ctx.Err() if ctx ends first.
// After an early return the model must not be executed again until the returned channel
// delivers the result of the runtime call. The execution is recorded when that result
// arrives.
func (m *Model) ExecuteContext(ctx context.Context) (<-chan error, error) {
	if m.closed || m.graph == nil {
		return nil, ErrClosed
	}
	start := time.Now()
	done, err := m.graph.ExecuteContext(ctx)
	if err == nil || err != ctx.Err() {
		metrics.ObserveExecute(backendLabel, start, err)
		logger.Log.Errors("execute failed", err, "model", m.Name())
		return done, err
	}

	logger.Log.Warn("execute still running after context ended", "model", m.Name(), "error", err)
	result := make(chan error, 1)
	go func() {
		res := <-done
		metrics.ObserveExecute(backendLabel, start, res)
		logger.Log.Errors("execute failed", res, "model", m.Name())
		result <- res
	}()
	return result, err
}

func (m *Model) run(execute func() error) error {
	if m.closed || m.graph == nil {
		return ErrClosed
	}
	start := time.Now()
	err := execute()
	metrics.ObserveExecute(backendLabel, start, err)
	logger.Log.Errors("execute failed", err, "model", m.Name())
	return err
}

// Graph returns the underlying graph lifecycle.
func (m *Model) Graph() *Graph { return m.graph }

// Close releases the tensor buffers, the graph and the backend session, in that order.
func (m *Model) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for _, b := range m.inputs {
		b.Release()
	}
	for _, b := range m.outputs {
		b.Release()
	}
	m.inputs, m.outputs = nil, nil
	m.SetTensors(nil, nil)

	var first error
	if m.graph != nil {
		first = m.graph.Close()
	}
	if m.session != nil {
		if err := m.opts.Provider.Release(m.session); logger.Log.Errors("releasing session", err) && first == nil {
			first = err
		}
		m.session = nil
	}
	return first
}
