package onnx

import (
	"os"
	"time"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const backendLabel = "onnx"

// ErrClosed is returned by operations on a closed model.
var ErrClosed = errors.New("onnx model closed")

// Model is an ONNX model executed by onnxruntime on the CPU or, through the CUDA execution
// provider, the GPU.
type Model struct {
	model.Base

	opts    Options
	data    []byte
	inInfo  []ort.InputOutputInfo
	outInfo []ort.InputOutputInfo
	session *session
}

var _ model.Model = (*Model)(nil)

// session is one advanced session plus the tensors bound to it.
type session struct {
	native  *ort.AdvancedSession
	inputs  []*Tensor
	outputs []*Tensor
}

// Load reads an ONNX model from path and prepares it on the CPU.
//
// Arguments:
//   - path: The .onnx file.
//   - opts: Runtime library, threads and CUDA settings.
//
// Returns:
//   - *Model: The executable model.
//   - error: An error naming the failing step. No model is returned on failure.
func Load(path string, opts Options) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.ObserveLoad(backendLabel, err)
		return nil, errors.Wrapf(err, "reading model %s", path)
	}
	return build(path, data, opts)
}

// LoadBuffer prepares an ONNX model held in memory on the CPU.
func LoadBuffer(data []byte, opts Options) (*Model, error) {
	return build(opts.Name, data, opts)
}

func build(path string, data []byte, opts Options) (*Model, error) {
	m := &Model{Base: model.NewBase(path, model.CPU), opts: opts, data: data}
	if opts.Name != "" {
		m.SetName(opts.Name)
	}

	err := m.open()
	metrics.ObserveLoad(backendLabel, err)
	if err != nil {
		logger.Log.Error("model creation failed", "model", m.Name(), "error", err)
		return nil, err
	}

	logger.Log.Info("model ready", "model", m.Name(), "inputs", m.NumInputs(),
		"outputs", m.NumOutputs(), "precision", m.Precision())
	return m, nil
}

func (m *Model) open() error {
	if len(m.data) == 0 {
		return errors.New("empty model")
	}
	if err := ensureEnvironment(m.opts.SharedLibraryPath); err != nil {
		return err
	}

	in, out, err := ort.GetInputOutputInfoWithONNXData(m.data)
	if err != nil {
		return errors.Wrap(err, "reading model metadata")
	}
	m.inInfo, m.outInfo = in, out

	s, err := m.newSession(model.CPU)
	if err != nil {
		return err
	}
	m.install(s, model.CPU)
	return nil
}

// newSession allocates fresh tensors and an advanced session for delegate. Everything
// created before a failing step is destroyed.
func (m *Model) newSession(delegate model.Delegate) (*session, error) {
	s := &session{}

	for _, info := range m.inInfo {
		t, err := newTensor(info)
		if err != nil {
			s.destroy()
			return nil, errors.Wrap(err, "allocate input")
		}
		s.inputs = append(s.inputs, t)
	}
	for _, info := range m.outInfo {
		t, err := newTensor(info)
		if err != nil {
			s.destroy()
			return nil, errors.Wrap(err, "allocate output")
		}
		s.outputs = append(s.outputs, t)
	}

	so, err := sessionOptions(m.opts, delegate)
	if err != nil {
		s.destroy()
		return nil, err
	}
	defer so.Destroy()

	native, err := ort.NewAdvancedSessionWithONNXData(m.data,
		names(m.inInfo), names(m.outInfo), values(s.inputs), values(s.outputs), so)
	if err != nil {
		s.destroy()
		return nil, errors.Wrapf(err, "creating %s session", delegate)
	}
	s.native = native
	return s, nil
}

func (m *Model) install(s *session, delegate model.Delegate) {
	m.session = s
	m.SetDelegate(delegate)
	m.SetTensors(views(s.inputs), views(s.outputs))
	m.SetPrecision(precision(s.inputs))
}

// precision reports the element type of the first input, the closest analogue of the
// compute precision the runtime exposes.
func precision(inputs []*Tensor) tensor.Type {
	if len(inputs) == 0 {
		return tensor.NoType
	}
	return inputs[0].Type()
}

// ApplyDelegate moves the model to the CPU or the GPU by building a new session. On failure
// the previous session stays active. The NPU is not supported.
func (m *Model) ApplyDelegate(d model.Delegate) model.Status {
	if m.session == nil {
		return model.Fail
	}
	if d != model.CPU && d != model.GPU {
		logger.Log.Warn("delegate not supported", "model", m.Name(), "delegate", d)
		return model.Fail
	}
	if d == m.Delegate() {
		return model.Success
	}

	s, err := m.newSession(d)
	if logger.Log.Errors("applying delegate", err, "model", m.Name(), "delegate", d) {
		return model.Fail
	}

	old := m.session
	m.install(s, d)
	logger.Log.Errors("destroying previous session", old.destroy(), "model", m.Name())
	return model.Success
}

// Execute runs the model once over the current input contents.
func (m *Model) Execute() model.Status {
	if m.session == nil {
		return model.Fail
	}
	start := time.Now()
	err := m.session.native.Run()
	metrics.ObserveExecute(backendLabel, start, err)
	logger.Log.Errors("execute failed", err, "model", m.Name())
	return model.StatusOf(err)
}

// Close destroys the session and its tensors.
func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.destroy()
	m.session = nil
	m.SetTensors(nil, nil)
	return err
}

func (s *session) destroy() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.native != nil {
		keep(s.native.Destroy())
		s.native = nil
	}
	for _, t := range s.inputs {
		keep(t.destroy())
	}
	for _, t := range s.outputs {
		keep(t.destroy())
	}
	s.inputs, s.outputs = nil, nil
	return first
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func values(ts []*Tensor) []ort.Value {
	out := make([]ort.Value, len(ts))
	for i, t := range ts {
		out[i] = t.value
	}
	return out
}

func views(ts []*Tensor) []tensor.Tensor {
	out := make([]tensor.Tensor, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}
