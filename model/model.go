// Package model - Backend independent model interface.
package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

// Delegate is the hardware a model executes on.
type Delegate int

// Delegate constants.
const (
	CPU Delegate = iota
	GPU
	NPU
)

// String returns the upper case delegate name.
func (d Delegate) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	case NPU:
		return "NPU"
	default:
		return fmt.Sprintf("Delegate(%d)", int(d))
	}
}

// ParseDelegate maps a delegate name to its constant.
func ParseDelegate(s string) (Delegate, error) {
	switch strings.ToUpper(s) {
	case "CPU":
		return CPU, nil
	case "GPU":
		return GPU, nil
	case "NPU", "HTP":
		return NPU, nil
	default:
		return CPU, errors.Errorf("unknown delegate %q", s)
	}
}

// Status is the two-valued result of model operations.
type Status int

// Status constants.
const (
	Success Status = iota
	Fail
)

// String returns the upper case status name.
func (s Status) String() string {
	if s == Success {
		return "SUCCESS"
	}
	return "FAIL"
}

// StatusOf maps an error to a Status.
func StatusOf(err error) Status {
	if err != nil {
		return Fail
	}
	return Success
}

// Model is a loaded model that can be executed repeatedly.
type Model interface {
	// Name returns the model file stem.
	Name() string
	// NumInputs returns the number of input tensors.
	NumInputs() int
	// NumOutputs returns the number of output tensors.
	NumOutputs() int
	// Input returns input i, or nil when i is out of range.
	Input(i int) tensor.Tensor
	// Output returns output i, or nil when i is out of range.
	Output(i int) tensor.Tensor
	// ApplyDelegate retargets execution. Unsupported delegates fail without side effects.
	ApplyDelegate(d Delegate) Status
	// Delegate returns the delegate the model currently runs on.
	Delegate() Delegate
	// Precision returns the compute precision the model was configured with.
	Precision() tensor.Type
	// Execute runs the model once over the current input contents.
	Execute() Status
	// Close releases every resource held by the model.
	Close() error
}

// Base holds the bookkeeping shared by every backend.
type Base struct {
	name      string
	delegate  Delegate
	precision tensor.Type
	inputs    []tensor.Tensor
	outputs   []tensor.Tensor
}

// NewBase creates a Base named after the stem of path.
func NewBase(path string, delegate Delegate) Base {
	return Base{name: NameFromPath(path), delegate: delegate, precision: tensor.NoType}
}

// NameFromPath returns the file stem of path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Name returns the model name.
func (b *Base) Name() string { return b.name }

// SetName overrides the model name.
func (b *Base) SetName(name string) { b.name = name }

// NumInputs returns the number of inputs.
func (b *Base) NumInputs() int { return len(b.inputs) }

// NumOutputs returns the number of outputs.
func (b *Base) NumOutputs() int { return len(b.outputs) }

// Input returns input i or nil.
func (b *Base) Input(i int) tensor.Tensor {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// Output returns output i or nil.
func (b *Base) Output(i int) tensor.Tensor {
	if i < 0 || i >= len(b.outputs) {
		return nil
	}
	return b.outputs[i]
}

// Inputs returns every input tensor.
func (b *Base) Inputs() []tensor.Tensor { return b.inputs }

// Outputs returns every output tensor.
func (b *Base) Outputs() []tensor.Tensor { return b.outputs }

// SetTensors replaces the input and output tensors.
func (b *Base) SetTensors(inputs, outputs []tensor.Tensor) {
	b.inputs = inputs
	b.outputs = outputs
}

// Delegate returns the current delegate.
func (b *Base) Delegate() Delegate { return b.delegate }

// SetDelegate records the current delegate.
func (b *Base) SetDelegate(d Delegate) { b.delegate = d }

// Precision returns the configured precision.
func (b *Base) Precision() tensor.Type { return b.precision }

// SetPrecision records the configured precision.
func (b *Base) SetPrecision(p tensor.Type) { b.precision = p }
