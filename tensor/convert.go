package tensor

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"
	gtensor "gorgonia.org/tensor"
)

// Float32s returns the tensor contents widened to float32. Float32 tensors are copied,
// float16 tensors are converted from their IEEE 754 half precision bits and integer tensors
// are converted by value.
func Float32s(t Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}

	var out []float32
	switch t.Type() {
	case Float32:
		out = append(out, As[float32](t)...)
	case Float16:
		bits := As[uint16](t)
		out = make([]float32, len(bits))
		for i, b := range bits {
			out[i] = float16.Frombits(b).Float32()
		}
	case Uint8:
		out = widen(As[uint8](t))
	case Int8:
		out = widen(As[int8](t))
	case Int16:
		out = widen(As[int16](t))
	case Uint16:
		out = widen(As[uint16](t))
	case Int32:
		out = widen(As[int32](t))
	case Uint32:
		out = widen(As[uint32](t))
	default:
		return nil, errors.Errorf("cannot convert %s tensor %q to float32", t.Type(), t.Name())
	}

	return out, nil
}

// PutFloat32s writes values into the tensor, narrowing to its element type. Float16 tensors
// receive half precision bits and integer tensors truncated values.
func PutFloat32s(t Tensor, values []float32) error {
	if t == nil {
		return errors.New("nil tensor")
	}
	if len(values) != t.Size() {
		return errors.Errorf("tensor %q holds %d elements, got %d", t.Name(), t.Size(), len(values))
	}

	switch t.Type() {
	case Float32:
		copy(As[float32](t), values)
	case Float16:
		dst := As[uint16](t)
		for i, v := range values {
			dst[i] = float16.Fromfloat32(v).Bits()
		}
	case Uint8:
		narrow(As[uint8](t), values)
	case Int8:
		narrow(As[int8](t), values)
	case Int16:
		narrow(As[int16](t), values)
	case Uint16:
		narrow(As[uint16](t), values)
	case Int32:
		narrow(As[int32](t), values)
	case Uint32:
		narrow(As[uint32](t), values)
	default:
		return errors.Errorf("cannot write float32 values into %s tensor %q", t.Type(), t.Name())
	}

	return nil
}

// Dense returns the tensor contents as a float32 gorgonia dense tensor shaped like t.
func Dense(t Tensor) (*gtensor.Dense, error) {
	values, err := Float32s(t)
	if err != nil {
		return nil, err
	}

	dims := t.Dimensions()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	if len(shape) == 0 || Product(dims) != len(values) {
		shape = []int{len(values)}
	}

	return gtensor.New(gtensor.WithShape(shape...), gtensor.WithBacking(values)), nil
}

func widen[T int8 | uint8 | int16 | uint16 | int32 | uint32](src []T) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}

func narrow[T int8 | uint8 | int16 | uint16 | int32 | uint32](dst []T, src []float32) {
	for i, v := range src {
		dst[i] = T(v)
	}
}
