package onnx

import (
	"unsafe"

	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Tensor is one model input or output backed by an onnxruntime value.
type Tensor struct {
	name  string
	typ   tensor.Type
	dims  []uint
	value ort.Value
	data  []byte
}

var _ tensor.Tensor = (*Tensor)(nil)

// ElementType maps an onnxruntime element type onto the facade element type.
func ElementType(dt ort.TensorElementDataType) tensor.Type {
	switch dt {
	case ort.TensorElementDataTypeFloat:
		return tensor.Float32
	case ort.TensorElementDataTypeFloat16:
		return tensor.Float16
	case ort.TensorElementDataTypeInt8:
		return tensor.Int8
	case ort.TensorElementDataTypeUint8:
		return tensor.Uint8
	case ort.TensorElementDataTypeInt16:
		return tensor.Int16
	case ort.TensorElementDataTypeUint16:
		return tensor.Uint16
	case ort.TensorElementDataTypeInt32:
		return tensor.Int32
	case ort.TensorElementDataTypeUint32:
		return tensor.Uint32
	default:
		return tensor.Unsupported
	}
}

// resolveShape replaces dynamic dimensions with 1.
func resolveShape(dims ort.Shape) (ort.Shape, []uint) {
	shape := make(ort.Shape, len(dims))
	out := make([]uint, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		shape[i] = d
		out[i] = uint(d)
	}
	return shape, out
}

// newTensor allocates the runtime value described by info. Element types the facade cannot
// express still get a runtime value so the session can bind it, but expose no bytes.
//
// Arguments:
//   - info: Name, shape and element type read from the model.
//
// Returns:
//   - *Tensor: The allocated tensor. The caller destroys it.
//   - error: An error for non tensor values or a failed allocation.
func newTensor(info ort.InputOutputInfo) (*Tensor, error) {
	if info.OrtValueType != ort.ONNXTypeTensor {
		return nil, errors.Errorf("%q is a %s, only tensors are supported", info.Name, info.OrtValueType)
	}

	shape, dims := resolveShape(info.Dimensions)
	t := &Tensor{name: info.Name, typ: ElementType(info.DataType), dims: dims}

	var err error
	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		t.value, t.data, err = empty[float32](shape)
	case ort.TensorElementDataTypeFloat16:
		t.data = make([]byte, int(shape.FlattenedSize())*2)
		t.value, err = ort.NewCustomDataTensor(shape, t.data, ort.TensorElementDataTypeFloat16)
	case ort.TensorElementDataTypeInt8:
		t.value, t.data, err = empty[int8](shape)
	case ort.TensorElementDataTypeUint8:
		t.value, t.data, err = empty[uint8](shape)
	case ort.TensorElementDataTypeInt16:
		t.value, t.data, err = empty[int16](shape)
	case ort.TensorElementDataTypeUint16:
		t.value, t.data, err = empty[uint16](shape)
	case ort.TensorElementDataTypeInt32:
		t.value, t.data, err = empty[int32](shape)
	case ort.TensorElementDataTypeUint32:
		t.value, t.data, err = empty[uint32](shape)
	case ort.TensorElementDataTypeInt64:
		t.value, _, err = empty[int64](shape)
	case ort.TensorElementDataTypeDouble:
		t.value, _, err = empty[float64](shape)
	default:
		return nil, errors.Errorf("%q has unsupported element type %s", info.Name, info.DataType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "allocating tensor %q", info.Name)
	}
	return t, nil
}

func empty[T ort.TensorData](shape ort.Shape) (ort.Value, []byte, error) {
	v, err := ort.NewEmptyTensor[T](shape)
	if err != nil {
		return nil, nil, err
	}
	return v, asBytes(v.GetData()), nil
}

func asBytes[T ort.TensorData](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// Name returns the tensor name declared by the model.
func (t *Tensor) Name() string { return t.name }

// Type returns the facade element type.
func (t *Tensor) Type() tensor.Type { return t.typ }

// Dimensions returns a copy of the resolved shape.
func (t *Tensor) Dimensions() []uint { return append([]uint(nil), t.dims...) }

// Size returns the element count.
func (t *Tensor) Size() int { return tensor.Product(t.dims) }

// Bytes returns the buffer the runtime reads and writes.
func (t *Tensor) Bytes() []byte { return t.data }

// Value returns the runtime value.
func (t *Tensor) Value() ort.Value { return t.value }

func (t *Tensor) destroy() error {
	if t == nil || t.value == nil {
		return nil
	}
	err := t.value.Destroy()
	t.value, t.data = nil, nil
	return err
}
