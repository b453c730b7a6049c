package qnn

import (
	"unsafe"

	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

const backendLabel = "qnn"

// TensorDescriptor is a read-only view over a tensor record. It never allocates.
type TensorDescriptor struct {
	rec *api.Tensor
}

// Describe returns a descriptor over rec. A nil record describes nothing: its type is
// NoType and its size 0.
func Describe(rec *api.Tensor) TensorDescriptor {
	return TensorDescriptor{rec: rec}
}

// Record returns the described record.
func (d TensorDescriptor) Record() *api.Tensor { return d.rec }

// Name returns the tensor name, or "" for a nil record.
func (d TensorDescriptor) Name() string {
	if d.rec == nil {
		return ""
	}
	return memory.GoString(api.Adapt(d.rec).NamePtr())
}

// DataType returns the vendor data type of the record.
func (d TensorDescriptor) DataType() api.DataType {
	if d.rec == nil {
		return api.DataTypeUndefined
	}
	return api.Adapt(d.rec).DataType()
}

// Type maps the vendor data type onto the facade element type.
func (d TensorDescriptor) Type() tensor.Type {
	if d.rec == nil {
		return tensor.NoType
	}
	return ElementType(d.DataType())
}

// Dimensions returns a copy of the record dimensions.
func (d TensorDescriptor) Dimensions() []uint {
	if d.rec == nil {
		return nil
	}
	dims := api.Adapt(d.rec).Dimensions()
	out := make([]uint, len(dims))
	for i, v := range dims {
		out[i] = uint(v)
	}
	return out
}

// Size returns the element count: 0 for a nil record or a rank 0 record, the product of the
// dimensions otherwise.
func (d TensorDescriptor) Size() int {
	if d.rec == nil {
		return 0
	}
	return tensor.Product(d.Dimensions())
}

// ByteSize returns Size times the element size of Type.
func (d TensorDescriptor) ByteSize() int {
	return d.Size() * tensor.ElementSize(d.Type())
}

// ElementType maps a vendor data type onto the facade element type. Fixed point types map
// onto the integer type of the same width and signedness.
func ElementType(dt api.DataType) tensor.Type {
	switch dt {
	case api.DataTypeFloat16:
		return tensor.Float16
	case api.DataTypeFloat32:
		return tensor.Float32
	case api.DataTypeInt8, api.DataTypeSFixedPoint8:
		return tensor.Int8
	case api.DataTypeInt16, api.DataTypeSFixedPoint16:
		return tensor.Int16
	case api.DataTypeInt32, api.DataTypeSFixedPoint32:
		return tensor.Int32
	case api.DataTypeUint8, api.DataTypeUFixedPoint8:
		return tensor.Uint8
	case api.DataTypeUint16, api.DataTypeUFixedPoint16:
		return tensor.Uint16
	case api.DataTypeUint32, api.DataTypeUFixedPoint32:
		return tensor.Uint32
	default:
		return tensor.Unsupported
	}
}

// TensorBinding is a descriptor plus the data buffer the runtime reads inputs from and
// writes outputs to. It implements tensor.Tensor.
type TensorBinding struct {
	TensorDescriptor
	data memory.Owned
}

var _ tensor.Tensor = (*TensorBinding)(nil)

// Bind switches rec to raw client memory and installs a freshly allocated buffer sized for
// its element type and count. Unsupported element types get an empty buffer.
func Bind(alloc memory.Allocator, rec *api.Tensor) (*TensorBinding, error) {
	if rec == nil {
		return nil, api.ErrNilTensor
	}

	b := &TensorBinding{TensorDescriptor: Describe(rec)}
	v := api.Adapt(rec)
	v.SetMemType(api.MemTypeRaw)

	n := b.ByteSize()
	if n > 0 {
		data, err := memory.Alloc(alloc, uintptr(n))
		if err != nil {
			return nil, errors.Wrapf(err, "bind tensor %q", b.Name())
		}
		clear(data.Bytes())
		b.data = data
		metrics.TensorBytesAllocated.WithLabelValues(backendLabel).Add(float64(n))
	}

	v.SetClientBuf(api.ClientBuffer{Data: b.data.Ptr(), DataSize: uint32(n)})
	return b, nil
}

// Bytes returns the tensor data, or nil when no memory is attached.
func (b *TensorBinding) Bytes() []byte {
	if b.rec == nil {
		return nil
	}
	p := api.Adapt(b.rec).MemoryPointer()
	n := b.ByteSize()
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// Release frees the data buffer and detaches it from the record.
func (b *TensorBinding) Release() {
	if b == nil || !b.data.Valid() {
		return
	}
	metrics.TensorBytesAllocated.WithLabelValues(backendLabel).Sub(float64(b.data.Size()))
	b.data.Release()
	if b.rec != nil {
		api.Adapt(b.rec).SetClientBuf(api.ClientBuffer{})
	}
}
