package api

import (
	"unsafe"

	"github.com/pkg/errors"
)

// VersionMode decides what happens to records whose version tag is not known.
type VersionMode int

const (
	// Lenient reads unknown versions through the v1 layout.
	Lenient VersionMode = iota
	// Strict rejects unknown versions.
	Strict
)

func (m VersionMode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

var (
	// ErrUnknownTensorVersion is returned in Strict mode for unrecognized tensor layouts.
	ErrUnknownTensorVersion = errors.New("unknown tensor record version")
	// ErrNilTensor is returned when a nil record is resolved.
	ErrNilTensor = errors.New("nil tensor record")
)

// View is a uniform accessor surface over one tensor record. Every accessor dispatches on
// the layout resolved by Resolve.
type View struct {
	rec      *Tensor
	layout   TensorVersion
	fallback bool
}

// Resolve returns a View over t.
//
// Arguments:
//   - t: The record to view.
//   - mode: How to treat unknown version tags.
//
// Returns:
//   - View: The accessor surface.
//   - error: ErrNilTensor or, in Strict mode, ErrUnknownTensorVersion.
func Resolve(t *Tensor, mode VersionMode) (View, error) {
	if t == nil {
		return View{}, ErrNilTensor
	}
	switch t.Version {
	case TensorVersion1, TensorVersion2:
		return View{rec: t, layout: t.Version}, nil
	default:
		if mode == Strict {
			return View{}, errors.Wrapf(ErrUnknownTensorVersion, "version %d", uint32(t.Version))
		}
		return View{rec: t, layout: TensorVersion1, fallback: true}, nil
	}
}

// Adapt resolves t leniently. It panics on a nil record.
func Adapt(t *Tensor) View {
	v, err := Resolve(t, Lenient)
	if err != nil {
		panic(err)
	}
	return v
}

// Layout returns the layout the accessors read.
func (v View) Layout() TensorVersion { return v.layout }

// Fallback reports whether an unknown version was read through the v1 layout.
func (v View) Fallback() bool { return v.fallback }

// Record returns the underlying record.
func (v View) Record() *Tensor { return v.rec }

func (v View) base() *TensorV1 {
	switch v.layout {
	case TensorVersion2:
		return &v.rec.V2.TensorV1
	default:
		return &v.rec.V1
	}
}

// ID returns the tensor id.
func (v View) ID() uint32 { return v.base().ID }

// SetID sets the tensor id.
func (v View) SetID(id uint32) { v.base().ID = id }

// NamePtr returns the raw name pointer.
func (v View) NamePtr() *byte { return v.base().Name }

// SetNamePtr sets the raw name pointer.
func (v View) SetNamePtr(p *byte) { v.base().Name = p }

// Type returns the tensor role.
func (v View) Type() TensorType { return v.base().Type }

// SetType sets the tensor role.
func (v View) SetType(t TensorType) { v.base().Type = t }

// DataFormat returns the data format.
func (v View) DataFormat() DataFormat { return v.base().DataFormat }

// SetDataFormat sets the data format.
func (v View) SetDataFormat(f DataFormat) { v.base().DataFormat = f }

// DataType returns the element type code.
func (v View) DataType() DataType { return v.base().DataType }

// SetDataType sets the element type code.
func (v View) SetDataType(t DataType) { v.base().DataType = t }

// QuantizeParams returns the quantization parameters.
func (v View) QuantizeParams() QuantizeParams { return v.base().QuantizeParams }

// SetQuantizeParams sets the quantization parameters.
func (v View) SetQuantizeParams(q QuantizeParams) { v.base().QuantizeParams = q }

// Rank returns the number of dimensions.
func (v View) Rank() uint32 { return v.base().Rank }

// SetRank sets the number of dimensions.
func (v View) SetRank(r uint32) { v.base().Rank = r }

// DimensionsPtr returns the raw dimensions pointer.
func (v View) DimensionsPtr() *uint32 { return v.base().Dimensions }

// SetDimensionsPtr sets the raw dimensions pointer.
func (v View) SetDimensionsPtr(p *uint32) { v.base().Dimensions = p }

// Dimensions returns the Rank dimensions, or nil when the pointer is nil.
func (v View) Dimensions() []uint32 {
	b := v.base()
	if b.Dimensions == nil || b.Rank == 0 {
		return nil
	}
	return unsafe.Slice(b.Dimensions, b.Rank)
}

// DynamicDimensionsPtr returns the dynamic dimension flags pointer. It is nil for v1.
func (v View) DynamicDimensionsPtr() *uint8 {
	if v.layout != TensorVersion2 {
		return nil
	}
	return v.rec.V2.IsDynamicDimensions
}

// SetDynamicDimensionsPtr sets the dynamic dimension flags pointer. It is a no-op for v1.
func (v View) SetDynamicDimensionsPtr(p *uint8) {
	if v.layout != TensorVersion2 {
		return
	}
	v.rec.V2.IsDynamicDimensions = p
}

// DynamicDimensions returns the Rank dynamic dimension flags, or nil.
func (v View) DynamicDimensions() []uint8 {
	p := v.DynamicDimensionsPtr()
	if p == nil || v.Rank() == 0 {
		return nil
	}
	return unsafe.Slice(p, v.Rank())
}

// SparseParams returns the sparse storage description. It is DefaultSparseParams for v1.
func (v View) SparseParams() SparseParams {
	if v.layout != TensorVersion2 {
		return DefaultSparseParams
	}
	return v.rec.V2.SparseParams
}

// SetSparseParams sets the sparse storage description. It is a no-op for v1.
func (v View) SetSparseParams(p SparseParams) {
	if v.layout != TensorVersion2 {
		return
	}
	v.rec.V2.SparseParams = p
}

// IsProduced returns the v2 produced flag, or 0 for v1.
func (v View) IsProduced() uint8 {
	if v.layout != TensorVersion2 {
		return 0
	}
	return v.rec.V2.IsProduced
}

// MemType returns the memory type.
func (v View) MemType() MemType { return v.base().MemType }

// SetMemType sets the memory type.
func (v View) SetMemType(t MemType) { v.base().MemType = t }

// ClientBuf returns the client buffer.
func (v View) ClientBuf() ClientBuffer { return v.base().ClientBuf }

// SetClientBuf sets the client buffer.
func (v View) SetClientBuf(b ClientBuffer) { v.base().ClientBuf = b }

// MemHandle returns the registered memory handle.
func (v View) MemHandle() MemHandle { return v.base().MemHandle }

// SetMemHandle sets the registered memory handle.
func (v View) SetMemHandle(h MemHandle) { v.base().MemHandle = h }

// MemoryPointer returns where tensor data lives: the memory handle for MemTypeMemHandle,
// the client buffer for MemTypeRaw and nil otherwise.
func (v View) MemoryPointer() unsafe.Pointer {
	b := v.base()
	switch b.MemType {
	case MemTypeMemHandle:
		return unsafe.Pointer(b.MemHandle)
	case MemTypeRaw:
		return b.ClientBuf.Data
	default:
		return nil
	}
}
