package api

import (
	"unsafe"
)

// TensorVersion tags the layout of a tensor record.
type TensorVersion uint32

// Known tensor record layouts.
const (
	TensorVersion1 TensorVersion = 1
	TensorVersion2 TensorVersion = 2
)

// TensorType is the role of a tensor in a graph.
type TensorType uint32

// Tensor roles.
const (
	TensorTypeAppWrite     TensorType = 0
	TensorTypeAppRead      TensorType = 1
	TensorTypeAppReadWrite TensorType = 2
	TensorTypeNative       TensorType = 3
	TensorTypeStatic       TensorType = 4
	TensorTypeNull         TensorType = 5
	TensorTypeUndefined    TensorType = 0x7FFFFFFF
)

// DataFormat is the memory layout of tensor data.
type DataFormat uint32

// TensorDataFormatFlatBuffer is the only format the adapter produces.
const TensorDataFormatFlatBuffer DataFormat = 0

// DataType is the vendor element type code.
type DataType uint32

// Element type codes.
const (
	DataTypeInt8          DataType = 0x0008
	DataTypeInt16         DataType = 0x0016
	DataTypeInt32         DataType = 0x0032
	DataTypeInt64         DataType = 0x0064
	DataTypeUint8         DataType = 0x0108
	DataTypeUint16        DataType = 0x0116
	DataTypeUint32        DataType = 0x0132
	DataTypeUint64        DataType = 0x0164
	DataTypeFloat16       DataType = 0x0216
	DataTypeFloat32       DataType = 0x0232
	DataTypeFloat64       DataType = 0x0264
	DataTypeSFixedPoint8  DataType = 0x0308
	DataTypeSFixedPoint16 DataType = 0x0316
	DataTypeSFixedPoint32 DataType = 0x0332
	DataTypeUFixedPoint8  DataType = 0x0408
	DataTypeUFixedPoint16 DataType = 0x0416
	DataTypeUFixedPoint32 DataType = 0x0432
	DataTypeBool8         DataType = 0x0508
	DataTypeUndefined     DataType = 0x7FFFFFFF
)

// Definition says who defined a parameter.
type Definition uint32

// Definition values.
const (
	DefinitionImplGenerated Definition = 0
	DefinitionDefined       Definition = 1
	DefinitionUndefined     Definition = 0x7FFFFFFF
)

// QuantizationEncoding selects the active quantization parameters.
type QuantizationEncoding uint32

// Quantization encodings.
const (
	QuantizationEncodingScaleOffset       QuantizationEncoding = 0
	QuantizationEncodingAxisScaleOffset   QuantizationEncoding = 1
	QuantizationEncodingBwScaleOffset     QuantizationEncoding = 2
	QuantizationEncodingBwAxisScaleOffset QuantizationEncoding = 3
	QuantizationEncodingUndefined         QuantizationEncoding = 0x7FFFFFFF
)

// MemType selects how tensor data is reached.
type MemType uint32

// Memory types.
const (
	MemTypeRaw       MemType = 0
	MemTypeMemHandle MemType = 1
	MemTypeUndefined MemType = 0x7FFFFFFF
)

// SparseLayout is the layout of sparse tensor data.
type SparseLayout uint32

// Sparse layouts.
const (
	SparseLayoutHybridCOO SparseLayout = 0
	SparseLayoutUndefined SparseLayout = 0x7FFFFFFF
)

// ScaleOffset is one per-tensor or per-channel quantization pair.
type ScaleOffset struct {
	Scale  float32
	Offset int32
}

// AxisScaleOffset holds per-channel quantization along one axis. ScaleOffset points to
// NumScaleOffsets pairs.
type AxisScaleOffset struct {
	Axis            int32
	NumScaleOffsets uint32
	ScaleOffset     *ScaleOffset
}

// QuantizeParams describes how stored values map to real values.
type QuantizeParams struct {
	EncodingDefinition      Definition
	QuantizationEncoding    QuantizationEncoding
	ScaleOffsetEncoding     ScaleOffset
	AxisScaleOffsetEncoding AxisScaleOffset
}

// ScaleOffsets returns the per-channel pairs, or nil for other encodings.
func (q QuantizeParams) ScaleOffsets() []ScaleOffset {
	if q.QuantizationEncoding != QuantizationEncodingAxisScaleOffset {
		return nil
	}
	a := q.AxisScaleOffsetEncoding
	if a.ScaleOffset == nil || a.NumScaleOffsets == 0 {
		return nil
	}
	return unsafe.Slice(a.ScaleOffset, a.NumScaleOffsets)
}

// ClientBuffer is caller-provided tensor memory.
type ClientBuffer struct {
	Data     unsafe.Pointer
	DataSize uint32
}

// MemHandle is a runtime registered memory region.
type MemHandle unsafe.Pointer

// HybridCOO describes a hybrid coordinate-list sparse tensor.
type HybridCOO struct {
	NumSpecifiedElements uint32
	NumSparseDimensions  uint32
}

// SparseParams describes sparse tensor storage.
type SparseParams struct {
	Type      SparseLayout
	HybridCOO HybridCOO
}

// DefaultSparseParams is the value reported for records without sparse information.
var DefaultSparseParams = SparseParams{Type: SparseLayoutUndefined}

// TensorV1 is the first tensor record layout. Name points to a NUL terminated string and
// Dimensions to Rank values.
type TensorV1 struct {
	ID             uint32
	Name           *byte
	Type           TensorType
	DataFormat     DataFormat
	DataType       DataType
	QuantizeParams QuantizeParams
	Rank           uint32
	Dimensions     *uint32
	MemType        MemType
	ClientBuf      ClientBuffer
	MemHandle      MemHandle
}

// TensorV2 extends TensorV1 with dynamic dimensions and sparse storage. IsDynamicDimensions
// points to Rank flags when present.
type TensorV2 struct {
	TensorV1
	IsDynamicDimensions *uint8
	SparseParams        SparseParams
	IsProduced          uint8
}

// Tensor is a version tagged tensor record. Only the member selected by Version is
// meaningful.
type Tensor struct {
	Version TensorVersion
	V1      TensorV1
	V2      TensorV2
}

// NewTensorV1 wraps a v1 layout.
func NewTensorV1(v TensorV1) Tensor {
	return Tensor{Version: TensorVersion1, V1: v}
}

// NewTensorV2 wraps a v2 layout.
func NewTensorV2(v TensorV2) Tensor {
	return Tensor{Version: TensorVersion2, V2: v}
}

// TensorInit returns an empty record of the given layout with every enumeration set to its
// undefined value.
func TensorInit(version TensorVersion) Tensor {
	base := TensorV1{
		Type:       TensorTypeUndefined,
		DataFormat: TensorDataFormatFlatBuffer,
		DataType:   DataTypeUndefined,
		QuantizeParams: QuantizeParams{
			EncodingDefinition:   DefinitionUndefined,
			QuantizationEncoding: QuantizationEncodingUndefined,
		},
		MemType: MemTypeUndefined,
	}
	t := Tensor{Version: version, V1: base}
	t.V2 = TensorV2{TensorV1: base, SparseParams: DefaultSparseParams}
	return t
}
