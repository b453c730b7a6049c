package qnn

import (
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture builds source records on a heap the test never checks.
type fixture struct {
	heap  memory.Allocator
	owned []memory.Owned
}

func newFixture() *fixture { return &fixture{heap: memory.NewHeap()} }

func (f *fixture) cstr(t *testing.T, s string) *byte {
	t.Helper()
	p, o, err := memory.NewCString(f.heap, s)
	require.NoError(t, err)
	f.owned = append(f.owned, o)
	return p
}

func array[T any](t *testing.T, f *fixture, values ...T) *T {
	t.Helper()
	p, o, err := memory.ArrayFrom(f.heap, values)
	require.NoError(t, err)
	f.owned = append(f.owned, o)
	return p
}

// tensorV2 returns a fully populated v2 record with per-channel quantization.
func (f *fixture) tensorV2(t *testing.T) api.Tensor {
	base := api.TensorV1{
		ID:         7,
		Name:       f.cstr(t, "conv_out"),
		Type:       api.TensorTypeAppRead,
		DataFormat: api.TensorDataFormatFlatBuffer,
		DataType:   api.DataTypeUFixedPoint8,
		QuantizeParams: api.QuantizeParams{
			EncodingDefinition:   api.DefinitionDefined,
			QuantizationEncoding: api.QuantizationEncodingAxisScaleOffset,
			AxisScaleOffsetEncoding: api.AxisScaleOffset{
				Axis:            3,
				NumScaleOffsets: 3,
				ScaleOffset:     array(t, f, api.ScaleOffset{Scale: 0.1, Offset: 1}, api.ScaleOffset{Scale: 0.2, Offset: 2}, api.ScaleOffset{Scale: 0.3, Offset: 3}),
			},
		},
		Rank:       4,
		Dimensions: array[uint32](t, f, 1, 8, 8, 3),
		MemType:    api.MemTypeRaw,
		ClientBuf:  api.ClientBuffer{Data: unsafe.Pointer(&[4]byte{}), DataSize: 4},
	}
	return api.NewTensorV2(api.TensorV2{
		TensorV1:            base,
		IsDynamicDimensions: array[uint8](t, f, 1, 0, 0, 0),
		SparseParams:        api.SparseParams{Type: api.SparseLayoutHybridCOO, HybridCOO: api.HybridCOO{NumSpecifiedElements: 9, NumSparseDimensions: 2}},
	})
}

type flat struct {
	Version      api.TensorVersion
	ID           uint32
	Name         string
	Type         api.TensorType
	DataType     api.DataType
	Definition   api.Definition
	Encoding     api.QuantizationEncoding
	ScaleOffset  api.ScaleOffset
	Axis         int32
	ScaleOffsets []api.ScaleOffset
	Dims         []uint32
	Dynamic      []uint8
	Sparse       api.SparseParams
}

func flatten(t *api.Tensor) flat {
	v := api.Adapt(t)
	q := v.QuantizeParams()
	return flat{
		Version:      t.Version,
		ID:           v.ID(),
		Name:         memory.GoString(v.NamePtr()),
		Type:         v.Type(),
		DataType:     v.DataType(),
		Definition:   q.EncodingDefinition,
		Encoding:     q.QuantizationEncoding,
		ScaleOffset:  q.ScaleOffsetEncoding,
		Axis:         q.AxisScaleOffsetEncoding.Axis,
		ScaleOffsets: append([]api.ScaleOffset(nil), q.ScaleOffsets()...),
		Dims:         append([]uint32(nil), v.Dimensions()...),
		Dynamic:      append([]uint8(nil), v.DynamicDimensions()...),
		Sparse:       v.SparseParams(),
	}
}

// TestDeepCopyRoundTrip checks that a copy matches the source field by field and shares
// none of its heap fields.
func TestDeepCopyRoundTrip(t *testing.T) {
	f := newFixture()
	src := f.tensorV2(t)
	alloc := memory.NewCounting(memory.NewHeap())

	var dst api.Tensor
	spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
	require.NoError(t, err)

	if diff := cmp.Diff(flatten(&src), flatten(&dst)); diff != "" {
		t.Fatalf("copy differs from source (-src +dst):\n%s", diff)
	}

	in, out := api.Adapt(&src), api.Adapt(&dst)
	assert.NotSame(t, in.NamePtr(), out.NamePtr())
	assert.NotSame(t, in.DimensionsPtr(), out.DimensionsPtr())
	assert.NotSame(t, in.DynamicDimensionsPtr(), out.DynamicDimensionsPtr())
	assert.NotSame(t, in.QuantizeParams().AxisScaleOffsetEncoding.ScaleOffset, out.QuantizeParams().AxisScaleOffsetEncoding.ScaleOffset)
	assert.Equal(t, 4, alloc.Live())

	// Memory placement is not part of the copy.
	assert.Equal(t, api.MemTypeUndefined, out.MemType())
	assert.Nil(t, out.ClientBuf().Data)

	spec.Release()
	assert.Equal(t, 0, alloc.Live())
	assert.Nil(t, out.NamePtr())
	assert.Nil(t, out.DimensionsPtr())
	assert.Nil(t, out.DynamicDimensionsPtr())

	spec.Release()
	assert.Equal(t, 0, alloc.InvalidFrees())
}

// TestDeepCopyRepeated copies and releases the same source many times in a row and expects
// every block to come back exactly once.
func TestDeepCopyRepeated(t *testing.T) {
	f := newFixture()
	src := f.tensorV2(t)
	alloc := memory.NewCounting(memory.NewHeap())

	const copies = 64
	for i := 0; i < copies; i++ {
		var dst api.Tensor
		spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.NoError(t, err)
		require.Equal(t, 4, alloc.Live(), "copy %d", i)
		spec.Release()
		require.Equal(t, 0, alloc.Live(), "copy %d", i)
	}

	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, 0, alloc.InvalidFrees())
	assert.NotNil(t, api.Adapt(&src).NamePtr(), "source is untouched")
}

func TestDeepCopyV1(t *testing.T) {
	f := newFixture()
	src := api.NewTensorV1(api.TensorV1{
		ID:       1,
		Name:     f.cstr(t, "input"),
		DataType: api.DataTypeFloat32,
		QuantizeParams: api.QuantizeParams{
			EncodingDefinition:   api.DefinitionDefined,
			QuantizationEncoding: api.QuantizationEncodingScaleOffset,
			ScaleOffsetEncoding:  api.ScaleOffset{Scale: 0.5, Offset: -3},
		},
		Rank:       2,
		Dimensions: array[uint32](t, f, 1, 1000),
	})
	alloc := memory.NewCounting(memory.NewHeap())

	var dst api.Tensor
	spec, err := DeepCopy(alloc, &dst, &src, api.Strict)
	require.NoError(t, err)
	defer spec.Release()

	assert.Equal(t, flatten(&src), flatten(&dst))
	assert.Equal(t, api.TensorVersion1, dst.Version)
	assert.Equal(t, api.ScaleOffset{Scale: 0.5, Offset: -3}, dst.V1.QuantizeParams.ScaleOffsetEncoding)
	// Name and dimensions only; per-tensor quantization is held by value.
	assert.Equal(t, 2, alloc.Live())
}

func TestDeepCopyEdgeCases(t *testing.T) {
	alloc := memory.NewCounting(memory.NewHeap())

	t.Run("nil name stays nil", func(t *testing.T) {
		src := api.NewTensorV1(api.TensorV1{DataType: api.DataTypeUint8})
		var dst api.Tensor
		spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.NoError(t, err)
		assert.Nil(t, dst.V1.Name)
		assert.Nil(t, dst.V1.Dimensions)
		assert.Zero(t, dst.V1.Rank)
		spec.Release()
	})

	t.Run("nil dimensions with rank", func(t *testing.T) {
		src := api.NewTensorV1(api.TensorV1{Rank: 2})
		dst := api.TensorInit(api.TensorVersion1)
		before := dst
		_, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.ErrorIs(t, err, api.ErrNullArray)
		assert.Equal(t, before, dst)
	})

	t.Run("nil scale offsets with count", func(t *testing.T) {
		src := api.NewTensorV1(api.TensorV1{QuantizeParams: api.QuantizeParams{
			QuantizationEncoding:    api.QuantizationEncodingAxisScaleOffset,
			AxisScaleOffsetEncoding: api.AxisScaleOffset{NumScaleOffsets: 2},
		}})
		var dst api.Tensor
		_, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.ErrorIs(t, err, api.ErrNullArray)
	})

	t.Run("other encodings are left undefined", func(t *testing.T) {
		src := api.NewTensorV1(api.TensorV1{QuantizeParams: api.QuantizeParams{
			EncodingDefinition:   api.DefinitionDefined,
			QuantizationEncoding: api.QuantizationEncodingBwScaleOffset,
		}})
		var dst api.Tensor
		spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.NoError(t, err)
		defer spec.Release()
		assert.Equal(t, api.DefinitionDefined, dst.V1.QuantizeParams.EncodingDefinition)
		assert.Equal(t, api.QuantizationEncodingUndefined, dst.V1.QuantizeParams.QuantizationEncoding)
	})

	t.Run("unknown version", func(t *testing.T) {
		src := api.Tensor{Version: 9, V1: api.TensorV1{ID: 4}}
		var dst api.Tensor
		_, err := DeepCopy(alloc, &dst, &src, api.Strict)
		require.ErrorIs(t, err, api.ErrUnknownTensorVersion)

		spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.NoError(t, err)
		assert.Equal(t, uint32(4), api.Adapt(&dst).ID())
		spec.Release()
	})

	t.Run("nil destination", func(t *testing.T) {
		src := api.NewTensorV1(api.TensorV1{})
		_, err := DeepCopy(alloc, nil, &src, api.Lenient)
		require.Error(t, err)
	})

	assert.Equal(t, 0, alloc.Live())
}

// TestDeepCopyAllocationFailure fails every allocation position in turn and checks that
// nothing leaks and nothing is published.
func TestDeepCopyAllocationFailure(t *testing.T) {
	f := newFixture()
	src := f.tensorV2(t)

	for n := 0; n < 4; n++ {
		alloc := memory.NewCounting(memory.NewHeap())
		alloc.FailAfter(n)

		dst := api.TensorInit(api.TensorVersion2)
		before := dst
		spec, err := DeepCopy(alloc, &dst, &src, api.Lenient)
		require.ErrorIs(t, err, memory.ErrOutOfMemory, "failing allocation %d", n)
		assert.Nil(t, spec)
		assert.Equal(t, 0, alloc.Live(), "failing allocation %d", n)
		assert.Equal(t, before, dst, "failing allocation %d", n)
	}
}
