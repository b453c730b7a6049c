//go:build linux && qnn

package native

import (
	"testing"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCAllocator(t *testing.T) {
	alloc := memory.NewCounting(CAllocator{})

	name, owned, err := memory.NewCString(alloc, "image_tensor")
	require.NoError(t, err)
	assert.Equal(t, "image_tensor", memory.GoString(name))
	owned.Release()

	empty, err := memory.Alloc(alloc, 0)
	require.NoError(t, err)
	assert.True(t, empty.Valid())
	empty.Release()

	assert.Zero(t, alloc.Live())
	assert.Zero(t, alloc.InvalidFrees())
}

// TestTensorRecordsCrossTheBoundary converts records of both layouts to C and back.
func TestTensorRecordsCrossTheBoundary(t *testing.T) {
	alloc := CAllocator{}
	name, nameMem, err := memory.NewCString(alloc, "class_logits")
	require.NoError(t, err)
	defer nameMem.Release()
	dims, dimsMem, err := memory.ArrayFrom(alloc, []uint32{1, 4})
	require.NoError(t, err)
	defer dimsMem.Release()
	scales, scalesMem, err := memory.ArrayFrom(alloc, []api.ScaleOffset{{Scale: 0.5, Offset: -1}, {Scale: 0.25, Offset: 2}})
	require.NoError(t, err)
	defer scalesMem.Release()
	dynamic, dynamicMem, err := memory.ArrayFrom(alloc, []uint8{1, 0})
	require.NoError(t, err)
	defer dynamicMem.Release()

	v1 := api.TensorInit(api.TensorVersion1)
	v1.V1.ID = 7
	v1.V1.Name = name
	v1.V1.Type = api.TensorTypeAppRead
	v1.V1.DataType = api.DataTypeUFixedPoint8
	v1.V1.QuantizeParams = api.QuantizeParams{
		EncodingDefinition:   api.DefinitionDefined,
		QuantizationEncoding: api.QuantizationEncodingAxisScaleOffset,
		AxisScaleOffsetEncoding: api.AxisScaleOffset{
			Axis: 1, NumScaleOffsets: 2, ScaleOffset: scales,
		},
	}
	v1.V1.Rank = 2
	v1.V1.Dimensions = dims
	v1.V1.MemType = api.MemTypeRaw

	v2 := api.TensorInit(api.TensorVersion2)
	v2.V2.TensorV1 = v1.V1
	v2.V2.QuantizeParams = api.QuantizeParams{
		EncodingDefinition:   api.DefinitionDefined,
		QuantizationEncoding: api.QuantizationEncodingScaleOffset,
		ScaleOffsetEncoding:  api.ScaleOffset{Scale: 1.0 / 255},
	}
	v2.V2.IsDynamicDimensions = dynamic
	v2.V2.IsProduced = 1

	in := []api.Tensor{v1, v2}
	var a arena
	defer a.free()
	p, err := tensorsToC(&a, in)
	require.NoError(t, err)
	out := tensorsFromC(p, uint32(len(in)))
	require.Len(t, out, 2)

	assert.Equal(t, api.TensorVersion1, out[0].Version)
	assert.Equal(t, in[0].V1, out[0].V1)
	assert.Equal(t, []api.ScaleOffset{{Scale: 0.5, Offset: -1}, {Scale: 0.25, Offset: 2}}, out[0].V1.QuantizeParams.ScaleOffsets())

	assert.Equal(t, api.TensorVersion2, out[1].Version)
	got := api.Adapt(&out[1])
	assert.Equal(t, "class_logits", memory.GoString(got.NamePtr()))
	assert.Equal(t, []uint32{1, 4}, got.Dimensions())
	assert.Equal(t, uint8(1), out[1].V2.IsProduced)
	assert.Same(t, dynamic, out[1].V2.IsDynamicDimensions)
	assert.InDelta(t, 1.0/255, out[1].V2.QuantizeParams.ScaleOffsetEncoding.Scale, 1e-9)
}

func TestLoaderMissingLibrary(t *testing.T) {
	loader, err := NewLoader()
	require.NoError(t, err)

	_, err = loader.Open("/nonexistent/libQnnHtp.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlopen")
}
