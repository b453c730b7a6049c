package model

import (
	"testing"

	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTensor struct{ name string }

func (s stubTensor) Name() string       { return s.name }
func (s stubTensor) Type() tensor.Type  { return tensor.Float32 }
func (s stubTensor) Dimensions() []uint { return []uint{1} }
func (s stubTensor) Size() int          { return 1 }
func (s stubTensor) Bytes() []byte      { return nil }

func TestNameFromPath(t *testing.T) {
	assert.Equal(t, "mobilenet_v3_small", NameFromPath("models/qnn/mobilenet_v3_small.so"))
	assert.Equal(t, "model.tar", NameFromPath("/tmp/model.tar.gz"))
	assert.Equal(t, "noext", NameFromPath("noext"))
	assert.Equal(t, "", NameFromPath(""))
}

// TestBaseBoundaries ensures out of range tensor indices return nil for 0, N-1 and N.
func TestBaseBoundaries(t *testing.T) {
	b := NewBase("a/b/net.bin", NPU)
	b.SetTensors([]tensor.Tensor{stubTensor{"in"}}, []tensor.Tensor{stubTensor{"out0"}, stubTensor{"out1"}})

	assert.Equal(t, "net", b.Name())
	require.Equal(t, 1, b.NumInputs())
	require.Equal(t, 2, b.NumOutputs())

	assert.NotNil(t, b.Input(0))
	assert.Nil(t, b.Input(1))
	assert.Nil(t, b.Input(-1))

	assert.Equal(t, "out1", b.Output(1).Name())
	assert.Nil(t, b.Output(2))
}

func TestParseDelegate(t *testing.T) {
	d, err := ParseDelegate("htp")
	require.NoError(t, err)
	assert.Equal(t, NPU, d)

	_, err = ParseDelegate("tpu")
	assert.Error(t, err)
	assert.Equal(t, "GPU", GPU.String())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, Success, StatusOf(nil))
	assert.Equal(t, Fail, StatusOf(errors.New("x")))
	assert.Equal(t, "FAIL", Fail.String())
}
