package qnntest

import (
	"bytes"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TensorDef declares one graph tensor.
type TensorDef struct {
	Name     string       `yaml:"name"`
	DataType api.DataType `yaml:"data_type"`
	Dims     []uint32     `yaml:"dims"`
	// Dynamic flags one entry per dimension. Only v2 records carry them.
	Dynamic []uint8 `yaml:"dynamic,omitempty"`
	// Scale and Offset set per-tensor quantization when Scale is nonzero.
	Scale  float32 `yaml:"scale,omitempty"`
	Offset int32   `yaml:"offset,omitempty"`
	// Axis and Channels set per-channel quantization when Channels is not empty.
	Axis     int32             `yaml:"axis,omitempty"`
	Channels []api.ScaleOffset `yaml:"channels,omitempty"`
}

// GraphDef declares one graph.
type GraphDef struct {
	Name    string      `yaml:"name"`
	Inputs  []TensorDef `yaml:"inputs"`
	Outputs []TensorDef `yaml:"outputs"`
}

// ModelDef declares what a model library composes.
type ModelDef struct {
	Graphs []GraphDef `yaml:"graphs"`
}

// MobileNet is an image classifier taking one NHWC float image and producing 1000 logits.
func MobileNet() ModelDef {
	return ModelDef{Graphs: []GraphDef{{
		Name: "mobilenet_v3_small",
		Inputs: []TensorDef{
			{Name: "image_tensor", DataType: api.DataTypeFloat32, Dims: []uint32{1, 224, 224, 3}},
		},
		Outputs: []TensorDef{
			{Name: "class_logits", DataType: api.DataTypeFloat32, Dims: []uint32{1, 1000}},
		},
	}}}
}

// QuantizedMobileNet is MobileNet with a fixed point input and per-channel quantized
// output.
func QuantizedMobileNet() ModelDef {
	channels := make([]api.ScaleOffset, 4)
	for i := range channels {
		channels[i] = api.ScaleOffset{Scale: 0.5 / float32(i+1), Offset: int32(-i)}
	}
	return ModelDef{Graphs: []GraphDef{{
		Name: "mobilenet_v3_small_quant",
		Inputs: []TensorDef{
			{Name: "image_tensor", DataType: api.DataTypeUFixedPoint8, Dims: []uint32{1, 224, 224, 3},
				Dynamic: []uint8{1, 0, 0, 0}, Scale: 1.0 / 255, Offset: 0},
		},
		Outputs: []TensorDef{
			{Name: "class_logits", DataType: api.DataTypeUFixedPoint8, Dims: []uint32{1, 4},
				Axis: 1, Channels: channels},
		},
	}}}
}

// ElementSize returns the byte width of one element of dt, or 0 for types the fake does not
// execute.
func ElementSize(dt api.DataType) int {
	switch dt {
	case api.DataTypeFloat32, api.DataTypeInt32, api.DataTypeUint32,
		api.DataTypeSFixedPoint32, api.DataTypeUFixedPoint32:
		return 4
	case api.DataTypeFloat16, api.DataTypeInt16, api.DataTypeUint16,
		api.DataTypeSFixedPoint16, api.DataTypeUFixedPoint16:
		return 2
	case api.DataTypeInt8, api.DataTypeUint8, api.DataTypeSFixedPoint8, api.DataTypeUFixedPoint8,
		api.DataTypeBool8:
		return 1
	default:
		return 0
	}
}

// ByteSize returns the data size of a tensor.
func (d TensorDef) ByteSize() int {
	if len(d.Dims) == 0 {
		return 0
	}
	n := ElementSize(d.DataType)
	for _, v := range d.Dims {
		n *= int(v)
	}
	return n
}

const magic = "QNNFAKE1\n"

type blob struct {
	Backend api.BackendID `yaml:"backend"`
	Graphs  []GraphDef    `yaml:"graphs"`
}

func encode(b blob) ([]byte, error) {
	body, err := yaml.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "encoding context binary")
	}
	return append([]byte(magic), body...), nil
}

func decode(data []byte) (blob, error) {
	var b blob
	if !bytes.HasPrefix(data, []byte(magic)) {
		return b, errors.New("not a context binary")
	}
	if err := yaml.Unmarshal(data[len(magic):], &b); err != nil {
		return b, errors.Wrap(err, "decoding context binary")
	}
	return b, nil
}

// EncodeBinary returns a context binary holding graphs, as the backend identified by id would
// serialize it.
func EncodeBinary(id api.BackendID, def ModelDef) ([]byte, error) {
	return encode(blob{Backend: id, Graphs: def.Graphs})
}
