package classifier

import (
	"image"

	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

// Preprocess resizes and crops img to the input shape and writes its RGB pixels into the
// input tensor in NHWC order. Quantized models and Uint8 inputs receive raw pixel values,
// everything else receives values scaled into [0, 1].
//
// Arguments:
//   - img: The decoded image.
//   - input: An input tensor shaped [1, H, W, 3].
//   - quantized: Whether the model runs at Uint8 precision.
//
// Returns:
//   - error: An error if the tensor shape or element type cannot hold an RGB image.
func Preprocess(img image.Image, input tensor.Tensor, quantized bool) error {
	if input == nil {
		return errors.New("nil input tensor")
	}
	dims := input.Dimensions()
	if len(dims) != 4 || dims[3] != 3 {
		return errors.Errorf("input %q has shape %v, want [1 H W 3]", input.Name(), dims)
	}
	height, width := int(dims[1]), int(dims[2])

	img = ResizeShortSide(img, NextPowerOfTwo(height))
	rgba := CenterCrop(img, height, width)

	scale := float32(1.0 / 255.0)
	if quantized || input.Type() == tensor.Uint8 {
		scale = 1
	}

	values := make([]float32, 0, height*width*3)
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			values = append(values,
				float32(px[0])*scale, float32(px[1])*scale, float32(px[2])*scale)
		}
	}

	if len(values) != input.Size() {
		return errors.Errorf("input %q holds %d elements, image produced %d",
			input.Name(), input.Size(), len(values))
	}
	return errors.Wrap(tensor.PutFloat32s(input, values), "writing input")
}
