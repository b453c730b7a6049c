// Package classifier - Image classification on top of any edgerunner model.
package classifier

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// LoadImage decodes a JPEG, PNG or WebP file.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %s", path)
	}
	return DecodeImage(data)
}

// DecodeImage decodes JPEG, PNG or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	if b := img.Bounds(); b.Empty() {
		return nil, errors.Errorf("empty %s image", format)
	}
	return img, nil
}

// NextPowerOfTwo returns the smallest power of two, at least 2, that is not below v.
func NextPowerOfTwo(v int) int {
	p := 2
	for p < v {
		p *= 2
	}
	return p
}

// ResizeShortSide scales img so its shorter side is size pixels, keeping the aspect ratio.
//
// Arguments:
//   - img: The source image.
//   - size: The target length of the shorter side.
//
// Returns:
//   - image.Image: The resized image.
func ResizeShortSide(img image.Image, size int) image.Image {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()

	long, short := max(h, w), min(h, w)
	newLong := uint(float32(size) * float32(long) / float32(short))

	if h > w {
		return resize.Resize(uint(size), newLong, img, resize.Bilinear)
	}
	return resize.Resize(newLong, uint(size), img, resize.Bilinear)
}

// CenterCrop cuts a height x width window out of the middle of img. Images smaller than the
// window are padded with black first.
func CenterCrop(img image.Image, height, width int) *image.RGBA {
	b := img.Bounds()

	if b.Dx() < width || b.Dy() < height {
		padW, padH := max(width, b.Dx()), max(height, b.Dy())
		padded := image.NewRGBA(image.Rect(0, 0, padW, padH))
		draw.Draw(padded, padded.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
		offset := image.Pt((padW-b.Dx())/2, (padH-b.Dy())/2)
		draw.Draw(padded, b.Sub(b.Min).Add(offset), img, b.Min, draw.Src)
		img, b = padded, padded.Bounds()
	}

	top := b.Min.Y + (b.Dy()-height)/2
	left := b.Min.X + (b.Dx()-width)/2

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), img, image.Pt(left, top), draw.Src)
	return out
}
