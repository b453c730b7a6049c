package classifier

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufTensor struct {
	name string
	typ  tensor.Type
	dims []uint
	data []byte
}

func newBufTensor(name string, typ tensor.Type, dims ...uint) *bufTensor {
	return &bufTensor{name: name, typ: typ, dims: dims,
		data: make([]byte, tensor.Product(dims)*tensor.ElementSize(typ))}
}

func (b *bufTensor) Name() string       { return b.name }
func (b *bufTensor) Type() tensor.Type  { return b.typ }
func (b *bufTensor) Dimensions() []uint { return b.dims }
func (b *bufTensor) Size() int          { return tensor.Product(b.dims) }
func (b *bufTensor) Bytes() []byte      { return b.data }

// scoringModel writes fixed scores into its output on every execution.
type scoringModel struct {
	model.Base
	scores []float32
	runs   int
	fail   bool
}

func newScoringModel(in tensor.Type, scores ...float32) *scoringModel {
	m := &scoringModel{Base: model.NewBase("mobilenet.so", model.NPU), scores: scores}
	m.SetTensors(
		[]tensor.Tensor{newBufTensor("input", in, 1, 8, 8, 3)},
		[]tensor.Tensor{newBufTensor("output", tensor.Float32, 1, uint(len(scores)))},
	)
	return m
}

func (m *scoringModel) ApplyDelegate(model.Delegate) model.Status { return model.Fail }
func (m *scoringModel) Close() error                              { return nil }
func (m *scoringModel) Execute() model.Status {
	if m.fail {
		return model.Fail
	}
	m.runs++
	copy(tensor.As[float32](m.Output(0)), m.scores)
	return model.Success
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNextPowerOfTwo(t *testing.T) {
	for in, want := range map[int]int{0: 2, 1: 2, 2: 2, 3: 4, 224: 256, 256: 256, 257: 512} {
		assert.Equal(t, want, NextPowerOfTwo(in), "input %d", in)
	}
}

// TestResizeShortSide ensures the shorter side lands on the target and the aspect ratio is
// kept.
func TestResizeShortSide(t *testing.T) {
	wide := ResizeShortSide(solid(400, 200, color.White), 100)
	assert.Equal(t, image.Rect(0, 0, 200, 100), wide.Bounds())

	tall := ResizeShortSide(solid(30, 90, color.White), 60)
	assert.Equal(t, 60, tall.Bounds().Dx())
	assert.Equal(t, 180, tall.Bounds().Dy())
}

func TestCenterCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.Set(3, 2, color.RGBA{R: 255, A: 255})

	out := CenterCrop(img, 2, 2)
	require.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(1, 1))

	// Smaller than the window: padded with black around the original.
	padded := CenterCrop(solid(2, 2, color.White), 4, 4)
	assert.Equal(t, color.RGBA{A: 255}, padded.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, padded.RGBAAt(1, 1))
}

func TestPreprocess(t *testing.T) {
	img := solid(16, 12, color.RGBA{R: 255, G: 51, B: 0, A: 255})

	f := newBufTensor("input", tensor.Float32, 1, 8, 8, 3)
	require.NoError(t, Preprocess(img, f, false))
	values := tensor.As[float32](f)
	const px = 1.0 / 255
	assert.InDelta(t, 1.0, values[0], px)
	assert.InDelta(t, 0.2, values[1], px)
	assert.InDelta(t, 0.0, values[2], px)
	assert.InDelta(t, 1.0, values[len(values)-3], px)

	q := newBufTensor("input", tensor.Uint8, 1, 8, 8, 3)
	require.NoError(t, Preprocess(img, q, false))
	raw := tensor.As[uint8](q)
	assert.InDelta(t, 255, raw[0], 1)
	assert.InDelta(t, 51, raw[1], 1)
	assert.InDelta(t, 0, raw[2], 1)

	h := newBufTensor("input", tensor.Float16, 1, 8, 8, 3)
	require.NoError(t, Preprocess(img, h, false))
	widened, err := tensor.Float32s(h)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, widened[1], 0.01)
}

// TestPreprocessQuantized writes raw pixel values when the model runs at Uint8 precision,
// whatever the input element type.
func TestPreprocessQuantized(t *testing.T) {
	img := solid(16, 12, color.RGBA{R: 100, G: 51, B: 0, A: 255})

	in := newBufTensor("input", tensor.Int8, 1, 8, 8, 3)
	require.NoError(t, Preprocess(img, in, true))
	raw := tensor.As[int8](in)
	assert.InDelta(t, 100, raw[0], 1)
	assert.InDelta(t, 51, raw[1], 1)

	require.NoError(t, Preprocess(img, in, false))
	assert.Equal(t, int8(0), tensor.As[int8](in)[0], "scaled values truncate to zero")
}

func TestPreprocessRejectsShapes(t *testing.T) {
	img := solid(8, 8, color.White)
	assert.Error(t, Preprocess(img, nil, false))
	assert.Error(t, Preprocess(img, newBufTensor("input", tensor.Float32, 1, 3, 8, 8), false))
	assert.Error(t, Preprocess(img, newBufTensor("input", tensor.Float32, 8, 8), false))
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})
	require.Len(t, probs, 3)

	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, 0.6652, probs[2], 1e-4)
	assert.Nil(t, Softmax(nil))

	// Large inputs must not overflow.
	big := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, big[0], 1e-6)
}

func TestTopK(t *testing.T) {
	values := []float32{0.1, 0.7, 0.2, 0.7}
	assert.Equal(t, []int{1, 3, 2}, TopK(values, 3))
	assert.Equal(t, []int{1, 3, 2, 0}, TopK(values, 10))
	assert.Empty(t, TopK(values, 0))
	assert.Empty(t, TopK(values, -1))
}

func TestReadLabels(t *testing.T) {
	labels, err := ReadLabels(strings.NewReader("background\ncat\n\ndog\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "cat", "", "dog"}, labels)

	_, err = ReadLabels(strings.NewReader("\n\n"))
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestPredict ensures predictions skip the background label and come out most probable
// first.
func TestPredict(t *testing.T) {
	m := newScoringModel(tensor.Float32, 0.5, 3, 1)
	c, err := New(m, []string{"background", "tench", "goldfish", "shark"})
	require.NoError(t, err)
	assert.False(t, c.Quantized())

	preds, _, err := c.Predict(solid(10, 10, color.White), 2)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "goldfish", preds[0].Label)
	assert.Equal(t, "shark", preds[1].Label)
	assert.Greater(t, preds[0].Probability, preds[1].Probability)
	assert.Equal(t, 1, m.runs)

	// Labels shorter than the output fall back to the index.
	c, err = New(m, []string{"background"})
	require.NoError(t, err)
	preds, _, err = c.Predict(solid(10, 10, color.White), 1)
	require.NoError(t, err)
	assert.Equal(t, "class "+strconv.Itoa(2), preds[0].Label)

	m.fail = true
	_, _, err = c.Predict(solid(10, 10, color.White), 1)
	assert.Error(t, err)
}

// TestPredictQuantizedPrecision feeds raw pixels to a Uint8 precision model with a signed
// input.
func TestPredictQuantizedPrecision(t *testing.T) {
	m := newScoringModel(tensor.Int8, 1, 2)
	m.SetPrecision(tensor.Uint8)
	c, err := New(m, nil)
	require.NoError(t, err)
	require.True(t, c.Quantized())

	_, _, err = c.Predict(solid(10, 10, color.RGBA{R: 90, A: 255}), 1)
	require.NoError(t, err)
	assert.InDelta(t, 90, tensor.As[int8](m.Input(0))[0], 1)
}

func TestScores(t *testing.T) {
	out := newBufTensor("output", tensor.Float32, 1, 1, 3)
	copy(tensor.As[float32](out), []float32{0.25, 2, -1})

	scores, err := Scores(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 2, -1}, scores)

	single := newBufTensor("output", tensor.Float32, 1, 1)
	tensor.As[float32](single)[0] = 7
	scores, err = Scores(single)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, scores)

	_, err = Scores(nil)
	assert.Error(t, err)
}

func TestNewRejectsModels(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	empty := &scoringModel{Base: model.NewBase("empty.so", model.NPU)}
	_, err = New(empty, nil)
	assert.Error(t, err)

	c, err := New(newScoringModel(tensor.Uint8, 1), nil)
	require.NoError(t, err)
	assert.True(t, c.Quantized())
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 2, color.White)))

	path := filepath.Join(t.TempDir(), "white.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	_, err = DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestCamera(t *testing.T) {
	id := os.Getenv("EDGERUNNER_CAMERA")
	if id == "" {
		t.Skip("EDGERUNNER_CAMERA not set")
	}
	n, err := strconv.Atoi(id)
	require.NoError(t, err)

	cam, err := OpenCamera(n)
	require.NoError(t, err)
	defer cam.Close()

	img, err := cam.Read()
	require.NoError(t, err)
	assert.False(t, img.Bounds().Empty())
}
