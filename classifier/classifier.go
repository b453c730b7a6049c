package classifier

import (
	"fmt"
	"image"
	"time"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

// Prediction is one ranked class.
type Prediction struct {
	Label       string  `json:"label"       yaml:"label"`
	Probability float32 `json:"probability" yaml:"probability"`
}

// String formats the prediction as "label (0.1234)".
func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.4f)", p.Label, p.Probability)
}

// Classifier runs single image classification with a model whose first input is an NHWC
// RGB image and whose first output holds one score per class. The label list starts with a
// background entry the model does not score.
type Classifier struct {
	model  model.Model
	labels []string
}

// New wraps m. The classifier does not own m.
func New(m model.Model, labels []string) (*Classifier, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	if m.NumInputs() == 0 || m.NumOutputs() == 0 {
		return nil, errors.Errorf("model %q has %d inputs and %d outputs", m.Name(), m.NumInputs(), m.NumOutputs())
	}
	return &Classifier{model: m, labels: labels}, nil
}

// Quantized reports whether the model consumes raw pixel values.
func (c *Classifier) Quantized() bool {
	return c.model.Precision() == tensor.Uint8 || c.model.Input(0).Type() == tensor.Uint8
}

// Predict classifies img.
//
// Arguments:
//   - img: The image to classify.
//   - k: The number of predictions to return.
//
// Returns:
//   - []Prediction: Up to k predictions, most probable first.
//   - time.Duration: The time spent in Execute.
//   - error: An error if preprocessing or execution fails.
func (c *Classifier) Predict(img image.Image, k int) ([]Prediction, time.Duration, error) {
	if err := Preprocess(img, c.model.Input(0), c.Quantized()); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	if c.model.Execute() != model.Success {
		return nil, 0, errors.Errorf("executing %q", c.model.Name())
	}
	elapsed := time.Since(start)

	scores, err := Scores(c.model.Output(0))
	if err != nil {
		return nil, elapsed, err
	}
	probs := Softmax(scores)

	top := TopK(scores, k)
	out := make([]Prediction, 0, len(top))
	for _, i := range top {
		out = append(out, Prediction{Label: c.label(i + 1), Probability: probs[i]})
	}

	logger.Log.Debug("classified", "model", c.model.Name(), "latency", elapsed, "top", out)
	return out, elapsed, nil
}

// Scores flattens a class score tensor of any shape, such as [1, classes] or
// [1, 1, classes], into one float32 per class.
func Scores(output tensor.Tensor) ([]float32, error) {
	dense, err := tensor.Dense(output)
	if err != nil {
		return nil, errors.Wrap(err, "reading scores")
	}
	if err := dense.Reshape(dense.Shape().TotalSize()); err != nil {
		return nil, errors.Wrapf(err, "flattening %v scores", dense.Shape())
	}

	switch data := dense.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, errors.Errorf("unexpected score data %T", data)
	}
}

func (c *Classifier) label(i int) string {
	if i < len(c.labels) {
		return c.labels[i]
	}
	return fmt.Sprintf("class %d", i)
}
