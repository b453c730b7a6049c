package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libraryPath = "/models/mobilenet_v3_small.so"

// execute runs the CLI with a configuration that keeps context binaries in a temporary
// directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "edgerunner.yaml")
	yaml := "log:\n  level: error\ncache:\n  dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	out, err := execute(t, "inspect", "--fake", libraryPath)
	require.NoError(t, err)

	assert.Contains(t, out, "model:     mobilenet_v3_small")
	assert.Contains(t, out, "delegate:  NPU")
	assert.Contains(t, out, "input 0:   image_tensor FLOAT32 [1 224 224 3] (602112 bytes)")
	assert.Contains(t, out, "output 0:   class_logits FLOAT32 [1 1000] (4000 bytes)")
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run", "--fake", "-n", "3", libraryPath)
	require.NoError(t, err)
	assert.Contains(t, out, "mobilenet_v3_small on NPU: 3 runs")

	_, err = execute(t, "run", "--fake", "-n", "0", libraryPath)
	assert.Error(t, err)
}

func TestDelegateFlag(t *testing.T) {
	_, err := execute(t, "inspect", "--fake", "--delegate", "npu", libraryPath)
	assert.NoError(t, err)

	_, err = execute(t, "inspect", "--fake", "--delegate", "gpu", libraryPath)
	assert.ErrorContains(t, err, "cannot run on GPU")

	_, err = execute(t, "inspect", "--fake", "--delegate", "tpu", libraryPath)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	imagePath := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(imagePath, buf.Bytes(), 0o644))

	labels := []string{"background"}
	for i := 0; i < 1000; i++ {
		labels = append(labels, "class-"+strings.Repeat("x", i%3))
	}
	labelsPath := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(labelsPath, []byte(strings.Join(labels, "\n")), 0o644))

	out, err := execute(t, "classify", "--fake", "--labels", labelsPath, "-k", "2", libraryPath, imagePath)
	require.NoError(t, err)
	assert.Contains(t, out, "inference:")
	assert.Contains(t, out, "1. class-")
	assert.Contains(t, out, "2. class-")
	assert.NotContains(t, out, "3. ")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-2.png"), buf.Bytes(), 0o644))
	out, err = execute(t, "classify", "--fake", "-k", "1", libraryPath, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "inference:"))
	assert.Contains(t, out, "frame-2.png")

	_, err = execute(t, "classify", "--fake", libraryPath)
	assert.ErrorContains(t, err, "--camera")
}

func TestUnsupportedModel(t *testing.T) {
	_, err := execute(t, "inspect", "/models/mobilenet.tflite")
	assert.ErrorContains(t, err, "unsupported model format")
}
