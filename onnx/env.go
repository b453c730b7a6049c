// Package onnx - Interpreter backend running ONNX models through onnxruntime.
package onnx

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the onnxruntime shared library location.
const LibraryPathEnv = "EDGERUNNER_ONNXRUNTIME_LIB"

// ErrRuntimeUnavailable is returned when the onnxruntime shared library cannot be found or
// initialized.
var ErrRuntimeUnavailable = errors.New("onnxruntime unavailable")

var envMu sync.Mutex

// DefaultSharedLibPath returns the onnxruntime library for this platform. The environment
// variable LibraryPathEnv takes precedence.
func DefaultSharedLibPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}

	dir := "third_party"
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(dir, "onnxruntime.dll")
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.dylib")
		}
		return filepath.Join(dir, "onnxruntime_amd64.dylib")
	default:
		if runtime.GOARCH == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.so")
		}
		return filepath.Join(dir, "onnxruntime.so")
	}
}

// ensureEnvironment initializes the process wide onnxruntime environment once. Later calls
// with a different library path keep the library loaded first.
//
// Arguments:
//   - libPath: The shared library. Empty selects DefaultSharedLibPath.
//
// Returns:
//   - error: ErrRuntimeUnavailable wrapping the cause.
func ensureEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = DefaultSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrRuntimeUnavailable, "library %s: %v", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(ErrRuntimeUnavailable, "initializing environment: %v", err)
	}

	logger.Log.Debug("onnxruntime initialized", "library", libPath)
	return nil
}

// Available reports whether the onnxruntime environment is, or can be, initialized from
// libPath.
func Available(libPath string) bool {
	return ensureEnvironment(libPath) == nil
}
