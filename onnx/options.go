package onnx

import (
	"strconv"

	"github.com/nvr-ai/edgerunner/config"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Options configures the interpreter backend.
type Options struct {
	// SharedLibraryPath is the onnxruntime library. Empty uses DefaultSharedLibPath.
	SharedLibraryPath string
	// IntraOpThreads and InterOpThreads size the runtime thread pools. Zero keeps the
	// runtime default.
	IntraOpThreads int
	InterOpThreads int
	// CUDA configures the execution provider used on the GPU delegate.
	CUDA config.CUDAConfig
	// Name overrides the model name derived from the path.
	Name string
}

// OptionsFromConfig maps the configuration file section onto backend options.
func OptionsFromConfig(c config.ONNXConfig) Options {
	return Options{
		SharedLibraryPath: c.SharedLibraryPath,
		IntraOpThreads:    c.IntraOpThreads,
		InterOpThreads:    c.InterOpThreads,
		CUDA:              c.CUDA,
	}
}

var arenaStrategies = map[int]string{0: "kNextPowerOfTwo", 1: "kSameAsRequested"}

var convAlgoSearches = map[int]string{0: "EXHAUSTIVE", 1: "HEURISTIC", 2: "DEFAULT"}

// cudaSettings returns the provider option keys understood by the CUDA execution provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
func cudaSettings(c config.CUDAConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(c.DeviceID),
		"arena_extend_strategy":     arenaStrategies[c.ArenaExtendStrategy],
		"cudnn_conv_algo_search":    convAlgoSearches[c.CudnnConvAlgoSearch],
		"do_copy_in_default_stream": flag(c.DoCopyInDefaultStream),
		"enable_cuda_graph":         flag(c.EnableCudaGraph),
		"use_tf32":                  flag(c.UseTF32),
		"prefer_nhwc":               flag(c.PreferNHWC),
	}
	if c.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatInt(c.GPUMemLimit, 10)
	}
	return settings
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// sessionOptions builds the native session options for a delegate. The caller destroys
// the result.
//
// Arguments:
//   - opts: Thread counts and CUDA settings.
//   - delegate: CPU or GPU.
//
// Returns:
//   - *ort.SessionOptions: The native options.
//   - error: An error if any option is rejected by the runtime.
func sessionOptions(opts Options, delegate model.Delegate) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}

	fail := func(err error, what string) (*ort.SessionOptions, error) {
		so.Destroy()
		return nil, errors.Wrap(err, what)
	}

	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return fail(err, "setting intra-op threads")
		}
	}
	if opts.InterOpThreads > 0 {
		if err := so.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return fail(err, "setting inter-op threads")
		}
	}

	switch delegate {
	case model.CPU:
	case model.GPU:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fail(err, "creating CUDA provider options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(cudaSettings(opts.CUDA)); err != nil {
			return fail(err, "updating CUDA provider options")
		}
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			return fail(err, "appending CUDA execution provider")
		}
	default:
		so.Destroy()
		return nil, errors.Errorf("delegate %s is not supported by the interpreter", delegate)
	}

	return so, nil
}
