package qnn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/edgerunner/cache"
	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/nvr-ai/edgerunner/qnn/qnntest"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libraryPath = "/models/mobilenet_v3_small.so"

type harness struct {
	rt       *qnntest.Runtime
	alloc    *memory.Counting
	provider *SharedSessions
	dir      string
}

func newHarness(t *testing.T, def qnntest.ModelDef) *harness {
	t.Helper()
	rt := qnntest.New()
	rt.AddModel(libraryPath, def)
	alloc := memory.NewCounting(memory.NewHeap())
	return &harness{
		rt:       rt,
		alloc:    alloc,
		provider: NewSharedSessions(rt, SessionOptions{Allocator: alloc, VersionMode: api.Strict}),
		dir:      t.TempDir(),
	}
}

func (h *harness) options() Options {
	return Options{Provider: h.provider, Store: cache.NewFileStore(h.dir)}
}

func (h *harness) load(t *testing.T) *Model {
	t.Helper()
	m, err := Load(libraryPath, h.options())
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

// assertReleased checks nothing allocated by the adapter or the runtime is left.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	assert.Zero(t, h.alloc.Live(), "adapter allocations")
	assert.Zero(t, h.alloc.InvalidFrees(), "invalid frees")
	assert.Zero(t, h.rt.Heap().Live(), "runtime allocations")
	assert.Zero(t, h.rt.System().Live(), "system contexts")
	for _, kind := range []string{"log", "backend", "device", "context", "powerConfig"} {
		assert.Zero(t, h.rt.HTP().Live(kind), kind)
	}
}

func fillImage(in tensor.Tensor) {
	values := tensor.As[float32](in)
	for i := range values {
		values[i] = float32(i%255) / 255
	}
}

// TestModelClassifierScenario composes an image classifier and executes it twice.
func TestModelClassifierScenario(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)

	assert.Equal(t, "mobilenet_v3_small", m.Name())
	assert.Equal(t, model.NPU, m.Delegate())
	assert.Equal(t, tensor.Float16, m.Precision())
	require.Equal(t, 1, m.NumInputs())
	require.Equal(t, 1, m.NumOutputs())

	in := m.Input(0)
	assert.Equal(t, "image_tensor", in.Name())
	assert.Equal(t, tensor.Float32, in.Type())
	assert.Equal(t, []uint{1, 224, 224, 3}, in.Dimensions())
	assert.Equal(t, 150528, in.Size())
	assert.Len(t, tensor.As[float32](in), 150528)

	out := m.Output(0)
	assert.Equal(t, "class_logits", out.Name())
	assert.Equal(t, []uint{1, 1000}, out.Dimensions())
	assert.Equal(t, 1000, out.Size())

	fillImage(in)
	require.Equal(t, model.Success, m.Execute())

	logits := tensor.As[float32](out)
	require.Len(t, logits, 1000)
	assert.Equal(t, qnntest.Expected(qnntest.Seed(in.Bytes()), 1000), logits)

	first := append([]float32(nil), logits...)
	ptr := &logits[0]
	require.Equal(t, model.Success, m.Execute())
	again := tensor.As[float32](m.Output(0))
	assert.Same(t, ptr, &again[0])
	assert.Equal(t, first, again)
	assert.Equal(t, 2, h.rt.HTP().Executions())

	require.NoError(t, m.Close())
	h.assertReleased(t)
}

func TestModelBoundaries(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)
	defer m.Close()

	assert.Nil(t, m.Input(-1))
	assert.Nil(t, m.Input(1))
	assert.Nil(t, m.Output(-1))
	assert.Nil(t, m.Output(m.NumOutputs()))
	assert.NotNil(t, m.Input(m.NumInputs()-1))
}

func TestModelApplyDelegate(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)
	defer m.Close()

	assert.Equal(t, model.Fail, m.ApplyDelegate(model.CPU))
	assert.Equal(t, model.NPU, m.Delegate())
	assert.Equal(t, model.Fail, m.ApplyDelegate(model.GPU))
	assert.Equal(t, model.NPU, m.Delegate())
	assert.Equal(t, model.Success, m.ApplyDelegate(model.NPU))
	assert.Equal(t, model.NPU, m.Delegate())

	fillImage(m.Input(0))
	assert.Equal(t, model.Success, m.Execute())
}

func TestModelGraphConfiguration(t *testing.T) {
	t.Run("float inputs", func(t *testing.T) {
		h := newHarness(t, qnntest.MobileNet())
		m := h.load(t)
		defer m.Close()

		configs := h.rt.HTP().GraphConfigs()
		require.Len(t, configs, 1)
		require.Len(t, configs[0], 2)
		assert.Equal(t, api.HtpGraphConfigOptionPrecision, configs[0][0].CustomConfig.Option)
		assert.Equal(t, api.HtpGraphConfigOptionOptimization, configs[0][1].CustomConfig.Option)
	})

	t.Run("quantized inputs", func(t *testing.T) {
		h := newHarness(t, qnntest.QuantizedMobileNet())
		m := h.load(t)
		defer m.Close()

		assert.Equal(t, tensor.Uint8, m.Precision())
		assert.Equal(t, tensor.Uint8, m.Input(0).Type())
		configs := h.rt.HTP().GraphConfigs()
		require.Len(t, configs, 1)
		require.Len(t, configs[0], 1)
		assert.Equal(t, api.HtpGraphConfigOptionOptimization, configs[0][0].CustomConfig.Option)
	})
}

// TestModelRoundTrip composes a model, restores the context binary it saved and checks
// both produce the same outputs.
func TestModelRoundTrip(t *testing.T) {
	h := newHarness(t, qnntest.QuantizedMobileNet())
	composed := h.load(t)

	binPath := filepath.Join(h.dir, "mobilenet_v3_small.bin")
	require.FileExists(t, binPath)

	restored, err := Load(binPath, h.options())
	require.NoError(t, err)
	assert.Equal(t, 2, h.provider.Refs(model.NPU))
	assert.Equal(t, StateExecutable, restored.Graph().State())
	assert.Zero(t, h.rt.System().Live(), "system context freed after the copy")

	require.Equal(t, composed.NumInputs(), restored.NumInputs())
	require.Equal(t, composed.NumOutputs(), restored.NumOutputs())
	for i := 0; i < composed.NumInputs(); i++ {
		assert.Equal(t, tensor.Describe(composed.Input(i)), tensor.Describe(restored.Input(i)))
	}
	assert.Equal(t, composed.Precision(), restored.Precision())

	for _, m := range []*Model{composed, restored} {
		data := m.Input(0).Bytes()
		for i := range data {
			data[i] = byte(i * 7)
		}
		require.Equal(t, model.Success, m.Execute())
	}
	assert.Equal(t, composed.Output(0).Bytes(), restored.Output(0).Bytes())

	contexts := h.rt.HTP().ContextConfigs()
	require.Len(t, contexts, 1)
	require.Len(t, contexts[0], 1)
	assert.Equal(t, api.HtpContextConfigOptionRegisterMultiContexts, contexts[0][0].CustomConfig.Option)

	require.NoError(t, composed.Close())
	require.NoError(t, restored.Close())
	h.assertReleased(t)
	assert.Equal(t, 1, h.rt.Model(libraryPath).Freed())
}

func TestModelLoadBuffer(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	binary, err := qnntest.EncodeBinary(api.BackendIDHTP, qnntest.MobileNet())
	require.NoError(t, err)

	m, err := LoadBuffer(binary, Options{Provider: h.provider, Name: "from_memory"})
	require.NoError(t, err)
	assert.Equal(t, "from_memory", m.Name())
	assert.Equal(t, "image_tensor", m.Input(0).Name())

	fillImage(m.Input(0))
	require.Equal(t, model.Success, m.Execute())
	assert.Equal(t, qnntest.Expected(qnntest.Seed(m.Input(0).Bytes()), 1000), tensor.As[float32](m.Output(0)))

	require.NoError(t, m.Close())
	h.assertReleased(t)
}

func TestModelRestoreLayouts(t *testing.T) {
	layouts := []struct {
		binary api.BinaryInfoVersion
		tensor api.TensorVersion
	}{
		{api.BinaryInfoVersion1, api.TensorVersion1},
		{api.BinaryInfoVersion1, api.TensorVersion2},
		{api.BinaryInfoVersion2, api.TensorVersion1},
		{api.BinaryInfoVersion2, api.TensorVersion2},
	}
	binary, err := qnntest.EncodeBinary(api.BackendIDHTP, qnntest.QuantizedMobileNet())
	require.NoError(t, err)

	for _, l := range layouts {
		h := newHarness(t, qnntest.MobileNet())
		h.rt.System().SetVersions(l.binary, l.tensor)

		m, err := LoadBuffer(binary, Options{Provider: h.provider})
		require.NoError(t, err, "binary v%d tensor v%d", l.binary, l.tensor)
		assert.Equal(t, []uint{1, 224, 224, 3}, m.Input(0).Dimensions())
		require.NoError(t, m.Close())
		h.assertReleased(t)
	}
}

// TestModelCreationFailures checks a failed step yields no model and leaks nothing.
func TestModelCreationFailures(t *testing.T) {
	binary, err := qnntest.EncodeBinary(api.BackendIDHTP, qnntest.MobileNet())
	require.NoError(t, err)

	tests := []struct {
		name    string
		setup   func(rt *qnntest.Runtime)
		restore bool
	}{
		{name: "missing model library", setup: func(rt *qnntest.Runtime) { rt.Library(libraryPath).SetMissing(true) }},
		{name: "missing compose symbol", setup: func(rt *qnntest.Runtime) { rt.Library(libraryPath).Remove(api.SymbolComposeGraphs) }},
		{name: "missing free symbol", setup: func(rt *qnntest.Runtime) { rt.Library(libraryPath).Remove(api.SymbolFreeGraphsInfo) }},
		{name: "context create fails", setup: func(rt *qnntest.Runtime) { rt.HTP().Fail("contextCreate", api.ErrorGeneral) }},
		{name: "compose fails", setup: func(rt *qnntest.Runtime) { rt.Model(libraryPath).FailCompose(2) }},
		{name: "graph config rejected", setup: func(rt *qnntest.Runtime) { rt.HTP().Fail("graphSetConfig", api.ErrorInvalidArgument) }},
		{name: "finalize fails", setup: func(rt *qnntest.Runtime) { rt.HTP().Fail("graphFinalize", api.GraphErrorGeneral) }},
		{name: "backend unavailable", setup: func(rt *qnntest.Runtime) { rt.Library(api.LibraryHTP).SetMissing(true) }},
		{name: "retrieve missing", restore: true, setup: func(rt *qnntest.Runtime) { rt.HTP().Omit("graphRetrieve") }},
		{name: "retrieve fails", restore: true, setup: func(rt *qnntest.Runtime) { rt.HTP().Fail("graphRetrieve", api.GraphErrorInvalidHandle) }},
		{name: "system library missing", restore: true, setup: func(rt *qnntest.Runtime) { rt.Library(api.LibrarySystem).SetMissing(true) }},
		{name: "binary info fails", restore: true, setup: func(rt *qnntest.Runtime) { rt.System().Fail("systemContextGetBinaryInfo", api.ErrorGeneral) }},
		{name: "context from binary fails", restore: true, setup: func(rt *qnntest.Runtime) { rt.HTP().Fail("contextCreateFromBinary", api.ErrorGeneral) }},
		{name: "unknown binary layout", restore: true, setup: func(rt *qnntest.Runtime) { rt.System().SetVersions(5, api.TensorVersion2) }},
		{name: "unknown tensor layout", restore: true, setup: func(rt *qnntest.Runtime) { rt.System().SetVersions(api.BinaryInfoVersion2, 5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, qnntest.MobileNet())
			tt.setup(h.rt)

			var m *Model
			var err error
			if tt.restore {
				m, err = LoadBuffer(binary, Options{Provider: h.provider})
			} else {
				m, err = Load(libraryPath, h.options())
			}
			require.Error(t, err)
			assert.Nil(t, m)
			assert.Zero(t, h.provider.Refs(model.NPU))
			h.assertReleased(t)
		})
	}
}

func TestModelLoadArguments(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())

	_, err := Load("/models/model.tflite", h.options())
	require.Error(t, err)

	_, err = Load(libraryPath, Options{})
	require.Error(t, err)

	_, err = Load(filepath.Join(h.dir, "absent.bin"), h.options())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestModelCacheIsBestEffort checks a failed context save does not fail the load.
func TestModelCacheIsBestEffort(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	h.rt.HTP().SetBinaryOverrun(16)

	m := h.load(t)
	defer m.Close()
	assert.NoFileExists(t, filepath.Join(h.dir, "mobilenet_v3_small.bin"))

	_, err := m.Graph().ContextBinary()
	require.ErrorIs(t, err, ErrBinaryOverflow)
}

func TestModelExecuteFailure(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)

	h.rt.HTP().Fail("graphExecute", api.GraphErrorGeneral)
	assert.Equal(t, model.Fail, m.Execute())
	assert.Equal(t, StateExecutable, m.Graph().State())

	h.rt.HTP().Clear()
	assert.Equal(t, model.Success, m.Execute())

	require.NoError(t, m.Close())
	assert.Equal(t, model.Fail, m.Execute())
	require.NoError(t, m.Close())
	h.assertReleased(t)
}

func TestModelExecuteContext(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)
	defer m.Close()
	fillImage(m.Input(0))

	done, err := m.ExecuteContext(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err = m.ExecuteContext(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	require.NoError(t, <-done)
}

// TestModelExecuteContextRecordsResult ensures an execution that outlives its context is
// recorded once with the runtime's result, not with the context error.
func TestModelExecuteContextRecordsResult(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)
	defer m.Close()

	started, release := make(chan struct{}), make(chan struct{})
	iface := m.session.Interface()
	iface.GraphExecute = func(api.GraphHandle, []api.Tensor, []api.Tensor, api.ProfileHandle, api.SignalHandle) api.ErrorHandle {
		close(started)
		<-release
		return api.ErrorGeneral
	}

	failures := metrics.ExecuteFailures.WithLabelValues(backendLabel)
	before := testutil.ToFloat64(failures)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	done, err := m.ExecuteContext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, testutil.ToFloat64(failures), "nothing recorded while the call runs")

	close(release)
	assert.Error(t, <-done)
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestModelTeardownOrder(t *testing.T) {
	h := newHarness(t, qnntest.MobileNet())
	m := h.load(t)

	h.rt.ResetCalls()
	require.NoError(t, m.Close())
	assert.Equal(t, []string{
		"libQnnHtp.so:contextFree",
		"mobilenet_v3_small.so:freeGraphsInfo",
		"mobilenet_v3_small.so:close",
		"libQnnHtp.so:destroyPowerConfigId",
		"libQnnHtp.so:deviceFree",
		"libQnnHtp.so:backendFree",
		"libQnnHtp.so:logFree",
		"libQnnHtp.so:close",
	}, h.rt.Calls())
}

func TestGraphStateMachine(t *testing.T) {
	rt := qnntest.New()
	rt.AddModel(libraryPath, qnntest.MobileNet())
	s, err := OpenSession(rt, model.NPU, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	g := NewGraph(s)
	assert.Equal(t, StateUnloaded, g.State())
	require.ErrorIs(t, g.Execute(), ErrInvalidState)
	require.ErrorIs(t, g.Finalize(), ErrInvalidState)
	require.ErrorIs(t, g.CreateContext(), ErrInvalidState)
	_, err = g.ContextBinary()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateUnloaded, g.State())

	require.NoError(t, g.LoadLibrary(libraryPath))
	assert.Equal(t, StateLibraryLoaded, g.State())
	require.NoError(t, g.CreateContext())
	require.NoError(t, g.Compose())
	assert.Equal(t, StateComposed, g.State())
	require.ErrorIs(t, g.Activate(), ErrInvalidState)
	g.DetectPrecision()
	require.NoError(t, g.ApplyConfig())
	assert.Equal(t, StateConfigApplied, g.State())

	rt.HTP().Fail("graphFinalize", api.GraphErrorGeneral)
	require.Error(t, g.Finalize())
	assert.Equal(t, StateFailed, g.State())
	rt.HTP().Clear()
	require.ErrorIs(t, g.Finalize(), ErrInvalidState)
	require.ErrorIs(t, g.Execute(), ErrInvalidState)

	require.NoError(t, g.Close())
	assert.Equal(t, StateFailed, g.State())
	assert.Equal(t, "Failed", g.State().String())
}
