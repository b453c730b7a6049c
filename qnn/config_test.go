package qnn

import (
	"testing"

	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigListSentinel(t *testing.T) {
	empty := NewConfigList[api.GraphConfig, api.HtpGraphCustomConfig]()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []*api.GraphConfig{nil}, empty.Pointers())

	list := NewConfigList[api.GraphConfig, api.HtpGraphCustomConfig]()
	c := list.Custom(api.HtpGraphCustomConfig{Option: api.HtpGraphConfigOptionVtcmSize, VtcmSizeInMB: 8})
	list.Add(api.GraphConfig{Option: api.GraphConfigOptionCustom, CustomConfig: c}).
		Add(api.GraphConfig{Option: api.GraphConfigOptionPriority, Priority: 2})

	ptrs := list.Pointers()
	require.Len(t, ptrs, 3)
	assert.True(t, api.Terminated(ptrs))
	assert.Same(t, c, ptrs[0].CustomConfig)
	assert.Equal(t, uint32(8), ptrs[0].CustomConfig.VtcmSizeInMB)
	assert.Equal(t, uint32(2), ptrs[1].Priority)
}

func TestGraphConfigs(t *testing.T) {
	t.Run("npu float", func(t *testing.T) {
		ptrs := GraphConfigs(model.NPU, tensor.Float16).Pointers()
		require.Len(t, ptrs, 3)
		assert.Nil(t, ptrs[2])

		assert.Equal(t, api.GraphConfigOptionCustom, ptrs[0].Option)
		assert.Equal(t, api.HtpGraphConfigOptionPrecision, ptrs[0].CustomConfig.Option)
		assert.Equal(t, api.PrecisionFloat16, ptrs[0].CustomConfig.Precision)

		opt := ptrs[1].CustomConfig
		assert.Equal(t, api.HtpGraphConfigOptionOptimization, opt.Option)
		assert.Equal(t, api.HtpOptimizationTypeFinalizeOptimizationFlag, opt.OptimizationOption.Type)
		assert.Equal(t, float32(3.0), opt.OptimizationOption.FloatValue)
	})

	t.Run("npu quantized", func(t *testing.T) {
		ptrs := GraphConfigs(model.NPU, tensor.Uint8).Pointers()
		require.Len(t, ptrs, 2)
		assert.Equal(t, api.HtpGraphConfigOptionOptimization, ptrs[0].CustomConfig.Option)
	})

	t.Run("cpu", func(t *testing.T) {
		assert.Equal(t, []*api.GraphConfig{nil}, GraphConfigs(model.CPU, tensor.Float16).Pointers())
	})
}

func TestMultiContextConfigs(t *testing.T) {
	ptrs := MultiContextConfigs(model.NPU).Pointers()
	require.Len(t, ptrs, 2)
	assert.Equal(t, api.ContextConfigOptionCustom, ptrs[0].Option)
	assert.Equal(t, api.HtpContextConfigOptionRegisterMultiContexts, ptrs[0].CustomConfig.Option)
	assert.Zero(t, ptrs[0].CustomConfig.RegisterMultiContexts.FirstGroupHandle)

	assert.Equal(t, []*api.ContextConfig{nil}, MultiContextConfigs(model.GPU).Pointers())
}

func TestPerformancePowerConfig(t *testing.T) {
	cfg := PerformancePowerConfig(9)
	assert.Equal(t, api.PowerConfigOptionDcvsV3, cfg.Option)

	d := cfg.DcvsV3Config
	assert.Equal(t, uint32(9), d.ContextID)
	assert.Equal(t, uint32(1), d.SetDcvsEnable)
	assert.Equal(t, uint32(0), d.DcvsEnable)
	assert.Equal(t, api.PowerModePerformanceMode, d.PowerMode)
	assert.Equal(t, uint32(40), d.SleepLatency)
	assert.Equal(t, uint32(1), d.SleepDisable)
	for _, corner := range []api.VoltageCorner{
		d.BusVoltageCornerMin, d.BusVoltageCornerTarget, d.BusVoltageCornerMax,
		d.CoreVoltageCornerMin, d.CoreVoltageCornerTarget, d.CoreVoltageCornerMax,
	} {
		assert.Equal(t, api.VoltageCornerMax, corner)
	}
}
