package api

// BackendConfig is one backend creation option.
type BackendConfig struct {
	Option uint32
}

// DeviceConfig is one device creation option.
type DeviceConfig struct {
	Option uint32
}

// GraphConfigOption selects the active member of GraphConfig.
type GraphConfigOption uint32

// Graph configuration options.
const (
	GraphConfigOptionCustom   GraphConfigOption = 0
	GraphConfigOptionPriority GraphConfigOption = 3
)

// GraphConfig is one graph configuration option.
type GraphConfig struct {
	Option       GraphConfigOption
	CustomConfig *HtpGraphCustomConfig
	Priority     uint32
}

// HtpGraphConfigOption selects the active member of HtpGraphCustomConfig.
type HtpGraphConfigOption uint32

// NPU graph custom options.
const (
	HtpGraphConfigOptionOptimization HtpGraphConfigOption = 0
	HtpGraphConfigOptionPrecision    HtpGraphConfigOption = 1
	HtpGraphConfigOptionVtcmSize     HtpGraphConfigOption = 2
)

// Precision is an NPU compute precision.
type Precision uint32

// Compute precisions.
const (
	PrecisionFloat32 Precision = 0
	PrecisionFloat16 Precision = 1
)

// HtpOptimizationType selects an NPU graph optimization knob.
type HtpOptimizationType uint32

// NPU optimization knobs.
const (
	HtpOptimizationTypeFinalizeOptimizationFlag HtpOptimizationType = 2
)

// HtpGraphOptimization is one optimization setting.
type HtpGraphOptimization struct {
	Type       HtpOptimizationType
	FloatValue float32
}

// HtpGraphCustomConfig is the NPU specific payload of a custom graph option.
type HtpGraphCustomConfig struct {
	Option             HtpGraphConfigOption
	Precision          Precision
	OptimizationOption HtpGraphOptimization
	VtcmSizeInMB       uint32
}

// ContextConfigOption selects the active member of ContextConfig.
type ContextConfigOption uint32

// Context configuration options.
const (
	ContextConfigOptionCustom ContextConfigOption = 0
)

// ContextConfig is one context creation option.
type ContextConfig struct {
	Option       ContextConfigOption
	CustomConfig *HtpContextCustomConfig
}

// HtpContextConfigOption selects the active member of HtpContextCustomConfig.
type HtpContextConfigOption uint32

// NPU context custom options.
const (
	HtpContextConfigOptionRegisterMultiContexts HtpContextConfigOption = 1
)

// MultiContextGroup registers a context as a member of a context group. A zero
// FirstGroupHandle starts a new group.
type MultiContextGroup struct {
	FirstGroupHandle   ContextHandle
	MaxSpillFillBuffer uint64
}

// HtpContextCustomConfig is the NPU specific payload of a custom context option.
type HtpContextCustomConfig struct {
	Option                HtpContextConfigOption
	RegisterMultiContexts MultiContextGroup
}

// PowerConfigOption selects the active member of PowerConfig.
type PowerConfigOption uint32

// Power configuration options.
const (
	PowerConfigOptionDcvsV3 PowerConfigOption = 8
)

// PowerMode is a DCVS power mode.
type PowerMode uint32

// Power modes.
const (
	PowerModeAdjustUpDown    PowerMode = 1
	PowerModeAdjustUpOnly    PowerMode = 2
	PowerModePowerSaver      PowerMode = 3
	PowerModePerformanceMode PowerMode = 4
)

// VoltageCorner is a DCVS voltage corner.
type VoltageCorner uint32

// Voltage corners used by the adapter.
const (
	VoltageCornerDisable VoltageCorner = 0
	VoltageCornerNom     VoltageCorner = 0x50
	VoltageCornerTurbo   VoltageCorner = 0x60
	VoltageCornerMax     VoltageCorner = 0x7FFFFFFF
)

// DcvsV3 is the DCVS v3 power payload.
type DcvsV3 struct {
	ContextID               uint32
	SetDcvsEnable           uint32
	DcvsEnable              uint32
	PowerMode               PowerMode
	SetSleepLatency         uint32
	SleepLatency            uint32
	SetSleepDisable         uint32
	SleepDisable            uint32
	SetBusParams            uint32
	BusVoltageCornerMin     VoltageCorner
	BusVoltageCornerTarget  VoltageCorner
	BusVoltageCornerMax     VoltageCorner
	SetCoreParams           uint32
	CoreVoltageCornerMin    VoltageCorner
	CoreVoltageCornerTarget VoltageCorner
	CoreVoltageCornerMax    VoltageCorner
}

// PowerConfig is one power configuration option.
type PowerConfig struct {
	Option       PowerConfigOption
	DcvsV3Config DcvsV3
}

// Terminated reports whether a configuration pointer array ends with its nil sentinel.
func Terminated[T any](configs []*T) bool {
	return len(configs) > 0 && configs[len(configs)-1] == nil
}
