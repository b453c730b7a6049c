package api

import "unsafe"

// Interface is the function table a backend provider exposes. Any member may be nil when
// the backend does not implement it.
type Interface struct {
	// Native is the provider's own table, used when the table is handed back to a model
	// library.
	Native unsafe.Pointer

	PropertyHasCapability func(key PropertyKey) ErrorHandle

	LogCreate func(callback LogCallback, level LogLevel) (LogHandle, ErrorHandle)
	LogFree   func(log LogHandle) ErrorHandle

	BackendCreate func(log LogHandle, configs []*BackendConfig) (BackendHandle, ErrorHandle)
	BackendFree   func(backend BackendHandle) ErrorHandle

	DeviceCreate            func(log LogHandle, configs []*DeviceConfig) (DeviceHandle, ErrorHandle)
	DeviceFree              func(device DeviceHandle) ErrorHandle
	DeviceGetInfrastructure func() (*DeviceInfrastructure, ErrorHandle)

	ContextCreate           func(backend BackendHandle, device DeviceHandle, configs []*ContextConfig) (ContextHandle, ErrorHandle)
	ContextCreateFromBinary func(backend BackendHandle, device DeviceHandle, configs []*ContextConfig, binary []byte) (ContextHandle, ErrorHandle)
	ContextGetBinarySize    func(context ContextHandle) (uint64, ErrorHandle)
	ContextGetBinary        func(context ContextHandle, buf []byte) (uint64, ErrorHandle)
	ContextFree             func(context ContextHandle) ErrorHandle

	GraphSetConfig func(graph GraphHandle, configs []*GraphConfig) ErrorHandle
	GraphFinalize  func(graph GraphHandle) ErrorHandle
	GraphRetrieve  func(context ContextHandle, name string) (GraphHandle, ErrorHandle)
	GraphExecute   func(graph GraphHandle, inputs, outputs []Tensor, profile ProfileHandle, signal SignalHandle) ErrorHandle
}

// PerfInfrastructure is the NPU performance control surface.
type PerfInfrastructure struct {
	CreatePowerConfigID  func(deviceID, coreID uint32) (uint32, ErrorHandle)
	SetPowerConfig       func(powerConfigID uint32, configs []*PowerConfig) ErrorHandle
	DestroyPowerConfigID func(powerConfigID uint32) ErrorHandle
}

// DeviceInfrastructure is the device specific infrastructure of the NPU backend.
type DeviceInfrastructure struct {
	PerfInfra PerfInfrastructure
}

// Provider is one interface provider of a backend library.
type Provider struct {
	ProviderName      string
	BackendID         BackendID
	CoreAPIVersion    Version
	BackendAPIVersion Version
	Interface         Interface
}

// SystemInterface is the function table of the system library.
type SystemInterface struct {
	SystemContextCreate        func() (SystemContextHandle, ErrorHandle)
	SystemContextGetBinaryInfo func(ctx SystemContextHandle, binary []byte) (*BinaryInfo, ErrorHandle)
	SystemContextFree          func(ctx SystemContextHandle) ErrorHandle
}

// SystemProvider is one interface provider of the system library.
type SystemProvider struct {
	ProviderName     string
	SystemAPIVersion Version
	Interface        SystemInterface
}
