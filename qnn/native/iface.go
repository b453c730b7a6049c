//go:build linux && qnn

package native

/*
#include "bridge.h"
*/
import "C"

import (
	"unsafe"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
)

var errAlloc = errors.Wrap(memory.ErrOutOfMemory, "native configuration")

func errUnknownOption(kind string, option uint32) error {
	return errors.Errorf("unsupported %s config option %d", kind, option)
}

// statusOf maps a conversion failure onto a runtime status so it surfaces through the
// normal status checks.
func statusOf(err error) api.ErrorHandle {
	if errors.Is(err, memory.ErrOutOfMemory) {
		return api.ErrorMemAlloc
	}
	return api.ErrorInvalidArgument
}

func version(v C.Qnn_Version_t) api.Version {
	return api.Version{Major: uint32(v.major), Minor: uint32(v.minor), Patch: uint32(v.patch)}
}

func interfaceProviders(fn unsafe.Pointer) ([]*api.Provider, api.ErrorHandle) {
	var list **C.QnnInterface_t
	var n C.uint32_t
	rc := api.ErrorHandle(C.er_get_providers(fn, &list, &n))
	if rc != api.Success || list == nil {
		return nil, rc
	}

	var out []*api.Provider
	for _, p := range unsafe.Slice(list, int(n)) {
		if p == nil {
			continue
		}
		out = append(out, &api.Provider{
			ProviderName:      C.GoString(p.providerName),
			BackendID:         api.BackendID(p.backendId),
			CoreAPIVersion:    version(p.apiVersion.coreApiVersion),
			BackendAPIVersion: version(p.apiVersion.backendApiVersion),
			Interface:         wrapInterface(C.er_interface(p)),
		})
	}
	return out, rc
}

func systemProviders(fn unsafe.Pointer) ([]*api.SystemProvider, api.ErrorHandle) {
	var list **C.QnnSystemInterface_t
	var n C.uint32_t
	rc := api.ErrorHandle(C.er_get_system_providers(fn, &list, &n))
	if rc != api.Success || list == nil {
		return nil, rc
	}

	var out []*api.SystemProvider
	for _, p := range unsafe.Slice(list, int(n)) {
		if p == nil {
			continue
		}
		out = append(out, &api.SystemProvider{
			ProviderName:     C.GoString(p.providerName),
			SystemAPIVersion: version(p.systemApiVersion),
			Interface:        wrapSystemInterface(C.er_system_interface(p)),
		})
	}
	return out, rc
}

// wrapInterface exposes the members the C table implements. Absent members stay nil.
func wrapInterface(i *C.ER_Interface) api.Interface {
	out := api.Interface{Native: unsafe.Pointer(i)}

	if i.propertyHasCapability != nil {
		out.PropertyHasCapability = func(key api.PropertyKey) api.ErrorHandle {
			return api.ErrorHandle(C.er_property_has_capability(i, C.QnnProperty_Key_t(key)))
		}
	}
	if i.logCreate != nil {
		out.LogCreate = func(cb api.LogCallback, level api.LogLevel) (api.LogHandle, api.ErrorHandle) {
			setLogSink(cb)
			var h C.Qnn_LogHandle_t
			rc := C.er_log_create(i, C.QnnLog_Level_t(level), &h)
			return api.LogHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.logFree != nil {
		out.LogFree = func(log api.LogHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_log_free(i, C.Qnn_LogHandle_t(handle(log))))
		}
	}
	if i.backendCreate != nil {
		out.BackendCreate = func(log api.LogHandle, _ []*api.BackendConfig) (api.BackendHandle, api.ErrorHandle) {
			var h C.Qnn_BackendHandle_t
			rc := C.er_backend_create(i, C.Qnn_LogHandle_t(handle(log)), &h)
			return api.BackendHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.backendFree != nil {
		out.BackendFree = func(backend api.BackendHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_backend_free(i, C.Qnn_BackendHandle_t(handle(backend))))
		}
	}
	if i.deviceCreate != nil {
		out.DeviceCreate = func(log api.LogHandle, _ []*api.DeviceConfig) (api.DeviceHandle, api.ErrorHandle) {
			var h C.Qnn_DeviceHandle_t
			rc := C.er_device_create(i, C.Qnn_LogHandle_t(handle(log)), &h)
			return api.DeviceHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.deviceFree != nil {
		out.DeviceFree = func(device api.DeviceHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_device_free(i, C.Qnn_DeviceHandle_t(handle(device))))
		}
	}
	if i.deviceGetInfrastructure != nil {
		out.DeviceGetInfrastructure = func() (*api.DeviceInfrastructure, api.ErrorHandle) {
			var infra C.QnnDevice_Infrastructure_t
			rc := api.ErrorHandle(C.er_device_get_infrastructure(i, &infra))
			if rc != api.Success {
				return nil, rc
			}
			perf := C.er_htp_perf(infra)
			if perf == nil {
				return nil, api.ErrorNotSupported
			}
			return &api.DeviceInfrastructure{PerfInfra: wrapPerf(perf)}, api.Success
		}
	}

	wrapContext(i, &out)
	wrapGraph(i, &out)
	return out
}

func wrapContext(i *C.ER_Interface, out *api.Interface) {
	if i.contextCreate != nil {
		out.ContextCreate = func(backend api.BackendHandle, device api.DeviceHandle, configs []*api.ContextConfig) (api.ContextHandle, api.ErrorHandle) {
			var a arena
			defer a.free()
			list, err := contextConfigsToC(&a, configs)
			if err != nil {
				return 0, statusOf(err)
			}
			var h C.Qnn_ContextHandle_t
			rc := C.er_context_create(i, C.Qnn_BackendHandle_t(handle(backend)), C.Qnn_DeviceHandle_t(handle(device)), list, &h)
			return api.ContextHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.contextCreateFromBinary != nil {
		out.ContextCreateFromBinary = func(backend api.BackendHandle, device api.DeviceHandle, configs []*api.ContextConfig, binary []byte) (api.ContextHandle, api.ErrorHandle) {
			if len(binary) == 0 {
				return 0, api.ContextErrorInvalidArg
			}
			var a arena
			defer a.free()
			list, err := contextConfigsToC(&a, configs)
			if err != nil {
				return 0, statusOf(err)
			}
			var h C.Qnn_ContextHandle_t
			rc := C.er_context_create_from_binary(i, C.Qnn_BackendHandle_t(handle(backend)), C.Qnn_DeviceHandle_t(handle(device)),
				list, unsafe.Pointer(&binary[0]), C.uint64_t(len(binary)), &h)
			return api.ContextHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.contextGetBinarySize != nil {
		out.ContextGetBinarySize = func(ctx api.ContextHandle) (uint64, api.ErrorHandle) {
			var n C.uint64_t
			rc := C.er_context_get_binary_size(i, C.Qnn_ContextHandle_t(handle(ctx)), &n)
			return uint64(n), api.ErrorHandle(rc)
		}
	}
	if i.contextGetBinary != nil {
		out.ContextGetBinary = func(ctx api.ContextHandle, buf []byte) (uint64, api.ErrorHandle) {
			if len(buf) == 0 {
				return 0, api.ErrorInvalidArgument
			}
			var n C.uint64_t
			rc := C.er_context_get_binary(i, C.Qnn_ContextHandle_t(handle(ctx)), unsafe.Pointer(&buf[0]), C.uint64_t(len(buf)), &n)
			return uint64(n), api.ErrorHandle(rc)
		}
	}
	if i.contextFree != nil {
		out.ContextFree = func(ctx api.ContextHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_context_free(i, C.Qnn_ContextHandle_t(handle(ctx))))
		}
	}
}

func wrapGraph(i *C.ER_Interface, out *api.Interface) {
	if i.graphSetConfig != nil {
		out.GraphSetConfig = func(graph api.GraphHandle, configs []*api.GraphConfig) api.ErrorHandle {
			var a arena
			defer a.free()
			list, err := graphConfigsToC(&a, configs)
			if err != nil {
				return statusOf(err)
			}
			return api.ErrorHandle(C.er_graph_set_config(i, C.Qnn_GraphHandle_t(handle(graph)), list))
		}
	}
	if i.graphFinalize != nil {
		out.GraphFinalize = func(graph api.GraphHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_graph_finalize(i, C.Qnn_GraphHandle_t(handle(graph))))
		}
	}
	if i.graphRetrieve != nil {
		out.GraphRetrieve = func(ctx api.ContextHandle, name string) (api.GraphHandle, api.ErrorHandle) {
			cname := C.CString(name)
			defer C.free(unsafe.Pointer(cname))
			var h C.Qnn_GraphHandle_t
			rc := C.er_graph_retrieve(i, C.Qnn_ContextHandle_t(handle(ctx)), cname, &h)
			return api.GraphHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if i.graphExecute != nil {
		out.GraphExecute = func(graph api.GraphHandle, inputs, outputs []api.Tensor, _ api.ProfileHandle, _ api.SignalHandle) api.ErrorHandle {
			var a arena
			defer a.free()
			in, err := tensorsToC(&a, inputs)
			if err != nil {
				return statusOf(err)
			}
			outs, err := tensorsToC(&a, outputs)
			if err != nil {
				return statusOf(err)
			}
			return api.ErrorHandle(C.er_graph_execute(i, C.Qnn_GraphHandle_t(handle(graph)),
				in, C.uint32_t(len(inputs)), outs, C.uint32_t(len(outputs))))
		}
	}
}

func wrapPerf(p *C.QnnHtpDevice_PerfInfrastructure_t) api.PerfInfrastructure {
	return api.PerfInfrastructure{
		CreatePowerConfigID: func(deviceID, coreID uint32) (uint32, api.ErrorHandle) {
			var id C.uint32_t
			rc := C.er_create_power_config_id(p, C.uint32_t(deviceID), C.uint32_t(coreID), &id)
			return uint32(id), api.ErrorHandle(rc)
		},
		SetPowerConfig: func(id uint32, configs []*api.PowerConfig) api.ErrorHandle {
			var a arena
			defer a.free()
			list, err := powerConfigsToC(&a, configs)
			if err != nil {
				return statusOf(err)
			}
			return api.ErrorHandle(C.er_set_power_config(p, C.uint32_t(id), list))
		},
		DestroyPowerConfigID: func(id uint32) api.ErrorHandle {
			return api.ErrorHandle(C.er_destroy_power_config_id(p, C.uint32_t(id)))
		},
	}
}

func wrapSystemInterface(s *C.ER_SystemInterface) api.SystemInterface {
	var out api.SystemInterface
	if s.systemContextCreate != nil {
		out.SystemContextCreate = func() (api.SystemContextHandle, api.ErrorHandle) {
			var h C.QnnSystemContext_Handle_t
			rc := C.er_system_context_create(s, &h)
			return api.SystemContextHandle(uintptr(unsafe.Pointer(h))), api.ErrorHandle(rc)
		}
	}
	if s.systemContextGetBinaryInfo != nil {
		out.SystemContextGetBinaryInfo = func(ctx api.SystemContextHandle, binary []byte) (*api.BinaryInfo, api.ErrorHandle) {
			if len(binary) == 0 {
				return nil, api.ErrorInvalidArgument
			}
			var info *C.QnnSystemContext_BinaryInfo_t
			rc := api.ErrorHandle(C.er_system_context_get_binary_info(s, C.QnnSystemContext_Handle_t(handle(ctx)),
				unsafe.Pointer(&binary[0]), C.uint64_t(len(binary)), &info))
			if rc != api.Success || info == nil {
				return nil, rc
			}
			return binaryInfoFromC(info), api.Success
		}
	}
	if s.systemContextFree != nil {
		out.SystemContextFree = func(ctx api.SystemContextHandle) api.ErrorHandle {
			return api.ErrorHandle(C.er_system_context_free(s, C.QnnSystemContext_Handle_t(handle(ctx))))
		}
	}
	return out
}

// binaryInfoFromC mirrors a binary description. The mirror references memory owned by the
// system context and is only valid until that context is freed.
func binaryInfoFromC(info *C.QnnSystemContext_BinaryInfo_t) *api.BinaryInfo {
	n := uint32(C.er_binary_num_graphs(info))
	base := api.BinaryInfoV1{
		BackendID:      api.BackendID(C.er_binary_backend(info)),
		CoreAPIVersion: version(C.er_binary_core_version(info)),
		NumGraphs:      n,
	}
	if graphs := C.er_binary_graphs(info); graphs != nil && n > 0 {
		src := unsafe.Slice(graphs, int(n))
		for i := range src {
			base.Graphs = append(base.Graphs, systemGraphFromC(&src[i]))
		}
	}

	out := &api.BinaryInfo{Version: api.BinaryInfoVersion(info.version), V1: base}
	out.V2 = api.BinaryInfoV2{BinaryInfoV1: base}
	return out
}

func systemGraphFromC(g *C.QnnSystemContext_GraphInfo_t) api.SystemGraphInfo {
	out := api.SystemGraphInfo{Version: api.SystemGraphInfoVersion(g.version)}
	v1 := C.er_graph_info_v1(g)
	if v1 == nil {
		return out
	}
	out.V1 = api.SystemGraphInfoV1{
		GraphName:       (*byte)(unsafe.Pointer(v1.graphName)),
		NumGraphInputs:  uint32(v1.numGraphInputs),
		GraphInputs:     tensorsFromC(v1.graphInputs, uint32(v1.numGraphInputs)),
		NumGraphOutputs: uint32(v1.numGraphOutputs),
		GraphOutputs:    tensorsFromC(v1.graphOutputs, uint32(v1.numGraphOutputs)),
	}
	return out
}
