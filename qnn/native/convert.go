//go:build linux && qnn

package native

/*
#include "bridge.h"
*/
import "C"

import (
	"unsafe"

	"github.com/nvr-ai/edgerunner/qnn/api"
)

func tensorsFromC(p *C.Qnn_Tensor_t, n uint32) []api.Tensor {
	if p == nil || n == 0 {
		return nil
	}
	src := unsafe.Slice(p, int(n))
	out := make([]api.Tensor, len(src))
	for i := range src {
		out[i] = tensorFromC(&src[i])
	}
	return out
}

// tensorFromC mirrors a C record. Pointer members keep pointing into C memory.
func tensorFromC(src *C.Qnn_Tensor_t) api.Tensor {
	var flat C.ER_Tensor
	C.er_tensor_flatten(src, &flat)

	base := api.TensorV1{
		ID:         uint32(flat.id),
		Name:       (*byte)(unsafe.Pointer(flat.name)),
		Type:       api.TensorType(flat._type),
		DataFormat: api.DataFormat(flat.dataFormat),
		DataType:   api.DataType(flat.dataType),
		QuantizeParams: api.QuantizeParams{
			EncodingDefinition:   api.Definition(flat.encodingDefinition),
			QuantizationEncoding: api.QuantizationEncoding(flat.quantizationEncoding),
			ScaleOffsetEncoding:  api.ScaleOffset{Scale: float32(flat.scale), Offset: int32(flat.offset)},
			AxisScaleOffsetEncoding: api.AxisScaleOffset{
				Axis:            int32(flat.axis),
				NumScaleOffsets: uint32(flat.numScaleOffsets),
				ScaleOffset:     (*api.ScaleOffset)(unsafe.Pointer(flat.scaleOffsets)),
			},
		},
		Rank:       uint32(flat.rank),
		Dimensions: (*uint32)(unsafe.Pointer(flat.dimensions)),
		MemType:    api.MemType(flat.memType),
		ClientBuf:  api.ClientBuffer{Data: flat.data, DataSize: uint32(flat.dataSize)},
		MemHandle:  api.MemHandle(flat.memHandle),
	}

	if api.TensorVersion(flat.version) != api.TensorVersion2 {
		t := api.NewTensorV1(base)
		t.Version = api.TensorVersion(flat.version)
		return t
	}
	return api.NewTensorV2(api.TensorV2{
		TensorV1:            base,
		IsDynamicDimensions: (*uint8)(unsafe.Pointer(flat.isDynamicDimensions)),
		SparseParams: api.SparseParams{
			Type: api.SparseLayout(flat.sparseType),
			HybridCOO: api.HybridCOO{
				NumSpecifiedElements: uint32(flat.numSpecifiedElements),
				NumSparseDimensions:  uint32(flat.numSparseDimensions),
			},
		},
		IsProduced: uint8(flat.isProduced),
	})
}

// tensorToC writes t into dst. Pointer members are passed through and must reference C
// memory.
func tensorToC(t *api.Tensor, dst *C.Qnn_Tensor_t) {
	v := api.Adapt(t)
	var base *api.TensorV1
	if v.Layout() == api.TensorVersion2 {
		base = &t.V2.TensorV1
	} else {
		base = &t.V1
	}

	q := base.QuantizeParams
	flat := C.ER_Tensor{
		version:              C.uint32_t(v.Layout()),
		id:                   C.uint32_t(base.ID),
		name:                 (*C.char)(unsafe.Pointer(base.Name)),
		_type:                C.uint32_t(base.Type),
		dataFormat:           C.uint32_t(base.DataFormat),
		dataType:             C.uint32_t(base.DataType),
		encodingDefinition:   C.uint32_t(q.EncodingDefinition),
		quantizationEncoding: C.uint32_t(q.QuantizationEncoding),
		scale:                C.float(q.ScaleOffsetEncoding.Scale),
		offset:               C.int32_t(q.ScaleOffsetEncoding.Offset),
		axis:                 C.int32_t(q.AxisScaleOffsetEncoding.Axis),
		numScaleOffsets:      C.uint32_t(q.AxisScaleOffsetEncoding.NumScaleOffsets),
		scaleOffsets:         (*C.Qnn_ScaleOffset_t)(unsafe.Pointer(q.AxisScaleOffsetEncoding.ScaleOffset)),
		rank:                 C.uint32_t(base.Rank),
		dimensions:           (*C.uint32_t)(unsafe.Pointer(base.Dimensions)),
		memType:              C.uint32_t(base.MemType),
		data:                 base.ClientBuf.Data,
		dataSize:             C.uint32_t(base.ClientBuf.DataSize),
		memHandle:            unsafe.Pointer(base.MemHandle),
	}
	if v.Layout() == api.TensorVersion2 {
		flat.isDynamicDimensions = (*C.uint8_t)(unsafe.Pointer(t.V2.IsDynamicDimensions))
		flat.sparseType = C.uint32_t(t.V2.SparseParams.Type)
		flat.numSpecifiedElements = C.uint32_t(t.V2.SparseParams.HybridCOO.NumSpecifiedElements)
		flat.numSparseDimensions = C.uint32_t(t.V2.SparseParams.HybridCOO.NumSparseDimensions)
		flat.isProduced = C.uint8_t(t.V2.IsProduced)
	}
	C.er_tensor_build(&flat, dst)
}

// tensorsToC builds a C array of records owned by a.
func tensorsToC(a *arena, tensors []api.Tensor) (*C.Qnn_Tensor_t, error) {
	if len(tensors) == 0 {
		return nil, nil
	}
	p := (*C.Qnn_Tensor_t)(a.calloc(uintptr(len(tensors)), unsafe.Sizeof(C.Qnn_Tensor_t{})))
	if p == nil {
		return nil, errAlloc
	}
	dst := unsafe.Slice(p, len(tensors))
	for i := range tensors {
		tensorToC(&tensors[i], &dst[i])
	}
	return p, nil
}

// Configuration lists are rebuilt in C memory for every call.

func graphConfigsToC(a *arena, configs []*api.GraphConfig) (**C.QnnGraph_Config_t, error) {
	list := (**C.QnnGraph_Config_t)(a.calloc(uintptr(len(configs)+1), unsafe.Sizeof(uintptr(0))))
	if list == nil {
		return nil, errAlloc
	}
	out := unsafe.Slice(list, len(configs)+1)
	for i, c := range configs {
		if c == nil {
			break
		}
		var entry *C.QnnGraph_Config_t
		switch c.Option {
		case api.GraphConfigOptionCustom:
			custom := htpGraphConfigToC(c.CustomConfig)
			if a.keep(unsafe.Pointer(custom)) == nil {
				return nil, errAlloc
			}
			entry = C.er_graph_config_custom(unsafe.Pointer(custom))
		case api.GraphConfigOptionPriority:
			entry = C.er_graph_config_priority(C.uint32_t(c.Priority))
		default:
			return nil, errUnknownOption("graph", uint32(c.Option))
		}
		if a.keep(unsafe.Pointer(entry)) == nil {
			return nil, errAlloc
		}
		out[i] = entry
	}
	return list, nil
}

func htpGraphConfigToC(c *api.HtpGraphCustomConfig) *C.QnnHtpGraph_CustomConfig_t {
	if c == nil {
		return nil
	}
	switch c.Option {
	case api.HtpGraphConfigOptionPrecision:
		return C.er_htp_graph_precision(C.uint32_t(c.Precision))
	case api.HtpGraphConfigOptionVtcmSize:
		return C.er_htp_graph_vtcm(C.uint32_t(c.VtcmSizeInMB))
	default:
		return C.er_htp_graph_optimization(C.uint32_t(c.OptimizationOption.Type), C.float(c.OptimizationOption.FloatValue))
	}
}

func contextConfigsToC(a *arena, configs []*api.ContextConfig) (**C.QnnContext_Config_t, error) {
	list := (**C.QnnContext_Config_t)(a.calloc(uintptr(len(configs)+1), unsafe.Sizeof(uintptr(0))))
	if list == nil {
		return nil, errAlloc
	}
	out := unsafe.Slice(list, len(configs)+1)
	for i, c := range configs {
		if c == nil {
			break
		}
		if c.Option != api.ContextConfigOptionCustom || c.CustomConfig == nil {
			return nil, errUnknownOption("context", uint32(c.Option))
		}
		group := c.CustomConfig.RegisterMultiContexts
		custom := C.er_htp_context_register_multi(C.Qnn_ContextHandle_t(handle(group.FirstGroupHandle)), C.uint64_t(group.MaxSpillFillBuffer))
		if a.keep(unsafe.Pointer(custom)) == nil {
			return nil, errAlloc
		}
		entry := C.er_context_config_custom(unsafe.Pointer(custom))
		if a.keep(unsafe.Pointer(entry)) == nil {
			return nil, errAlloc
		}
		out[i] = entry
	}
	return list, nil
}

func powerConfigsToC(a *arena, configs []*api.PowerConfig) (**C.QnnHtpPerfInfrastructure_PowerConfig_t, error) {
	list := (**C.QnnHtpPerfInfrastructure_PowerConfig_t)(a.calloc(uintptr(len(configs)+1), unsafe.Sizeof(uintptr(0))))
	if list == nil {
		return nil, errAlloc
	}
	out := unsafe.Slice(list, len(configs)+1)
	for i, c := range configs {
		if c == nil {
			break
		}
		if c.Option != api.PowerConfigOptionDcvsV3 {
			return nil, errUnknownOption("power", uint32(c.Option))
		}
		d := c.DcvsV3Config
		flat := C.ER_DcvsV3{
			contextId:               C.uint32_t(d.ContextID),
			setDcvsEnable:           C.uint32_t(d.SetDcvsEnable),
			dcvsEnable:              C.uint32_t(d.DcvsEnable),
			powerMode:               C.uint32_t(d.PowerMode),
			setSleepLatency:         C.uint32_t(d.SetSleepLatency),
			sleepLatency:            C.uint32_t(d.SleepLatency),
			setSleepDisable:         C.uint32_t(d.SetSleepDisable),
			sleepDisable:            C.uint32_t(d.SleepDisable),
			setBusParams:            C.uint32_t(d.SetBusParams),
			busVoltageCornerMin:     C.uint32_t(d.BusVoltageCornerMin),
			busVoltageCornerTarget:  C.uint32_t(d.BusVoltageCornerTarget),
			busVoltageCornerMax:     C.uint32_t(d.BusVoltageCornerMax),
			setCoreParams:           C.uint32_t(d.SetCoreParams),
			coreVoltageCornerMin:    C.uint32_t(d.CoreVoltageCornerMin),
			coreVoltageCornerTarget: C.uint32_t(d.CoreVoltageCornerTarget),
			coreVoltageCornerMax:    C.uint32_t(d.CoreVoltageCornerMax),
		}
		entry := C.er_power_dcvs_v3(&flat)
		if a.keep(unsafe.Pointer(entry)) == nil {
			return nil, errAlloc
		}
		out[i] = entry
	}
	return list, nil
}
