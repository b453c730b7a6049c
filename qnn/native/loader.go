//go:build linux && qnn

package native

/*
#cgo LDFLAGS: -ldl
#include "bridge.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
)

// Available reports whether the native binding is compiled in.
const Available = true

// Loader opens shared libraries with dlopen.
type Loader struct{}

var _ api.Loader = Loader{}

// NewLoader returns the dlopen loader.
func NewLoader() (api.Loader, error) { return Loader{}, nil }

// Allocator returns the C heap allocator. Records handed to the runtime must live in C
// memory.
func Allocator() memory.Allocator { return CAllocator{} }

// Open loads the library at path. A bare file name is resolved through the dynamic linker
// search path.
func (Loader) Open(path string) (api.Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	h := C.er_dlopen(cpath)
	if h == nil {
		return nil, errors.Errorf("dlopen %s: %s", path, C.GoString(C.er_dlerror()))
	}
	logger.Log.Debug("library opened", "path", path)
	return &library{path: path, handle: h}, nil
}

type library struct {
	path string

	mu     sync.Mutex
	handle unsafe.Pointer
}

func (l *library) Path() string { return l.path }

func (l *library) sym(symbol string) (unsafe.Pointer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil, errors.Errorf("%s is closed", l.path)
	}

	csym := C.CString(symbol)
	defer C.free(unsafe.Pointer(csym))
	p := C.er_dlsym(l.handle, csym)
	if p == nil {
		return nil, errors.Errorf("dlsym %s: %s", symbol, C.GoString(C.er_dlerror()))
	}
	return p, nil
}

// Lookup resolves one of the four known entry points and wraps it in its Go signature.
func (l *library) Lookup(symbol string) (any, error) {
	fn, err := l.sym(symbol)
	if err != nil {
		return nil, err
	}

	switch symbol {
	case api.SymbolInterfaceProviders:
		return api.InterfaceProvidersFn(func() ([]*api.Provider, api.ErrorHandle) {
			return interfaceProviders(fn)
		}), nil
	case api.SymbolSystemInterfaceProviders:
		return api.SystemInterfaceProvidersFn(func() ([]*api.SystemProvider, api.ErrorHandle) {
			return systemProviders(fn)
		}), nil
	case api.SymbolComposeGraphs:
		return api.ComposeGraphsFn(func(backend api.BackendHandle, iface *api.Interface, ctx api.ContextHandle, debug bool, level api.LogLevel) (*api.GraphsInfo, api.GraphError) {
			return composeGraphs(fn, backend, iface, ctx, debug, level)
		}), nil
	case api.SymbolFreeGraphsInfo:
		return api.FreeGraphsInfoFn(func(info *api.GraphsInfo) api.GraphError {
			return freeGraphs(fn, info)
		}), nil
	default:
		return nil, errors.Errorf("no binding for %s", symbol)
	}
}

func (l *library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil
	}
	rc := C.er_dlclose(l.handle)
	l.handle = nil
	if rc != 0 {
		return errors.Errorf("dlclose %s: %s", l.path, C.GoString(C.er_dlerror()))
	}
	return nil
}

func composeGraphs(fn unsafe.Pointer, backend api.BackendHandle, iface *api.Interface, ctx api.ContextHandle, debug bool, level api.LogLevel) (*api.GraphsInfo, api.GraphError) {
	if iface == nil || iface.Native == nil {
		return nil, api.GraphError(1)
	}

	var graphs **C.ER_GraphInfo
	var n C.uint32_t
	rc := C.er_compose(fn, C.Qnn_BackendHandle_t(handle(backend)), (*C.ER_Interface)(iface.Native),
		C.Qnn_ContextHandle_t(handle(ctx)), C.bool(debug), C.QnnLog_Level_t(level), &graphs, &n)
	if graphs == nil {
		return nil, api.GraphError(rc)
	}

	info := &api.GraphsInfo{Native: unsafe.Pointer(graphs)}
	for _, g := range unsafe.Slice(graphs, int(n)) {
		info.Graphs = append(info.Graphs, graphInfoFromC(g))
	}
	return info, api.GraphError(rc)
}

func freeGraphs(fn unsafe.Pointer, info *api.GraphsInfo) api.GraphError {
	if info == nil || info.Native == nil {
		return api.GraphNoError
	}
	rc := C.er_free_graphs(fn, (**C.ER_GraphInfo)(info.Native), C.uint32_t(len(info.Graphs)))
	info.Native = nil
	return api.GraphError(rc)
}

func graphInfoFromC(g *C.ER_GraphInfo) api.GraphInfo {
	if g == nil {
		return api.GraphInfo{}
	}
	return api.GraphInfo{
		Graph:            api.GraphHandle(uintptr(unsafe.Pointer(g.graph))),
		GraphName:        (*byte)(unsafe.Pointer(g.graphName)),
		InputTensors:     tensorsFromC(g.inputTensors, uint32(g.numInputTensors)),
		NumInputTensors:  uint32(g.numInputTensors),
		OutputTensors:    tensorsFromC(g.outputTensors, uint32(g.numOutputTensors)),
		NumOutputTensors: uint32(g.numOutputTensors),
	}
}

func handle[H ~uintptr](h H) unsafe.Pointer {
	return unsafe.Pointer(uintptr(h)) //nolint:govet // runtime handles are C pointers
}
