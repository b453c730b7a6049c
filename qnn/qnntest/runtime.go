// Package qnntest is an in-process stand-in for the vendor runtime. It serves backend, system
// and model libraries through api.Loader, executes graphs deterministically and records every
// runtime call so tests can assert ordering and ownership.
package qnntest

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
)

// Runtime owns every fake library. The zero value is not usable; call New.
type Runtime struct {
	mu     sync.Mutex
	heap   *memory.Counting
	libs   map[string]*Library
	calls  []string
	handle uintptr

	backends map[string]*Backend
	system   *System
	models   map[string]*ModelLib
}

var _ api.Loader = (*Runtime)(nil)

// New returns a runtime serving the CPU, GPU and NPU backend libraries and the system
// library.
func New() *Runtime {
	rt := &Runtime{
		heap:     memory.NewCounting(memory.NewHeap()),
		libs:     make(map[string]*Library),
		backends: make(map[string]*Backend),
		models:   make(map[string]*ModelLib),
	}
	rt.addBackend(api.LibraryCPU, api.BackendIDCPU)
	rt.addBackend(api.LibraryGPU, api.BackendIDGPU)
	rt.addBackend(api.LibraryHTP, api.BackendIDHTP)

	rt.system = newSystem(rt)
	rt.register(api.LibrarySystem, rt.system.symbols())
	return rt
}

func (rt *Runtime) addBackend(name string, id api.BackendID) {
	b := newBackend(rt, name, id)
	rt.backends[name] = b
	rt.register(name, b.symbols())
}

func (rt *Runtime) register(name string, symbols map[string]any) *Library {
	lib := &Library{rt: rt, name: name, symbols: symbols}
	rt.libs[name] = lib
	return lib
}

// Backend returns the backend served under a library file name such as api.LibraryHTP.
func (rt *Runtime) Backend(name string) *Backend { return rt.backends[name] }

// HTP returns the NPU backend.
func (rt *Runtime) HTP() *Backend { return rt.backends[api.LibraryHTP] }

// System returns the system library.
func (rt *Runtime) System() *System { return rt.system }

// AddModel serves def as a model library under the base name of path.
func (rt *Runtime) AddModel(path string, def ModelDef) *ModelLib {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	name := filepath.Base(path)
	m := newModelLib(rt, name, def)
	rt.models[name] = m
	rt.register(name, m.symbols())
	return m
}

// Model returns the model library served under the base name of path.
func (rt *Runtime) Model(path string) *ModelLib {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.models[filepath.Base(path)]
}

// Library returns the library registered under name, or nil.
func (rt *Runtime) Library(name string) *Library {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.libs[filepath.Base(name)]
}

// Heap is the allocator the runtime builds its own records with. Everything on it must be
// freed by the runtime itself, so Live drops to zero once every library-owned result has
// been handed back.
func (rt *Runtime) Heap() *memory.Counting { return rt.heap }

// Open implements api.Loader. Libraries are found by base name.
func (rt *Runtime) Open(path string) (api.Library, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	lib, ok := rt.libs[filepath.Base(path)]
	if !ok || lib.missing {
		return nil, errors.Errorf("%s: cannot open shared object file", path)
	}
	lib.opens++
	rt.calls = append(rt.calls, lib.name+":open")
	return lib, nil
}

// Calls returns the ordered runtime calls made so far as "<library>:<call>".
func (rt *Runtime) Calls() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.calls...)
}

// ResetCalls forgets recorded calls.
func (rt *Runtime) ResetCalls() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls = nil
}

func (rt *Runtime) record(lib, call string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls = append(rt.calls, lib+":"+call)
}

func (rt *Runtime) nextHandle() uintptr {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handle++
	return rt.handle
}

// Library is one fake shared library.
type Library struct {
	rt      *Runtime
	name    string
	symbols map[string]any
	missing bool
	opens   int
	closes  int
}

var _ api.Library = (*Library)(nil)

// Path returns the library file name.
func (l *Library) Path() string { return l.name }

// Lookup returns the entry point registered under symbol.
func (l *Library) Lookup(symbol string) (any, error) {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	sym, ok := l.symbols[symbol]
	if !ok {
		return nil, errors.Errorf("undefined symbol: %s", symbol)
	}
	return sym, nil
}

// Close counts one unload.
func (l *Library) Close() error {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	l.closes++
	l.rt.calls = append(l.rt.calls, l.name+":close")
	return nil
}

// Remove drops an exported symbol.
func (l *Library) Remove(symbol string) {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	delete(l.symbols, symbol)
}

// Replace exports fn under symbol, whatever its type.
func (l *Library) Replace(symbol string, fn any) {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	l.symbols[symbol] = fn
}

// SetMissing makes Open fail for this library.
func (l *Library) SetMissing(missing bool) {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	l.missing = missing
}

// Symbols returns the exported symbol names in order.
func (l *Library) Symbols() []string {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	out := make([]string, 0, len(l.symbols))
	for s := range l.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Opens returns how often the library was opened.
func (l *Library) Opens() int {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	return l.opens
}

// Closes returns how often the library was closed.
func (l *Library) Closes() int {
	l.rt.mu.Lock()
	defer l.rt.mu.Unlock()
	return l.closes
}

// Faults holds injected failures and omitted function table members, both keyed by the
// runtime call name such as "graphFinalize".
type Faults struct {
	mu   sync.Mutex
	fail map[string]api.ErrorHandle
	omit map[string]bool
}

// Fail makes call return code.
func (f *Faults) Fail(call string, code api.ErrorHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]api.ErrorHandle)
	}
	f.fail[call] = code
}

// Omit leaves call out of the function table handed to callers.
func (f *Faults) Omit(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.omit == nil {
		f.omit = make(map[string]bool)
	}
	f.omit[call] = true
}

// Clear removes every injected fault.
func (f *Faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = nil
	f.omit = nil
}

func (f *Faults) code(call string) api.ErrorHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[call]
}

func (f *Faults) omitted(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.omit[call]
}

// buildTensor creates a record for def on the runtime heap. Every allocation is appended to
// owned so the creator can free it later.
func (rt *Runtime) buildTensor(def TensorDef, id uint32, role api.TensorType, version api.TensorVersion, owned *[]memory.Owned) (api.Tensor, error) {
	t := api.TensorInit(version)
	v := api.Adapt(&t)
	v.SetID(id)
	v.SetType(role)
	v.SetDataType(def.DataType)

	name, o, err := memory.NewCString(rt.heap, def.Name)
	if err != nil {
		return t, err
	}
	*owned = append(*owned, o)
	v.SetNamePtr(name)

	v.SetRank(uint32(len(def.Dims)))
	dims, o, err := memory.ArrayFrom(rt.heap, def.Dims)
	if err != nil {
		return t, err
	}
	*owned = append(*owned, o)
	v.SetDimensionsPtr(dims)

	if version == api.TensorVersion2 && len(def.Dynamic) > 0 {
		if len(def.Dynamic) != len(def.Dims) {
			return t, errors.Errorf("tensor %q: %d dynamic flags for rank %d", def.Name, len(def.Dynamic), len(def.Dims))
		}
		flags, o, err := memory.ArrayFrom(rt.heap, def.Dynamic)
		if err != nil {
			return t, err
		}
		*owned = append(*owned, o)
		v.SetDynamicDimensionsPtr(flags)
		v.SetSparseParams(api.SparseParams{Type: api.SparseLayoutUndefined})
	}

	q := api.QuantizeParams{EncodingDefinition: api.DefinitionUndefined, QuantizationEncoding: api.QuantizationEncodingUndefined}
	switch {
	case len(def.Channels) > 0:
		pairs, o, err := memory.ArrayFrom(rt.heap, def.Channels)
		if err != nil {
			return t, err
		}
		*owned = append(*owned, o)
		q.EncodingDefinition = api.DefinitionDefined
		q.QuantizationEncoding = api.QuantizationEncodingAxisScaleOffset
		q.AxisScaleOffsetEncoding = api.AxisScaleOffset{
			Axis:            def.Axis,
			NumScaleOffsets: uint32(len(def.Channels)),
			ScaleOffset:     pairs,
		}
	case def.Scale != 0:
		q.EncodingDefinition = api.DefinitionDefined
		q.QuantizationEncoding = api.QuantizationEncodingScaleOffset
		q.ScaleOffsetEncoding = api.ScaleOffset{Scale: def.Scale, Offset: def.Offset}
	}
	v.SetQuantizeParams(q)
	return t, nil
}

// free scribbles over every block before handing it back, so readers of released records
// see garbage rather than stale values.
func free(owned []memory.Owned) {
	for i := range owned {
		b := owned[i].Bytes()
		for j := range b {
			b[j] = 0xDD
		}
		owned[i].Release()
	}
}
