package qnntest

import (
	"hash/fnv"
	"sync"
	"unsafe"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/pkg/errors"
)

// ProviderDef describes one interface provider a backend library lists.
type ProviderDef struct {
	Name    string
	ID      api.BackendID
	Version api.Version
}

// Backend is a fake backend library. Faults are keyed by the runtime call names
// "propertyHasCapability", "logCreate", "backendCreate", "deviceCreate",
// "deviceGetInfrastructure", "createPowerConfigId", "setPowerConfig", "contextCreate",
// "contextCreateFromBinary", "contextGetBinarySize", "contextGetBinary", "graphSetConfig",
// "graphFinalize", "graphRetrieve", "graphExecute" and the matching free calls.
type Backend struct {
	Faults

	rt   *Runtime
	name string
	id   api.BackendID

	mu        sync.Mutex
	providers []ProviderDef
	overrun   uint64
	logCB     api.LogCallback

	contexts map[api.ContextHandle]*fakeContext
	graphs   map[api.GraphHandle]*fakeGraph
	live     map[string]int

	graphConfigs   [][]api.GraphConfig
	contextConfigs [][]api.ContextConfig
	powerConfigs   []api.PowerConfig
	powerIDs       map[uint32]bool
	executions     int
}

type fakeContext struct {
	graphs []*fakeGraph
}

type fakeGraph struct {
	handle    api.GraphHandle
	def       GraphDef
	context   api.ContextHandle
	finalized bool
}

func newBackend(rt *Runtime, name string, id api.BackendID) *Backend {
	return &Backend{
		rt:        rt,
		name:      name,
		id:        id,
		providers: []ProviderDef{{Name: name, ID: id, Version: api.CoreAPIVersion}},
		contexts:  make(map[api.ContextHandle]*fakeContext),
		graphs:    make(map[api.GraphHandle]*fakeGraph),
		live:      make(map[string]int),
		powerIDs:  make(map[uint32]bool),
	}
}

// SetProviders replaces the provider list.
func (b *Backend) SetProviders(providers ...ProviderDef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = providers
}

// SetBinaryOverrun makes contextGetBinary report n bytes more than it was given room for.
func (b *Backend) SetBinaryOverrun(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrun = n
}

// Live returns how many objects of kind ("log", "backend", "device", "context",
// "powerConfig") are currently allocated.
func (b *Backend) Live(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[kind]
}

// GraphConfigs returns copies of every graph configuration applied, one slice per call.
func (b *Backend) GraphConfigs() [][]api.GraphConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graphConfigs
}

// ContextConfigs returns copies of every configuration a context was created from a binary
// with, one slice per call.
func (b *Backend) ContextConfigs() [][]api.ContextConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contextConfigs
}

// PowerConfigs returns every power configuration applied.
func (b *Backend) PowerConfigs() []api.PowerConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powerConfigs
}

// Executions returns the number of successful graph executions.
func (b *Backend) Executions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executions
}

func (b *Backend) symbols() map[string]any {
	return map[string]any{
		api.SymbolInterfaceProviders: api.InterfaceProvidersFn(b.getProviders),
	}
}

func (b *Backend) getProviders() ([]*api.Provider, api.ErrorHandle) {
	b.rt.record(b.name, "getProviders")
	if rc := b.code("getProviders"); rc != api.Success {
		return nil, rc
	}

	b.mu.Lock()
	defs := append([]ProviderDef(nil), b.providers...)
	b.mu.Unlock()

	out := make([]*api.Provider, len(defs))
	for i, d := range defs {
		out[i] = &api.Provider{
			ProviderName:      d.Name,
			BackendID:         d.ID,
			CoreAPIVersion:    d.Version,
			BackendAPIVersion: api.Version{Major: 5, Minor: 14},
			Interface:         b.iface(),
		}
	}
	return out, api.Success
}

// call records name and returns its injected status.
func (b *Backend) call(name string) api.ErrorHandle {
	b.rt.record(b.name, name)
	rc := b.code(name)
	if rc != api.Success {
		b.mu.Lock()
		cb := b.logCB
		b.mu.Unlock()
		if cb != nil {
			cb(api.LogLevelError, uint64(b.rt.nextHandle()), name+": injected failure\n")
		}
	}
	return rc
}

func (b *Backend) alloc(kind string) uintptr {
	b.mu.Lock()
	b.live[kind]++
	b.mu.Unlock()
	return b.rt.nextHandle()
}

func (b *Backend) release(kind string) {
	b.mu.Lock()
	b.live[kind]--
	b.mu.Unlock()
}

func (b *Backend) iface() api.Interface {
	i := api.Interface{
		Native: unsafe.Pointer(b),

		PropertyHasCapability: func(key api.PropertyKey) api.ErrorHandle {
			return b.call("propertyHasCapability")
		},
		LogCreate: func(cb api.LogCallback, level api.LogLevel) (api.LogHandle, api.ErrorHandle) {
			if rc := b.call("logCreate"); rc != api.Success {
				return 0, rc
			}
			b.mu.Lock()
			b.logCB = cb
			b.mu.Unlock()
			return api.LogHandle(b.alloc("log")), api.Success
		},
		LogFree: func(api.LogHandle) api.ErrorHandle {
			b.release("log")
			return b.call("logFree")
		},
		BackendCreate: func(api.LogHandle, []*api.BackendConfig) (api.BackendHandle, api.ErrorHandle) {
			if rc := b.call("backendCreate"); rc != api.Success {
				return 0, rc
			}
			return api.BackendHandle(b.alloc("backend")), api.Success
		},
		BackendFree: func(api.BackendHandle) api.ErrorHandle {
			b.release("backend")
			return b.call("backendFree")
		},
		DeviceCreate: func(api.LogHandle, []*api.DeviceConfig) (api.DeviceHandle, api.ErrorHandle) {
			if rc := b.call("deviceCreate"); rc != api.Success {
				return 0, rc
			}
			return api.DeviceHandle(b.alloc("device")), api.Success
		},
		DeviceFree: func(api.DeviceHandle) api.ErrorHandle {
			b.release("device")
			return b.call("deviceFree")
		},
		DeviceGetInfrastructure: func() (*api.DeviceInfrastructure, api.ErrorHandle) {
			if rc := b.call("deviceGetInfrastructure"); rc != api.Success {
				return nil, rc
			}
			return &api.DeviceInfrastructure{PerfInfra: b.perf()}, api.Success
		},
		ContextCreate:           b.contextCreate,
		ContextCreateFromBinary: b.contextCreateFromBinary,
		ContextGetBinarySize: func(ctx api.ContextHandle) (uint64, api.ErrorHandle) {
			if rc := b.call("contextGetBinarySize"); rc != api.Success {
				return 0, rc
			}
			data, err := b.serialize(ctx)
			if err != nil {
				return 0, api.ContextErrorInvalidArg
			}
			return uint64(len(data)), api.Success
		},
		ContextGetBinary: func(ctx api.ContextHandle, buf []byte) (uint64, api.ErrorHandle) {
			if rc := b.call("contextGetBinary"); rc != api.Success {
				return 0, rc
			}
			data, err := b.serialize(ctx)
			if err != nil || len(buf) < len(data) {
				return 0, api.ContextErrorInvalidArg
			}
			b.mu.Lock()
			extra := b.overrun
			b.mu.Unlock()
			return uint64(copy(buf, data)) + extra, api.Success
		},
		ContextFree: b.contextFree,
		GraphSetConfig: func(graph api.GraphHandle, configs []*api.GraphConfig) api.ErrorHandle {
			if rc := b.call("graphSetConfig"); rc != api.Success {
				return rc
			}
			if !api.Terminated(configs) {
				return api.ErrorInvalidArgument
			}
			if _, ok := b.graph(graph); !ok {
				return api.GraphErrorInvalidHandle
			}
			b.mu.Lock()
			b.graphConfigs = append(b.graphConfigs, deref(configs))
			b.mu.Unlock()
			return api.Success
		},
		GraphFinalize: func(graph api.GraphHandle) api.ErrorHandle {
			if rc := b.call("graphFinalize"); rc != api.Success {
				return rc
			}
			g, ok := b.graph(graph)
			if !ok {
				return api.GraphErrorInvalidHandle
			}
			b.mu.Lock()
			g.finalized = true
			b.mu.Unlock()
			return api.Success
		},
		GraphRetrieve: func(ctx api.ContextHandle, name string) (api.GraphHandle, api.ErrorHandle) {
			if rc := b.call("graphRetrieve"); rc != api.Success {
				return 0, rc
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			c, ok := b.contexts[ctx]
			if !ok {
				return 0, api.ContextErrorInvalidArg
			}
			for _, g := range c.graphs {
				if g.def.Name == name {
					return g.handle, api.Success
				}
			}
			return 0, api.GraphErrorInvalidHandle
		},
		GraphExecute: b.execute,
	}

	if b.omitted("propertyHasCapability") {
		i.PropertyHasCapability = nil
	}
	if b.omitted("logCreate") {
		i.LogCreate = nil
	}
	if b.omitted("logFree") {
		i.LogFree = nil
	}
	if b.omitted("backendCreate") {
		i.BackendCreate = nil
	}
	if b.omitted("backendFree") {
		i.BackendFree = nil
	}
	if b.omitted("deviceCreate") {
		i.DeviceCreate = nil
	}
	if b.omitted("deviceFree") {
		i.DeviceFree = nil
	}
	if b.omitted("deviceGetInfrastructure") {
		i.DeviceGetInfrastructure = nil
	}
	if b.omitted("contextCreate") {
		i.ContextCreate = nil
	}
	if b.omitted("contextCreateFromBinary") {
		i.ContextCreateFromBinary = nil
	}
	if b.omitted("contextGetBinary") {
		i.ContextGetBinary = nil
	}
	if b.omitted("contextFree") {
		i.ContextFree = nil
	}
	if b.omitted("graphSetConfig") {
		i.GraphSetConfig = nil
	}
	if b.omitted("graphFinalize") {
		i.GraphFinalize = nil
	}
	if b.omitted("graphRetrieve") {
		i.GraphRetrieve = nil
	}
	if b.omitted("graphExecute") {
		i.GraphExecute = nil
	}
	return i
}

func (b *Backend) perf() api.PerfInfrastructure {
	p := api.PerfInfrastructure{
		CreatePowerConfigID: func(deviceID, coreID uint32) (uint32, api.ErrorHandle) {
			if rc := b.call("createPowerConfigId"); rc != api.Success {
				return 0, rc
			}
			id := uint32(b.alloc("powerConfig"))
			b.mu.Lock()
			b.powerIDs[id] = true
			b.mu.Unlock()
			return id, api.Success
		},
		SetPowerConfig: func(id uint32, configs []*api.PowerConfig) api.ErrorHandle {
			if rc := b.call("setPowerConfig"); rc != api.Success {
				return rc
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.powerIDs[id] || !api.Terminated(configs) {
				return api.ErrorInvalidArgument
			}
			b.powerConfigs = append(b.powerConfigs, deref(configs)...)
			return api.Success
		},
		DestroyPowerConfigID: func(id uint32) api.ErrorHandle {
			b.mu.Lock()
			known := b.powerIDs[id]
			delete(b.powerIDs, id)
			b.mu.Unlock()
			if !known {
				return api.ErrorInvalidArgument
			}
			b.release("powerConfig")
			return b.call("destroyPowerConfigId")
		},
	}
	if b.omitted("destroyPowerConfigId") {
		p.DestroyPowerConfigID = nil
	}
	return p
}

func (b *Backend) contextCreate(api.BackendHandle, api.DeviceHandle, []*api.ContextConfig) (api.ContextHandle, api.ErrorHandle) {
	if rc := b.call("contextCreate"); rc != api.Success {
		return 0, rc
	}
	h := api.ContextHandle(b.alloc("context"))
	b.mu.Lock()
	b.contexts[h] = &fakeContext{}
	b.mu.Unlock()
	return h, api.Success
}

func (b *Backend) contextCreateFromBinary(_ api.BackendHandle, _ api.DeviceHandle, configs []*api.ContextConfig, binary []byte) (api.ContextHandle, api.ErrorHandle) {
	if rc := b.call("contextCreateFromBinary"); rc != api.Success {
		return 0, rc
	}
	if !api.Terminated(configs) {
		return 0, api.ErrorInvalidArgument
	}
	bl, err := decode(binary)
	if err != nil || bl.Backend != b.id {
		return 0, api.ContextErrorInvalidArg
	}

	h := api.ContextHandle(b.alloc("context"))
	c := &fakeContext{}
	for _, def := range bl.Graphs {
		c.graphs = append(c.graphs, b.addGraph(h, def, true))
	}

	b.mu.Lock()
	b.contexts[h] = c
	b.contextConfigs = append(b.contextConfigs, deref(configs))
	b.mu.Unlock()
	return h, api.Success
}

func (b *Backend) contextFree(ctx api.ContextHandle) api.ErrorHandle {
	b.mu.Lock()
	c, ok := b.contexts[ctx]
	if ok {
		for _, g := range c.graphs {
			delete(b.graphs, g.handle)
		}
		delete(b.contexts, ctx)
	}
	b.mu.Unlock()
	if !ok {
		return api.ContextErrorInvalidArg
	}
	b.release("context")
	return b.call("contextFree")
}

func (b *Backend) addGraph(ctx api.ContextHandle, def GraphDef, finalized bool) *fakeGraph {
	g := &fakeGraph{handle: api.GraphHandle(b.rt.nextHandle()), def: def, context: ctx, finalized: finalized}
	b.mu.Lock()
	b.graphs[g.handle] = g
	b.mu.Unlock()
	return g
}

// compose registers def's graphs in ctx. Model libraries call it through the interface they
// are handed.
func (b *Backend) compose(ctx api.ContextHandle, def ModelDef) ([]api.GraphHandle, error) {
	b.mu.Lock()
	c, ok := b.contexts[ctx]
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("compose into unknown context")
	}

	handles := make([]api.GraphHandle, 0, len(def.Graphs))
	for _, gd := range def.Graphs {
		g := b.addGraph(ctx, gd, false)
		b.mu.Lock()
		c.graphs = append(c.graphs, g)
		b.mu.Unlock()
		handles = append(handles, g.handle)
	}
	return handles, nil
}

func (b *Backend) graph(h api.GraphHandle) (*fakeGraph, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.graphs[h]
	return g, ok
}

func (b *Backend) serialize(ctx api.ContextHandle) ([]byte, error) {
	b.mu.Lock()
	c, ok := b.contexts[ctx]
	var defs []GraphDef
	if ok {
		for _, g := range c.graphs {
			defs = append(defs, g.def)
		}
	}
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown context")
	}
	return encode(blob{Backend: b.id, Graphs: defs})
}

// execute fills every output from a hash of the input bytes, so equal inputs produce
// bit-identical outputs.
func (b *Backend) execute(graph api.GraphHandle, inputs, outputs []api.Tensor, _ api.ProfileHandle, _ api.SignalHandle) api.ErrorHandle {
	if rc := b.call("graphExecute"); rc != api.Success {
		return rc
	}
	g, ok := b.graph(graph)
	if !ok {
		return api.GraphErrorInvalidHandle
	}
	if !g.finalized {
		return api.GraphErrorGeneral
	}
	if len(inputs) != len(g.def.Inputs) || len(outputs) != len(g.def.Outputs) {
		return api.ErrorInvalidArgument
	}

	h := fnv.New64a()
	for i := range inputs {
		data, ok := clientData(&inputs[i], g.def.Inputs[i])
		if !ok {
			return api.ErrorInvalidArgument
		}
		h.Write(data)
	}
	seed := h.Sum64()

	for i := range outputs {
		data, ok := clientData(&outputs[i], g.def.Outputs[i])
		if !ok {
			return api.ErrorInvalidArgument
		}
		fill(data, g.def.Outputs[i].DataType, seed)
	}

	b.mu.Lock()
	b.executions++
	b.mu.Unlock()
	return api.Success
}

func clientData(t *api.Tensor, def TensorDef) ([]byte, bool) {
	v := api.Adapt(t)
	if v.MemType() != api.MemTypeRaw {
		return nil, false
	}
	buf := v.ClientBuf()
	want := def.ByteSize()
	if buf.Data == nil || int(buf.DataSize) < want {
		return nil, false
	}
	return unsafe.Slice((*byte)(buf.Data), want), true
}

// Expected returns what execute writes into a float32 output of n elements for seed.
func Expected(seed uint64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((seed+uint64(i))%1000) / 1000
	}
	return out
}

// Seed returns the value execute derives from the given input buffers.
func Seed(inputs ...[]byte) uint64 {
	h := fnv.New64a()
	for _, in := range inputs {
		h.Write(in)
	}
	return h.Sum64()
}

func fill(data []byte, dt api.DataType, seed uint64) {
	if dt == api.DataTypeFloat32 && len(data) >= 4 {
		copy(unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4), Expected(seed, len(data)/4))
		return
	}
	for i := range data {
		data[i] = byte(seed + uint64(i))
	}
}

func deref[T any](configs []*T) []T {
	var out []T
	for _, c := range configs {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// backendOf recovers the fake backend behind an interface table.
func backendOf(iface *api.Interface) (*Backend, bool) {
	if iface == nil || iface.Native == nil {
		return nil, false
	}
	return (*Backend)(iface.Native), true
}
