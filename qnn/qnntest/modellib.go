package qnntest

import (
	"sync"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
)

// ModelLib is a fake model library composing a fixed set of graphs.
type ModelLib struct {
	rt   *Runtime
	name string
	def  ModelDef

	mu            sync.Mutex
	fail          api.GraphError
	tensorVersion api.TensorVersion
	owned         map[*api.GraphsInfo][]memory.Owned
	composed      int
	freed         int
}

func newModelLib(rt *Runtime, name string, def ModelDef) *ModelLib {
	return &ModelLib{
		rt:            rt,
		name:          name,
		def:           def,
		tensorVersion: api.TensorVersion1,
		owned:         make(map[*api.GraphsInfo][]memory.Owned),
	}
}

// Def returns the composed model.
func (m *ModelLib) Def() ModelDef { return m.def }

// FailCompose makes compose return rc.
func (m *ModelLib) FailCompose(rc api.GraphError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = rc
}

// SetTensorVersion selects the record layout compose produces.
func (m *ModelLib) SetTensorVersion(v api.TensorVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tensorVersion = v
}

// Composed returns how many times compose succeeded.
func (m *ModelLib) Composed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.composed
}

// Freed returns how many composed results were handed back.
func (m *ModelLib) Freed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freed
}

func (m *ModelLib) symbols() map[string]any {
	return map[string]any{
		api.SymbolComposeGraphs:  api.ComposeGraphsFn(m.compose),
		api.SymbolFreeGraphsInfo: api.FreeGraphsInfoFn(m.free),
	}
}

func (m *ModelLib) compose(_ api.BackendHandle, iface *api.Interface, ctx api.ContextHandle, _ bool, _ api.LogLevel) (*api.GraphsInfo, api.GraphError) {
	m.rt.record(m.name, "composeGraphs")

	m.mu.Lock()
	fail, version := m.fail, m.tensorVersion
	m.mu.Unlock()
	if fail != api.GraphNoError {
		return nil, fail
	}

	b, ok := backendOf(iface)
	if !ok {
		return nil, 1
	}
	handles, err := b.compose(ctx, m.def)
	if err != nil {
		return nil, 1
	}

	var owned []memory.Owned
	info := &api.GraphsInfo{Graphs: make([]api.GraphInfo, len(m.def.Graphs))}
	for i, gd := range m.def.Graphs {
		name, o, err := memory.NewCString(m.rt.heap, gd.Name)
		if err != nil {
			free(owned)
			return nil, 1
		}
		owned = append(owned, o)

		inputs, err := m.rt.buildTensors(gd.Inputs, api.TensorTypeAppWrite, version, &owned)
		if err != nil {
			free(owned)
			return nil, 1
		}
		outputs, err := m.rt.buildTensors(gd.Outputs, api.TensorTypeAppRead, version, &owned)
		if err != nil {
			free(owned)
			return nil, 1
		}

		info.Graphs[i] = api.GraphInfo{
			Graph:            handles[i],
			GraphName:        name,
			InputTensors:     inputs,
			NumInputTensors:  uint32(len(inputs)),
			OutputTensors:    outputs,
			NumOutputTensors: uint32(len(outputs)),
		}
	}

	m.mu.Lock()
	m.owned[info] = owned
	m.composed++
	m.mu.Unlock()
	return info, api.GraphNoError
}

func (m *ModelLib) free(info *api.GraphsInfo) api.GraphError {
	m.rt.record(m.name, "freeGraphsInfo")

	m.mu.Lock()
	owned, ok := m.owned[info]
	delete(m.owned, info)
	if ok {
		m.freed++
	}
	m.mu.Unlock()
	if !ok {
		return 1
	}
	free(owned)
	return api.GraphNoError
}
