package qnntest

import (
	"sync"

	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
)

// System is the fake system library. It describes context binaries with records it owns
// and scribbles over them when the system context is freed.
type System struct {
	Faults

	rt *Runtime

	mu            sync.Mutex
	providers     []api.Version
	binaryVersion api.BinaryInfoVersion
	tensorVersion api.TensorVersion
	contexts      map[api.SystemContextHandle][]memory.Owned
}

func newSystem(rt *Runtime) *System {
	return &System{
		rt:            rt,
		providers:     []api.Version{api.SystemAPIVersion},
		binaryVersion: api.BinaryInfoVersion2,
		tensorVersion: api.TensorVersion2,
		contexts:      make(map[api.SystemContextHandle][]memory.Owned),
	}
}

// SetProviders replaces the provider versions the library lists.
func (s *System) SetProviders(versions ...api.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = versions
}

// SetVersions selects the record layouts binary descriptions are produced with.
func (s *System) SetVersions(binary api.BinaryInfoVersion, tensor api.TensorVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binaryVersion = binary
	s.tensorVersion = tensor
}

// Live returns the number of system contexts not yet freed.
func (s *System) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

func (s *System) symbols() map[string]any {
	return map[string]any{
		api.SymbolSystemInterfaceProviders: api.SystemInterfaceProvidersFn(s.getProviders),
	}
}

func (s *System) call(name string) api.ErrorHandle {
	s.rt.record(api.LibrarySystem, name)
	return s.code(name)
}

func (s *System) getProviders() ([]*api.SystemProvider, api.ErrorHandle) {
	if rc := s.call("getProviders"); rc != api.Success {
		return nil, rc
	}

	s.mu.Lock()
	versions := append([]api.Version(nil), s.providers...)
	s.mu.Unlock()

	out := make([]*api.SystemProvider, len(versions))
	for i, v := range versions {
		out[i] = &api.SystemProvider{ProviderName: api.LibrarySystem, SystemAPIVersion: v, Interface: s.iface()}
	}
	return out, api.Success
}

func (s *System) iface() api.SystemInterface {
	i := api.SystemInterface{
		SystemContextCreate: func() (api.SystemContextHandle, api.ErrorHandle) {
			if rc := s.call("systemContextCreate"); rc != api.Success {
				return 0, rc
			}
			h := api.SystemContextHandle(s.rt.nextHandle())
			s.mu.Lock()
			s.contexts[h] = nil
			s.mu.Unlock()
			return h, api.Success
		},
		SystemContextGetBinaryInfo: s.binaryInfo,
		SystemContextFree: func(h api.SystemContextHandle) api.ErrorHandle {
			s.mu.Lock()
			owned, ok := s.contexts[h]
			delete(s.contexts, h)
			s.mu.Unlock()
			if !ok {
				return api.ContextErrorInvalidArg
			}
			free(owned)
			return s.call("systemContextFree")
		},
	}
	if s.omitted("systemContextCreate") {
		i.SystemContextCreate = nil
	}
	if s.omitted("systemContextGetBinaryInfo") {
		i.SystemContextGetBinaryInfo = nil
	}
	if s.omitted("systemContextFree") {
		i.SystemContextFree = nil
	}
	return i
}

func (s *System) binaryInfo(h api.SystemContextHandle, binary []byte) (*api.BinaryInfo, api.ErrorHandle) {
	if rc := s.call("systemContextGetBinaryInfo"); rc != api.Success {
		return nil, rc
	}
	bl, err := decode(binary)
	if err != nil {
		return nil, api.ErrorInvalidArgument
	}

	s.mu.Lock()
	_, ok := s.contexts[h]
	binaryVersion, tensorVersion := s.binaryVersion, s.tensorVersion
	s.mu.Unlock()
	if !ok {
		return nil, api.ContextErrorInvalidArg
	}

	var owned []memory.Owned
	graphs := make([]api.SystemGraphInfo, len(bl.Graphs))
	for i, gd := range bl.Graphs {
		name, o, err := memory.NewCString(s.rt.heap, gd.Name)
		if err != nil {
			free(owned)
			return nil, api.ErrorMemAlloc
		}
		owned = append(owned, o)

		inputs, err := s.rt.buildTensors(gd.Inputs, api.TensorTypeAppWrite, tensorVersion, &owned)
		if err != nil {
			free(owned)
			return nil, api.ErrorMemAlloc
		}
		outputs, err := s.rt.buildTensors(gd.Outputs, api.TensorTypeAppRead, tensorVersion, &owned)
		if err != nil {
			free(owned)
			return nil, api.ErrorMemAlloc
		}

		graphs[i] = api.SystemGraphInfo{
			Version: api.SystemGraphInfoVersion1,
			V1: api.SystemGraphInfoV1{
				GraphName:       name,
				NumGraphInputs:  uint32(len(inputs)),
				GraphInputs:     inputs,
				NumGraphOutputs: uint32(len(outputs)),
				GraphOutputs:    outputs,
			},
		}
	}

	base := api.BinaryInfoV1{
		BackendID:      bl.Backend,
		CoreAPIVersion: api.CoreAPIVersion,
		NumGraphs:      uint32(len(graphs)),
		Graphs:         graphs,
	}
	info := &api.BinaryInfo{Version: binaryVersion}
	switch binaryVersion {
	case api.BinaryInfoVersion2:
		info.V2 = api.BinaryInfoV2{BinaryInfoV1: base, ContextBlobSize: uint64(len(binary))}
	default:
		info.V1 = base
	}

	s.mu.Lock()
	s.contexts[h] = append(s.contexts[h], owned...)
	s.mu.Unlock()
	return info, api.Success
}

func (rt *Runtime) buildTensors(defs []TensorDef, role api.TensorType, version api.TensorVersion, owned *[]memory.Owned) ([]api.Tensor, error) {
	out := make([]api.Tensor, len(defs))
	for i, def := range defs {
		t, err := rt.buildTensor(def, uint32(i), role, version, owned)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
