package qnn

import (
	"context"
	"fmt"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/nvr-ai/edgerunner/tensor"
	"github.com/pkg/errors"
)

// State is a step of the graph lifecycle.
type State int

// Graph lifecycle states.
const (
	StateUnloaded State = iota
	StateLibraryLoaded
	StateContextCreated
	StateComposed
	StateRestored
	StateConfigApplied
	StateFinalized
	StateExecutable
	StateFailed
)

var stateNames = [...]string{
	StateUnloaded:       "Unloaded",
	StateLibraryLoaded:  "LibraryLoaded",
	StateContextCreated: "ContextCreated",
	StateComposed:       "Composed",
	StateRestored:       "Restored",
	StateConfigApplied:  "ConfigApplied",
	StateFinalized:      "Finalized",
	StateExecutable:     "Executable",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OptimizationLevel is the finalize optimization flag applied to NPU graphs.
const OptimizationLevel = 3.0

// Graph walks one compiled graph from its source to an executable state. A graph is built
// either by composing a model library or by restoring a context binary; graph 0 of the
// result is the one executed.
type Graph struct {
	session *Session
	state   State

	modelLib   api.Library
	compose    api.ComposeGraphsFn
	freeGraphs api.FreeGraphsInfoFn

	context   api.ContextHandle
	graphs    *GraphSet
	precision tensor.Type
}

// NewGraph returns an unloaded graph on session.
func NewGraph(session *Session) *Graph {
	return &Graph{session: session, precision: tensor.NoType}
}

// State returns the current lifecycle state.
func (g *Graph) State() State { return g.state }

// Precision returns the precision detected for the graph.
func (g *Graph) Precision() tensor.Type { return g.precision }

func (g *Graph) expect(op string, states ...State) error {
	for _, s := range states {
		if g.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "%s in state %s", op, g.state)
}

func (g *Graph) fail(err error) error {
	g.state = StateFailed
	return err
}

// LoadLibrary opens a model library and resolves its compose and free entry points.
func (g *Graph) LoadLibrary(path string) error {
	if err := g.expect("load library", StateUnloaded); err != nil {
		return err
	}

	lib, err := g.session.Loader().Open(path)
	if err != nil {
		return g.fail(errors.Wrapf(api.ErrLibraryLoad, "%s: %v", path, err))
	}
	g.modelLib = lib

	if g.compose, err = api.LookupAs[api.ComposeGraphsFn](lib, api.SymbolComposeGraphs); err != nil {
		return g.fail(err)
	}
	if g.freeGraphs, err = api.LookupAs[api.FreeGraphsInfoFn](lib, api.SymbolFreeGraphsInfo); err != nil {
		return g.fail(err)
	}

	g.state = StateLibraryLoaded
	return nil
}

// CreateContext creates an empty context for composing into.
func (g *Graph) CreateContext() error {
	if err := g.expect("create context", StateLibraryLoaded); err != nil {
		return err
	}

	iface := g.session.Interface()
	if iface.ContextCreate == nil {
		return g.fail(errors.Wrap(ErrMissingEntryPoint, "contextCreate"))
	}
	h, rc := iface.ContextCreate(g.session.Backend(), g.session.Device(), NewConfigList[api.ContextConfig, api.HtpContextCustomConfig]().Pointers())
	if err := api.Check("contextCreate", rc); err != nil {
		return g.fail(err)
	}

	g.context = h
	g.state = StateContextCreated
	return nil
}

// Compose builds the model library's graphs inside the context. The resulting metadata is
// owned by the library.
func (g *Graph) Compose() error {
	if err := g.expect("compose", StateContextCreated); err != nil {
		return err
	}
	if g.compose == nil {
		return g.fail(errors.Wrap(ErrInvalidState, "compose without a model library"))
	}

	info, rc := g.compose(g.session.Backend(), g.session.Interface(), g.context, false, api.LogLevelError)
	if rc != api.GraphNoError {
		if info != nil && g.freeGraphs != nil {
			g.freeGraphs(info)
		}
		return g.fail(errors.Errorf("%s failed with status %d", api.SymbolComposeGraphs, int(rc)))
	}

	set, err := NewLibraryGraphSet(info, g.freeGraphs)
	if err != nil {
		return g.fail(errors.Wrap(err, api.SymbolComposeGraphs))
	}

	g.graphs = set
	g.state = StateComposed
	return nil
}

// DetectPrecision inspects the inputs of graph 0: any float input selects Float16, anything
// else Uint8.
func (g *Graph) DetectPrecision() tensor.Type {
	g.precision = tensor.Uint8
	for _, t := range g.Inputs() {
		switch Describe(&t).Type() {
		case tensor.Float16, tensor.Float32:
			g.precision = tensor.Float16
			return g.precision
		}
	}
	return g.precision
}

// GraphConfigs returns the graph configuration for delegate and precision. Only the NPU
// carries custom options: half precision for float graphs and always the finalize
// optimization level.
func GraphConfigs(delegate model.Delegate, precision tensor.Type) *ConfigList[api.GraphConfig, api.HtpGraphCustomConfig] {
	list := NewConfigList[api.GraphConfig, api.HtpGraphCustomConfig]()
	if delegate != model.NPU {
		return list
	}

	if precision == tensor.Float16 {
		list.Add(api.GraphConfig{
			Option: api.GraphConfigOptionCustom,
			CustomConfig: list.Custom(api.HtpGraphCustomConfig{
				Option:    api.HtpGraphConfigOptionPrecision,
				Precision: api.PrecisionFloat16,
			}),
		})
	}
	list.Add(api.GraphConfig{
		Option: api.GraphConfigOptionCustom,
		CustomConfig: list.Custom(api.HtpGraphCustomConfig{
			Option: api.HtpGraphConfigOptionOptimization,
			OptimizationOption: api.HtpGraphOptimization{
				Type:       api.HtpOptimizationTypeFinalizeOptimizationFlag,
				FloatValue: OptimizationLevel,
			},
		}),
	})
	return list
}

// ApplyConfig sets the graph configuration for the session delegate and detected precision.
func (g *Graph) ApplyConfig() error {
	if err := g.expect("apply config", StateComposed); err != nil {
		return err
	}

	iface := g.session.Interface()
	if iface.GraphSetConfig == nil {
		return g.fail(errors.Wrap(ErrMissingEntryPoint, "graphSetConfig"))
	}
	list := GraphConfigs(g.session.Delegate(), g.precision)
	if err := api.Check("graphSetConfig", iface.GraphSetConfig(g.selected().Graph, list.Pointers())); err != nil {
		return g.fail(err)
	}

	g.state = StateConfigApplied
	return nil
}

// Finalize compiles the configured graph.
func (g *Graph) Finalize() error {
	if err := g.expect("finalize", StateConfigApplied); err != nil {
		return err
	}

	iface := g.session.Interface()
	if iface.GraphFinalize == nil {
		return g.fail(errors.Wrap(ErrMissingEntryPoint, "graphFinalize"))
	}
	if err := api.Check("graphFinalize", iface.GraphFinalize(g.selected().Graph)); err != nil {
		return g.fail(err)
	}

	g.state = StateFinalized
	return nil
}

// ContextBinary serializes the context so it can be restored later without the model
// library.
func (g *Graph) ContextBinary() ([]byte, error) {
	if err := g.expect("serialize context", StateFinalized, StateExecutable); err != nil {
		return nil, err
	}

	iface := g.session.Interface()
	if iface.ContextGetBinarySize == nil || iface.ContextGetBinary == nil {
		return nil, errors.Wrap(ErrMissingEntryPoint, "contextGetBinary")
	}
	required, rc := iface.ContextGetBinarySize(g.context)
	if err := api.Check("contextGetBinarySize", rc); err != nil {
		return nil, err
	}

	buf := make([]byte, required)
	written, rc := iface.ContextGetBinary(g.context, buf)
	if err := api.Check("contextGetBinary", rc); err != nil {
		return nil, err
	}
	if written > required {
		return nil, errors.Wrapf(ErrBinaryOverflow, "wrote %d of %d bytes", written, required)
	}
	return buf[:written], nil
}

// MultiContextConfigs returns the context configuration used when restoring on delegate.
// On the NPU the context joins a new multi-context group.
func MultiContextConfigs(delegate model.Delegate) *ConfigList[api.ContextConfig, api.HtpContextCustomConfig] {
	list := NewConfigList[api.ContextConfig, api.HtpContextCustomConfig]()
	if delegate != model.NPU {
		return list
	}
	list.Add(api.ContextConfig{
		Option: api.ContextConfigOptionCustom,
		CustomConfig: list.Custom(api.HtpContextCustomConfig{
			Option:                api.HtpContextConfigOptionRegisterMultiContexts,
			RegisterMultiContexts: api.MultiContextGroup{},
		}),
	})
	return list
}

// Restore rebuilds the graphs of a context binary.
//
// Order of operations:
//  1. The system library describes the binary; its graph metadata is copied before the
//     system context is freed.
//  2. The context is created from the binary.
//  3. Every graph is retrieved by name.
func (g *Graph) Restore(binary []byte) error {
	if err := g.expect("restore", StateUnloaded); err != nil {
		return err
	}

	graphs, err := g.describe(binary)
	if err != nil {
		return g.fail(err)
	}
	g.graphs = graphs

	iface := g.session.Interface()
	if iface.ContextCreateFromBinary == nil {
		return g.fail(errors.Wrap(ErrMissingEntryPoint, "contextCreateFromBinary"))
	}
	list := MultiContextConfigs(g.session.Delegate())
	h, rc := iface.ContextCreateFromBinary(g.session.Backend(), g.session.Device(), list.Pointers(), binary)
	if err := api.Check("contextCreateFromBinary", rc); err != nil {
		return g.fail(err)
	}
	g.context = h
	g.state = StateContextCreated

	if iface.GraphRetrieve == nil {
		return g.fail(errors.Wrap(ErrMissingEntryPoint, "graphRetrieve"))
	}
	for i := 0; i < graphs.Len(); i++ {
		info := graphs.Graph(i)
		name := memory.GoString(info.GraphName)
		h, rc := iface.GraphRetrieve(g.context, name)
		if err := api.Check("graphRetrieve", rc); err != nil {
			return g.fail(errors.Wrapf(err, "graph %q", name))
		}
		info.Graph = h
	}

	g.state = StateRestored
	return nil
}

func (g *Graph) describe(binary []byte) (*GraphSet, error) {
	system, err := g.session.LoadSystemLibrary()
	if err != nil {
		return nil, err
	}
	if system.SystemContextCreate == nil || system.SystemContextGetBinaryInfo == nil || system.SystemContextFree == nil {
		return nil, errors.Wrap(ErrMissingEntryPoint, "system context")
	}

	sys, rc := system.SystemContextCreate()
	if err := api.Check("systemContextCreate", rc); err != nil {
		return nil, err
	}
	defer func() {
		logger.Log.Errors("freeing system context", api.Check("systemContextFree", system.SystemContextFree(sys)))
	}()

	info, rc := system.SystemContextGetBinaryInfo(sys, binary)
	if err := api.Check("systemContextGetBinaryInfo", rc); err != nil {
		return nil, err
	}
	return CopyGraphMetadata(g.session.Allocator(), info, g.session.VersionMode())
}

// Activate makes a finalized or restored graph executable.
func (g *Graph) Activate() error {
	if err := g.expect("activate", StateFinalized, StateRestored); err != nil {
		return err
	}
	g.state = StateExecutable
	return nil
}

// Execute runs graph 0 once. The runtime status is returned as is and nothing is retried.
// A failed execution leaves the graph executable.
func (g *Graph) Execute() error {
	if err := g.expect("execute", StateExecutable); err != nil {
		return err
	}

	iface := g.session.Interface()
	if iface.GraphExecute == nil {
		return errors.Wrap(ErrMissingEntryPoint, "graphExecute")
	}
	info := g.selected()
	return api.Check("graphExecute", iface.GraphExecute(info.Graph, info.InputTensors, info.OutputTensors, 0, 0))
}

// ExecuteContext runs Execute on its own goroutine and returns ctx.Err() if ctx ends first.
// The runtime call cannot be interrupted: it keeps running and the graph must not be used
// again until it returns, which the returned channel reports.
func (g *Graph) ExecuteContext(ctx context.Context) (<-chan error, error) {
	done := make(chan error, 1)
	go func() {
		done <- g.Execute()
	}()

	select {
	case err := <-done:
		done <- err
		return done, err
	case <-ctx.Done():
		return done, ctx.Err()
	}
}

func (g *Graph) selected() *api.GraphInfo {
	if g.graphs == nil {
		return &api.GraphInfo{}
	}
	if info := g.graphs.Graph(0); info != nil {
		return info
	}
	return &api.GraphInfo{}
}

// Graphs returns the graph metadata, or nil before compose or restore.
func (g *Graph) Graphs() *GraphSet { return g.graphs }

// Name returns the name of graph 0.
func (g *Graph) Name() string { return memory.GoString(g.selected().GraphName) }

// Inputs returns the input records of graph 0.
func (g *Graph) Inputs() []api.Tensor { return g.selected().InputTensors }

// Outputs returns the output records of graph 0.
func (g *Graph) Outputs() []api.Tensor { return g.selected().OutputTensors }

// Close releases the graph metadata, frees the context and unloads the model library. The
// session is not released. Errors are logged and the first one is returned.
func (g *Graph) Close() error {
	var first error
	keep := func(msg string, err error) {
		if logger.Log.Errors(msg, err) && first == nil {
			first = err
		}
	}

	if g.context != 0 {
		if free := g.session.Interface().ContextFree; free != nil {
			keep("freeing context", api.Check("contextFree", free(g.context)))
		}
		g.context = 0
	}
	if g.graphs != nil {
		keep("releasing graph metadata", g.graphs.Release())
		g.graphs = nil
	}
	if g.modelLib != nil {
		keep("closing model library", g.modelLib.Close())
		g.modelLib = nil
	}
	g.compose = nil
	g.freeGraphs = nil
	if g.state != StateFailed {
		g.state = StateUnloaded
	}
	return first
}
