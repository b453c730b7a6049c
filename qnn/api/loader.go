package api

import (
	"github.com/pkg/errors"
)

// Fixed library file names.
const (
	LibraryCPU    = "libQnnCpu.so"
	LibraryGPU    = "libQnnGpu.so"
	LibraryHTP    = "libQnnHtp.so"
	LibrarySystem = "libQnnSystem.so"
)

// Fixed entry point names.
const (
	SymbolInterfaceProviders       = "QnnInterface_getProviders"
	SymbolSystemInterfaceProviders = "QnnSystemInterface_getProviders"
	SymbolComposeGraphs            = "QnnModel_composeGraphs"
	SymbolFreeGraphsInfo           = "QnnModel_freeGraphsInfo"
)

// Entry point signatures resolved from libraries.
type (
	// InterfaceProvidersFn lists the providers of a backend library.
	InterfaceProvidersFn func() ([]*Provider, ErrorHandle)
	// SystemInterfaceProvidersFn lists the providers of the system library.
	SystemInterfaceProvidersFn func() ([]*SystemProvider, ErrorHandle)
	// ComposeGraphsFn builds the graphs of a model library inside context.
	ComposeGraphsFn func(backend BackendHandle, iface *Interface, context ContextHandle, debug bool, level LogLevel) (*GraphsInfo, GraphError)
	// FreeGraphsInfoFn releases what ComposeGraphsFn returned.
	FreeGraphsInfoFn func(info *GraphsInfo) GraphError
)

var (
	// ErrLibraryLoad is returned when a library cannot be opened.
	ErrLibraryLoad = errors.New("cannot load library")
	// ErrSymbolNotFound is returned when an entry point is missing or has the wrong type.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Library is an opened shared library.
type Library interface {
	// Path returns the name the library was opened with.
	Path() string
	// Lookup resolves an exported entry point. The returned value is one of the entry point
	// function types above.
	Lookup(symbol string) (any, error)
	// Close unloads the library.
	Close() error
}

// Loader opens shared libraries.
type Loader interface {
	Open(path string) (Library, error)
}

// LookupAs resolves symbol in lib as an entry point of type T.
func LookupAs[T any](lib Library, symbol string) (T, error) {
	var zero T
	sym, err := lib.Lookup(symbol)
	if err != nil {
		return zero, errors.Wrapf(ErrSymbolNotFound, "%s in %s: %v", symbol, lib.Path(), err)
	}
	fn, ok := sym.(T)
	if !ok {
		return zero, errors.Wrapf(ErrSymbolNotFound, "%s in %s has type %T", symbol, lib.Path(), sym)
	}
	return fn, nil
}
