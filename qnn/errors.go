// Package qnn drives the vendor neural processing runtime: it opens backend sessions, builds
// or restores compiled graphs, owns the tensor metadata and data exchanged with the runtime
// and exposes the result as a model.Model.
package qnn

import (
	"github.com/pkg/errors"
)

var (
	// ErrNoProviders is returned when a library lists no interface providers.
	ErrNoProviders = errors.New("no interface providers")
	// ErrAPIVersion is returned when a provider was built against an incompatible API.
	ErrAPIVersion = errors.New("incompatible API version")
	// ErrBackendMismatch is returned when a library drives different hardware than requested.
	ErrBackendMismatch = errors.New("backend id does not match delegate")
	// ErrUnsupportedDelegate is returned for delegates this backend cannot serve.
	ErrUnsupportedDelegate = errors.New("unsupported delegate")
	// ErrMissingEntryPoint is returned when a required function table member is nil.
	ErrMissingEntryPoint = errors.New("missing interface entry point")
	// ErrDeviceUnsupported is returned when the backend does not know the device property.
	ErrDeviceUnsupported = errors.New("device property unknown to backend")
	// ErrInvalidState is returned for lifecycle calls made out of order.
	ErrInvalidState = errors.New("invalid graph state")
	// ErrNoGraphs is returned when a library or binary yields no graphs.
	ErrNoGraphs = errors.New("no graphs")
	// ErrBinaryOverflow is returned when the runtime writes more context bytes than it
	// asked for.
	ErrBinaryOverflow = errors.New("context binary larger than reported size")
	// ErrClosed is returned by operations on a released session.
	ErrClosed = errors.New("session closed")
)
