// Package api mirrors the vendor neural processing runtime ABI in Go: opaque handles, status
// codes, enumerations, versioned records and the function tables a backend library exposes.
// Values are semantic mirrors; the native binding converts them to and from the C layout.
package api

import (
	"fmt"
)

// Opaque runtime handles. The native binding stores C pointers in them.
type (
	BackendHandle       uintptr
	DeviceHandle        uintptr
	LogHandle           uintptr
	ContextHandle       uintptr
	GraphHandle         uintptr
	ProfileHandle       uintptr
	SignalHandle        uintptr
	SystemContextHandle uintptr
)

// ErrorHandle is the status code returned by every runtime call.
type ErrorHandle uint64

// Status codes the adapter distinguishes. Everything else is treated as a plain failure.
const (
	Success                 ErrorHandle = 0
	ErrorGeneral            ErrorHandle = 1000
	ErrorInvalidArgument    ErrorHandle = 1002
	ErrorMemAlloc           ErrorHandle = 1003
	ErrorNotSupported       ErrorHandle = 1004
	PropertyNotSupported    ErrorHandle = 4000
	PropertyErrorUnknownKey ErrorHandle = 4001
	ContextErrorInvalidArg  ErrorHandle = 5000
	GraphErrorInvalidHandle ErrorHandle = 6000
	GraphErrorGeneral       ErrorHandle = 6001
)

// StatusError reports a runtime call that did not return Success.
type StatusError struct {
	Call string
	Code ErrorHandle
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Call, uint64(e.Code))
}

// Check converts a status code into an error naming the call.
func Check(call string, code ErrorHandle) error {
	if code == Success {
		return nil
	}
	return &StatusError{Call: call, Code: code}
}

// GraphError is the status type of the model library entry points.
type GraphError int

// GraphNoError is the success value of GraphError.
const GraphNoError GraphError = 0

// Version is an API version triple.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether v has the same major version as required and at least its
// minor version.
func (v Version) Compatible(required Version) bool {
	return v.Major == required.Major && v.Minor >= required.Minor
}

// Versions this adapter is built against.
var (
	CoreAPIVersion   = Version{Major: 2, Minor: 14, Patch: 0}
	SystemAPIVersion = Version{Major: 1, Minor: 3, Patch: 0}
)

// BackendID identifies the hardware a backend library drives.
type BackendID uint32

// Backend identifiers reported by the providers.
const (
	BackendIDCPU BackendID = 3
	BackendIDGPU BackendID = 4
	BackendIDDSP BackendID = 5
	BackendIDHTP BackendID = 6
)

func (id BackendID) String() string {
	switch id {
	case BackendIDCPU:
		return "CPU"
	case BackendIDGPU:
		return "GPU"
	case BackendIDDSP:
		return "DSP"
	case BackendIDHTP:
		return "HTP"
	default:
		return fmt.Sprintf("BackendID(%d)", uint32(id))
	}
}

// PropertyKey names a capability group.
type PropertyKey uint32

// Capability groups queried during setup.
const (
	PropertyGroupCore    PropertyKey = 100000
	PropertyGroupBackend PropertyKey = 200000
	PropertyGroupDevice  PropertyKey = 300000
	PropertyGroupContext PropertyKey = 400000
	PropertyGroupGraph   PropertyKey = 500000
)

// LogLevel is the runtime log verbosity.
type LogLevel uint32

// Log levels in increasing verbosity.
const (
	LogLevelError   LogLevel = 1
	LogLevelWarn    LogLevel = 2
	LogLevelInfo    LogLevel = 3
	LogLevelVerbose LogLevel = 4
	LogLevelDebug   LogLevel = 5
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARNING"
	case LogLevelInfo:
		return "INFO"
	case LogLevelVerbose:
		return "VERBOSE"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// LogCallback receives formatted runtime log messages.
type LogCallback func(level LogLevel, timestamp uint64, msg string)
