//go:build !(linux && qnn)

package native

import (
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
)

// Available reports whether the native binding is compiled in.
const Available = false

// NewLoader reports ErrUnavailable.
func NewLoader() (api.Loader, error) { return nil, ErrUnavailable }

// Allocator returns the Go heap allocator.
func Allocator() memory.Allocator { return memory.Default }
