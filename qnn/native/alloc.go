//go:build linux && qnn

package native

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/nvr-ai/edgerunner/qnn/memory"
)

// CAllocator allocates zeroed blocks from the C heap.
type CAllocator struct{}

var _ memory.Allocator = CAllocator{}

func (CAllocator) Alloc(size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		size = 1
	}
	p := C.calloc(1, C.size_t(size))
	if p == nil {
		return nil, memory.ErrOutOfMemory
	}
	return p, nil
}

func (CAllocator) Free(p unsafe.Pointer) {
	C.free(p)
}

// arena frees a set of C blocks together.
type arena []unsafe.Pointer

func (a *arena) keep(p unsafe.Pointer) unsafe.Pointer {
	if p != nil {
		*a = append(*a, p)
	}
	return p
}

func (a *arena) calloc(n, size uintptr) unsafe.Pointer {
	if n == 0 {
		n = 1
	}
	return a.keep(C.calloc(C.size_t(n), C.size_t(size)))
}

func (a *arena) free() {
	for _, p := range *a {
		C.free(p)
	}
	*a = nil
}
