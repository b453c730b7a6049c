// Package memory provides the heap the vendor runtime exchanges tensor metadata and data
// through, plus single-owner wrappers that release each block exactly once.
package memory

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is returned when an allocator cannot satisfy a request.
	ErrOutOfMemory = errors.New("memory: allocation failed")
	// ErrNilSource is returned when a copy is asked to read a nil array of nonzero length.
	ErrNilSource = errors.New("memory: nil source with nonzero length")
)

// Allocator hands out raw memory blocks. Implementations backed by the C heap must be used
// whenever the blocks are passed across the native boundary.
type Allocator interface {
	// Alloc returns a block of at least size bytes aligned for any scalar type.
	Alloc(size uintptr) (unsafe.Pointer, error)
	// Free releases a block previously returned by Alloc.
	Free(p unsafe.Pointer)
}

// Heap is an Allocator backed by the Go heap. Blocks stay reachable until freed.
type Heap struct {
	mu     sync.Mutex
	blocks map[unsafe.Pointer][]uint64
}

// NewHeap creates an empty Go heap allocator.
func NewHeap() *Heap {
	return &Heap{blocks: make(map[unsafe.Pointer][]uint64)}
}

// Alloc returns a zeroed, 8 byte aligned block.
func (h *Heap) Alloc(size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		size = 1
	}
	words := make([]uint64, (size+7)/8)
	p := unsafe.Pointer(&words[0])

	h.mu.Lock()
	h.blocks[p] = words
	h.mu.Unlock()

	return p, nil
}

// Free releases p. Freeing nil is a no-op; freeing an unknown block panics, matching the
// abort a C heap would raise.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocks[p]; !ok {
		panic("memory: free of unknown block")
	}
	delete(h.blocks, p)
}

// Len returns the number of live blocks.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// Default is the process-wide Go heap allocator.
var Default Allocator = NewHeap()
