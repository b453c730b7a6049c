package memory

import (
	"sync"
	"unsafe"
)

// Counting wraps an Allocator and tracks every live block. Frees of blocks it did not hand
// out are recorded and not forwarded.
type Counting struct {
	mu        sync.Mutex
	next      Allocator
	live      map[unsafe.Pointer]uintptr
	allocs    int
	frees     int
	invalid   int
	failAfter int
}

// NewCounting creates a counting allocator over next. A nil next uses a fresh Heap.
func NewCounting(next Allocator) *Counting {
	if next == nil {
		next = NewHeap()
	}
	return &Counting{next: next, live: make(map[unsafe.Pointer]uintptr), failAfter: -1}
}

// FailAfter makes the allocation after n more successful ones fail. A negative n disables
// failure injection.
func (c *Counting) FailAfter(n int) {
	c.mu.Lock()
	c.failAfter = n
	c.mu.Unlock()
}

// Alloc implements Allocator.
func (c *Counting) Alloc(size uintptr) (unsafe.Pointer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAfter == 0 {
		return nil, ErrOutOfMemory
	}
	if c.failAfter > 0 {
		c.failAfter--
	}

	p, err := c.next.Alloc(size)
	if err != nil {
		return nil, err
	}
	c.live[p] = size
	c.allocs++
	return p, nil
}

// Free implements Allocator.
func (c *Counting) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live[p]; !ok {
		c.invalid++
		return
	}
	delete(c.live, p)
	c.frees++
	c.next.Free(p)
}

// Live returns the number of blocks allocated and not yet freed.
func (c *Counting) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// LiveBytes returns the total size of live blocks.
func (c *Counting) LiveBytes() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uintptr
	for _, size := range c.live {
		n += size
	}
	return n
}

// Allocs returns the number of successful allocations.
func (c *Counting) Allocs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs
}

// Frees returns the number of valid frees.
func (c *Counting) Frees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frees
}

// InvalidFrees returns the number of double frees and frees of foreign blocks.
func (c *Counting) InvalidFrees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalid
}
