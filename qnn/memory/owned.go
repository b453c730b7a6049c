package memory

import (
	"unsafe"
)

// Owned is one heap block with exactly one owner. Release frees it once; later calls are
// no-ops. The zero value owns nothing.
type Owned struct {
	alloc Allocator
	ptr   unsafe.Pointer
	size  uintptr
}

// Alloc allocates size bytes from a.
func Alloc(a Allocator, size uintptr) (Owned, error) {
	p, err := a.Alloc(size)
	if err != nil {
		return Owned{}, err
	}
	if p == nil {
		return Owned{}, ErrOutOfMemory
	}
	return Owned{alloc: a, ptr: p, size: size}, nil
}

// Dup allocates size bytes from a and copies them from src.
func Dup(a Allocator, src unsafe.Pointer, size uintptr) (Owned, error) {
	if src == nil && size > 0 {
		return Owned{}, ErrNilSource
	}
	o, err := Alloc(a, size)
	if err != nil {
		return Owned{}, err
	}
	if size > 0 {
		copy(unsafe.Slice((*byte)(o.ptr), size), unsafe.Slice((*byte)(src), size))
	}
	return o, nil
}

// Ptr returns the block address, or nil once released.
func (o *Owned) Ptr() unsafe.Pointer { return o.ptr }

// Size returns the requested block size.
func (o *Owned) Size() uintptr { return o.size }

// Valid reports whether the block is still owned.
func (o *Owned) Valid() bool { return o.ptr != nil }

// Bytes returns the block as a byte slice.
func (o *Owned) Bytes() []byte {
	if o.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(o.ptr), o.size)
}

// Release frees the block.
func (o *Owned) Release() {
	if o.ptr == nil {
		return
	}
	o.alloc.Free(o.ptr)
	o.ptr = nil
	o.size = 0
}

// NewArray allocates an array of n values of T. A zero length yields a nil pointer and an
// empty Owned.
func NewArray[T any](a Allocator, n int) (*T, Owned, error) {
	if n <= 0 {
		return nil, Owned{}, nil
	}
	var zero T
	o, err := Alloc(a, unsafe.Sizeof(zero)*uintptr(n))
	if err != nil {
		return nil, Owned{}, err
	}
	clear(o.Bytes())
	return (*T)(o.ptr), o, nil
}

// CopyArray allocates a copy of the n values starting at src.
func CopyArray[T any](a Allocator, src *T, n int) (*T, Owned, error) {
	if n <= 0 {
		return nil, Owned{}, nil
	}
	if src == nil {
		return nil, Owned{}, ErrNilSource
	}
	dst, o, err := NewArray[T](a, n)
	if err != nil {
		return nil, Owned{}, err
	}
	copy(unsafe.Slice(dst, n), unsafe.Slice(src, n))
	return dst, o, nil
}

// ArrayFrom allocates an array holding values.
func ArrayFrom[T any](a Allocator, values []T) (*T, Owned, error) {
	if len(values) == 0 {
		return nil, Owned{}, nil
	}
	return CopyArray(a, &values[0], len(values))
}

// Slice views n values starting at p. It returns nil for a nil pointer or zero length.
func Slice[T any](p *T, n int) []T {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}
