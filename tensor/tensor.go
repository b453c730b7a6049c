// Package tensor - Backend independent tensor view.
package tensor

import (
	"fmt"
	"unsafe"
)

// Type is the element type of a tensor.
type Type int

// Type constants are the element types a backend can report.
const (
	Unsupported Type = iota
	NoType
	Float32
	Float16
	Int32
	Uint32
	Int8
	Uint8
	Int16
	Uint16
)

var typeNames = map[Type]string{
	Unsupported: "UNSUPPORTED",
	NoType:      "NOTYPE",
	Float32:     "FLOAT32",
	Float16:     "FLOAT16",
	Int32:       "INT32",
	Uint32:      "UINT32",
	Int8:        "INT8",
	Uint8:       "UINT8",
	Int16:       "INT16",
	Uint16:      "UINT16",
}

// String returns the upper case name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ElementSize returns the size in bytes of one element of type t, or 0 when the type has no
// fixed storage size.
func ElementSize(t Type) int {
	switch t {
	case Float32, Int32, Uint32:
		return 4
	case Float16, Int16, Uint16:
		return 2
	case Int8, Uint8:
		return 1
	default:
		return 0
	}
}

// Tensor is one model input or output.
type Tensor interface {
	// Name returns the tensor name declared by the model.
	Name() string
	// Type returns the declared element type.
	Type() Type
	// Dimensions returns the shape in the model's declared order.
	Dimensions() []uint
	// Size returns the number of elements.
	Size() int
	// Bytes returns the backing memory. It aliases the buffer the runtime reads and writes
	// during execution and is empty when no buffer is bound.
	Bytes() []byte
}

// Element is the set of Go types a tensor buffer can be viewed as.
type Element interface {
	~float32 | ~uint16 | ~int16 | ~int32 | ~uint32 | ~int8 | ~uint8 | ~int64 | ~uint64 | ~float64
}

// As returns a typed view over the tensor memory. The view has len(Bytes())/sizeof(T)
// elements and aliases the backing buffer. It is nil when no buffer is bound.
//
// Arguments:
//   - t: The tensor to view.
//
// Returns:
//   - []T: The typed view.
func As[T Element](t Tensor) []T {
	if t == nil {
		return nil
	}
	return View[T](t.Bytes())
}

// View reinterprets raw bytes as a slice of T.
func View[T Element](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}

// Product returns the number of elements described by dims. An empty shape has no elements.
func Product(dims []uint) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	return n
}

// Describe returns a short human readable description of t.
func Describe(t Tensor) string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s %v", t.Name(), t.Type(), t.Dimensions())
}
