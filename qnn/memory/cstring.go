package memory

import "unsafe"

// GoString copies the NUL terminated string at p. A nil pointer yields "".
func GoString(p *byte) string {
	if p == nil {
		return ""
	}
	return string(unsafe.Slice(p, StrLen(p)))
}

// StrLen returns the length of the NUL terminated string at p.
func StrLen(p *byte) int {
	if p == nil {
		return 0
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return n
}

// NewCString allocates a NUL terminated copy of s.
func NewCString(a Allocator, s string) (*byte, Owned, error) {
	o, err := Alloc(a, uintptr(len(s)+1))
	if err != nil {
		return nil, Owned{}, err
	}
	b := o.Bytes()
	copy(b, s)
	b[len(s)] = 0
	return (*byte)(o.ptr), o, nil
}

// StrDup duplicates the NUL terminated string at p. A nil source stays nil.
func StrDup(a Allocator, p *byte) (*byte, Owned, error) {
	if p == nil {
		return nil, Owned{}, nil
	}
	n := uintptr(StrLen(p)) + 1
	o, err := Dup(a, unsafe.Pointer(p), n)
	if err != nil {
		return nil, Owned{}, err
	}
	return (*byte)(o.ptr), o, nil
}
