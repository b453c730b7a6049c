// Package native binds the vendor runtime through cgo. It opens backend, system and model
// libraries with dlopen and converts between the C records and the api mirrors.
//
// The binding is compiled only with the qnn build tag on linux. The SDK headers must be on
// the include path, for example:
//
//	CGO_CFLAGS="-I$QNN_SDK_ROOT/include/QNN" go build -tags qnn ./...
//
// Without the tag NewLoader reports ErrUnavailable.
package native

import "github.com/pkg/errors"

// ErrUnavailable is returned when the binary was built without the native binding.
var ErrUnavailable = errors.New("native runtime binding not compiled in (build with -tags qnn)")
