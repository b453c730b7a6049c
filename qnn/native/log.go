//go:build linux && qnn

package native

/*
#include <stdint.h>
*/
import "C"

import (
	"strings"
	"sync/atomic"

	"github.com/nvr-ai/edgerunner/qnn/api"
)

// The runtime log callback carries no user data, so one sink serves the process.
var logSink atomic.Pointer[api.LogCallback]

func setLogSink(cb api.LogCallback) {
	if cb == nil {
		logSink.Store(nil)
		return
	}
	logSink.Store(&cb)
}

//export goVendorLog
func goVendorLog(level C.uint32_t, timestamp C.uint64_t, msg *C.char) {
	cb := logSink.Load()
	if cb == nil {
		return
	}
	(*cb)(api.LogLevel(level), uint64(timestamp), strings.TrimRight(C.GoString(msg), "\n"))
}
