package exception

import (
	"fmt"
	"runtime/debug"

	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
)

// SafeGo runs fn on a new goroutine and logs instead of crashing when it panics.
func SafeGo(name string, fn func()) {
	go Guard(name, fn)
}

// Guard runs fn on the calling goroutine with the same recovery as SafeGo.
// It reports whether fn panicked.
func Guard(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			monitoring.IncreasePanicCount()
			logx.Error("PANIC", "Panic in:", name, fmt.Sprint(r), string(debug.Stack()))
		}
	}()
	fn()
	return false
}
