// Package thread provides OS thread and goroutine identity helpers for the
// dispatch goroutine.
package thread

import (
	"bytes"
	"runtime"
	"strconv"
)

// MaxNameLen is the longest thread name accepted by the kernel, excluding
// the terminating NUL.
const MaxNameLen = 15

// GoroutineID returns the current goroutine's ID, parsed from the
// "goroutine N [status]:" header of its stack trace.
func GoroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte(`goroutine `))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// Lock wires the calling goroutine to its current OS thread, then names the
// thread, if supported by the platform. The goroutine must never call
// runtime.UnlockOSThread, so the (renamed) thread is discarded once the
// goroutine exits, rather than being returned to the scheduler.
func Lock(name string) error {
	runtime.LockOSThread()
	if name == `` {
		return nil
	}
	return setName(truncate(name))
}

func truncate(name string) string {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	return name
}
