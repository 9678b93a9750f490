package coroutine

import (
	"time"
)

type (
	// Completer is a handle to some external asynchronous operation.
	// Sequences yielding a Completer resume on the first tick where IsDone
	// returns true. Implemented by executor.Task, and by Handle.
	Completer interface {
		IsDone() bool
	}

	// Delayer is a timed wait condition. Sequences yielding a Delayer resume
	// on the first tick after the delay has elapsed, measured from the
	// yield.
	Delayer interface {
		Delay() time.Duration
	}

	// CompleterFunc implements Completer.
	CompleterFunc func() bool

	delay time.Duration
)

// IsDone implements Completer.
func (x CompleterFunc) IsDone() bool { return x() }

// Wait returns a Delayer for d.
func Wait(d time.Duration) Delayer { return delay(d) }

func (x delay) Delay() time.Duration { return time.Duration(x) }

// Until returns a Completer which is done once fn returns true.
func Until(fn func() bool) Completer { return CompleterFunc(fn) }
