package executor

import (
	"errors"
)

var (
	// ErrAlreadyStarted is returned by Start if the executor was started
	// previously.
	ErrAlreadyStarted = errors.New(`executor: already started`)

	// ErrTerminated is returned when scheduling onto (or starting) an
	// executor that has been shut down. It is also recorded on any task
	// still queued when the dispatch goroutine exits.
	ErrTerminated = errors.New(`executor: terminated`)

	// ErrReentrantShutdown is returned by Shutdown when called from the
	// dispatch goroutine, which cannot join itself.
	ErrReentrantShutdown = errors.New(`executor: cannot call Shutdown from the dispatch goroutine`)

	// ErrCapacityExceeded is returned once a queue reaches its maximum
	// capacity. It is fatal: every later scheduling call fails with it.
	ErrCapacityExceeded = errors.New(`executor: queue capacity exceeded`)

	// ErrNilAction is returned when scheduling a nil Action.
	ErrNilAction = errors.New(`executor: nil action`)

	// ErrInvalidPeriod is returned by ScheduleEvery for a non-positive period.
	ErrInvalidPeriod = errors.New(`executor: period must be positive`)

	// ErrCancelled is returned by Task.WaitContext, and Task.Err, for
	// cancelled tasks.
	ErrCancelled = errors.New(`executor: task cancelled`)
)
