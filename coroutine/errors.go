package coroutine

import (
	"errors"
)

var (
	// ErrReentrantDrain is returned by Drain if a drain is already in
	// progress.
	ErrReentrantDrain = errors.New(`coroutine: drain already in progress`)

	// ErrShutdown is returned by Submit after ShutdownAll.
	ErrShutdown = errors.New(`coroutine: runtime shut down`)

	// ErrNilSequence is returned by Submit for a nil Sequence.
	ErrNilSequence = errors.New(`coroutine: nil sequence`)

	// ErrCapacityExceeded is returned once the runtime buffers reach their
	// maximum capacity.
	ErrCapacityExceeded = errors.New(`coroutine: capacity exceeded`)
)
