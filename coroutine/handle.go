package coroutine

import (
	"sync"
	"sync/atomic"
)

// HandleState models the lifecycle of a submitted sequence.
type HandleState int32

const (
	// Scheduled indicates the sequence has not yet started.
	Scheduled HandleState = iota
	// Running indicates a step is in progress.
	Running
	// Suspended indicates the sequence is waiting to be resumed.
	Suspended
	// Finished indicates the sequence ran out of steps.
	Finished
	// Failed indicates a step panicked, or yielded an error.
	Failed
	// Discarded indicates the sequence was abandoned, before finishing.
	Discarded
)

// Handle tracks a sequence submitted to a Runtime. A Handle is itself a
// Completer, so sequences may wait on one another.
type Handle struct {
	done  chan struct{}
	err   error
	id    uint64
	mu    sync.Mutex
	state HandleState
}

var handleIDs atomic.Uint64

func newHandle() *Handle {
	return &Handle{
		done: make(chan struct{}),
		id:   handleIDs.Add(1),
	}
}

func (x HandleState) String() string {
	switch x {
	case Scheduled:
		return `scheduled`
	case Running:
		return `running`
	case Suspended:
		return `suspended`
	case Finished:
		return `finished`
	case Failed:
		return `failed`
	case Discarded:
		return `discarded`
	default:
		return `unknown`
	}
}

// Terminal returns true for Finished, Failed, and Discarded.
func (x HandleState) Terminal() bool {
	return x >= Finished
}

// ID returns the unique ID of the sequence.
func (x *Handle) ID() uint64 { return x.id }

// State returns the current state.
func (x *Handle) State() HandleState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// IsDone returns true once the sequence has reached a terminal state.
func (x *Handle) IsDone() bool { return x.State().Terminal() }

// Done returns a channel that is closed once the sequence reaches a terminal
// state.
func (x *Handle) Done() <-chan struct{} { return x.done }

// Err returns the failure of a Failed sequence.
func (x *Handle) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Discard abandons the sequence. It will not be advanced again, and will be
// released the next time the runtime would have resumed it.
func (x *Handle) Discard() {
	x.terminate(Discarded, nil)
}

// transition moves to a non-terminal state, returning false if the handle
// has already terminated.
func (x *Handle) transition(state HandleState) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state.Terminal() {
		return false
	}
	x.state = state
	return true
}

func (x *Handle) terminate(state HandleState, err error) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state.Terminal() {
		return false
	}
	x.state = state
	x.err = err
	close(x.done)
	return true
}
