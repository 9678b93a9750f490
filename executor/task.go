package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State models the lifecycle of a Task.
type State int32

const (
	// Pending indicates the task has not (yet) settled.
	Pending State = iota
	// Completed indicates the action returned without error.
	Completed
	// Failed indicates the action returned an error, or panicked, or the
	// executor terminated before it could run.
	Failed
	// Cancelled indicates Task.Cancel was called. It is terminal.
	Cancelled
)

type (
	// Task tracks the outcome of a scheduled action.
	//
	// Periodic tasks reuse a single Task, which is reset to Pending
	// immediately before each invocation, i.e. the outcome observed by a
	// waiter is the outcome of the cycle that was in progress when it began
	// waiting.
	Task struct {
		owner *Executor
		cycle *cycle
		next  []continuation
		id    uint64
		mu    sync.Mutex
		// interrupt records the hint passed to the first Cancel
		interrupt bool
	}

	// cycle is the outcome of one invocation. The done channel is closed
	// once the cycle settles, and is released (set to nil) by Cancel.
	cycle struct {
		done   chan struct{}
		result any
		err    error
		state  State
	}

	continuation func(state State, err error)
)

var taskIDs atomic.Uint64

func newTask(owner *Executor) *Task {
	return &Task{
		owner: owner,
		cycle: &cycle{done: make(chan struct{})},
		id:    taskIDs.Add(1),
	}
}

// String returns a human readable representation of the state.
func (x State) String() string {
	switch x {
	case Pending:
		return `pending`
	case Completed:
		return `completed`
	case Failed:
		return `failed`
	case Cancelled:
		return `cancelled`
	default:
		return `unknown`
	}
}

// ID returns the unique, monotonically increasing ID of the task.
func (x *Task) ID() uint64 { return x.id }

// Executor returns the executor that owns the task.
func (x *Task) Executor() *Executor { return x.owner }

// State returns the state of the current cycle.
func (x *Task) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cycle.state
}

// IsDone returns true if the task has settled in any way, including
// cancellation.
func (x *Task) IsDone() bool { return x.State() != Pending }

// IsCancelled returns true if Cancel has been called.
func (x *Task) IsCancelled() bool { return x.State() == Cancelled }

// InterruptIfRunning returns the hint passed to Cancel. The hint is
// advisory: a running action is never preempted.
func (x *Task) InterruptIfRunning() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.interrupt
}

// Result returns the value produced by the action, or nil if the task is
// not Completed.
func (x *Task) Result() any {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cycle.state != Completed {
		return nil
	}
	return x.cycle.result
}

// Err returns the failure of a Failed task, ErrCancelled for a Cancelled
// task, or nil.
func (x *Task) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cycle.err
}

// Wait blocks until the task settles, returning the result, or nil if the
// task failed or was cancelled.
func (x *Task) Wait() any {
	c, _ := x.await(nil)
	state, result, _ := x.outcome(c)
	if state != Completed {
		return nil
	}
	return result
}

// WaitTimeout is Wait with a timeout. The bool will be false if the timeout
// elapsed first, or if the task did not complete successfully.
func (x *Task) WaitTimeout(timeout time.Duration) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	result, err := x.WaitContext(ctx)
	return result, err == nil
}

// WaitContext is Wait with a context. The error will be the context's
// error, ErrCancelled, or the task's failure.
func (x *Task) WaitContext(ctx context.Context) (any, error) {
	c, ok := x.await(ctx.Done())
	if !ok {
		return nil, ctx.Err()
	}
	state, result, err := x.outcome(c)
	if state != Completed {
		return nil, err
	}
	return result, nil
}

// WaitAs waits for the task, then asserts the result to T. A non-positive
// timeout waits indefinitely. The bool will be false if the wait timed out,
// the task did not complete successfully, or the result is not a T.
func WaitAs[T any](task *Task, timeout time.Duration) (value T, ok bool) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := task.WaitContext(ctx)
	if err != nil {
		return value, false
	}
	value, ok = result.(T)
	return value, ok
}

// Cancel marks the task cancelled, waking all waiters, and preventing any
// future invocation. Only the first call has any effect. An action that is
// already running is not interrupted, and its outcome is discarded.
func (x *Task) Cancel(interruptIfRunning bool) {
	x.mu.Lock()
	c := x.cycle
	if c.state == Cancelled {
		x.mu.Unlock()
		return
	}
	x.interrupt = interruptIfRunning
	if c.state == Pending {
		close(c.done)
	}
	c.done = nil
	c.state = Cancelled
	c.result = nil
	c.err = ErrCancelled
	next := x.next
	x.next = nil
	x.mu.Unlock()

	for _, fn := range next {
		fn(Cancelled, ErrCancelled)
	}
}

// ContinueWith schedules action onto the owning executor's immediate queue,
// once this task completes. If this task fails, the returned task fails
// with the same error. If this task is cancelled, so is the returned task.
// For periodic tasks, only the next settled cycle triggers the
// continuation.
func (x *Task) ContinueWith(action Action) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	next := newTask(x.owner)
	fn := func(state State, err error) {
		switch state {
		case Completed:
			if err := x.owner.push(workItem{action: action, task: next}); err != nil {
				next.settle(Failed, nil, err)
			}
		case Failed:
			next.settle(Failed, nil, err)
		default:
			next.Cancel(false)
		}
	}

	x.mu.Lock()
	if x.cycle.state == Pending {
		x.next = append(x.next, fn)
		x.mu.Unlock()
		return next, nil
	}
	state, err := x.cycle.state, x.cycle.err
	x.mu.Unlock()

	fn(state, err)
	return next, nil
}

// await blocks until the current cycle settles, or abort is closed. A nil
// abort channel never fires.
func (x *Task) await(abort <-chan struct{}) (*cycle, bool) {
	x.mu.Lock()
	c := x.cycle
	ch := c.done
	x.mu.Unlock()
	if ch == nil {
		// released by Cancel
		return c, true
	}
	select {
	case <-ch:
		return c, true
	default:
	}
	select {
	case <-ch:
		return c, true
	case <-abort:
		return c, false
	}
}

func (x *Task) outcome(c *cycle) (State, any, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return c.state, c.result, c.err
}

// reset prepares the task for another invocation, returning false if the
// task was cancelled.
func (x *Task) reset() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	switch x.cycle.state {
	case Cancelled:
		return false
	case Pending:
	default:
		x.cycle = &cycle{done: make(chan struct{})}
	}
	return true
}

// settle records the outcome of the current cycle, unless it already
// settled (e.g. it was cancelled while the action was running).
func (x *Task) settle(state State, result any, err error) {
	x.mu.Lock()
	c := x.cycle
	if c.state != Pending {
		x.mu.Unlock()
		return
	}
	c.state = state
	c.result = result
	c.err = err
	close(c.done)
	next := x.next
	x.next = nil
	x.mu.Unlock()

	for _, fn := range next {
		fn(state, err)
	}
}
