package executor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-dispatch/internal/diag"
	"github.com/joeycumines/go-dispatch/internal/ring"
	"github.com/joeycumines/go-dispatch/internal/thread"
)

const (
	stateNew int32 = iota
	stateRunning
	stateTerminating
	stateTerminated
)

type (
	// Executor runs actions on a single dispatch goroutine. Instances must
	// be initialized using New, or Start.
	Executor struct {
		// immediate and timers are guarded by mu, as are state and err
		immediate *ring.Buffer[workItem]
		timers    *ring.Buffer[workItem]
		err       error
		sink      *diag.Sink
		now       func() time.Time
		wake      chan struct{}
		stopping  chan struct{}
		done      chan struct{}
		timer     *time.Timer
		name      string
		opts      *executorOptions
		id        uint64
		stackSize int
		routine   atomic.Uint64
		mu        sync.Mutex
		state     int32
	}

	// Action is a unit of work, run on the dispatch goroutine of the
	// executor it was scheduled on, which is provided as x. The returned
	// value is stored on the Task. A non-nil error fails the Task.
	Action func(x *Executor) (any, error)

	workItem struct {
		target time.Time
		action Action
		task   *Task
		period time.Duration
	}
)

var executorIDs atomic.Uint64

// New initializes an Executor, which will not run anything until Start is
// called. Actions may be scheduled before Start.
func New(opts ...Option) *Executor {
	cfg := resolveOptions(opts)
	rates := cfg.rates
	if rates == nil {
		rates = diag.DefaultRates
	}
	return &Executor{
		immediate: ring.New[workItem](defaultQueueCapacity, cfg.maxCapacity),
		timers:    ring.New[workItem](defaultQueueCapacity, cfg.maxCapacity),
		sink:      diag.NewSink(cfg.logger, rates, cfg.handler),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		opts:      cfg,
		id:        executorIDs.Add(1),
	}
}

// Start is a convenience function, equivalent to New(opts...).Start.
func Start(threadName string, stackSize int, opts ...Option) (*Executor, error) {
	return New(opts...).Start(threadName, stackSize)
}

// Start spawns the dispatch goroutine, which is locked to its own OS thread
// for its lifetime. The thread is named threadName, on platforms supporting
// it. Go stacks grow on demand, so stackSize is recorded, but has no other
// effect. Start returns the receiver, for convenience.
func (x *Executor) Start(threadName string, stackSize int) (*Executor, error) {
	x.mu.Lock()
	switch x.state {
	case stateRunning:
		x.mu.Unlock()
		return nil, ErrAlreadyStarted
	case stateTerminating, stateTerminated:
		x.mu.Unlock()
		return nil, ErrTerminated
	}
	x.state = stateRunning
	x.name = threadName
	x.stackSize = stackSize
	x.mu.Unlock()

	started := make(chan struct{})
	go x.run(started)
	<-started

	return x, nil
}

// Shutdown requests the dispatch goroutine stop, after its current
// iteration, then waits for it to exit, or for ctx to be done. Any work
// still queued at exit is discarded, and the associated tasks fail with
// ErrTerminated. Shutdown may be called multiple times, and before Start.
func (x *Executor) Shutdown(ctx context.Context) error {
	if x.onDispatchGoroutine() {
		return ErrReentrantShutdown
	}

	x.mu.Lock()
	switch x.state {
	case stateNew:
		x.state = stateTerminated
		close(x.stopping)
		items := x.clearLocked()
		x.mu.Unlock()
		failAll(items, ErrTerminated)
		close(x.done)
		return nil
	case stateRunning:
		x.state = stateTerminating
		close(x.stopping)
	}
	x.mu.Unlock()

	select {
	case <-x.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleNow appends action to the immediate queue.
func (x *Executor) ScheduleNow(action Action) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	task := newTask(x)
	if err := x.push(workItem{action: action, task: task}); err != nil {
		return nil, err
	}
	return task, nil
}

// ScheduleAfter runs action once delay has elapsed.
func (x *Executor) ScheduleAfter(action Action, delay time.Duration) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	task := newTask(x)
	if err := x.pushTimer(workItem{target: x.now().Add(delay), action: action, task: task}, false); err != nil {
		return nil, err
	}
	return task, nil
}

// ScheduleEvery runs action once delay has elapsed, then every period
// thereafter, measured from the time of each firing, until the returned
// task is cancelled. A failed firing is reported, and does not stop
// subsequent firings.
func (x *Executor) ScheduleEvery(action Action, delay, period time.Duration) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	task := newTask(x)
	if err := x.pushTimer(workItem{target: x.now().Add(delay), action: action, task: task, period: period}, false); err != nil {
		return nil, err
	}
	return task, nil
}

// ID returns the unique ID of the executor.
func (x *Executor) ID() uint64 { return x.id }

// Name returns the thread name provided to Start.
func (x *Executor) Name() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.name
}

// StackSize returns the stack size provided to Start.
func (x *Executor) StackSize() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stackSize
}

// Len returns the number of items in the immediate queue.
func (x *Executor) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.immediate.Len()
}

// Cap returns the current capacity of the immediate queue.
func (x *Executor) Cap() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.immediate.Cap()
}

// Timers returns the number of pending timed items.
func (x *Executor) Timers() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.timers.Len()
}

// Done returns a channel that is closed once the dispatch goroutine exits,
// or on Shutdown, if the executor was never started.
func (x *Executor) Done() <-chan struct{} { return x.done }

// Err returns the fatal error latched by the executor, if any.
func (x *Executor) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Func adapts fn to an Action with no result.
func Func(fn func()) Action {
	if fn == nil {
		return nil
	}
	return func(*Executor) (any, error) {
		fn()
		return nil, nil
	}
}

// Value adapts fn to an Action, producing its result.
func Value[T any](fn func() T) Action {
	if fn == nil {
		return nil
	}
	return func(*Executor) (any, error) {
		return fn(), nil
	}
}

func (x *Executor) onDispatchGoroutine() bool {
	id := x.routine.Load()
	return id != 0 && id == thread.GoroutineID()
}

func (x *Executor) push(item workItem) error {
	x.mu.Lock()
	if err := x.checkLocked(false); err != nil {
		x.mu.Unlock()
		return err
	}
	if err := x.immediate.PushBack(item); err != nil {
		err = x.latchLocked(err)
		x.mu.Unlock()
		return err
	}
	x.mu.Unlock()
	x.signal()
	return nil
}

// pushTimer inserts item after every timer with an equal or earlier target.
// The dispatch goroutine re-arms periodic items while terminating, which
// are then failed, along with everything else, on exit.
func (x *Executor) pushTimer(item workItem, rearm bool) error {
	x.mu.Lock()
	if err := x.checkLocked(rearm); err != nil {
		x.mu.Unlock()
		return err
	}
	i := x.timers.Search(func(v workItem) bool { return v.target.After(item.target) })
	if err := x.timers.Insert(i, item); err != nil {
		err = x.latchLocked(err)
		x.mu.Unlock()
		return err
	}
	x.mu.Unlock()
	if !rearm {
		x.signal()
	}
	return nil
}

func (x *Executor) checkLocked(rearm bool) error {
	if x.err != nil {
		return x.err
	}
	switch x.state {
	case stateTerminated:
		return ErrTerminated
	case stateTerminating:
		if !rearm {
			return ErrTerminated
		}
	}
	return nil
}

func (x *Executor) latchLocked(err error) error {
	if errors.Is(err, ring.ErrCapacityExceeded) {
		err = ErrCapacityExceeded
		if x.err == nil {
			x.err = err
			x.sink.Logger().Warning().
				Uint64(`executor`, x.id).
				Int(`capacity`, x.immediate.Max()).
				Log(`executor queue capacity exceeded`)
		}
	}
	return err
}

// signal wakes the dispatch goroutine, if it is parked. Redundant signals
// are dropped.
func (x *Executor) signal() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

func (x *Executor) clearLocked() []workItem {
	items := append(x.timers.Slice(), x.immediate.Slice()...)
	x.timers.Clear()
	x.immediate.Clear()
	return items
}

func failAll(items []workItem, err error) {
	for _, item := range items {
		// periodic tasks may have settled their previous cycle
		if item.task.reset() {
			item.task.settle(Failed, nil, err)
		}
	}
}

// run is the dispatch goroutine.
func (x *Executor) run(started chan<- struct{}) {
	// never unlocked, so the thread exits with the goroutine
	err := thread.Lock(x.name)

	x.routine.Store(thread.GoroutineID())
	close(started)

	logger := x.sink.Logger()
	if err != nil {
		logger.Warning().
			Err(err).
			Str(`thread`, x.name).
			Log(`executor failed to name thread`)
	}
	if b := logger.Debug(); b.Enabled() {
		name, err := thread.Name()
		if err != nil {
			name = x.name
		}
		b.Uint64(`executor`, x.id).
			Str(`thread`, name).
			Int(`tid`, thread.ID()).
			Int(`stack_size`, x.stackSize).
			Log(`executor started`)
	}

	x.timer = time.NewTimer(time.Hour)
	x.timer.Stop()

	for !x.stopRequested() {
		if !x.tick() {
			x.park()
		}
	}

	x.mu.Lock()
	x.state = stateTerminated
	items := x.clearLocked()
	x.mu.Unlock()

	failAll(items, ErrTerminated)
	x.routine.Store(0)

	logger.Debug().
		Uint64(`executor`, x.id).
		Int(`discarded`, len(items)).
		Log(`executor stopped`)

	close(x.done)
}

func (x *Executor) stopRequested() bool {
	select {
	case <-x.stopping:
		return true
	default:
		return false
	}
}

// tick runs every timer due as of the start of the call, then at most one
// immediate item, returning true if any item was popped.
func (x *Executor) tick() (worked bool) {
	now := x.now()
	for {
		item, ok := x.popTimer(now)
		if !ok {
			break
		}
		worked = true
		x.invoke(item)
	}
	if item, ok := x.popImmediate(); ok {
		worked = true
		x.invoke(item)
	}
	return worked
}

func (x *Executor) popTimer(now time.Time) (workItem, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if item, ok := x.timers.Front(); !ok || item.target.After(now) {
		return workItem{}, false
	}
	return x.timers.PopFront()
}

func (x *Executor) popImmediate() (workItem, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.immediate.PopFront()
}

func (x *Executor) invoke(item workItem) {
	if !item.task.reset() {
		// cancelled
		return
	}

	fired := x.now()
	x.execute(item)

	if item.period > 0 && !item.task.IsCancelled() {
		item.target = fired.Add(item.period)
		if err := x.pushTimer(item, true); err != nil {
			item.task.reset()
			item.task.settle(Failed, nil, err)
		}
	}
}

func (x *Executor) execute(item workItem) {
	result, err := call(x, item.action)
	if err != nil {
		x.sink.Report(item.task.id, err, `executor task failed`, func(b *diag.Builder) {
			b.Uint64(`executor`, x.id).
				Uint64(`task`, item.task.id)
		})
		item.task.settle(Failed, nil, err)
		return
	}
	item.task.settle(Completed, result, nil)
}

func call(x *Executor, action Action) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, diag.Recover(r)
		}
	}()
	return action(x)
}

// park blocks until there may be work to do.
func (x *Executor) park() {
	x.mu.Lock()
	if x.immediate.Len() != 0 {
		x.mu.Unlock()
		return
	}
	wait := x.opts.idleSleep
	if item, ok := x.timers.Front(); ok {
		d := item.target.Sub(x.now())
		if d <= x.opts.idleSlack {
			x.mu.Unlock()
			runtime.Gosched()
			return
		}
		if wait == 0 || d < wait {
			wait = d
		}
	}
	x.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		x.timer.Reset(wait)
		defer x.timer.Stop()
		timeout = x.timer.C
	}

	select {
	case <-x.wake:
	case <-x.stopping:
	case <-timeout:
	}
}
