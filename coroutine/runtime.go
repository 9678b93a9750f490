package coroutine

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-dispatch/internal/diag"
	"github.com/joeycumines/go-dispatch/internal/ring"
)

type (
	// Runtime advances sequences, cooperatively, on the goroutine calling
	// Drain. It uses two buffers: entries captured at the start of a drain
	// are run, while anything scheduled in the meantime is held for the
	// next drain. Instances must be initialized using New.
	Runtime struct {
		// active and waiting are guarded by mu, as are draining and closed
		active     *ring.Buffer[entry]
		waiting    *ring.Buffer[entry]
		sink       *diag.Sink
		now        func() time.Time
		resumeStep func(state any)
		resumePoll func(state any)
		mu         sync.Mutex
		draining   bool
		closed     bool
	}

	// entry is a unit of work in a runtime buffer.
	entry struct {
		resume func(state any)
		state  any
	}

	// frame is the state of one (possibly nested) sequence. The parent, if
	// any, resumes when the frame finishes.
	frame struct {
		seq    Sequence
		parent *frame
		handle *Handle
	}

	// poll is the state of a frame suspended on a wait condition.
	poll struct {
		frame    *frame
		cond     Completer
		deadline time.Time
	}
)

// New initializes a Runtime.
func New(opts ...Option) *Runtime {
	cfg := resolveOptions(opts)
	rates := cfg.rates
	if rates == nil {
		rates = diag.DefaultRates
	}
	x := &Runtime{
		active:  ring.New[entry](0, cfg.maxCapacity),
		waiting: ring.New[entry](0, cfg.maxCapacity),
		sink:    diag.NewSink(cfg.logger, rates, cfg.handler),
		now:     time.Now,
	}
	x.resumeStep = func(state any) { x.advance(state.(*frame)) }
	x.resumePoll = func(state any) { x.poll(state.(*poll)) }
	return x
}

// Submit schedules seq to start on the next call to Drain, never one that is
// already in progress. Submit is safe to call from any goroutine.
func (x *Runtime) Submit(seq Sequence) (*Handle, error) {
	if seq == nil {
		return nil, ErrNilSequence
	}
	f := &frame{seq: seq, handle: newHandle()}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrShutdown
	}
	if err := x.bufferLocked().PushBack(entry{resume: x.resumeStep, state: f}); err != nil {
		return nil, capacityError(err)
	}
	return f.handle, nil
}

// Drain runs every entry that was scheduled before the call, in order. Any
// entries scheduled during the drain, including continuations, are deferred
// until the next call. Failures are reported, and do not interrupt the
// drain. Drain returns ErrReentrantDrain if a drain is already in progress.
func (x *Runtime) Drain() error {
	x.mu.Lock()
	if x.draining {
		x.mu.Unlock()
		return ErrReentrantDrain
	}
	x.draining = true
	x.mu.Unlock()

	defer func() {
		x.mu.Lock()
		x.draining = false
		x.active, x.waiting = x.waiting, x.active
		x.mu.Unlock()
	}()

	for {
		x.mu.Lock()
		e, ok := x.active.PopFront()
		x.mu.Unlock()
		if !ok {
			return nil
		}
		e.resume(e.state)
	}
}

// ShutdownAll discards every scheduled entry, including the rest of any
// drain in progress. Abandoned sequences are marked Discarded, and stopped,
// if they implement Stop(). Further calls to Submit fail with ErrShutdown.
func (x *Runtime) ShutdownAll() {
	x.mu.Lock()
	x.closed = true
	entries := append(x.active.Slice(), x.waiting.Slice()...)
	x.active.Clear()
	x.waiting.Clear()
	x.mu.Unlock()

	for _, e := range entries {
		x.discard(frameOf(e.state))
	}
}

// Len returns the number of scheduled entries.
func (x *Runtime) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active.Len() + x.waiting.Len()
}

// Draining returns true if a drain is in progress.
func (x *Runtime) Draining() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.draining
}

func (x *Runtime) bufferLocked() *ring.Buffer[entry] {
	if x.draining {
		return x.waiting
	}
	return x.active
}

func capacityError(err error) error {
	if errors.Is(err, ring.ErrCapacityExceeded) {
		return ErrCapacityExceeded
	}
	return err
}

func frameOf(state any) *frame {
	switch v := state.(type) {
	case *frame:
		return v
	case *poll:
		return v.frame
	default:
		panic(`coroutine: unexpected entry state`)
	}
}

// schedule defers resume(state), for f, until the next drain.
func (x *Runtime) schedule(f *frame, resume func(state any), state any) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		x.discard(f)
		return
	}
	err := x.bufferLocked().PushBack(entry{resume: resume, state: state})
	x.mu.Unlock()
	if err != nil {
		x.fail(f, capacityError(err))
		return
	}
	f.handle.transition(Suspended)
}

// advance steps f, resuming parents inline as nested sequences finish, until
// something suspends.
func (x *Runtime) advance(f *frame) {
	for {
		if !f.handle.transition(Running) {
			// discarded
			release(f)
			return
		}

		yielded, more, err := next(f.seq)
		if err != nil {
			x.fail(f, err)
			return
		}

		if !more {
			if f.parent == nil {
				f.handle.terminate(Finished, nil)
				return
			}
			f = f.parent
			continue
		}

		switch v := yielded.(type) {
		case error:
			x.fail(f, v)

		case Completer:
			x.schedule(f, x.resumePoll, &poll{frame: f, cond: v})

		case Delayer:
			d, err := delayOf(v)
			if err != nil {
				x.fail(f, err)
				return
			}
			x.schedule(f, x.resumePoll, &poll{frame: f, deadline: x.now().Add(d)})

		case time.Duration:
			x.schedule(f, x.resumePoll, &poll{frame: f, deadline: x.now().Add(v)})

		case Sequence:
			nested := &frame{seq: v, parent: f, handle: f.handle}
			x.schedule(nested, x.resumeStep, nested)

		default:
			x.schedule(f, x.resumeStep, f)
		}

		return
	}
}

// poll resumes p.frame inline if its wait condition is satisfied, otherwise
// checks again next drain.
func (x *Runtime) poll(p *poll) {
	if p.frame.handle.IsDone() {
		release(p.frame)
		return
	}

	var ready bool
	if p.cond != nil {
		var err error
		if ready, err = isDone(p.cond); err != nil {
			x.fail(p.frame, err)
			return
		}
	} else {
		ready = !x.now().Before(p.deadline)
	}

	if ready {
		x.advance(p.frame)
		return
	}

	x.schedule(p.frame, x.resumePoll, p)
}

func (x *Runtime) fail(f *frame, err error) {
	if f.handle.terminate(Failed, err) {
		id := f.handle.id
		x.sink.Report(id, err, `coroutine sequence failed`, func(b *diag.Builder) {
			b.Uint64(`sequence`, id)
		})
	}
	release(f)
}

func (x *Runtime) discard(f *frame) {
	f.handle.terminate(Discarded, nil)
	release(f)
}

// release stops f and every parent.
func release(f *frame) {
	for ; f != nil; f = f.parent {
		if s, ok := f.seq.(stopper); ok {
			func() {
				defer func() { _ = recover() }()
				s.Stop()
			}()
		}
	}
}

func next(seq Sequence) (yielded any, more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			yielded, more, err = nil, false, diag.Recover(r)
		}
	}()
	yielded, more = seq.Next()
	return
}

func isDone(c Completer) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done, err = false, diag.Recover(r)
		}
	}()
	return c.IsDone(), nil
}

func delayOf(d Delayer) (v time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, diag.Recover(r)
		}
	}()
	return d.Delay(), nil
}
