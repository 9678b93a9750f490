package coroutine

import (
	"iter"
	"sync"
)

type (
	// Sequence is a suspendable series of steps. Each call to Next runs one
	// step, returning the value it yielded, and whether there was a step to
	// run. Sequences that also implement Stop() will have it called if they
	// are abandoned, e.g. on failure or by Runtime.ShutdownAll.
	Sequence interface {
		Next() (yielded any, more bool)
	}

	// SequenceFunc implements Sequence.
	SequenceFunc func() (yielded any, more bool)

	stopper interface {
		Stop()
	}

	steps struct {
		steps []func() any
	}

	// pullSequence runs the iterator body on its own goroutine, handing
	// control back and forth over unbuffered channels, so the body and the
	// caller of Next never run at the same time. Stop may be called from
	// any goroutine.
	pullSequence struct {
		seq    iter.Seq[any]
		values chan any
		resume chan struct{}
		stop   chan struct{}
		done   chan struct{}
		// fault is the body's panic value, written before done is closed
		fault   any
		mu      sync.Mutex
		started bool
		stopped bool
		running bool
	}
)

// Next implements Sequence.
func (x SequenceFunc) Next() (any, bool) { return x() }

// Steps returns a Sequence that runs each step in turn, yielding each
// result.
func Steps(fns ...func() any) Sequence {
	return &steps{steps: fns}
}

func (x *steps) Next() (any, bool) {
	if len(x.steps) == 0 {
		return nil, false
	}
	fn := x.steps[0]
	x.steps[0] = nil
	x.steps = x.steps[1:]
	return fn(), true
}

// FromSeq adapts an iterator to a Sequence. The body runs on a separate
// goroutine, in lock step with Next: it runs until each yield, and is
// released when it returns, or when the Sequence is stopped, in which case
// yield returns false. A panic in the body is raised again by Next.
func FromSeq(seq iter.Seq[any]) Sequence {
	return &pullSequence{
		seq:    seq,
		values: make(chan any),
		resume: make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (x *pullSequence) Next() (any, bool) {
	x.mu.Lock()
	if x.stopped || x.seq == nil {
		x.mu.Unlock()
		return nil, false
	}
	if !x.started {
		x.started = true
		go x.run(x.seq)
	}
	x.running = true
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		x.running = false
		x.mu.Unlock()
	}()

	select {
	case x.resume <- struct{}{}:
	case <-x.done:
		return x.finish()
	}
	select {
	case v := <-x.values:
		return v, true
	case <-x.done:
		return x.finish()
	}
}

// Stop releases the iterator. If the body is parked in yield, Stop waits
// for it to return.
func (x *pullSequence) Stop() {
	x.mu.Lock()
	if x.stopped {
		x.mu.Unlock()
		return
	}
	x.stopped = true
	started, running := x.started, x.running
	x.mu.Unlock()

	close(x.stop)
	if started && !running {
		<-x.done
	}
}

func (x *pullSequence) run(seq iter.Seq[any]) {
	defer close(x.done)
	defer func() {
		if r := recover(); r != nil {
			x.fault = r
		}
	}()
	select {
	case <-x.resume:
	case <-x.stop:
		return
	}
	seq(func(v any) bool {
		select {
		case <-x.stop:
			return false
		default:
		}
		select {
		case x.values <- v:
		case <-x.stop:
			return false
		}
		select {
		case <-x.resume:
			return true
		case <-x.stop:
			return false
		}
	})
}

func (x *pullSequence) finish() (any, bool) {
	if r := x.fault; r != nil {
		x.fault = nil
		panic(r)
	}
	return nil, false
}
