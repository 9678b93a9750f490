package coroutine

import (
	"bytes"
	"errors"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-dispatch/internal/diag"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (x *fakeClock) Now() time.Time { return x.now }

func (x *fakeClock) Advance(d time.Duration) { x.now = x.now.Add(d) }

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(0, 0)}
	x := New(opts...)
	x.now = clock.Now
	return x, clock
}

func drain(t *testing.T, x *Runtime, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, x.Drain())
	}
}

func TestRuntime_wait_elapsedTime(t *testing.T) {
	x, clock := newTestRuntime(t)

	var log []string
	h, err := x.Submit(Steps(
		func() any { return Wait(time.Second * 2) },
		func() any { log = append(log, `done`); return nil },
	))
	require.NoError(t, err)
	assert.Equal(t, Scheduled, h.State())

	for tick := 0; tick <= 3; tick++ {
		require.NoError(t, x.Drain())
		if tick < 2 {
			assert.Empty(t, log, `tick %d`, tick)
			assert.Equal(t, Suspended, h.State())
		} else {
			assert.Equal(t, []string{`done`}, log, `tick %d`, tick)
		}
		clock.Advance(time.Second)
	}

	require.NoError(t, x.Drain())
	assert.Equal(t, Finished, h.State())
	assert.True(t, h.IsDone())
	assert.NoError(t, h.Err())
	assert.Equal(t, 0, x.Len())
}

func TestRuntime_wait_duration(t *testing.T) {
	x, clock := newTestRuntime(t)

	var resumed bool
	_, err := x.Submit(Steps(
		func() any { return time.Millisecond * 5 },
		func() any { resumed = true; return nil },
	))
	require.NoError(t, err)

	drain(t, x, 3)
	assert.False(t, resumed)
	clock.Advance(time.Millisecond * 5)
	drain(t, x, 1)
	assert.True(t, resumed)
}

func TestRuntime_wait_completer(t *testing.T) {
	x, _ := newTestRuntime(t)

	var (
		flag  bool
		polls int
		trace []int
	)
	_, err := x.Submit(Steps(
		func() any {
			trace = append(trace, 1)
			return Until(func() bool { polls++; return flag })
		},
		func() any { trace = append(trace, 2); return nil },
	))
	require.NoError(t, err)

	drain(t, x, 1)
	assert.Equal(t, []int{1}, trace)
	assert.Equal(t, 0, polls)

	drain(t, x, 2)
	assert.Equal(t, []int{1}, trace)
	assert.Equal(t, 2, polls)

	// resumes inline, in the same drain the condition is observed
	flag = true
	drain(t, x, 1)
	assert.Equal(t, []int{1, 2}, trace)
	assert.Equal(t, 3, polls)
}

func TestRuntime_wait_handle(t *testing.T) {
	x, _ := newTestRuntime(t)

	var trace []string
	first, err := x.Submit(Steps(
		func() any { trace = append(trace, `a1`); return nil },
		func() any { trace = append(trace, `a2`); return nil },
	))
	require.NoError(t, err)
	_, err = x.Submit(Steps(
		func() any { trace = append(trace, `b1`); return first },
		func() any { trace = append(trace, `b2`); return nil },
	))
	require.NoError(t, err)

	drain(t, x, 5)
	assert.Equal(t, []string{`a1`, `b1`, `a2`, `b2`}, trace)
	assert.Equal(t, Finished, first.State())
}

// Nested sequences are driven with the same wait classification, and the
// parent resumes inline once the nested sequence finishes.
func TestRuntime_nested(t *testing.T) {
	x, clock := newTestRuntime(t)

	var trace []string
	record := func(s string) func() any {
		return func() any { trace = append(trace, s); return nil }
	}
	inner := Steps(
		func() any { trace = append(trace, `inner1`); return Wait(time.Second) },
		record(`inner2`),
	)
	h, err := x.Submit(Steps(
		func() any { trace = append(trace, `outer1`); return inner },
		record(`outer2`),
	))
	require.NoError(t, err)

	drain(t, x, 1)
	assert.Equal(t, []string{`outer1`}, trace)
	drain(t, x, 1)
	assert.Equal(t, []string{`outer1`, `inner1`}, trace)
	drain(t, x, 2)
	assert.Equal(t, []string{`outer1`, `inner1`}, trace)

	clock.Advance(time.Second)
	drain(t, x, 1)
	assert.Equal(t, []string{`outer1`, `inner1`, `inner2`}, trace)
	assert.Equal(t, Suspended, h.State())

	// inner finishes, outer resumes in the same drain
	drain(t, x, 1)
	assert.Equal(t, []string{`outer1`, `inner1`, `inner2`, `outer2`}, trace)
	drain(t, x, 1)
	assert.Equal(t, Finished, h.State())
}

// Anything submitted during a drain runs on the next drain.
func TestRuntime_drainIsolation(t *testing.T) {
	x, _ := newTestRuntime(t)

	var (
		trace []string
		self  Sequence
	)
	count := 0
	self = SequenceFunc(func() (any, bool) {
		count++
		trace = append(trace, `self`)
		if count == 1 {
			_, err := x.Submit(self)
			require.NoError(t, err)
			_, err = x.Submit(Steps(func() any { trace = append(trace, `new`); return nil }))
			require.NoError(t, err)
		}
		return nil, count < 3
	})
	_, err := x.Submit(self)
	require.NoError(t, err)

	drain(t, x, 1)
	assert.Equal(t, []string{`self`}, trace)
	assert.Equal(t, 3, x.Len())

	drain(t, x, 1)
	assert.Equal(t, []string{`self`, `self`, `new`, `self`}, trace)
}

// A failing entry is reported exactly once, and the rest of the drain
// continues.
func TestRuntime_errorIsolation(t *testing.T) {
	var handled []error
	x, _ := newTestRuntime(t, WithErrorHandler(func(err error) { handled = append(handled, err) }))

	var trace []int
	one, err := x.Submit(Steps(func() any { trace = append(trace, 1); return nil }))
	require.NoError(t, err)
	two, err := x.Submit(Steps(func() any { panic(`step two`) }))
	require.NoError(t, err)
	three, err := x.Submit(Steps(func() any { trace = append(trace, 3); return nil }))
	require.NoError(t, err)

	drain(t, x, 3)
	assert.Equal(t, []int{1, 3}, trace)
	require.Len(t, handled, 1)

	var perr *diag.PanicError
	require.ErrorAs(t, handled[0], &perr)
	assert.Equal(t, `step two`, perr.Value)
	assert.Equal(t, Finished, one.State())
	assert.Equal(t, Failed, two.State())
	assert.Same(t, handled[0], two.Err())
	assert.Equal(t, Finished, three.State())
}

func TestRuntime_yieldError(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
	).Logger()
	x, _ := newTestRuntime(t, WithLogger(logger))

	cause := errors.New(`yielded failure`)
	var after bool
	h, err := x.Submit(Steps(
		func() any { return cause },
		func() any { after = true; return nil },
	))
	require.NoError(t, err)

	drain(t, x, 3)
	assert.False(t, after)
	assert.Equal(t, Failed, h.State())
	assert.Same(t, cause, h.Err())
	select {
	case <-h.Done():
	default:
		t.Fatal(`expected done`)
	}
	assert.Contains(t, buf.String(), `"msg":"coroutine sequence failed"`)
	assert.Contains(t, buf.String(), `"err":"yielded failure"`)
}

func TestRuntime_ShutdownAll_midDrain(t *testing.T) {
	x, _ := newTestRuntime(t)

	var (
		trace    []string
		released bool
	)
	first, err := x.Submit(Steps(func() any {
		trace = append(trace, `first`)
		x.ShutdownAll()
		return nil
	}, func() any {
		trace = append(trace, `first again`)
		return nil
	}))
	require.NoError(t, err)
	second, err := x.Submit(Steps(func() any { trace = append(trace, `second`); return nil }))
	require.NoError(t, err)
	third, err := x.Submit(FromSeq(func(yield func(any) bool) {
		defer func() { released = true }()
		trace = append(trace, `third`)
		yield(nil)
	}))
	require.NoError(t, err)

	require.NoError(t, x.Drain())
	assert.Equal(t, []string{`first`}, trace)
	assert.Equal(t, Discarded, first.State())
	assert.Equal(t, Discarded, second.State())
	assert.Equal(t, Discarded, third.State())
	assert.False(t, released, `never started, so nothing to release`)
	assert.Equal(t, 0, x.Len())

	_, err = x.Submit(Steps())
	assert.ErrorIs(t, err, ErrShutdown)
	drain(t, x, 2)
	assert.Equal(t, []string{`first`}, trace)
}

func TestRuntime_ShutdownAll_stopsSuspended(t *testing.T) {
	x, _ := newTestRuntime(t)

	var released bool
	h, err := x.Submit(FromSeq(func(yield func(any) bool) {
		defer func() { released = true }()
		for yield(Until(func() bool { return false })) {
		}
	}))
	require.NoError(t, err)

	drain(t, x, 3)
	assert.Equal(t, Suspended, h.State())
	assert.False(t, released)

	x.ShutdownAll()
	assert.True(t, released)
	assert.Equal(t, Discarded, h.State())
}

// Drains on a goroutine locked to its OS thread, then shuts down from another.
func TestRuntime_ShutdownAll_lockedDrainer(t *testing.T) {
	x, _ := newTestRuntime(t)

	var released atomic.Bool
	h, err := x.Submit(FromSeq(func(yield func(any) bool) {
		defer released.Store(true)
		for yield(nil) {
		}
	}))
	require.NoError(t, err)

	done := make(chan error)
	go func() {
		runtime.LockOSThread()
		done <- x.Drain()
	}()
	require.NoError(t, <-done)
	assert.Equal(t, Suspended, h.State())
	assert.False(t, released.Load())

	x.ShutdownAll()
	assert.True(t, released.Load())
	assert.Equal(t, Discarded, h.State())
}

func TestFromSeq_stopFromBody(t *testing.T) {
	var s Sequence
	s = FromSeq(func(yield func(any) bool) {
		s.(stopper).Stop()
		assert.False(t, yield(`ignored`))
	})
	v, more := s.Next()
	assert.False(t, more)
	assert.Nil(t, v)
}

func TestRuntime_Drain_reentrant(t *testing.T) {
	x, _ := newTestRuntime(t)

	var (
		inner    error
		draining bool
	)
	_, err := x.Submit(Steps(func() any {
		draining = x.Draining()
		inner = x.Drain()
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, x.Drain())
	assert.ErrorIs(t, inner, ErrReentrantDrain)
	assert.True(t, draining)
	assert.False(t, x.Draining())
}

func TestHandle_Discard(t *testing.T) {
	x, _ := newTestRuntime(t)

	var (
		steps    int
		released bool
	)
	h, err := x.Submit(FromSeq(func(yield func(any) bool) {
		defer func() { released = true }()
		for {
			steps++
			if !yield(nil) {
				return
			}
		}
	}))
	require.NoError(t, err)

	drain(t, x, 2)
	assert.Equal(t, 2, steps)

	h.Discard()
	assert.Equal(t, Discarded, h.State())
	drain(t, x, 2)
	assert.Equal(t, 2, steps)
	assert.True(t, released)
	assert.Equal(t, 0, x.Len())
}

func TestRuntime_FromSeq_panic(t *testing.T) {
	var handled int
	x, _ := newTestRuntime(t, WithErrorHandler(func(error) { handled++ }))

	h, err := x.Submit(FromSeq(func(yield func(any) bool) {
		if !yield(nil) {
			return
		}
		panic(errors.New(`iterator failure`))
	}))
	require.NoError(t, err)

	drain(t, x, 3)
	assert.Equal(t, 1, handled)
	assert.Equal(t, Failed, h.State())
	assert.EqualError(t, errors.Unwrap(h.Err()), `iterator failure`)
}

func TestRuntime_Submit_errors(t *testing.T) {
	x, _ := newTestRuntime(t, WithMaxCapacity(2))

	_, err := x.Submit(nil)
	assert.ErrorIs(t, err, ErrNilSequence)

	for i := 0; i < 2; i++ {
		_, err = x.Submit(Steps())
		require.NoError(t, err)
	}
	_, err = x.Submit(Steps())
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, x.Len())

	drain(t, x, 1)
	assert.Equal(t, 0, x.Len())
}

func TestRuntime_continuationCapacity(t *testing.T) {
	var handled []error
	x, _ := newTestRuntime(t, WithMaxCapacity(1), WithErrorHandler(func(err error) { handled = append(handled, err) }))

	// the nested submission fills the waiting buffer, leaving no room for
	// the continuation
	var other *Handle
	h, err := x.Submit(SequenceFunc(func() (any, bool) {
		var err error
		other, err = x.Submit(Steps())
		require.NoError(t, err)
		return nil, true
	}))
	require.NoError(t, err)

	drain(t, x, 1)
	assert.Equal(t, Failed, h.State())
	assert.ErrorIs(t, h.Err(), ErrCapacityExceeded)
	require.Len(t, handled, 1)

	drain(t, x, 1)
	assert.Equal(t, Finished, other.State())
}

func TestRuntime_concurrentSubmit(t *testing.T) {
	x := New()

	const producers, perProducer = 8, 100
	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_, err := x.Submit(Steps(func() any {
					mu.Lock()
					count++
					mu.Unlock()
					return nil
				}))
				assert.NoError(t, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		require.NoError(t, x.Drain())
		select {
		case <-done:
			drain(t, x, 2)
			mu.Lock()
			assert.Equal(t, producers*perProducer, count)
			mu.Unlock()
			return
		default:
		}
	}
}

func TestHandleState_String(t *testing.T) {
	for state, s := range map[HandleState]string{
		Scheduled:       `scheduled`,
		Running:         `running`,
		Suspended:       `suspended`,
		Finished:        `finished`,
		Failed:          `failed`,
		Discarded:       `discarded`,
		HandleState(-1): `unknown`,
	} {
		assert.Equal(t, s, state.String())
	}
	assert.False(t, Suspended.Terminal())
	assert.True(t, Discarded.Terminal())
}

func TestSteps(t *testing.T) {
	seq := Steps(func() any { return 1 }, func() any { return 2 })
	for _, expected := range []any{1, 2} {
		v, more := seq.Next()
		require.True(t, more)
		assert.Equal(t, expected, v)
	}
	v, more := seq.Next()
	assert.False(t, more)
	assert.Nil(t, v)
}

func TestFromSeq(t *testing.T) {
	var seq iter.Seq[any] = func(yield func(any) bool) {
		for _, v := range []any{`a`, `b`} {
			if !yield(v) {
				return
			}
		}
	}
	s := FromSeq(seq)
	v, more := s.Next()
	require.True(t, more)
	assert.Equal(t, `a`, v)
	s.(stopper).Stop()
	_, more = s.Next()
	assert.False(t, more)

	_, more = FromSeq(nil).Next()
	assert.False(t, more)
}

func TestWait(t *testing.T) {
	assert.Equal(t, time.Second, Wait(time.Second).Delay())
	var c Completer = Until(func() bool { return true })
	assert.True(t, c.IsDone())
}
