package cli

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-dispatch/coroutine"
	"github.com/joeycumines/go-dispatch/executor"
	"github.com/joeycumines/go-dispatch/internal/config"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// Summary describes the outcome of Run.
type Summary struct {
	RunID     string
	Submitted int
	Finished  int
	Failed    int
	Discarded int
	// Steps is the number of executor tasks completed by sequences
	Steps int64
	// Reported is the number of errors passed to the error handlers
	Reported int64
	Elapsed  time.Duration
}

// Run starts an executor, drives a cooperative runtime from it, and submits
// the configured workload, returning once every sequence settles, or the
// timeout elapses.
func Run(ctx context.Context, cfg config.Config, logger *logiface.Logger[logiface.Event]) (*Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Demo.Timeout)
	defer cancel()

	summary := Summary{RunID: uuid.New().String()}
	if logger != nil {
		logger = logger.Clone().Str(`run`, summary.RunID).Logger()
	}
	start := time.Now()

	var reported atomic.Int64
	report := func(error) { reported.Add(1) }

	x, err := executor.Start(
		cfg.Executor.ThreadName,
		cfg.Executor.StackSize,
		executor.WithLogger(logger),
		executor.WithErrorHandler(report),
		executor.WithIdleSlack(cfg.Executor.IdleSlack),
		executor.WithIdleSleep(cfg.Executor.IdleSleep),
		executor.WithMaxQueueCapacity(cfg.Executor.MaxQueueCapacity),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = x.Shutdown(context.Background()) }()

	host := coroutine.NewHost(
		coroutine.WithLogger(logger),
		coroutine.WithErrorHandler(report),
		coroutine.WithMaxCapacity(cfg.Runtime.MaxCapacity),
	)
	defer host.Teardown()

	tick, err := x.ScheduleEvery(func(*executor.Executor) (any, error) {
		return nil, host.Update()
	}, 0, cfg.Executor.TickInterval)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str(`thread`, cfg.Executor.ThreadName).
		Int(`producers`, cfg.Demo.Producers).
		Int(`sequences`, cfg.Demo.Sequences).
		Dur(`tick`, cfg.Executor.TickInterval).
		Log(`demo started`)

	var steps atomic.Int64
	handles := make([][]*coroutine.Handle, cfg.Demo.Producers)
	g, gctx := errgroup.WithContext(ctx)
	for p := range handles {
		g.Go(func() error {
			runtime := host.Runtime()
			for i := 0; i < cfg.Demo.Sequences; i++ {
				h, err := runtime.Submit(newSequence(x, cfg.Demo, p*cfg.Demo.Sequences+i+1, &steps))
				if err != nil {
					return err
				}
				handles[p] = append(handles[p], h)
			}
			for _, h := range handles[p] {
				select {
				case <-h.Done():
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	err = g.Wait()

	tick.Cancel(false)
	host.Teardown()
	if e := x.Shutdown(context.Background()); e != nil && err == nil {
		err = e
	}

	for _, hs := range handles {
		for _, h := range hs {
			summary.Submitted++
			switch h.State() {
			case coroutine.Finished:
				summary.Finished++
			case coroutine.Failed:
				summary.Failed++
			default:
				summary.Discarded++
			}
		}
	}
	summary.Steps = steps.Load()
	summary.Reported = reported.Load()
	summary.Elapsed = time.Since(start)

	logger.Info().
		Int(`finished`, summary.Finished).
		Int(`failed`, summary.Failed).
		Int(`discarded`, summary.Discarded).
		Int64(`steps`, summary.Steps).
		Dur(`elapsed`, summary.Elapsed).
		Log(`demo complete`)

	if err != nil {
		return &summary, fmt.Errorf(`demo: %w`, err)
	}
	return &summary, nil
}

// newSequence builds the sequence numbered n. Each step waits on a task
// scheduled onto x, then on a delay, alternating between a plain wait and
// a nested sequence.
func newSequence(x *executor.Executor, cfg config.DemoConfig, n int, steps *atomic.Int64) coroutine.Sequence {
	return coroutine.FromSeq(func(yield func(any) bool) {
		for i := 0; i < cfg.Steps; i++ {
			task, err := x.ScheduleNow(executor.Value(func() uint64 {
				h := fnv.New64a()
				_, _ = h.Write([]byte(strconv.Itoa(n) + `:` + strconv.Itoa(i)))
				return h.Sum64()
			}))
			if err != nil {
				yield(err)
				return
			}
			if !yield(task) {
				return
			}
			if err := task.Err(); err != nil {
				yield(err)
				return
			}
			steps.Add(1)

			var wait any = coroutine.Wait(cfg.StepDelay)
			if i%2 == 1 {
				wait = coroutine.Steps(
					func() any { return cfg.StepDelay },
					func() any { return nil },
				)
			}
			if !yield(wait) {
				return
			}
		}
		if cfg.FailEvery > 0 && n%cfg.FailEvery == 0 {
			yield(fmt.Errorf(`sequence %d: deliberate failure`, n))
		}
	})
}

// WriteTo writes a human readable summary.
func (x *Summary) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"run: %s\nsequences: submitted=%d finished=%d failed=%d discarded=%d\nsteps: %d\nerrors reported: %d\nelapsed: %s\n",
		x.RunID,
		x.Submitted, x.Finished, x.Failed, x.Discarded,
		x.Steps,
		x.Reported,
		x.Elapsed.Round(time.Millisecond),
	)
	return int64(n), err
}
