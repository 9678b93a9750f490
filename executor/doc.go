// Package executor serializes units of work onto a single dispatch
// goroutine, which is locked to its own (optionally named) OS thread.
//
// Work is scheduled as an [Action], to run immediately (in FIFO order), after
// a delay, or periodically. Each scheduled action is tracked by a [Task],
// which may be waited on, cancelled, or chained using [Task.ContinueWith].
//
// # Dispatch Loop
//
// Each iteration of the dispatch loop:
//  1. Runs every timer that was due at the start of the iteration, in
//     ascending order of target time (ties run in scheduling order).
//  2. Runs at most one immediate item.
//  3. Parks, if neither step did any work, until woken by a producer, until
//     the next timer is due, or for at most the configured idle sleep.
//
// Actions run outside of the queue lock. A panic or error from an action is
// recovered, reported, and recorded on its Task, and the loop continues.
//
// # Usage
//
//	x, err := executor.Start(`worker`, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer x.Shutdown(context.Background())
//
//	task, err := x.ScheduleNow(executor.Value(func() int { return 42 }))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(task.Wait())
package executor
