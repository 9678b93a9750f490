// Package coroutine implements a cooperative, single-threaded runtime for
// suspendable step sequences.
//
// A [Sequence] is advanced one step at a time, by [Runtime.Drain], which is
// intended to be called once per tick of some external update loop. Each
// step yields a value, which determines when the sequence is next advanced:
//
//   - nil, or any unrecognized value: the next tick
//   - a [Completer]: the first tick on which it reports done
//   - a [Delayer], or a time.Duration: the first tick after the delay
//   - a nested [Sequence]: once the nested sequence finishes, which is run
//     starting next tick, with the same rules
//   - an error: never, the sequence fails
//
// Work submitted during a drain (including continuations) always runs on a
// later drain, never the one in progress.
package coroutine
