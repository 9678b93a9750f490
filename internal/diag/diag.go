// Package diag implements the diagnostic sink shared by the schedulers.
//
// Failures recovered from scheduled work are passed, unthrottled, to an
// optional error handler, and logged (subject to per-category rate limits)
// via a logiface logger.
package diag

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

type (
	// Logger is the generified logiface logger accepted by the schedulers.
	Logger = logiface.Logger[logiface.Event]

	// Builder is the generified logiface builder.
	Builder = logiface.Builder[logiface.Event]

	// Sink receives errors captured while running scheduled work.
	// The zero value discards everything. A nil *Sink is valid.
	Sink struct {
		logger  *Logger
		limiter *catrate.Limiter
		handler func(err error)
	}

	// PanicError wraps a value recovered from a panic.
	PanicError struct {
		Value any
		Stack []byte
	}
)

// DefaultRates limits repeated reports for a single category (e.g. one
// periodic task that fails on every firing).
var DefaultRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// NewSink initializes a Sink. Any of the arguments may be nil. If rates is
// empty, reports are never throttled.
func NewSink(logger *Logger, rates map[time.Duration]int, handler func(err error)) *Sink {
	x := Sink{
		logger:  logger,
		handler: handler,
	}
	if len(rates) != 0 && logger != nil {
		x.limiter = catrate.NewLimiter(rates)
	}
	return &x
}

// Logger returns the configured logger, which may be nil.
func (x *Sink) Logger() *Logger {
	if x == nil {
		return nil
	}
	return x.logger
}

// Report passes err to the handler, then logs it at error level, unless the
// category has exceeded its rate limit. The fields function, if non-nil, may
// add fields to the log event.
func (x *Sink) Report(category any, err error, msg string, fields func(b *Builder)) {
	if x == nil || err == nil {
		return
	}

	if x.handler != nil {
		x.handler(err)
	}

	if x.logger == nil {
		return
	}

	if x.limiter != nil && category != nil {
		if _, ok := x.limiter.Allow(category); !ok {
			return
		}
	}

	b := x.logger.Err()
	if fields != nil {
		b = b.Call(fields)
	}
	b.Err(err).Log(msg)
}

// Recover converts a value returned by recover into an error, or returns nil.
func Recover(r any) error {
	if r == nil {
		return nil
	}
	return &PanicError{Value: r, Stack: debug.Stack()}
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf(`panic: %v`, e.Value)
}

// Unwrap returns the panic value if it is an error, enabling errors.Is and
// errors.As through the recovered value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
