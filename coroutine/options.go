package coroutine

import (
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultMaxCapacity bounds the number of entries in each runtime buffer,
// by default.
const DefaultMaxCapacity = 0x7FEFFFFF

type (
	// Option configures a Runtime, see New.
	Option interface {
		applyRuntime(*runtimeOptions)
	}

	optionImpl struct {
		applyRuntimeFunc func(*runtimeOptions)
	}

	runtimeOptions struct {
		logger      *logiface.Logger[logiface.Event]
		handler     func(err error)
		rates       map[time.Duration]int
		maxCapacity int
	}
)

func (x *optionImpl) applyRuntime(opts *runtimeOptions) {
	x.applyRuntimeFunc(opts)
}

// WithLogger configures structured logging of failed sequences. A nil
// logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) {
		opts.logger = logger
	}}
}

// WithErrorHandler configures a callback that receives the failure of each
// failed sequence, exactly once. It is called on the draining goroutine.
func WithErrorHandler(handler func(err error)) Option {
	return &optionImpl{func(opts *runtimeOptions) {
		opts.handler = handler
	}}
}

// WithReportRates limits how often failures are logged, per sequence, see
// catrate.NewLimiter. An empty map disables rate limiting.
func WithReportRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *runtimeOptions) {
		if rates == nil {
			rates = map[time.Duration]int{}
		}
		opts.rates = rates
	}}
}

// WithMaxCapacity bounds the growth of each buffer. Non-positive values use
// DefaultMaxCapacity.
func WithMaxCapacity(n int) Option {
	return &optionImpl{func(opts *runtimeOptions) {
		if n <= 0 {
			n = DefaultMaxCapacity
		}
		opts.maxCapacity = n
	}}
}

func resolveOptions(opts []Option) *runtimeOptions {
	cfg := &runtimeOptions{
		maxCapacity: DefaultMaxCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyRuntime(cfg)
	}
	return cfg
}
