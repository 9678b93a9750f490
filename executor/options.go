package executor

import (
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultIdleSlack is the default value for WithIdleSlack.
	DefaultIdleSlack = time.Millisecond

	// DefaultIdleSleep is the default value for WithIdleSleep.
	DefaultIdleSleep = time.Millisecond

	// DefaultMaxQueueCapacity is the default value for WithMaxQueueCapacity.
	DefaultMaxQueueCapacity = 1 << 24

	defaultQueueCapacity = 64
)

type (
	// Option configures an Executor, see New.
	Option interface {
		applyExecutor(*executorOptions)
	}

	optionImpl struct {
		applyExecutorFunc func(*executorOptions)
	}

	executorOptions struct {
		logger      *logiface.Logger[logiface.Event]
		handler     func(err error)
		rates       map[time.Duration]int
		idleSlack   time.Duration
		idleSleep   time.Duration
		maxCapacity int
	}
)

func (x *optionImpl) applyExecutor(opts *executorOptions) {
	x.applyExecutorFunc(opts)
}

// WithLogger configures structured logging. Failures are logged at error
// level, and lifecycle events at debug level. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *executorOptions) {
		opts.logger = logger
	}}
}

// WithErrorHandler configures a callback receiving every error (or
// recovered panic) from a scheduled action. The handler is called on the
// dispatch goroutine, and is never rate limited.
func WithErrorHandler(handler func(err error)) Option {
	return &optionImpl{func(opts *executorOptions) {
		opts.handler = handler
	}}
}

// WithReportRates limits how often failures of any one task are logged,
// using the same format as catrate.NewLimiter. Defaults to diag.DefaultRates.
// An empty map disables rate limiting.
func WithReportRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *executorOptions) {
		if rates == nil {
			rates = map[time.Duration]int{}
		}
		opts.rates = rates
	}}
}

// WithIdleSlack configures how close the next timer must be before the
// dispatch loop yields instead of parking.
func WithIdleSlack(d time.Duration) Option {
	return &optionImpl{func(opts *executorOptions) {
		opts.idleSlack = max(d, 0)
	}}
}

// WithIdleSleep bounds how long the idle dispatch loop parks between checks.
// A value of 0 parks until woken, or until the next timer is due.
func WithIdleSleep(d time.Duration) Option {
	return &optionImpl{func(opts *executorOptions) {
		opts.idleSleep = max(d, 0)
	}}
}

// WithMaxQueueCapacity bounds the growth of each queue. Non-positive values
// use DefaultMaxQueueCapacity.
func WithMaxQueueCapacity(n int) Option {
	return &optionImpl{func(opts *executorOptions) {
		if n <= 0 {
			n = DefaultMaxQueueCapacity
		}
		opts.maxCapacity = n
	}}
}

func resolveOptions(opts []Option) *executorOptions {
	cfg := &executorOptions{
		idleSlack:   DefaultIdleSlack,
		idleSleep:   DefaultIdleSleep,
		maxCapacity: DefaultMaxQueueCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyExecutor(cfg)
	}
	return cfg
}
