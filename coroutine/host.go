package coroutine

import (
	"sync"
)

// Host binds at most one live Runtime to the update and teardown hooks of
// some owner, e.g. a frame loop. The zero value is ready to use.
type Host struct {
	runtime *Runtime
	opts    []Option
	mu      sync.Mutex
}

// NewHost initializes a Host, which will use opts to create each Runtime.
func NewHost(opts ...Option) *Host {
	return &Host{opts: opts}
}

// Runtime returns the live runtime, creating it if necessary.
func (x *Host) Runtime() *Runtime {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.runtime == nil {
		x.runtime = New(x.opts...)
	}
	return x.runtime
}

// Update drains the live runtime, if there is one. It should be called
// once per tick.
func (x *Host) Update() error {
	x.mu.Lock()
	r := x.runtime
	x.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Drain()
}

// Teardown shuts down and releases the live runtime, if there is one. A
// later call to Runtime will create a new instance.
func (x *Host) Teardown() {
	x.mu.Lock()
	r := x.runtime
	x.runtime = nil
	x.mu.Unlock()
	if r != nil {
		r.ShutdownAll()
	}
}
