//go:build !linux

package thread

import (
	"errors"
)

var errUnsupported = errors.New(`thread: naming not supported on this platform`)

func setName(string) error { return nil }

// Name is unsupported on this platform.
func Name() (string, error) { return ``, errUnsupported }

// ID is unsupported on this platform, and always returns 0.
func ID() int { return 0 }
