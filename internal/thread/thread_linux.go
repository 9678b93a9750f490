//go:build linux

package thread

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func setName(name string) error {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}

// Name returns the name of the calling OS thread.
func Name() (string, error) {
	var buf [MaxNameLen + 1]byte
	if err := unix.Prctl(unix.PR_GET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0); err != nil {
		return ``, err
	}
	return unix.ByteSliceToString(buf[:]), nil
}

// ID returns the kernel's ID for the calling OS thread.
func ID() int { return unix.Gettid() }
