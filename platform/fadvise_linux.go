//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

func advise(f *os.File, pattern AccessPattern) error {
	var advice int
	switch pattern {
	case Sequential:
		advice = unix.FADV_SEQUENTIAL
	case Random:
		advice = unix.FADV_RANDOM
	default:
		advice = unix.FADV_NORMAL
	}
	err := unix.Fadvise(int(f.Fd()), 0, 0, advice)
	if err == unix.ENOSYS {
		// Kernel without fadvise support; the hint simply doesn't apply.
		return nil
	}
	return err
}
