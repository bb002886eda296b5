//go:build windows

package platform

import (
	"errors"
	"os"
	"syscall"
)

func lock(f *os.File) error {
	ol := new(syscall.Overlapped)
	err := syscall.LockFileEx(syscall.Handle(f.Fd()), syscall.LOCKFILE_EXCLUSIVE_LOCK|syscall.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if errors.Is(err, syscall.ERROR_LOCK_VIOLATION) {
		return ErrLocked
	}
	return err
}

func unlock(f *os.File) error {
	ol := new(syscall.Overlapped)
	return syscall.UnlockFileEx(syscall.Handle(f.Fd()), 0, 1, 0, ol)
}
