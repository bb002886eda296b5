package platform

import "os"

// Lock takes a non-blocking exclusive OS-level lock on f, used to keep two
// processes from opening the same store directory at once. It returns
// ErrLocked itself (not wrapped) if another process already holds the lock.
func Lock(f *os.File) error {
	return lock(f)
}

// Unlock releases a lock previously taken with Lock.
func Unlock(f *os.File) error {
	return unlock(f)
}

// ErrLocked is returned by Lock when the file is already locked by
// another process.
var ErrLocked = lockedErr{}

type lockedErr struct{}

func (lockedErr) Error() string { return "platform: file already locked" }
