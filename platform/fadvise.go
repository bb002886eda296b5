// Package platform wraps the handful of OS-specific syscalls the storage
// engine needs — access-pattern hints, forced durability and an exclusive
// advisory lock on the store directory — behind small, testable functions.
package platform

import "os"

// AccessPattern is a hint to the kernel about how a file will be read.
// It corresponds to posix_fadvise's POSIX_FADV_* constants and is purely
// advisory: a platform that can't honor it is a silent no-op.
type AccessPattern int

const (
	Normal AccessPattern = iota
	Sequential
	Random
)

// Advise hints the expected access pattern for reads of f. Callers must not
// treat a non-nil error as fatal; the hint is an optimization, not a
// correctness requirement.
func Advise(f *os.File, pattern AccessPattern) error {
	return advise(f, pattern)
}
