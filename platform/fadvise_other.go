//go:build !linux

package platform

import "os"

// Non-Linux platforms have no posix_fadvise equivalent wired up here; the
// hint is dropped rather than emulated.
func advise(f *os.File, pattern AccessPattern) error {
	return nil
}
