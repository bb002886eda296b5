package platform

import "os"

// Fdatasync triggers the fastest fsync-like operation that ensures
// durability of data written to f, skipping metadata sync where the
// platform allows it.
//
// WARNING: errors returned here are not recoverable in any meaningful
// sense — once fsync fails, the OS page cache and the on-disk state may
// have already diverged irreparably. Callers should treat a failure as
// grounds to mark the store corrupted rather than retry.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
