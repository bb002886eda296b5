//go:build !linux

package platform

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
