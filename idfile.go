package multimap

import (
	"encoding/binary"
	"os"
)

// idFileSize is the fixed 32-byte layout of multimap.id (spec.md §6):
// block_size:u64 | num_partitions:u64 | major_version:u64 | minor_version:u64.
const idFileSize = 32

type idFile struct {
	BlockSize     uint64
	NumPartitions uint64
	MajorVersion  uint64
	MinorVersion  uint64
}

func writeIDFile(path string, f idFile) error {
	var buf [idFileSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.BlockSize)
	binary.LittleEndian.PutUint64(buf[8:16], f.NumPartitions)
	binary.LittleEndian.PutUint64(buf[16:24], f.MajorVersion)
	binary.LittleEndian.PutUint64(buf[24:32], f.MinorVersion)
	if err := os.WriteFile(path, buf[:], 0o644); err != nil {
		return ioErrf("write", path, err)
	}
	return nil
}

func readIDFile(path string) (idFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return idFile{}, ioErrf("read", path, err)
	}
	if len(data) != idFileSize {
		return idFile{}, corruptedErrf(path, 0, "id file is %d bytes, want %d", len(data), idFileSize)
	}
	f := idFile{
		BlockSize:     binary.LittleEndian.Uint64(data[0:8]),
		NumPartitions: binary.LittleEndian.Uint64(data[8:16]),
		MajorVersion:  binary.LittleEndian.Uint64(data[16:24]),
		MinorVersion:  binary.LittleEndian.Uint64(data[24:32]),
	}
	return f, nil
}

// checkVersion enforces spec.md §7 VersionMismatch: the id file's major
// version must equal this library's, and its minor version must not
// exceed this library's (a newer minor version may use on-disk features
// this build doesn't understand).
func (f idFile) checkVersion(path string) error {
	if f.MajorVersion != majorVersion || f.MinorVersion > minorVersion {
		return &VersionError{
			Path:      path,
			WantMajor: majorVersion,
			GotMajor:  f.MajorVersion,
			GotMinor:  f.MinorVersion,
		}
	}
	return nil
}
