package multimap

import "log/slog"

// maxKeySize is fixed by the *.keys wire format (spec.md §6): a u16
// length prefix caps keys at 2^16 - 1 bytes.
const maxKeySize = 1<<16 - 1

const (
	// DefaultBlockSize matches spec.md §4.3's recommended default.
	DefaultBlockSize = 512
	// MinBlockSize and MaxBlockSize bound block_size (spec.md §4.3).
	MinBlockSize = 128
	MaxBlockSize = 1 << 20

	// DefaultNumPartitions is a reasonable shard count for a single
	// process sharing one directory.
	DefaultNumPartitions = 23

	// DefaultBufferBytes sizes Store's in-memory write buffer.
	DefaultBufferBytes = 1 << 20 // 1 MiB

	majorVersion = 1
	minorVersion = 0
)

// Options configures Map.Open (spec.md §6). It is passed by value, the
// same way the teacher's edb.Options and mmap.Options are.
type Options struct {
	// CreateIfMissing creates the directory and its shards if the
	// directory does not already hold a multimap.
	CreateIfMissing bool

	// ErrorIfExists fails Open if the directory already holds a
	// multimap. Mutually exclusive with CreateIfMissing=false meaning
	// "must already exist"; see Map.Open's validation.
	ErrorIfExists bool

	// Readonly opens the stores read-only; all mutating operations then
	// fail with ErrReadOnly.
	Readonly bool

	// NumPartitions is the shard count. Create-time only: recorded in
	// the id file and immutable thereafter. Defaults to
	// DefaultNumPartitions.
	NumPartitions int

	// BlockSize is the fixed size in bytes of each value-store block.
	// Create-time only. Defaults to DefaultBlockSize. Must be within
	// [MinBlockSize, MaxBlockSize].
	BlockSize int

	// BufferBytes sizes each shard's Store write buffer. Runtime-only
	// (may differ between opens of the same directory). Defaults to
	// DefaultBufferBytes.
	BufferBytes int

	// Quiet suppresses informational log records (raises the effective
	// level of Logger for this Map to slog.LevelWarn).
	Quiet bool

	// Logger receives structured log records. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) norm() Options {
	if o.NumPartitions <= 0 {
		o.NumPartitions = DefaultNumPartitions
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BufferBytes <= 0 {
		o.BufferBytes = DefaultBufferBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) logLevel() slog.Level {
	if o.Quiet {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Limits reports the size constraints derived from a Map's block_size, per
// the original implementation's Limits query (SPEC_FULL.md §Supplemented
// Features #1).
type Limits struct {
	MaxKeySize   int
	MaxValueSize int
}

func limitsForBlockSize(blockSize int) Limits {
	return Limits{
		MaxKeySize:   maxKeySize,
		MaxValueSize: maxValueSize(blockSize),
	}
}
