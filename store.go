package multimap

import (
	"os"
	"sync"

	"github.com/multimapdb/multimap/platform"
)

// storeOptions mirrors the construction parameters of spec.md §4.4.
type storeOptions struct {
	Path            string
	BlockSize       int
	BufferBytes     int
	Readonly        bool
	CreateIfMissing bool
	ErrorIfExists   bool
}

// store is an append-only file of fixed-size blocks plus a bounded
// in-memory write buffer (spec.md §4.4). Block i is either flushed to the
// file at offset i*blockSize, or sitting in the buffer at index
// i-firstBufferedID. All methods are safe for concurrent use from
// multiple goroutines.
type store struct {
	path      string
	blockSize int
	readonly  bool
	file      *os.File

	mu sync.RWMutex // guards the fields below; Lock for append/flush/write, RLock for read

	buffer          []byte // bufferedCount*blockSize bytes, not yet written to file
	firstBufferedID uint32
	bufferedCount   int
	bufferCapBlocks int // buffer flushes once bufferedCount reaches this

	numFlushed uint32 // blocks durably present in the file (file_size / blockSize)
}

func openStore(o storeOptions) (*store, error) {
	if o.BlockSize < MinBlockSize || o.BlockSize > MaxBlockSize {
		return nil, preconditionErrf("block_size %d out of range [%d, %d]", o.BlockSize, MinBlockSize, MaxBlockSize)
	}

	flags := os.O_RDWR
	if o.Readonly {
		flags = os.O_RDONLY
	}
	if !o.Readonly {
		if o.CreateIfMissing {
			flags |= os.O_CREATE
		}
		if o.ErrorIfExists {
			flags |= os.O_CREATE | os.O_EXCL
		}
	}

	f, err := os.OpenFile(o.Path, flags, 0o644)
	if err != nil {
		return nil, ioErrf("open", o.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErrf("stat", o.Path, err)
	}
	size := info.Size()
	if size%int64(o.BlockSize) != 0 {
		f.Close()
		return nil, corruptedErrf(o.Path, size, "file size %d is not a multiple of block_size %d", size, o.BlockSize)
	}

	bufferBytes := o.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = DefaultBufferBytes
	}
	capBlocks := bufferBytes / o.BlockSize
	if capBlocks < 1 {
		capBlocks = 1
	}

	numFlushed := uint32(size / int64(o.BlockSize))
	s := &store{
		path:            o.Path,
		blockSize:       o.BlockSize,
		readonly:        o.Readonly,
		file:            f,
		firstBufferedID: numFlushed,
		bufferCapBlocks: capBlocks,
		numFlushed:      numFlushed,
	}
	return s, nil
}

func (s *store) close() error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// numCommittedBlocks returns the total number of blocks ever appended
// (flushed to file or still buffered).
func (s *store) numCommittedBlocks() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numFlushed + uint32(s.bufferedCount)
}

// append buffers block and returns its newly assigned, monotonically
// increasing id. When the buffer fills, it is written to the file in one
// call (spec.md §4.4).
func (s *store) append(b *block) (uint32, error) {
	if s.readonly {
		return 0, ErrReadOnly
	}
	if b.size() != s.blockSize {
		return 0, preconditionErrf("append: block size %d != store block_size %d", b.size(), s.blockSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.numFlushed + uint32(s.bufferedCount)
	s.buffer = append(s.buffer, b.buf...)
	s.bufferedCount++

	if s.bufferedCount >= s.bufferCapBlocks {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// flush forces the write buffer to the file.
func (s *store) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *store) flushLocked() error {
	if s.bufferedCount == 0 {
		return nil
	}
	off := int64(s.firstBufferedID) * int64(s.blockSize)
	if _, err := s.file.WriteAt(s.buffer, off); err != nil {
		return ioErrf("write", s.path, err)
	}
	if err := platform.Fdatasync(s.file); err != nil {
		return ioErrf("fdatasync", s.path, err)
	}
	s.numFlushed += uint32(s.bufferedCount)
	s.buffer = s.buffer[:0]
	s.bufferedCount = 0
	s.firstBufferedID = s.numFlushed
	return nil
}

// read copies block id's bytes into out, which must have length
// blockSize. Reading an id that was never appended is a precondition
// violation.
func (s *store) read(id uint32, out []byte) error {
	s.mu.RLock()
	firstBuffered := s.firstBufferedID
	bufferedCount := s.bufferedCount
	numFlushed := s.numFlushed

	if id >= firstBuffered && id < firstBuffered+uint32(bufferedCount) {
		idx := int(id - firstBuffered)
		copy(out, s.buffer[idx*s.blockSize:(idx+1)*s.blockSize])
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	if id >= numFlushed {
		return preconditionErrf("read: block id %d >= committed count %d", id, numFlushed+uint32(bufferedCount))
	}
	off := int64(id) * int64(s.blockSize)
	if _, err := s.file.ReadAt(out, off); err != nil {
		return ioErrf("read", s.path, err)
	}
	return nil
}

// write overwrites a previously appended block in place — in the buffer
// if it hasn't been flushed yet, or on disk if it has. Used only to
// persist a toggled deleted flag (spec.md §4.4).
func (s *store) write(id uint32, b *block) error {
	if s.readonly {
		return ErrReadOnly
	}
	if b.size() != s.blockSize {
		return preconditionErrf("write: block size %d != store block_size %d", b.size(), s.blockSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= s.firstBufferedID && id < s.firstBufferedID+uint32(s.bufferedCount) {
		idx := int(id - s.firstBufferedID)
		copy(s.buffer[idx*s.blockSize:(idx+1)*s.blockSize], b.buf)
		return nil
	}
	if id >= s.numFlushed {
		return preconditionErrf("write: block id %d >= committed count %d", id, s.numFlushed+uint32(s.bufferedCount))
	}
	off := int64(id) * int64(s.blockSize)
	if _, err := s.file.WriteAt(b.buf, off); err != nil {
		return ioErrf("write", s.path, err)
	}
	return nil
}

// adviseAccessPattern is a purely advisory hint to the kernel (spec.md
// §4.4); its callers in shard.go ignore the returned error, so a failure
// never affects correctness.
func (s *store) adviseAccessPattern(p platform.AccessPattern) error {
	return platform.Advise(s.file, p)
}
