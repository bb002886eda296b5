package multimap

import "encoding/binary"

// Entry flags (spec.md §4.3): bit 0 marks a logically deleted entry, bit 1
// marks the last entry in the block so a reader can stop before walking
// to block_size.
const (
	flagDeleted byte = 1 << 0
	flagLast    byte = 1 << 1
)

// entryOverhead is the minimum bytes consumed by an entry besides its
// value payload: one flags byte plus at least one varint byte for the
// length.
const entryOverhead = 1 + 1

// maxValueSize reports the largest value whose entry (flags byte, varint
// length prefix, value) fits in an empty block of the given size
// (spec.md §4.3's Limits query).
func maxValueSize(blockSize int) int {
	n := blockSize - 1 - 1
	for n > 0 && 1+varintLen(uint64(n))+n > blockSize {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// block packs variable-length values into a fixed-size buffer
// (spec.md §4.3). A block read back from disk is immutable except for
// toggling the deleted flag of an existing entry in place.
type block struct {
	buf    []byte // len == blockSize always
	offset int    // bytes used so far, offset <= len(buf)
}

func newBlock(blockSize int) *block {
	return &block{buf: make([]byte, blockSize)}
}

// wrapBlock adapts an existing blockSize-length buffer (e.g. one read
// back from the store) into a block without copying.
func wrapBlock(buf []byte) *block {
	return &block{buf: buf, offset: len(buf)}
}

func (b *block) size() int { return len(b.buf) }

// tryAdd attempts to append value as a new entry. It returns false,
// leaving the block's state unchanged, iff there is no room for
// [1 + varint(len) + len] more bytes (spec.md §8 Block safety).
func (b *block) tryAdd(value []byte) bool {
	need := 1 + varintLen(uint64(len(value))) + len(value)
	if b.offset+need > len(b.buf) {
		return false
	}
	b.buf[b.offset] = 0
	b.offset++
	b.offset += binary.PutUvarint(b.buf[b.offset:], uint64(len(value)))
	copy(b.buf[b.offset:], value)
	b.offset += len(value)
	return true
}

// setLastEntryMarker stamps the most recently added entry's flags with
// flagLast, signaling readers to stop scanning before reaching
// block_size. Called once when a block is sealed (spec.md §4.3/§4.5).
func (b *block) setLastEntryMarker() {
	// Walk to the last entry's flags byte.
	off := 0
	lastFlagsOff := -1
	for off < b.offset {
		lastFlagsOff = off
		off++
		valueLen, nbytes := binary.Uvarint(b.buf[off:b.offset])
		off += nbytes + int(valueLen)
	}
	if lastFlagsOff >= 0 {
		b.buf[lastFlagsOff] |= flagLast
	}
}

// blockEntry is one logical value produced while iterating a block.
type blockEntry struct {
	value    []byte
	deleted  bool
	flagsOff int // offset of this entry's flags byte, for mark-deleted
}

// blockIterator walks entries left to right, stopping after the entry
// flagged flagLast, at the block's offset, or at the first entry whose
// length prefix or value runs past that offset. Unwritten zero bytes
// before the offset parse as empty entries, so a block read back from the
// store (offset == block size) relies on flagLast to end the walk.
type blockIterator struct {
	b   *block
	off int
}

func (b *block) iterator() *blockIterator {
	return &blockIterator{b: b}
}

// next returns the next entry and true, or a zero entry and false once
// the block is exhausted.
func (it *blockIterator) next() (blockEntry, bool) {
	if it.off >= it.b.offset {
		return blockEntry{}, false
	}
	flagsOff := it.off
	flags := it.b.buf[it.off]
	it.off++
	n, ln := binary.Uvarint(it.b.buf[it.off:it.b.offset])
	if ln <= 0 {
		return blockEntry{}, false
	}
	it.off += ln
	end := it.off + int(n)
	if end > it.b.offset {
		return blockEntry{}, false
	}
	value := it.b.buf[it.off:end]
	it.off = end

	e := blockEntry{value: value, deleted: flags&flagDeleted != 0, flagsOff: flagsOff}
	if flags&flagLast != 0 {
		// Stop future calls, but still return this last entry.
		it.off = it.b.offset
	}
	return e, true
}

// markDeleted toggles the deleted flag of the entry last returned by
// next() at the given flagsOff. Idempotent.
func (b *block) markDeleted(flagsOff int) {
	b.buf[flagsOff] |= flagDeleted
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
