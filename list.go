package multimap

// listHead is the persisted descriptor of a key's values (spec.md §3):
// a monotonically increasing append count, a count of entries ever
// flagged deleted, and the ids of committed (sealed-and-stored) blocks in
// append order.
type listHead struct {
	numValuesTotal   uint64
	numValuesRemoved uint64
	blockIDs         uintVector
}

func (h *listHead) numValuesValid() uint64 {
	return h.numValuesTotal - h.numValuesRemoved
}

// list is the per-key value container: a Head plus an in-memory,
// not-yet-committed tail block (spec.md §3/§4.5). A list is never moved
// after construction; List operations receive the Store and Arena they
// need at call time rather than storing a reference to either, so there
// is no callback mesh to reason about (spec.md §9).
type list struct {
	head listHead
	tail *block
}

func newList() *list {
	return &list{}
}

func (l *list) isEmpty() bool {
	return l.head.numValuesValid() == 0 && (l.tail == nil || l.tail.offset == 0)
}

// append adds value to the list, sealing and committing the current tail
// block to s (carving its replacement from a) if the tail is absent or
// has no room for value (spec.md §4.5).
func (l *list) append(value []byte, s *store, a *arena) error {
	if l.tail != nil && l.tail.tryAdd(value) {
		l.head.numValuesTotal++
		return nil
	}

	if l.tail != nil {
		l.tail.setLastEntryMarker()
		id, err := s.append(l.tail)
		if err != nil {
			return err
		}
		if err := l.head.blockIDs.append(id); err != nil {
			return err
		}
	}

	l.tail = &block{buf: a.allocate(s.blockSize)}
	if !l.tail.tryAdd(value) {
		return &ValueTooLargeError{Size: len(value), MaxSize: maxValueSize(s.blockSize)}
	}
	l.head.numValuesTotal++
	return nil
}

// flush seals the tail block (if it holds any data) to s and clears it,
// so the list holds nothing but committed block ids. Used by Table.Close
// to make sure every value survives even the in-memory tail.
func (l *list) flush(s *store) error {
	if l.tail == nil || l.tail.offset == 0 {
		return nil
	}
	l.tail.setLastEntryMarker()
	id, err := s.append(l.tail)
	if err != nil {
		return err
	}
	if err := l.head.blockIDs.append(id); err != nil {
		return err
	}
	l.tail = nil
	return nil
}

// listIterator walks committed blocks in head.blockIDs order, then the
// live tail, skipping deleted entries. Its zero value is not usable; get
// one from list.iterator. The caller must call close() when done, which
// flushes any pending mark-deleted writeback. The iterator holds no lock
// of its own: close() does not release the list's lock, which stays with
// the caller that took it.
type listIterator struct {
	l *list
	s *store

	blockIDs []uint32
	blockPos int // index of the next committed block id to load

	cur       *block // currently loaded block: either a committed-block copy or l.tail
	curIter   *blockIterator
	curID     uint32 // valid cur block's store id, only meaningful if !curIsTail
	curIsTail bool
	usedTail  bool // set once we've started iterating the tail

	lastEntry     blockEntry
	haveLastEntry bool

	remaining uint64 // "available": not-yet-produced valid values
	mutable   bool

	dirty bool // cur (a committed block) has an unflushed mark-deleted
}

// iterator snapshots the list's committed block ids and the live tail
// pointer (spec.md §4.5). mutable controls whether markCurrentDeleted is
// permitted.
func (l *list) iterator(s *store, mutable bool) (*listIterator, error) {
	ids, err := l.head.blockIDs.unpack()
	if err != nil {
		return nil, err
	}
	return &listIterator{
		l:         l,
		s:         s,
		blockIDs:  ids,
		remaining: l.head.numValuesValid(),
		mutable:   mutable,
	}, nil
}

func (it *listIterator) available() uint64 { return it.remaining }

func (it *listIterator) hasNext() bool { return it.remaining > 0 }

// next returns the next non-deleted value. The returned slice is valid
// only until the next call to next() or close().
func (it *listIterator) next() ([]byte, error) {
	for {
		if it.curIter == nil {
			if err := it.advanceBlock(); err != nil {
				return nil, err
			}
			if it.curIter == nil {
				return nil, preconditionErrf("next: iterator exhausted")
			}
		}
		e, ok := it.curIter.next()
		if !ok {
			if err := it.flushDirty(); err != nil {
				return nil, err
			}
			it.curIter = nil
			continue
		}
		if e.deleted {
			continue
		}
		it.lastEntry = e
		it.haveLastEntry = true
		it.remaining--
		return e.value, nil
	}
}

// advanceBlock loads the next committed block (copying it from the
// store) or, once those are exhausted, switches to the live tail.
func (it *listIterator) advanceBlock() error {
	if err := it.flushDirty(); err != nil {
		return err
	}
	it.haveLastEntry = false

	if it.blockPos < len(it.blockIDs) {
		id := it.blockIDs[it.blockPos]
		it.blockPos++
		buf := make([]byte, it.s.blockSize)
		if err := it.s.read(id, buf); err != nil {
			return err
		}
		it.cur = wrapBlock(buf)
		it.curID = id
		it.curIsTail = false
		it.curIter = it.cur.iterator()
		return nil
	}
	if !it.usedTail && it.l.tail != nil {
		it.usedTail = true
		it.cur = it.l.tail
		it.curIsTail = true
		it.curIter = it.cur.iterator()
		return nil
	}
	it.curIter = nil
	return nil
}

// markCurrentDeleted toggles the deleted flag of the entry last returned
// by next(). Idempotent; the entry after it is the next value next()
// returns (spec.md §4.5).
func (it *listIterator) markCurrentDeleted() error {
	if !it.mutable {
		return preconditionErrf("markCurrentDeleted: iterator is not mutable")
	}
	if !it.haveLastEntry {
		return preconditionErrf("markCurrentDeleted: no current entry")
	}
	if it.cur.buf[it.lastEntry.flagsOff]&flagDeleted != 0 {
		return nil
	}
	it.cur.markDeleted(it.lastEntry.flagsOff)
	it.l.head.numValuesRemoved++
	if !it.curIsTail {
		it.dirty = true
	}
	return nil
}

// flushDirty writes back a committed block that had an entry marked
// deleted while it was the current block (spec.md §4.5: "written back via
// Store.write at block boundary or at iterator drop").
func (it *listIterator) flushDirty() error {
	if !it.dirty {
		return nil
	}
	it.dirty = false
	return it.s.write(it.curID, it.cur)
}

// close flushes any pending deleted-flag writeback. Callers that obtained
// this iterator under a list lock must release that lock after calling
// close.
func (it *listIterator) close() error {
	return it.flushDirty()
}
