package multimap

import (
	"bufio"
	"encoding/binary"
	"log/slog"
	"os"
	"sync"
)

// tableEntry is one key's slot in a Table: the arena-owned key bytes, the
// List itself and the dynamicMutex guarding it (spec.md §4.6/§4.7).
type tableEntry struct {
	key  []byte
	list *list
	dm   dynamicMutex
}

// table maps Bytes->List, where keys are owned by an Arena (spec.md §4.7).
// Structural mutation (insert) is guarded by mu; per-list coordination is
// delegated to each entry's dynamicMutex, arbitrated through protector —
// a single process-wide-looking mutex that is in fact scoped to this one
// Table, per the design note in spec.md §9.
type table struct {
	mu        sync.RWMutex
	protector sync.Mutex
	entries   map[string]*tableEntry
	arena     *arena
	logger    *slog.Logger
}

func newTable(a *arena, logger *slog.Logger) *table {
	return &table{
		entries: make(map[string]*tableEntry),
		arena:   a,
		logger:  logger,
	}
}

// sharedListLock is a held shared lock on one List, returned by
// getShared.
type sharedListLock struct {
	t *table
	e *tableEntry
}

func (h *sharedListLock) List() *list { return h.e.list }

func (h *sharedListLock) Unlock() {
	h.e.dm.unlockShared(&h.t.protector)
}

// uniqueListLock is a held unique lock on one List.
type uniqueListLock struct {
	t *table
	e *tableEntry
}

func (h *uniqueListLock) List() *list { return h.e.list }

func (h *uniqueListLock) Unlock() {
	h.e.dm.unlockUnique(&h.t.protector)
}

func (t *table) lookup(key []byte) *tableEntry {
	t.mu.RLock()
	e := t.entries[string(key)]
	t.mu.RUnlock()
	return e
}

// getShared returns a held shared lock on key's List, or nil if key is
// absent (spec.md §4.7).
func (t *table) getShared(key []byte) *sharedListLock {
	e := t.lookup(key)
	if e == nil {
		return nil
	}
	e.dm.lockShared(&t.protector)
	return &sharedListLock{t: t, e: e}
}

// getUnique returns a held unique lock on key's List, or nil if key is
// absent.
func (t *table) getUnique(key []byte) *uniqueListLock {
	e := t.lookup(key)
	if e == nil {
		return nil
	}
	e.dm.lockUnique(&t.protector)
	return &uniqueListLock{t: t, e: e}
}

// getUniqueOrCreate inserts an empty List for key if absent — copying key
// into the Arena first so the map's key view points at arena memory, not
// the caller's buffer (spec.md §4.7) — then returns its held unique lock.
func (t *table) getUniqueOrCreate(key []byte) *uniqueListLock {
	t.mu.Lock()
	e, ok := t.entries[string(key)]
	if !ok {
		owned := t.arena.clone(key)
		e = &tableEntry{key: owned, list: newList()}
		t.entries[string(owned)] = e
	}
	t.mu.Unlock()

	e.dm.lockUnique(&t.protector)
	return &uniqueListLock{t: t, e: e}
}

// forEachKey calls f(key) for every key whose List is currently non-empty,
// under a shared snapshot of the table's structure. Lists that cannot be
// try-locked are skipped, per spec.md §4.7 ("ignores lists that are both
// locked and whose non-empty status cannot be checked cheaply").
func (t *table) forEachKey(f func(key []byte) error) error {
	t.mu.RLock()
	snapshot := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	for _, e := range snapshot {
		if !e.dm.tryLockShared(&t.protector) {
			continue
		}
		empty := e.list.isEmpty()
		e.dm.unlockShared(&t.protector)
		if empty {
			continue
		}
		if err := f(e.key); err != nil {
			return err
		}
	}
	return nil
}

// forEachEntry calls f(key, list) for every key, acquiring a shared lock on
// each list one at a time and releasing it before moving to the next
// (spec.md §4.8, §5 — a thread never holds two list locks at once).
func (t *table) forEachEntry(f func(key []byte, l *list) error) error {
	t.mu.RLock()
	snapshot := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	for _, e := range snapshot {
		e.dm.lockShared(&t.protector)
		err := f(e.key, e.list)
		e.dm.unlockShared(&t.protector)
		if err != nil {
			return err
		}
	}
	return nil
}

// removeKey drops key's List entirely, returning whether it existed. The
// arena-owned key bytes are not reclaimed (the arena has no free list;
// spec.md §4.1); dropping the map entry is the logical delete.
func (t *table) removeKey(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[string(key)]; !ok {
		return false
	}
	delete(t.entries, string(key))
	return true
}

// tableStats accumulates the per-list and key-size histograms spec.md §4.7
// describes for Table.get_stats().
type tableStats struct {
	NumKeys           uint64
	NumValuesTotal    uint64
	NumValuesValid    uint64
	NumValuesRemoved  uint64
	NumBlocks         uint64
	KeySizeHistogram  map[int]uint64
	ListSizeHistogram map[int]uint64 // bucketed by sizeBucket(numValuesValid), the bit length
	NumListsLocked    uint64
}

func newTableStats() *tableStats {
	return &tableStats{
		KeySizeHistogram:  make(map[int]uint64),
		ListSizeHistogram: make(map[int]uint64),
	}
}

func sizeBucket(n uint64) int {
	b := 0
	for n > 0 {
		n >>= 1
		b++
	}
	return b
}

// getStats collects stats across every key in the table, incrementing
// NumListsLocked for any list that cannot be try-locked (spec.md §4.7).
func (t *table) getStats() *tableStats {
	st := newTableStats()

	t.mu.RLock()
	snapshot := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	st.NumKeys = uint64(len(snapshot))
	for _, e := range snapshot {
		st.KeySizeHistogram[sizeBucket(uint64(len(e.key)))]++

		if !e.dm.tryLockShared(&t.protector) {
			st.NumListsLocked++
			continue
		}
		h := &e.list.head
		st.NumValuesTotal += h.numValuesTotal
		st.NumValuesRemoved += h.numValuesRemoved
		st.NumValuesValid += h.numValuesValid()
		st.NumBlocks += uint64(h.blockIDs.len())
		st.ListSizeHistogram[sizeBucket(h.numValuesValid())]++
		e.dm.unlockShared(&t.protector)
	}
	return st
}

// close writes every non-empty list's head back to the keys file
// (spec.md §4.7): for each key it attempts try_lock_unique; on success the
// list is flushed (tail block sealed) and its head serialized; on failure
// a warning is logged and the entry skipped (its in-memory tail is lost,
// but every previously committed block survives). The file is written to
// "<path>.new" then renamed atomically over path.
func (t *table) close(path string, s *store) error {
	t.mu.RLock()
	snapshot := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		snapshot = append(snapshot, e)
	}
	t.mu.RUnlock()

	tmp := path + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ioErrf("create", tmp, err)
	}
	w := bufio.NewWriter(f)

	var countBuf [4]byte
	if _, err := w.Write(countBuf[:]); err != nil {
		f.Close()
		return ioErrf("write", tmp, err)
	}

	var written uint32
	var buf []byte
	for _, e := range snapshot {
		if !e.dm.tryLockUnique(&t.protector) {
			t.logger.Warn("multimap: skipping locked list at close, tail block lost", "key_len", len(e.key))
			continue
		}
		err := func() error {
			defer e.dm.unlockUnique(&t.protector)
			if e.list.isEmpty() {
				return nil
			}
			if err := e.list.flush(s); err != nil {
				return err
			}
			buf = buf[:0]
			buf = encodeTableEntry(buf, e.key, &e.list.head)
			if _, err := w.Write(buf); err != nil {
				return ioErrf("write", tmp, err)
			}
			written++
			return nil
		}()
		if err != nil {
			w.Flush()
			f.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return ioErrf("write", tmp, err)
	}
	binary.LittleEndian.PutUint32(countBuf[:], written)
	if _, err := f.WriteAt(countBuf[:], 0); err != nil {
		f.Close()
		return ioErrf("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioErrf("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		return ioErrf("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioErrf("rename", tmp, err)
	}
	return nil
}

// encodeTableEntry appends one *.keys entry to buf (spec.md §6):
// [key_len:u16][key_bytes][num_values_total:u64][num_values_removed:u64]
// [block_ids_payload_len:u32][block_ids_payload].
func encodeTableEntry(buf []byte, key []byte, h *listHead) []byte {
	var u16buf [2]byte
	binary.LittleEndian.PutUint16(u16buf[:], uint16(len(key)))
	buf = append(buf, u16buf[:]...)
	buf = append(buf, key...)

	var u64buf [8]byte
	binary.LittleEndian.PutUint64(u64buf[:], h.numValuesTotal)
	buf = append(buf, u64buf[:]...)
	binary.LittleEndian.PutUint64(u64buf[:], h.numValuesRemoved)
	buf = append(buf, u64buf[:]...)

	buf = h.blockIDs.serialize(buf)
	return buf
}

// openTable reads a *.keys file written by table.close. Each reconstructed
// List starts with no tail block, which behaves as an empty tail: the
// List's first append allocates one. A missing file is treated as an
// empty table (first-ever open).
func openTable(path string, a *arena, logger *slog.Logger) (*table, error) {
	t := newTable(a, logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, ioErrf("read", path, err)
	}

	if len(data) < 4 {
		return nil, corruptedErrf(path, 0, "truncated entry count")
	}
	count := binary.LittleEndian.Uint32(data)
	rest := data[4:]

	for i := uint32(0); i < count; i++ {
		e, tail, err := decodeTableEntry(path, int64(len(data)-len(rest)), rest, a)
		if err != nil {
			return nil, err
		}
		t.entries[string(e.key)] = e
		rest = tail
	}
	if len(rest) != 0 {
		return nil, corruptedErrf(path, int64(len(data)-len(rest)), "trailing bytes after %d entries", count)
	}
	return t, nil
}

// decodeTableEntry decodes the entry at file offset off; corruption errors
// report that offset.
func decodeTableEntry(path string, off int64, buf []byte, a *arena) (*tableEntry, []byte, error) {
	if len(buf) < 2 {
		return nil, nil, corruptedErrf(path, off, "truncated key length")
	}
	keyLen := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < keyLen {
		return nil, nil, corruptedErrf(path, off, "truncated key bytes")
	}
	key := a.clone(buf[:keyLen])
	buf = buf[keyLen:]

	if len(buf) < 16 {
		return nil, nil, corruptedErrf(path, off, "truncated head counters")
	}
	total := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	removed := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]

	bv, rest, err := deserializeUintVector(buf)
	if err != nil {
		return nil, nil, err
	}

	e := &tableEntry{
		key: key,
		list: &list{
			head: listHead{
				numValuesTotal:   total,
				numValuesRemoved: removed,
				blockIDs:         *bv,
			},
		},
	}
	return e, rest, nil
}
