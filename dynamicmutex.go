package multimap

import "sync"

// dynamicMutex is a per-List reader/writer lock that materializes its
// underlying sync.RWMutex only while the list is contended (spec.md
// §4.6). A Table may hold millions of Lists, almost all idle; carrying a
// fully materialized OS rwlock per list would waste memory at that scale.
//
// Per the design note in spec.md §9, the "global mutex protector" that
// guards use_count and the lazy materialization is per-Table (passed in
// by the caller), never a process-wide singleton.
type dynamicMutex struct {
	rw       *sync.RWMutex
	useCount uint32
}

// lockShared materializes rw if absent, bumps useCount, then blocks for a
// read lock. protector must be held by the caller only around the
// bookkeeping, never across the rwlock wait — otherwise protector would
// serialize every reader.
func (d *dynamicMutex) lockShared(protector *sync.Mutex) {
	protector.Lock()
	if d.rw == nil {
		d.rw = new(sync.RWMutex)
	}
	rw := d.rw
	d.useCount++
	protector.Unlock()

	rw.RLock()
}

func (d *dynamicMutex) lockUnique(protector *sync.Mutex) {
	protector.Lock()
	if d.rw == nil {
		d.rw = new(sync.RWMutex)
	}
	rw := d.rw
	d.useCount++
	protector.Unlock()

	rw.Lock()
}

// tryLockShared attempts a non-blocking shared lock. On success it
// behaves like lockShared; on failure it leaves useCount unchanged.
func (d *dynamicMutex) tryLockShared(protector *sync.Mutex) bool {
	protector.Lock()
	if d.rw == nil {
		d.rw = new(sync.RWMutex)
	}
	rw := d.rw
	ok := rw.TryRLock()
	if ok {
		d.useCount++
	}
	protector.Unlock()
	return ok
}

func (d *dynamicMutex) tryLockUnique(protector *sync.Mutex) bool {
	protector.Lock()
	if d.rw == nil {
		d.rw = new(sync.RWMutex)
	}
	rw := d.rw
	ok := rw.TryLock()
	if ok {
		d.useCount++
	}
	protector.Unlock()
	return ok
}

// unlockShared releases the rwlock itself before touching useCount, so
// that any concurrent unique locker that observes useCount reach zero is
// guaranteed there is truly no active holder left (spec.md §4.6 order:
// "release rwlock; under global mutex --use_count; when 0, drop it").
func (d *dynamicMutex) unlockShared(protector *sync.Mutex) {
	protector.Lock()
	rw := d.rw
	protector.Unlock()

	rw.RUnlock()

	protector.Lock()
	d.useCount--
	if d.useCount == 0 {
		d.rw = nil
	}
	protector.Unlock()
}

func (d *dynamicMutex) unlockUnique(protector *sync.Mutex) {
	protector.Lock()
	rw := d.rw
	protector.Unlock()

	rw.Unlock()

	protector.Lock()
	d.useCount--
	if d.useCount == 0 {
		d.rw = nil
	}
	protector.Unlock()
}
