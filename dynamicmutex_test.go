package multimap

import (
	"sync"
	"testing"
	"time"
)

func TestDynamicMutex_SharedComposesWithShared(t *testing.T) {
	var d dynamicMutex
	var protector sync.Mutex

	d.lockShared(&protector)
	ok := d.tryLockShared(&protector)
	if !ok {
		t.Fatalf("tryLockShared while another shared lock is held: wanted success")
	}
	d.unlockShared(&protector)
	d.unlockShared(&protector)
}

func TestDynamicMutex_UniqueExcludesShared(t *testing.T) {
	var d dynamicMutex
	var protector sync.Mutex

	d.lockUnique(&protector)
	if d.tryLockShared(&protector) {
		t.Fatalf("tryLockShared while unique lock held: wanted failure")
	}
	if d.tryLockUnique(&protector) {
		t.Fatalf("tryLockUnique while unique lock held: wanted failure")
	}
	d.unlockUnique(&protector)

	if !d.tryLockShared(&protector) {
		t.Fatalf("tryLockShared after unlock: wanted success")
	}
	d.unlockShared(&protector)
}

func TestDynamicMutex_LazyDeallocation(t *testing.T) {
	var d dynamicMutex
	var protector sync.Mutex

	d.lockShared(&protector)
	protector.Lock()
	if d.rw == nil || d.useCount != 1 {
		t.Fatalf("after lockShared: rw=%v useCount=%d", d.rw, d.useCount)
	}
	protector.Unlock()

	d.unlockShared(&protector)
	protector.Lock()
	if d.rw != nil || d.useCount != 0 {
		t.Fatalf("after last unlock: rw=%v useCount=%d, wanted nil/0", d.rw, d.useCount)
	}
	protector.Unlock()
}

func TestDynamicMutex_WriterBlocksUntilReadersDone(t *testing.T) {
	var d dynamicMutex
	var protector sync.Mutex

	d.lockShared(&protector)

	done := make(chan struct{})
	go func() {
		d.lockUnique(&protector)
		close(done)
		d.unlockUnique(&protector)
	}()

	select {
	case <-done:
		t.Fatalf("writer acquired lock while reader still held it")
	case <-time.After(50 * time.Millisecond):
	}

	d.unlockShared(&protector)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writer did not acquire lock after reader released it")
	}
}
