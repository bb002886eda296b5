package multimap

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestTable(t *testing.T) (*table, *arena, *store) {
	t.Helper()
	a := newArena()
	tb := newTable(a, slog.Default())
	s := openTestStore(t, 128, 128*4)
	return tb, a, s
}

func TestTable_GetUniqueOrCreateInsertsOnce(t *testing.T) {
	tb, _, s := newTestTable(t)
	defer s.close()

	h1 := tb.getUniqueOrCreate([]byte("k"))
	if err := h1.List().append([]byte("v1"), s, tb.arena); err != nil {
		t.Fatalf("append: %v", err)
	}
	h1.Unlock()

	h2 := tb.getUniqueOrCreate([]byte("k"))
	defer h2.Unlock()
	if h2.List() != h1.List() {
		t.Fatalf("getUniqueOrCreate on existing key returned a different List")
	}
}

func TestTable_KeyBytesAreCopiedIntoArena(t *testing.T) {
	tb, _, s := newTestTable(t)
	defer s.close()

	key := []byte("mutable-key")
	h := tb.getUniqueOrCreate(key)
	h.Unlock()
	key[0] = 'X' // mutate caller's buffer after insertion

	if tb.getShared([]byte("mutable-key")) == nil {
		t.Fatalf("table lost the key after caller mutated its original buffer")
	}
}

func TestTable_GetSharedOnMissingKeyReturnsNil(t *testing.T) {
	tb, _, s := newTestTable(t)
	defer s.close()

	if h := tb.getShared([]byte("absent")); h != nil {
		t.Fatalf("getShared on absent key: wanted nil, got %v", h)
	}
	if h := tb.getUnique([]byte("absent")); h != nil {
		t.Fatalf("getUnique on absent key: wanted nil, got %v", h)
	}
}

func TestTable_ForEachKeySkipsEmptyLists(t *testing.T) {
	tb, _, s := newTestTable(t)
	defer s.close()

	h := tb.getUniqueOrCreate([]byte("empty"))
	h.Unlock()

	h2 := tb.getUniqueOrCreate([]byte("full"))
	if err := h2.List().append([]byte("v"), s, tb.arena); err != nil {
		t.Fatalf("append: %v", err)
	}
	h2.Unlock()

	var seen []string
	if err := tb.forEachKey(func(key []byte) error {
		seen = append(seen, string(key))
		return nil
	}); err != nil {
		t.Fatalf("forEachKey: %v", err)
	}
	if len(seen) != 1 || seen[0] != "full" {
		t.Fatalf("forEachKey visited %v, wanted [full]", seen)
	}
}

func TestTable_RemoveKey(t *testing.T) {
	tb, _, s := newTestTable(t)
	defer s.close()

	h := tb.getUniqueOrCreate([]byte("k"))
	h.Unlock()

	if !tb.removeKey([]byte("k")) {
		t.Fatalf("removeKey: wanted true for existing key")
	}
	if tb.removeKey([]byte("k")) {
		t.Fatalf("removeKey: wanted false on second removal")
	}
	if tb.getShared([]byte("k")) != nil {
		t.Fatalf("key still present after removeKey")
	}
}

func TestTable_CloseThenReopenPreservesHeads(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "t.keys")

	a := newArena()
	tb := newTable(a, slog.Default())
	s := openTestStore(t, 128, 128*4)

	h := tb.getUniqueOrCreate([]byte("alpha"))
	for i := 0; i < 5; i++ {
		if err := h.List().append([]byte{byte(i)}, s, tb.arena); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h.Unlock()

	if err := tb.close(keysPath, s); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.close(); err != nil {
		t.Fatalf("store close: %v", err)
	}

	a2 := newArena()
	s2, err := openStore(storeOptions{Path: s.path, BlockSize: 128, BufferBytes: 128 * 4})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.close()

	tb2, err := openTable(keysPath, a2, slog.Default())
	if err != nil {
		t.Fatalf("openTable: %v", err)
	}

	h2 := tb2.getShared([]byte("alpha"))
	if h2 == nil {
		t.Fatalf("reopened table is missing key alpha")
	}
	defer h2.Unlock()

	it, err := h2.List().iterator(s2, false)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.close()

	var got []byte
	for it.hasNext() {
		v, err := it.next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, v...)
	}
	if len(got) != 5 {
		t.Fatalf("reopened list yielded %d values, wanted 5", len(got))
	}
	for i, v := range got {
		if int(v) != i {
			t.Fatalf("value %d = %d, wanted %d", i, v, i)
		}
	}
}

func TestTable_CloseSkipsLockedListsWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "t.keys")

	a := newArena()
	tb := newTable(a, slog.Default())
	s := openTestStore(t, 128, 128*4)

	locked := tb.getUniqueOrCreate([]byte("locked"))
	if err := locked.List().append([]byte("v"), s, tb.arena); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Deliberately do not Unlock; close() must skip it, not block or fail.

	if err := tb.close(keysPath, s); err != nil {
		t.Fatalf("close with a held lock should not fail: %v", err)
	}
	locked.Unlock()
}
