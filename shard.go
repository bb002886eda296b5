package multimap

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/multimapdb/multimap/platform"
)

// shard bundles one Store + one Table + one Arena under a shared file
// prefix (spec.md §3/§4.8). A Map owns N independent shards; each is an
// independent concurrency domain — keys in different shards never contend
// on the same lock.
type shard struct {
	index int
	store *store
	table *table
	arena *arena

	keysPath  string
	statsPath string
}

func shardPrefix(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("multimap.%d", index))
}

func openShard(dir string, index int, o Options, logger *slog.Logger) (*shard, error) {
	prefix := shardPrefix(dir, index)
	s, err := openStore(storeOptions{
		Path:            prefix + ".values",
		BlockSize:       o.BlockSize,
		BufferBytes:     o.BufferBytes,
		Readonly:        o.Readonly,
		CreateIfMissing: o.CreateIfMissing,
		ErrorIfExists:   o.ErrorIfExists,
	})
	if err != nil {
		return nil, err
	}

	a := newArena()
	keysPath := prefix + ".keys"
	t, err := openTable(keysPath, a, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	return &shard{
		index:     index,
		store:     s,
		table:     t,
		arena:     a,
		keysPath:  keysPath,
		statsPath: prefix + ".stats",
	}, nil
}

func (sh *shard) put(key, value []byte) error {
	h := sh.table.getUniqueOrCreate(key)
	defer h.Unlock()
	return h.List().append(value, sh.store, sh.arena)
}

// get collects every valid value for key into a slice of owned copies
// (the caller-facing Map.Get contract, unlike the borrowed-bytes iterator
// contract spec.md §9 documents for the lower-level Iterator type).
func (sh *shard) get(key []byte) ([][]byte, error) {
	sh.store.adviseAccessPattern(platform.Random)
	h := sh.table.getShared(key)
	if h == nil {
		return nil, nil
	}
	defer h.Unlock()

	it, err := h.List().iterator(sh.store, false)
	if err != nil {
		return nil, err
	}
	defer it.close()

	out := make([][]byte, 0, it.available())
	for it.hasNext() {
		v, err := it.next()
		if err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

func (sh *shard) contains(key []byte) bool {
	h := sh.table.getShared(key)
	if h == nil {
		return false
	}
	defer h.Unlock()
	return h.List().head.numValuesValid() > 0
}

func (sh *shard) removeKey(key []byte) bool {
	return sh.table.removeKey(key)
}

// removeValue deletes values matching pred, stopping after the first match
// when all is false (spec.md §6 remove_value[first|all], SUPPLEMENTED
// FEATURES #4).
func (sh *shard) removeValue(key []byte, pred func([]byte) bool, all bool) (int, error) {
	h := sh.table.getUnique(key)
	if h == nil {
		return 0, nil
	}
	defer h.Unlock()

	it, err := h.List().iterator(sh.store, true)
	if err != nil {
		return 0, err
	}
	defer it.close()

	n := 0
	for it.hasNext() {
		v, err := it.next()
		if err != nil {
			return n, err
		}
		if pred(v) {
			if err := it.markCurrentDeleted(); err != nil {
				return n, err
			}
			n++
			if !all {
				break
			}
		}
	}
	return n, nil
}

// replaceValue rewrites values matching pred with fn(value): the old entry
// is marked deleted and the replacement is appended to the list (List has
// no in-place resize, so a replacement is always add + delete), stopping
// after the first match when all is false (spec.md §6 replace_value,
// SUPPLEMENTED FEATURES #4).
func (sh *shard) replaceValue(key []byte, pred func([]byte) bool, fn func([]byte) []byte, all bool) (int, error) {
	h := sh.table.getUnique(key)
	if h == nil {
		return 0, nil
	}
	defer h.Unlock()

	it, err := h.List().iterator(sh.store, true)
	if err != nil {
		return 0, err
	}

	n := 0
	var toAppend [][]byte
	for it.hasNext() {
		v, err := it.next()
		if err != nil {
			it.close()
			return n, err
		}
		if pred(v) {
			toAppend = append(toAppend, append([]byte(nil), fn(v)...))
			if err := it.markCurrentDeleted(); err != nil {
				it.close()
				return n, err
			}
			n++
			if !all {
				break
			}
		}
	}
	if err := it.close(); err != nil {
		return n, err
	}

	for _, v := range toAppend {
		if err := h.List().append(v, sh.store, sh.arena); err != nil {
			return n, err
		}
	}
	return n, nil
}

// forEachValue calls f(value) for every valid value under key, under a
// shared list lock held for the whole walk.
func (sh *shard) forEachValue(key []byte, f func([]byte) error) error {
	h := sh.table.getShared(key)
	if h == nil {
		return nil
	}
	defer h.Unlock()

	it, err := h.List().iterator(sh.store, false)
	if err != nil {
		return err
	}
	defer it.close()

	for it.hasNext() {
		v, err := it.next()
		if err != nil {
			return err
		}
		if err := f(v); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shard) forEachKey(f func(key []byte) error) error {
	return sh.table.forEachKey(f)
}

// forEachEntry iterates every key's values, acquiring one shared per-list
// lock at a time (spec.md §4.8, §5). A full scan reads blocks roughly in
// store order, so it hints the kernel accordingly (spec.md §4.4
// advise_access_pattern).
func (sh *shard) forEachEntry(f func(key []byte, value []byte) error) error {
	sh.store.adviseAccessPattern(platform.Sequential)
	return sh.table.forEachEntry(func(key []byte, l *list) error {
		it, err := l.iterator(sh.store, false)
		if err != nil {
			return err
		}
		defer it.close()
		for it.hasNext() {
			v, err := it.next()
			if err != nil {
				return err
			}
			if err := f(key, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (sh *shard) flush() error {
	return sh.store.flush()
}

func (sh *shard) close() error {
	if !sh.store.readonly {
		if err := sh.table.close(sh.keysPath, sh.store); err != nil {
			sh.store.close()
			return err
		}
	}
	return sh.store.close()
}
