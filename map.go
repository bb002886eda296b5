package multimap

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/multimapdb/multimap/platform"
)

// Map is the façade: it opens N independently locked Shards under one
// directory and routes each key to exactly one of them by FNV-1a(key) mod N
// (spec.md §2, §4.8). All public methods are safe to call concurrently
// from any number of goroutines.
type Map struct {
	dir      string
	opts     Options
	shards   []*shard
	lockFile *os.File
	closed   atomic.Bool

	mu sync.Mutex // guards nothing but serializes Close against itself
}

func idPath(dir string) string   { return filepath.Join(dir, "multimap.id") }
func lockPath(dir string) string { return filepath.Join(dir, "multimap.lock") }

// Open opens (or creates) a multimap directory per the Options given
// (spec.md §6). The returned Map holds an exclusive OS-level lock on the
// directory for its entire lifetime; opening a directory already locked
// by a live Map (in this or another process) fails with DirectoryLocked.
func Open(dir string, opt Options) (*Map, error) {
	opt = opt.norm()
	logger := opt.Logger.With("component", "multimap")

	if opt.ErrorIfExists && !opt.CreateIfMissing {
		return nil, preconditionErrf("ErrorIfExists requires CreateIfMissing")
	}

	idP := idPath(dir)
	_, statErr := os.Stat(idP)
	exists := statErr == nil
	if !exists && !opt.CreateIfMissing {
		return nil, ioErrf("stat", idP, os.ErrNotExist)
	}
	if exists && opt.ErrorIfExists {
		return nil, preconditionErrf("multimap at %s already exists", dir)
	}

	if !exists {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioErrf("mkdir", dir, err)
		}
	}

	lf, err := os.OpenFile(lockPath(dir), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ioErrf("open", lockPath(dir), err)
	}
	if err := platform.Lock(lf); err != nil {
		lf.Close()
		if err == platform.ErrLocked {
			return nil, ErrDirectoryLocked
		}
		return nil, ioErrf("flock", lockPath(dir), err)
	}

	m, err := openLocked(dir, opt, exists, logger, lf)
	if err != nil {
		platform.Unlock(lf)
		lf.Close()
		return nil, err
	}
	return m, nil
}

func openLocked(dir string, opt Options, exists bool, logger *slog.Logger, lf *os.File) (*Map, error) {
	var id idFile
	if exists {
		var err error
		id, err = readIDFile(idPath(dir))
		if err != nil {
			return nil, err
		}
		if err := id.checkVersion(idPath(dir)); err != nil {
			return nil, err
		}
		opt.NumPartitions = int(id.NumPartitions)
		opt.BlockSize = int(id.BlockSize)
	} else {
		id = idFile{
			BlockSize:     uint64(opt.BlockSize),
			NumPartitions: uint64(opt.NumPartitions),
			MajorVersion:  majorVersion,
			MinorVersion:  minorVersion,
		}
		if err := writeIDFile(idPath(dir), id); err != nil {
			return nil, err
		}
	}

	shardOpt := opt
	shardOpt.CreateIfMissing = !exists || opt.CreateIfMissing
	shardOpt.ErrorIfExists = false

	shards := make([]*shard, opt.NumPartitions)
	for i := range shards {
		sh, err := openShard(dir, i, shardOpt, logger)
		if err != nil {
			for _, prev := range shards[:i] {
				if prev != nil {
					prev.close()
				}
			}
			return nil, err
		}
		shards[i] = sh
	}

	if !opt.Quiet {
		logger.Log(context.Background(), opt.logLevel(), "multimap opened",
			"dir", dir, "partitions", opt.NumPartitions, "block_size", opt.BlockSize, "readonly", opt.Readonly)
	}

	return &Map{
		dir:      dir,
		opts:     opt,
		shards:   shards,
		lockFile: lf,
	}, nil
}

// shardIndex hashes key with FNV-1a and reduces mod the shard count
// (spec.md §4.8). Stable across runs for the same key and partition count
// (spec.md §8 "Sharding determinism").
func (m *Map) shardIndex(key []byte) int {
	h := fnv.New64a()
	h.Write(key)
	return int(h.Sum64() % uint64(len(m.shards)))
}

func (m *Map) shardFor(key []byte) *shard {
	return m.shards[m.shardIndex(key)]
}

func (m *Map) checkOpen() error {
	if m.closed.Load() {
		return preconditionErrf("operation on a closed Map")
	}
	return nil
}

func (m *Map) checkWritable() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if m.opts.Readonly {
		return ErrReadOnly
	}
	return nil
}

func (m *Map) checkKey(key []byte) error {
	if len(key) > maxKeySize {
		return &KeyTooLargeError{Size: len(key)}
	}
	return nil
}

// Put appends value to key's list, creating the list if this is the first
// value for key (spec.md §6 put).
func (m *Map) Put(key, value []byte) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := m.checkKey(key); err != nil {
		return err
	}
	return m.shardFor(key).put(key, value)
}

// Get returns every value currently associated with key, in append order
// with deleted values omitted, or nil if key is absent (spec.md §6 get).
func (m *Map) Get(key []byte) ([][]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.shardFor(key).get(key)
}

// Contains reports whether key has at least one valid value.
func (m *Map) Contains(key []byte) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	return m.shardFor(key).contains(key), nil
}

// RemoveKey deletes key's entire list, reporting whether it existed
// (spec.md §6 remove_key).
func (m *Map) RemoveKey(key []byte) (bool, error) {
	if err := m.checkWritable(); err != nil {
		return false, err
	}
	return m.shardFor(key).removeKey(key), nil
}

// RemoveFirst marks the first value under key matching pred as deleted,
// reporting whether anything matched (spec.md §6 remove_value[first],
// SUPPLEMENTED FEATURES #4).
func (m *Map) RemoveFirst(key []byte, pred func([]byte) bool) (bool, error) {
	if err := m.checkWritable(); err != nil {
		return false, err
	}
	n, err := m.shardFor(key).removeValue(key, pred, false)
	return n > 0, err
}

// RemoveAll marks every value under key matching pred as deleted,
// returning the count removed (spec.md §6 remove_value[all]).
func (m *Map) RemoveAll(key []byte, pred func([]byte) bool) (int, error) {
	if err := m.checkWritable(); err != nil {
		return 0, err
	}
	return m.shardFor(key).removeValue(key, pred, true)
}

// ReplaceFirst replaces the first value under key matching pred with
// fn(value), reporting whether anything matched (spec.md §6
// replace_value[first]).
func (m *Map) ReplaceFirst(key []byte, pred func([]byte) bool, fn func([]byte) []byte) (bool, error) {
	if err := m.checkWritable(); err != nil {
		return false, err
	}
	n, err := m.shardFor(key).replaceValue(key, pred, fn, false)
	return n > 0, err
}

// ReplaceAll replaces every value under key matching pred with fn(value),
// returning the count replaced (spec.md §6 replace_value[all]).
func (m *Map) ReplaceAll(key []byte, pred func([]byte) bool, fn func([]byte) []byte) (int, error) {
	if err := m.checkWritable(); err != nil {
		return 0, err
	}
	return m.shardFor(key).replaceValue(key, pred, fn, true)
}

// ForEachKey calls f for every key with a non-empty list, across all
// shards (spec.md §6 for_each_key).
func (m *Map) ForEachKey(f func(key []byte) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	for _, sh := range m.shards {
		if err := sh.forEachKey(f); err != nil {
			return err
		}
	}
	return nil
}

// ForEachValue calls f for every valid value under key, in order
// (spec.md §6 for_each_value).
func (m *Map) ForEachValue(key []byte, f func(value []byte) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.shardFor(key).forEachValue(key, f)
}

// ForEachEntry calls f for every (key, value) pair across every shard,
// holding at most one list lock at a time (spec.md §4.8, §5 for_each_entry).
func (m *Map) ForEachEntry(f func(key, value []byte) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	for _, sh := range m.shards {
		if err := sh.forEachEntry(f); err != nil {
			return err
		}
	}
	return nil
}

// Stats aggregates per-shard Table.get_stats() snapshots into a map-wide
// total (spec.md §4.7, SUPPLEMENTED FEATURES #3).
func (m *Map) Stats() (Stats, error) {
	if err := m.checkOpen(); err != nil {
		return Stats{}, err
	}
	s := newStats(m.opts.NumPartitions, m.opts.BlockSize)
	for _, sh := range m.shards {
		s = s.add(sh.table.getStats())
		s.ArenaBytesAllocated += int64(sh.arena.bytesAllocated())
	}
	return s, nil
}

// IsReadOnly reports whether this Map was opened with Options.Readonly
// (SUPPLEMENTED FEATURES #2).
func (m *Map) IsReadOnly() bool { return m.opts.Readonly }

// Limits reports the size constraints derived from this Map's block_size
// (SUPPLEMENTED FEATURES #1).
func (m *Map) Limits() Limits { return limitsForBlockSize(m.opts.BlockSize) }

// Flush forces every shard's write buffer to disk, without closing the
// map (spec.md §5: "callers needing [fsync] must close-then-reopen (or add
// an explicit flush at the map level)").
func (m *Map) Flush() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	for _, sh := range m.shards {
		if err := sh.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close persists every shard's Table (best-effort per spec.md §4.7 and §7
// "partial failure during close"), flushes every Store, writes a fresh
// *.stats snapshot per shard, and releases the directory lock. Close is
// idempotent; calling it twice is a no-op on the second call.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Swap(true) {
		return nil
	}

	var firstErr error
	for _, sh := range m.shards {
		if !m.opts.Readonly {
			snap := newStats(1, m.opts.BlockSize).add(sh.table.getStats())
			if err := writeStatsSnapshot(sh.statsPath, snap); err != nil {
				m.opts.Logger.Warn("multimap: failed to write stats snapshot", "shard", sh.index, "err", err)
			}
		}
		if err := sh.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := platform.Unlock(m.lockFile); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.lockFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr == nil && !m.opts.Quiet {
		m.opts.Logger.Log(context.Background(), m.opts.logLevel(), "multimap closed", "dir", m.dir)
	}
	return firstErr
}
