/*
Package multimap implements a persistent, embeddable multimap: a durable
mapping from arbitrary byte-string keys to ordered lists of arbitrary
byte-string values, built for write-heavy workloads where a single key can
accumulate millions of values and callers need to scan that list without
loading it entirely into memory.

We implement:

1. Store, a block-indexed append-only file with a bounded write buffer.

2. List, the per-key value container: a head descriptor of committed block
ids plus an in-memory tail block, with cursor-based iteration and in-place
logical deletion.

3. Table, mapping keys to Lists and arbitrating per-list locks with a
dynamically allocated mutex scheme.

4. Map, the façade that hashes keys to shards and aggregates stats.

# Technical Details

**Sharding.** Map routes keys to one of N independent Shards by
FNV-1a(key) mod N. Each Shard owns one Store, one Table and one Arena; there
is no cross-shard coordination, so independent keys in different shards
never contend on the same lock.

**Durability.** A value is durable once its containing block has been
appended to the Store and the Store's write buffer holding it has been
flushed. There is no per-Put fsync; Map.Flush (or Close) forces it.

**On-disk layout.** One id file (multimap.id, see idfile.go), one lock
file, and, per shard, a `.keys` file (the Table, see encodeTableEntry in
table.go), a `.values` file (the Store's fixed-size blocks) and a
`.stats` snapshot (see stats.go).

**Concurrency.** Lock order is: the directory lock (map lifetime), then a
Table's structural rwlock, then a single List's dynamic rwlock, then the
Store's short internal mutex. A thread holds at most one List lock at a
time.
*/
package multimap
