package multimap

// arena is a bump allocator over a sequence of geometrically growing
// chunks (spec.md §4.1). It owns the byte regions backing keys inserted
// into a Table, so the Table's key->List map can key by byte slice
// without a per-entry heap allocation and without those slices being
// invalidated by growth (unlike append-growing a single []byte, a new
// chunk never moves the bytes of an earlier chunk).
type arena struct {
	chunks   [][]byte // chunks[i][:len] is in use; allocations extend the last chunk's len toward its cap
	chunkCap int
}

const (
	arenaInitialChunkSize = 4096
	arenaMaxChunkSize     = 4 << 20 // cap on the 2x growth below
)

func newArena() *arena {
	return &arena{chunkCap: arenaInitialChunkSize}
}

// allocate returns a zeroed n-length, n-capacity slice backed by arena memory.
// The returned region is stable: it is never moved or reused for as long
// as the arena lives.
func (a *arena) allocate(n int) []byte {
	if n == 0 {
		return nil
	}
	if len(a.chunks) > 0 {
		tail := a.chunks[len(a.chunks)-1]
		if free := cap(tail) - len(tail); free >= n {
			off := len(tail)
			a.chunks[len(a.chunks)-1] = tail[:off+n]
			return a.chunks[len(a.chunks)-1][off : off+n : off+n]
		}
	}

	size := a.chunkCap
	if n > size {
		size = n
	}
	chunk := make([]byte, n, size)
	a.chunks = append(a.chunks, chunk)

	if a.chunkCap < arenaMaxChunkSize {
		a.chunkCap *= 2
		if a.chunkCap > arenaMaxChunkSize {
			a.chunkCap = arenaMaxChunkSize
		}
	}
	return chunk[:n:n]
}

// clone copies b into a new arena-owned region and returns it.
func (a *arena) clone(b []byte) []byte {
	dst := a.allocate(len(b))
	copy(dst, b)
	return dst
}

// bytesAllocated reports the total capacity of all chunks, for Stats.
func (a *arena) bytesAllocated() int {
	total := 0
	for _, c := range a.chunks {
		total += cap(c)
	}
	return total
}
