package multimap

import "encoding/binary"

// maxDeltaVarintLen is the "4-byte varint range" spec.md §4.2 caps each
// delta to: 4 bytes of base-128 varint gives a 28-bit payload, so the gap
// between two successive values must fit in 2^28-1.
const (
	maxDeltaVarintLen = 4
	maxDelta          = 1<<(7*maxDeltaVarintLen) - 1 // 2^28 - 1
)

// uintVector is an append-only, delta-compressed sequence of strictly
// increasing u32 values (spec.md §4.2). The wire encoding is a stream of
// varint deltas over the previous value; a redundant plain 4-byte tail of
// the last absolute value is kept only in memory so append can compute
// the next delta without re-scanning or re-unpacking.
type uintVector struct {
	payload []byte // delta varints, append order
	lastVal uint32
	hasLast bool
	count   int
}

// append adds u to the sequence. u must be strictly greater than the
// previous value (or >= 0 if this is the first append) and the gap must
// fit in maxDeltaVarintLen bytes of varint.
func (v *uintVector) append(u uint32) error {
	var delta uint64
	if v.hasLast {
		if u <= v.lastVal {
			return preconditionErrf("uintVector.append: %d is not strictly greater than previous value %d", u, v.lastVal)
		}
		delta = uint64(u) - uint64(v.lastVal)
	} else {
		delta = uint64(u)
	}
	if delta > maxDelta {
		return preconditionErrf("uintVector.append: delta %d exceeds %d-byte varint range", delta, maxDeltaVarintLen)
	}

	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], delta)
	v.payload = append(v.payload, buf[:n]...)
	v.lastVal = u
	v.hasLast = true
	v.count++
	return nil
}

// len returns the number of values appended.
func (v *uintVector) len() int { return v.count }

// unpack reconstructs the full sequence of absolute values in append
// order.
func (v *uintVector) unpack() ([]uint32, error) {
	out, err := v.unpackRaw()
	if err != nil {
		return nil, err
	}
	if len(out) != v.count {
		return nil, corruptedErrf("", 0, "uintVector payload decoded %d values, expected %d", len(out), v.count)
	}
	return out, nil
}

// serialize writes [payload_len:u32][payload bytes] to buf and returns the
// result, per spec.md §4.2 (the in-memory redundant absolute tail is
// stripped on serialize).
func (v *uintVector) serialize(buf []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v.payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, v.payload...)
	return buf
}

// deserializeUintVector reads a [payload_len:u32][payload bytes] stream
// produced by serialize and reconstructs count by unpacking the payload.
func deserializeUintVector(buf []byte) (*uintVector, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, corruptedErrf("", 0, "uintVector: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, corruptedErrf("", 0, "uintVector: truncated payload, want %d bytes, have %d", n, len(buf))
	}
	payload := buf[:n]
	rest := buf[n:]

	v := &uintVector{payload: append([]byte(nil), payload...)}
	values, err := v.unpackRaw()
	if err != nil {
		return nil, nil, err
	}
	v.count = len(values)
	if len(values) > 0 {
		v.lastVal = values[len(values)-1]
		v.hasLast = true
	}
	return v, rest, nil
}

// unpackRaw reconstructs values from payload without relying on count.
// unpack checks its result against count; deserialize uses it to
// reconstruct count itself.
func (v *uintVector) unpackRaw() ([]uint32, error) {
	out := []uint32(nil)
	buf := v.payload
	var last uint64
	first := true
	for len(buf) > 0 {
		delta, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, corruptedErrf("", int64(len(v.payload)-len(buf)), "invalid varint in uintVector payload")
		}
		buf = buf[n:]
		var cur uint64
		if first {
			cur = delta
			first = false
		} else {
			cur = last + delta
		}
		out = append(out, uint32(cur))
		last = cur
	}
	return out, nil
}
