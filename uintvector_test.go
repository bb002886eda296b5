package multimap

import (
	"reflect"
	"testing"
)

func TestUintVector_AppendUnpack(t *testing.T) {
	var v uintVector
	want := []uint32{0, 1, 2, 10, 1000, 1000 + maxDelta}
	for _, u := range want {
		if err := v.append(u); err != nil {
			t.Fatalf("append(%d): %v", u, err)
		}
	}
	if v.len() != len(want) {
		t.Fatalf("len() = %d, wanted %d", v.len(), len(want))
	}
	got, err := v.unpack()
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unpack() = %v, wanted %v", got, want)
	}
}

func TestUintVector_AppendRejectsNonIncreasing(t *testing.T) {
	var v uintVector
	if err := v.append(5); err != nil {
		t.Fatalf("append(5): %v", err)
	}
	if err := v.append(5); err == nil {
		t.Fatalf("append(5) again: wanted error, got nil")
	}
	if err := v.append(3); err == nil {
		t.Fatalf("append(3) after 5: wanted error, got nil")
	}
}

func TestUintVector_AppendRejectsOversizedDelta(t *testing.T) {
	var v uintVector
	if err := v.append(0); err != nil {
		t.Fatalf("append(0): %v", err)
	}
	if err := v.append(maxDelta + 2); err == nil {
		t.Fatalf("append(maxDelta+2): wanted error, got nil")
	}
}

func TestUintVector_SerializeRoundTrip(t *testing.T) {
	var v uintVector
	want := []uint32{0, 1, 2, 100, 100000}
	for _, u := range want {
		if err := v.append(u); err != nil {
			t.Fatalf("append(%d): %v", u, err)
		}
	}

	buf := v.serialize(nil)
	v2, rest, err := deserializeUintVector(buf)
	if err != nil {
		t.Fatalf("deserializeUintVector: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %d bytes, wanted 0", len(rest))
	}
	got, err := v2.unpack()
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round-trip = %v, wanted %v", got, want)
	}
}

func TestUintVector_SerializeEmpty(t *testing.T) {
	var v uintVector
	buf := v.serialize(nil)
	v2, rest, err := deserializeUintVector(buf)
	if err != nil {
		t.Fatalf("deserializeUintVector: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %d bytes, wanted 0", len(rest))
	}
	got, err := v2.unpack()
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unpack() = %v, wanted empty", got)
	}
}

func TestUintVector_DeserializeTrailingData(t *testing.T) {
	var v uintVector
	_ = v.append(1)
	buf := v.serialize(nil)
	buf = append(buf, 0xAA, 0xBB)

	_, rest, err := deserializeUintVector(buf)
	if err != nil {
		t.Fatalf("deserializeUintVector: %v", err)
	}
	if !reflect.DeepEqual(rest, []byte{0xAA, 0xBB}) {
		t.Fatalf("rest = %x, wanted aabb", rest)
	}
}
