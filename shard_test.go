package multimap

import (
	"log/slog"
	"strconv"
	"testing"
)

func openTestShard(t *testing.T, blockSize, bufferBytes int) *shard {
	t.Helper()
	dir := t.TempDir()
	sh, err := openShard(dir, 0, Options{
		BlockSize:       blockSize,
		BufferBytes:     bufferBytes,
		CreateIfMissing: true,
	}, slog.Default())
	if err != nil {
		t.Fatalf("openShard: %v", err)
	}
	t.Cleanup(func() { sh.close() })
	return sh
}

func TestShard_PutThenGet(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	for i := 0; i < 10; i++ {
		if err := sh.put([]byte("k"), []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	vals, err := sh.get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(vals) != 10 {
		t.Fatalf("get returned %d values, wanted 10", len(vals))
	}
	for i, v := range vals {
		if string(v) != strconv.Itoa(i) {
			t.Fatalf("value %d = %q, wanted %q", i, v, strconv.Itoa(i))
		}
	}
}

func TestShard_GetOnAbsentKey(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	vals, err := sh.get([]byte("nope"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vals != nil {
		t.Fatalf("get on absent key = %v, wanted nil", vals)
	}
}

func TestShard_Contains(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	if sh.contains([]byte("k")) {
		t.Fatalf("contains before put: wanted false")
	}
	if err := sh.put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !sh.contains([]byte("k")) {
		t.Fatalf("contains after put: wanted true")
	}
}

func TestShard_RemoveValueEvery23rd(t *testing.T) {
	sh := openTestShard(t, 128, 128*4)
	const n = 1000
	for i := 0; i < n; i++ {
		if err := sh.put([]byte("k"), []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	removed, err := sh.removeValue([]byte("k"), func(v []byte) bool {
		i, err := strconv.Atoi(string(v))
		return err == nil && i%23 == 0
	}, true)
	if err != nil {
		t.Fatalf("removeValue: %v", err)
	}
	if removed != 44 {
		t.Fatalf("removed %d values, wanted 44", removed)
	}

	vals, err := sh.get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(vals) != n-44 {
		t.Fatalf("get returned %d values, wanted %d", len(vals), n-44)
	}
	for _, v := range vals {
		i, err := strconv.Atoi(string(v))
		if err != nil {
			t.Fatalf("unexpected value %q", v)
		}
		if i%23 == 0 {
			t.Fatalf("value %d should have been removed", i)
		}
	}

	h := sh.table.getShared([]byte("k"))
	defer h.Unlock()
	if h.List().head.numValuesRemoved != 44 {
		t.Fatalf("numValuesRemoved = %d, wanted 44", h.List().head.numValuesRemoved)
	}
	if h.List().head.numValuesTotal != n {
		t.Fatalf("numValuesTotal = %d, wanted %d", h.List().head.numValuesTotal, n)
	}
}

func TestShard_RemoveFirstStopsAtOneMatch(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	for _, v := range []string{"a", "b", "a", "b"} {
		if err := sh.put([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	n, err := sh.removeValue([]byte("k"), func(v []byte) bool { return string(v) == "a" }, false)
	if err != nil {
		t.Fatalf("removeValue: %v", err)
	}
	if n != 1 {
		t.Fatalf("removeValue first = %d, wanted 1", n)
	}
	vals, err := sh.get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := make([]string, len(vals))
	for i, v := range vals {
		got[i] = string(v)
	}
	want := []string{"b", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("get = %v, wanted %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("get = %v, wanted %v", got, want)
		}
	}
}

func TestShard_ReplaceAll(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	for _, v := range []string{"a", "b", "a"} {
		if err := sh.put([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	n, err := sh.replaceValue([]byte("k"), func(v []byte) bool { return string(v) == "a" },
		func(v []byte) []byte { return []byte("z") }, true)
	if err != nil {
		t.Fatalf("replaceValue: %v", err)
	}
	if n != 2 {
		t.Fatalf("replaceValue all = %d, wanted 2", n)
	}
	vals, err := sh.get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var zCount, bCount int
	for _, v := range vals {
		switch string(v) {
		case "z":
			zCount++
		case "b":
			bCount++
		}
	}
	if zCount != 2 || bCount != 1 {
		t.Fatalf("get = %q, wanted two z's and one b", vals)
	}
}

func TestShard_RemoveKey(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	if err := sh.put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !sh.removeKey([]byte("k")) {
		t.Fatalf("removeKey: wanted true")
	}
	if sh.contains([]byte("k")) {
		t.Fatalf("contains after removeKey: wanted false")
	}
}

func TestShard_ForEachEntry(t *testing.T) {
	sh := openTestShard(t, 512, 512*4)
	want := map[string][]string{
		"a": {"1", "2"},
		"b": {"3"},
	}
	for k, vs := range want {
		for _, v := range vs {
			if err := sh.put([]byte(k), []byte(v)); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}

	got := make(map[string][]string)
	if err := sh.forEachEntry(func(key, value []byte) error {
		got[string(key)] = append(got[string(key)], string(value))
		return nil
	}); err != nil {
		t.Fatalf("forEachEntry: %v", err)
	}

	for k, vs := range want {
		if len(got[k]) != len(vs) {
			t.Fatalf("forEachEntry[%q] = %v, wanted %v", k, got[k], vs)
		}
	}
}
