package platform

import (
	"os"
	"testing"
)

func TestAdviseDoesNotError(t *testing.T) {
	f, err := os.CreateTemp("", "platform_test_*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	for _, p := range []AccessPattern{Normal, Sequential, Random} {
		if err := Advise(f, p); err != nil {
			t.Fatalf("Advise(%v): %v", p, err)
		}
	}
}

func TestFdatasync(t *testing.T) {
	f, err := os.CreateTemp("", "platform_test_*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Fdatasync(f); err != nil {
		t.Fatalf("Fdatasync: %v", err)
	}
}

func TestLockExcludesSecondHandle(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/lock"

	f1, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f1.Close()
	if err := Lock(f1); err != nil {
		t.Fatalf("Lock(f1): %v", err)
	}
	defer Unlock(f1)

	f2, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f2.Close()
	if err := Lock(f2); err == nil {
		t.Fatalf("Lock(f2) = nil, wanted ErrLocked")
	}

	if err := Unlock(f1); err != nil {
		t.Fatalf("Unlock(f1): %v", err)
	}
	if err := Lock(f2); err != nil {
		t.Fatalf("Lock(f2) after unlock: %v", err)
	}
	Unlock(f2)
}
