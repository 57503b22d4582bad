package storage

import (
	"testing"
)

func TestTableGetPutDelete(t *testing.T) {
	tbl := NewTable()

	if _, ok := tbl.Get("k1"); ok {
		t.Error("Expected k1 to be absent")
	}

	tbl.Put("k1", "v1")
	v, ok := tbl.Get("k1")
	if !ok || v != "v1" {
		t.Errorf("Expected ('v1', true), got (%q, %v)", v, ok)
	}

	tbl.Put("k1", "v2")
	v, _ = tbl.Get("k1")
	if v != "v2" {
		t.Errorf("Expected overwrite to 'v2', got %q", v)
	}

	tbl.Delete("k1")
	if _, ok := tbl.Get("k1"); ok {
		t.Error("Expected k1 to be deleted")
	}

	// Idempotent delete
	tbl.Delete("k1")
	if tbl.Len() != 0 {
		t.Errorf("Expected empty table, got %d entries", tbl.Len())
	}
}

func TestLockAcquireConflict(t *testing.T) {
	lt := NewLockTable()

	ok, _ := lt.Acquire("z", "tx-a")
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	ok, owner := lt.Acquire("z", "tx-b")
	if ok {
		t.Error("Expected conflicting acquire to fail")
	}
	if owner != "tx-a" {
		t.Errorf("Expected owner 'tx-a', got %q", owner)
	}
}

func TestLockReacquireIdempotent(t *testing.T) {
	lt := NewLockTable()

	for i := 0; i < 2; i++ {
		ok, _ := lt.Acquire("z", "tx-a")
		if !ok {
			t.Fatalf("Expected re-acquire %d by owner to succeed", i)
		}
	}
	if lt.Len() != 1 {
		t.Errorf("Expected 1 locked key, got %d", lt.Len())
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	lt := NewLockTable()
	lt.Acquire("z", "tx-a")

	// Release by a non-owner must not free the lock
	lt.Release("z", "tx-b")
	if owner, held := lt.Owner("z"); !held || owner != "tx-a" {
		t.Errorf("Expected z still owned by tx-a, got (%q, %v)", owner, held)
	}

	lt.Release("z", "tx-a")
	if _, held := lt.Owner("z"); held {
		t.Error("Expected z to be unlocked")
	}

	// Releasing an unlocked key is a no-op
	lt.Release("z", "tx-a")
}

func TestHeldBy(t *testing.T) {
	lt := NewLockTable()
	lt.Acquire("a", "tx-1")
	lt.Acquire("b", "tx-1")
	lt.Acquire("c", "tx-2")

	held := lt.HeldBy("tx-1")
	if len(held) != 2 {
		t.Errorf("Expected tx-1 to hold 2 keys, got %v", held)
	}
	for _, k := range held {
		if k != "a" && k != "b" {
			t.Errorf("Unexpected held key %q", k)
		}
	}
}
