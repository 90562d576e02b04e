package bltreedb

import (
	"path/filepath"
	"testing"
)

func smallOptions() Options {
	return Options{
		PageSize:            512,
		FrameCount:          64,
		K:                   2,
		WorkerThreads:       4,
		TaskGroups:          8,
		PoolOverflowTimeout: 0,
		HeaderSize:          64,
	}
}

// TestWorkedExample mirrors spec §8 scenario 1 end to end through the
// public API, backed by a real file on disk.
func TestWorkedExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")

	tree, err := Open(path, smallOptions())
	if err != nil {
		t.Fatal(err)
	}

	books := map[string]int64{
		"FlowersForAlgernon": 1966,
		"CppPrimer":          2012,
		"Dune":               1965,
	}
	for title, year := range books {
		key, err := NewKey(title)
		if err != nil {
			t.Fatal(err)
		}
		ok, err := tree.Insert(key, ValueFromInt64(year))
		if err != nil || !ok {
			t.Fatalf("Insert(%q): ok=%v err=%v", title, ok, err)
		}
	}

	for title, year := range books {
		key, err := NewKey(title)
		if err != nil {
			t.Fatal(err)
		}
		values, err := tree.Search(key)
		if err != nil {
			t.Fatal(err)
		}
		if len(values) != 1 || values[0].Int64() != year {
			t.Fatalf("Search(%q) = %v, want [%d]", title, values, year)
		}
	}

	if err := tree.Close(); err != nil {
		t.Fatal(err)
	}
}

// TestReopenPreservesData mirrors spec §8's close-then-reopen
// round-trip property.
func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	opts := smallOptions()

	tree, err := Open(path, opts)
	if err != nil {
		t.Fatal(err)
	}

	key, err := NewKey("Dune")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := tree.Insert(key, ValueFromInt64(1965)); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if err := tree.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	values, err := reopened.Search(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 1 || values[0].Int64() != 1965 {
		t.Fatalf("Search after reopen = %v, want [1965]", values)
	}
}

// TestCloseIsIdempotent mirrors the guard-unwind error-handling note
// in spec §7.
func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.db")
	tree, err := Open(path, smallOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tree.Close(); err != nil {
		t.Fatal(err)
	}
}
