package allocator

import (
	"path/filepath"
	"testing"

	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

func TestAllocateIsMonotonicWhenFreeListEmpty(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "test.idx"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 10; i++ {
		id := a.Allocate()
		if id != pageid.PageID(i) {
			t.Fatalf("Allocate() = %v, want %v", id, i)
		}
	}
}

func TestDeallocateReusesLIFO(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "test.idx"))
	if err != nil {
		t.Fatal(err)
	}

	id1 := a.Allocate()
	id2 := a.Allocate()
	id3 := a.Allocate()

	a.Deallocate(id2)
	a.Deallocate(id3)

	// LIFO: id3 comes back before id2
	if got := a.Allocate(); got != id3 {
		t.Fatalf("Allocate() = %v, want %v (LIFO)", got, id3)
	}
	if got := a.Allocate(); got != id2 {
		t.Fatalf("Allocate() = %v, want %v (LIFO)", got, id2)
	}

	// free list exhausted, falls back to capacity+1
	if got := a.Allocate(); got != id1+3 {
		t.Fatalf("Allocate() = %v, want %v", got, id1+3)
	}
}

func TestCloseThenOpenPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.idx")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		a.Allocate()
	}
	reused := a.Allocate()
	a.Deallocate(reused)

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := reopened.Allocate(); got != reused {
		t.Fatalf("Allocate() after reopen = %v, want %v", got, reused)
	}
	if got := reopened.Allocate(); got != 7 {
		t.Fatalf("Allocate() after reopen = %v, want 7", got)
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "does-not-exist.idx"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Capacity() != 0 {
		t.Fatalf("Capacity() = %v, want 0", a.Capacity())
	}
	if got := a.Allocate(); got != 1 {
		t.Fatalf("Allocate() = %v, want 1", got)
	}
}
