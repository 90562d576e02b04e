package bptree

import "testing"

func entry(k string, v int64) Entry {
	key, err := NewKey(k)
	if err != nil {
		panic(err)
	}
	return Entry{Key: key, Value: ValueFromInt64(v)}
}

func TestLeafInsertFindRemove(t *testing.T) {
	data := make([]byte, 4096)
	l := InitLeaf(data, 4096)

	entries := []Entry{entry("Dune", 1), entry("CppPrimer", 2), entry("FlowersForAlgernon", 3)}
	for _, e := range entries {
		idx, exact := l.Find(e)
		if exact {
			t.Fatalf("unexpected exact match for %v", e)
		}
		l.InsertAt(idx, e)
	}

	if l.Size() != 3 {
		t.Fatalf("size = %d, want 3", l.Size())
	}

	want := []string{"CppPrimer", "Dune", "FlowersForAlgernon"}
	for i, w := range want {
		if got := l.EntryAt(i).Key.String(); got != w {
			t.Fatalf("entry %d = %q, want %q", i, got, w)
		}
	}

	idx, exact := l.Find(entry("Dune", 1))
	if !exact {
		t.Fatal("expected exact match for Dune")
	}
	l.RemoveAt(idx)
	if l.Size() != 2 {
		t.Fatalf("size after remove = %d, want 2", l.Size())
	}
	if _, exact := l.Find(entry("Dune", 1)); exact {
		t.Fatal("Dune should be gone")
	}
}

func TestLeafSplitAndMerge(t *testing.T) {
	pageSize := uint32(4096)
	leftData := make([]byte, pageSize)
	rightData := make([]byte, pageSize)
	left := InitLeaf(leftData, pageSize)
	right := InitLeaf(rightData, pageSize)

	cap := LeafCapacity(pageSize)
	for i := 0; i < cap; i++ {
		e := entry(keyForIndex(i), int64(i))
		idx, _ := left.Find(e)
		left.InsertAt(idx, e)
	}
	left.SetRightSibling(999)

	sep := left.Split(right)
	if left.Size()+right.Size() != cap {
		t.Fatalf("split lost entries: %d + %d != %d", left.Size(), right.Size(), cap)
	}
	if CompareEntries(sep, right.EntryAt(0)) != 0 {
		t.Fatal("separator must equal right's first entry")
	}
	if right.RightSibling() != 999 {
		t.Fatal("split must carry over the right sibling link")
	}

	totalBefore := left.Size() + right.Size()
	left.Merge(right)
	if left.Size() != totalBefore {
		t.Fatalf("merge lost entries: got %d, want %d", left.Size(), totalBefore)
	}
}

func TestInternalLocateChild(t *testing.T) {
	pageSize := uint32(4096)
	data := make([]byte, pageSize)
	n := InitInternal(data, pageSize)

	n.InsertAt(0, entry("", 0), 10)
	n.InsertAt(1, entry("CppPrimer", 0), 20)
	n.InsertAt(2, entry("FlowersForAlgernon", 0), 30)

	_, child := n.LocateChild(entry("Dune", 5))
	if child != 20 {
		t.Fatalf("LocateChild(Dune) = %d, want 20", child)
	}

	_, child = n.LocateChild(entry("Zoo", 0))
	if child != 30 {
		t.Fatalf("LocateChild(Zoo) = %d, want 30", child)
	}
}

func keyForIndex(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	s := make([]byte, 4)
	for j := range s {
		s[j] = alphabet[(i>>(j*4))%len(alphabet)]
	}
	return string(s)
}
