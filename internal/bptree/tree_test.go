package bptree

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0xd34d10cc/bltreedb/internal/buffer"
	"github.com/0xd34d10cc/bltreedb/internal/diskio"
	"github.com/0xd34d10cc/bltreedb/internal/scheduler"
)

// smallPageSize keeps per-node capacity low (a handful of entries) so
// that ordinary test-sized inserts exercise splits and merges without
// needing tens of thousands of keys.
const smallPageSize = 512

type memoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func (s *memoryStorage) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int64(len(s.data)) >= size {
		s.data = s.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, s.data)
	s.data = grown
	return nil
}

func (s *memoryStorage) ReadAt(buf []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off+int64(len(buf)) > int64(len(s.data)) {
		return 0, fmt.Errorf("short read")
	}
	return copy(buf, s.data[off:]), nil
}

func (s *memoryStorage) WriteAt(buf []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off+int64(len(buf)) > int64(len(s.data)) {
		grown := make([]byte, off+int64(len(buf)))
		copy(grown, s.data)
		s.data = grown
	}
	return copy(s.data[off:], buf), nil
}

func (s *memoryStorage) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if whence == 2 {
		return int64(len(s.data)), nil
	}
	return offset, nil
}

func (s *memoryStorage) Sync() error { return nil }

func newTestTree(t *testing.T, pageSize uint32, frameCount int) *Tree {
	t.Helper()
	dir := t.TempDir()

	pf, err := diskio.Open(&memoryStorage{}, pageSize, 64, filepath.Join(dir, "t.idx"))
	if err != nil {
		t.Fatal(err)
	}

	sched := scheduler.New(8, 4)
	t.Cleanup(func() { sched.Stop() })

	bm := buffer.New(pf, sched, frameCount, 2, pageSize, 50*time.Millisecond)
	tree, err := Open(bm, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	k, err := NewKey(s)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// TestInsertSearchWorkedExample mirrors spec §8 scenario 1.
func TestInsertSearchWorkedExample(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 64)

	books := map[string]int64{
		"FlowersForAlgernon": 1966,
		"CppPrimer":          2012,
		"Dune":               1965,
	}

	for title, year := range books {
		ok, err := tree.Insert(mustKey(t, title), ValueFromInt64(year))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("Insert(%q) = false, want true", title)
		}
	}

	for title, year := range books {
		values, err := tree.Search(mustKey(t, title))
		if err != nil {
			t.Fatal(err)
		}
		if len(values) != 1 || values[0].Int64() != year {
			t.Fatalf("Search(%q) = %v, want [%d]", title, values, year)
		}
	}

	if values, err := tree.Search(mustKey(t, "Nonexistent")); err != nil || len(values) != 0 {
		t.Fatalf("Search(Nonexistent) = %v, %v, want empty, nil", values, err)
	}
}

func TestInsertDuplicateKeyIsMultiValued(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 64)
	key := mustKey(t, "Dune")

	for i := int64(0); i < 5; i++ {
		ok, err := tree.Insert(key, ValueFromInt64(i))
		if err != nil || !ok {
			t.Fatalf("Insert #%d: ok=%v err=%v", i, ok, err)
		}
	}

	// re-inserting an existing (key, value) pair must fail.
	if ok, err := tree.Insert(key, ValueFromInt64(2)); err != nil || ok {
		t.Fatalf("duplicate Insert: ok=%v err=%v, want false, nil", ok, err)
	}

	values, err := tree.Search(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 5 {
		t.Fatalf("Search returned %d values, want 5", len(values))
	}
	seen := map[int64]bool{}
	for _, v := range values {
		seen[v.Int64()] = true
	}
	for i := int64(0); i < 5; i++ {
		if !seen[i] {
			t.Fatalf("missing value %d", i)
		}
	}
}

func TestRemoveThenSearchAbsent(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 64)
	key := mustKey(t, "Dune")
	val := ValueFromInt64(1965)

	if ok, err := tree.Insert(key, val); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if ok, err := tree.Remove(key, val); err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	if ok, err := tree.Remove(key, val); err != nil || ok {
		t.Fatalf("second Remove: ok=%v err=%v, want false, nil", ok, err)
	}

	values, err := tree.Search(key)
	if err != nil || len(values) != 0 {
		t.Fatalf("Search after Remove = %v, %v, want empty, nil", values, err)
	}
}

// TestMassInsertSearchRemove drives enough single-valued keys through
// the tree to force repeated splits and, on the way back out, repeated
// merges and redistributions, then checks every key is exactly where
// it should be throughout.
func TestMassInsertSearchRemove(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 256)
	const n = 2000

	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		keys[i] = mustKey(t, fmt.Sprintf("key-%06d", i))
		ok, err := tree.Insert(keys[i], ValueFromInt64(int64(i)))
		if err != nil || !ok {
			t.Fatalf("Insert #%d: ok=%v err=%v", i, ok, err)
		}
	}

	for i := 0; i < n; i++ {
		values, err := tree.Search(keys[i])
		if err != nil {
			t.Fatalf("Search #%d: %v", i, err)
		}
		if len(values) != 1 || values[0].Int64() != int64(i) {
			t.Fatalf("Search #%d = %v, want [%d]", i, values, i)
		}
	}

	// remove every other key, forcing merges/redistributions, and
	// confirm survivors are untouched.
	for i := 0; i < n; i += 2 {
		ok, err := tree.Remove(keys[i], ValueFromInt64(int64(i)))
		if err != nil || !ok {
			t.Fatalf("Remove #%d: ok=%v err=%v", i, ok, err)
		}
	}

	for i := 0; i < n; i++ {
		values, err := tree.Search(keys[i])
		if err != nil {
			t.Fatalf("Search after removal #%d: %v", i, err)
		}
		if i%2 == 0 {
			if len(values) != 0 {
				t.Fatalf("key #%d should be gone, got %v", i, values)
			}
		} else if len(values) != 1 || values[0].Int64() != int64(i) {
			t.Fatalf("surviving key #%d = %v, want [%d]", i, values, i)
		}
	}
}

// TestConcurrentInsertSearch mirrors the spirit of the original
// implementation's concurrent stress test: many goroutines inserting
// disjoint keys at once, then a search for every key after they have
// all finished, each landing correctly.
func TestConcurrentInsertSearch(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 128)
	const perWorker = 200
	const workers = 8

	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				k := mustKey(t, fmt.Sprintf("w%02d-%05d", w, i))
				ok, err := tree.Insert(k, ValueFromInt64(int64(w*perWorker+i)))
				if err != nil {
					errCh <- err
					return
				}
				if !ok {
					errCh <- fmt.Errorf("worker %d: insert %d rejected", w, i)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			k := mustKey(t, fmt.Sprintf("w%02d-%05d", w, i))
			values, err := tree.Search(k)
			if err != nil {
				t.Fatal(err)
			}
			want := int64(w*perWorker + i)
			if len(values) != 1 || values[0].Int64() != want {
				t.Fatalf("Search(%v) = %v, want [%d]", k, values, want)
			}
		}
	}
}

func TestRemoveToEmptyRoot(t *testing.T) {
	tree := newTestTree(t, smallPageSize, 16)
	key := mustKey(t, "solo")
	val := ValueFromInt64(42)

	if ok, err := tree.Insert(key, val); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	if ok, err := tree.Remove(key, val); err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}

	values, err := tree.Search(key)
	if err != nil || len(values) != 0 {
		t.Fatalf("Search after emptying root = %v, %v", values, err)
	}

	// the tree must still accept further inserts after the root has
	// been emptied down to zero entries.
	if ok, err := tree.Insert(key, val); err != nil || !ok {
		t.Fatalf("Insert after empty root: ok=%v err=%v", ok, err)
	}
}
