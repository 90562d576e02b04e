// Package allocator implements the stable, persistent PageID
// allocator described in spec §4.1: a monotonic capacity counter plus
// a LIFO free list, persisted to a sidecar file alongside the paged
// file it serves.
//
// Grounded on the teacher's AllocationIndex (pager.go), generalized
// from a single-page bitmap (which cannot express LIFO reuse order)
// to the capacity+free-list encoding spec §6 requires:
// [capacity: u64][free_count: u64][free_ids: u64 * free_count].
package allocator

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// Allocator issues and reclaims PageIDs. A single mutex serializes
// all operations, matching spec's "thread-safety: a single mutex
// serializes all operations."
type Allocator struct {
	mu       sync.Mutex
	path     string
	capacity uint64
	free     []pageid.PageID // LIFO: free[len-1] is popped next
}

// Open parses capacity and the free list from the sidecar file at
// path, creating an empty one if absent.
func Open(path string) (*Allocator, error) {
	a := &Allocator{path: path}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("allocator: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var capacity, freeCount uint64
	if err := binary.Read(r, binary.LittleEndian, &capacity); err != nil {
		if err == io.EOF {
			// empty file: nothing has been persisted yet
			return a, nil
		}
		return nil, fmt.Errorf("allocator: read capacity: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &freeCount); err != nil {
		return nil, fmt.Errorf("allocator: read free count: %w", err)
	}

	free := make([]pageid.PageID, freeCount)
	for i := range free {
		var id uint64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("allocator: read free id %d: %w", i, err)
		}
		free[i] = pageid.PageID(id)
	}

	a.capacity = capacity
	a.free = free
	return a, nil
}

// Allocate returns the next stable PageID: a previously deallocated
// id if one is available (LIFO reuse), otherwise capacity+1.
func (a *Allocator) Allocate() pageid.PageID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}

	a.capacity++
	return pageid.PageID(a.capacity)
}

// Deallocate pushes id onto the free list for future reuse.
// Double-free is not detected; the caller is responsible.
func (a *Allocator) Deallocate(id pageid.PageID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, id)
}

// Capacity returns the highest id ever issued.
func (a *Allocator) Capacity() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capacity
}

// Close writes capacity, the free-list length, then the free ids, and
// syncs the sidecar file.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("allocator: create %s: %w", a.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, a.capacity); err != nil {
		return fmt.Errorf("allocator: write capacity: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(a.free))); err != nil {
		return fmt.Errorf("allocator: write free count: %w", err)
	}
	for _, id := range a.free {
		if err := binary.Write(w, binary.LittleEndian, uint64(id)); err != nil {
			return fmt.Errorf("allocator: write free id: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("allocator: flush: %w", err)
	}
	return f.Sync()
}
