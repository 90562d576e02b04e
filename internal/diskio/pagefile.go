// Package diskio implements the typed fixed-record paged file
// described in spec §4.2: read/write by PageID at offset H + id*P,
// grow-on-miss semantics, an optional header region, and an embedded
// allocator persisted to a sidecar file.
//
// Grounded on the teacher's pager.go (readPageAt/writePageAt/
// ensureSize) and bufferpool.go's Storage interface
// (io.ReaderAt/io.WriterAt/io.Seeker + Truncate).
package diskio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/0xd34d10cc/bltreedb/internal/allocator"
	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// Storage is the filesystem surface the paged file needs: create/
// read/write/extend a file. Matches the teacher's Storage interface
// in bufferpool.go.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	Sync() error
	Truncate(size int64) error
}

// ErrSegfault is returned on read/write of PageID 0, which is
// reserved (spec §4.2, §7).
var ErrSegfault = fmt.Errorf("diskio: access to page 0")

// PagedFile is a fixed-record on-disk store keyed by PageID. A single
// mutex serializes all positional I/O within one instance, as spec
// §4.2 requires.
type PagedFile struct {
	mu sync.Mutex

	storage  Storage
	pageSize uint32
	header   uint32 // H: header region size reserved at offset 0
	size     int64  // current file length

	alloc *allocator.Allocator
}

// Open opens (creating if needed) a paged file over storage, with
// page size pageSize and a header region of headerSize bytes. The
// allocator's sidecar state lives at idxPath.
func Open(storage Storage, pageSize, headerSize uint32, idxPath string) (*PagedFile, error) {
	size, err := storage.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("diskio: seek: %w", err)
	}

	alloc, err := allocator.Open(idxPath)
	if err != nil {
		return nil, fmt.Errorf("diskio: open allocator: %w", err)
	}

	pf := &PagedFile{
		storage:  storage,
		pageSize: pageSize,
		header:   headerSize,
		size:     size,
		alloc:    alloc,
	}

	if err := pf.ensureSize(int64(headerSize)); err != nil {
		return nil, err
	}

	return pf, nil
}

func (pf *PagedFile) offset(id pageid.PageID) int64 {
	return int64(pf.header) + int64(id)*int64(pf.pageSize)
}

// Read copies pf.pageSize bytes at the position for id into out. If
// the file is shorter than required it is first grown (zero-filled)
// per spec's "normalize read of new page to read of zeroed page."
func (pf *PagedFile) Read(id pageid.PageID, out []byte) error {
	if id == pageid.Invalid {
		return ErrSegfault
	}
	if uint32(len(out)) < pf.pageSize {
		return fmt.Errorf("diskio: Read: out buffer too small (%d < %d)", len(out), pf.pageSize)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	off := pf.offset(id)
	if err := pf.growForPage(off); err != nil {
		return err
	}

	_, err := pf.storage.ReadAt(out[:pf.pageSize], off)
	if err != nil {
		return fmt.Errorf("diskio: read page %v: %w", id, err)
	}
	return nil
}

// Write mirrors Read.
func (pf *PagedFile) Write(id pageid.PageID, in []byte) error {
	if id == pageid.Invalid {
		return ErrSegfault
	}
	if uint32(len(in)) < pf.pageSize {
		return fmt.Errorf("diskio: Write: in buffer too small (%d < %d)", len(in), pf.pageSize)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	off := pf.offset(id)
	if err := pf.growForPage(off); err != nil {
		return err
	}

	_, err := pf.storage.WriteAt(in[:pf.pageSize], off)
	if err != nil {
		return fmt.Errorf("diskio: write page %v: %w", id, err)
	}
	return nil
}

// ReadMeta reads the first len(out) bytes of the H-byte header region
// at offset 0 into out; out may be shorter than H but not longer. It
// returns ok=false iff the file was newly created (the header region
// was padded zero, never written).
func (pf *PagedFile) ReadMeta(out []byte) (ok bool, err error) {
	if pf.header == 0 {
		return false, nil
	}
	if uint32(len(out)) > pf.header {
		return false, fmt.Errorf("diskio: ReadMeta: out buffer larger than header")
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.size < int64(pf.header) {
		return false, nil
	}

	n, err := pf.storage.ReadAt(out, 0)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("diskio: read meta: %w", err)
	}

	allZero := true
	for i := 0; i < n; i++ {
		if out[i] != 0 {
			allZero = false
			break
		}
	}
	return !allZero, nil
}

// WriteMeta writes in to the start of the header region; in may be
// shorter than H but not longer.
func (pf *PagedFile) WriteMeta(in []byte) error {
	if pf.header == 0 {
		return fmt.Errorf("diskio: WriteMeta: no header configured")
	}
	if uint32(len(in)) > pf.header {
		return fmt.Errorf("diskio: WriteMeta: in buffer larger than header")
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.ensureSizeLocked(int64(pf.header)); err != nil {
		return err
	}

	_, err := pf.storage.WriteAt(in, 0)
	if err != nil {
		return fmt.Errorf("diskio: write meta: %w", err)
	}
	return nil
}

// Alloc issues a fresh stable PageID via the embedded allocator.
func (pf *PagedFile) Alloc() pageid.PageID {
	return pf.alloc.Allocate()
}

// Dealloc reclaims id for future reuse.
func (pf *PagedFile) Dealloc(id pageid.PageID) {
	pf.alloc.Deallocate(id)
}

// Close flushes the allocator's sidecar state and syncs the file.
func (pf *PagedFile) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.storage.Sync(); err != nil {
		return fmt.Errorf("diskio: sync: %w", err)
	}
	return pf.alloc.Close()
}

func (pf *PagedFile) ensureSizeLocked(required int64) error {
	if pf.size >= required {
		return nil
	}

	if err := pf.storage.Truncate(required); err != nil {
		return fmt.Errorf("diskio: truncate: %w", err)
	}
	pf.size = required
	return nil
}

// growForPage grows the file to max(2*off, off+P) if it is currently
// shorter than off+P, per spec §4.2: this avoids repeated extensions
// and normalizes "read of new page" to "read of zeroed page."
func (pf *PagedFile) growForPage(off int64) error {
	need := off + int64(pf.pageSize)
	if pf.size >= need {
		return nil
	}

	target := off * 2
	if target < need {
		target = need
	}
	return pf.ensureSizeLocked(target)
}

func (pf *PagedFile) ensureSize(required int64) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.ensureSizeLocked(required)
}

// OpenFileStorage opens path as a Storage, creating it if absent.
// Convenience wrapper mirroring the teacher's os.OpenFile call in
// table.go's NewTable.
func OpenFileStorage(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
}
