package bptree

import (
	"encoding/binary"

	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// Node type tags, stored in the header's first byte so callers can
// discriminate a page's interpretation before viewing it, per spec
// §9 ("Polymorphic page contents").
const (
	TypeInternal byte = 0
	TypeLeaf     byte = 1
)

// Header layout, shared by both node variants (spec §4.6: "Two node
// variants share a base with fields { type, max_size, size,
// is_root }"):
//
//	offset 0:  type        (1 byte)
//	offset 1:  is_root     (1 byte, 0/1)
//	offset 2:  size        (2 bytes, uint16, number of entries)
//	offset 4:  max_size    (2 bytes, uint16, C)
//	offset 6:  padding     (2 bytes)
//	offset 8:  rightSibling(8 bytes, uint64 PageID; leaf-only, unused by internal nodes)
const (
	headerSize      = 16
	offType         = 0
	offIsRoot       = 1
	offSize         = 2
	offMaxSize      = 4
	offRightSibling = 8

	internalEntrySize = KeySize + ValueSize + 8 // (key, value, childPageID)
	leafEntrySize     = KeySize + ValueSize     // (key, value)
)

func readType(data []byte) byte { return data[offType] }

func isRoot(data []byte) bool { return data[offIsRoot] != 0 }

func setIsRoot(data []byte, v bool) {
	if v {
		data[offIsRoot] = 1
	} else {
		data[offIsRoot] = 0
	}
}

func readSize(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[offSize:]))
}

func writeSize(data []byte, n int) {
	binary.LittleEndian.PutUint16(data[offSize:], uint16(n))
}

func readMaxSize(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[offMaxSize:]))
}

func writeMaxSize(data []byte, n int) {
	binary.LittleEndian.PutUint16(data[offMaxSize:], uint16(n))
}

func readRightSibling(data []byte) pageid.PageID {
	return pageid.PageID(binary.LittleEndian.Uint64(data[offRightSibling:]))
}

func writeRightSibling(data []byte, id pageid.PageID) {
	binary.LittleEndian.PutUint64(data[offRightSibling:], uint64(id))
}

// capacityFor computes C, the number of entries that fit in one page of
// pageSize bytes for a node carrying entries of entrySize bytes,
// after the fixed header.
func capacityFor(pageSize uint32, entrySize int) int {
	return int((int(pageSize) - headerSize) / entrySize)
}

// InternalCapacity/LeafCapacity expose capacityFor for the tree
// package's split/merge bookkeeping.
func InternalCapacity(pageSize uint32) int { return capacityFor(pageSize, internalEntrySize) }
func LeafCapacity(pageSize uint32) int     { return capacityFor(pageSize, leafEntrySize) }

// FillFactors computes max/min/mergeBound from capacity C per spec
// §4.6. Root nodes are exempt from min (callers special-case that).
func FillFactors(capacity int) (max, min, mergeBound int) {
	max = capacity - 1
	min = (capacity * 40) / 100
	mergeBound = (capacity * 90) / 100
	return
}

// Internal wraps an internal node's page bytes: a sequence of
// (key, value, childPageID) entries in ascending composite order. The
// first entry is the node's lower fence, the last its high key (spec
// §4.6).
type Internal struct {
	data []byte
}

func NewInternal(data []byte) Internal { return Internal{data: data} }

func InitInternal(data []byte, pageSize uint32) Internal {
	n := Internal{data: data}
	data[offType] = TypeInternal
	writeSize(data, 0)
	writeMaxSize(data, InternalCapacity(pageSize))
	return n
}

func (n Internal) Size() int      { return readSize(n.data) }
func (n Internal) MaxSize() int   { return readMaxSize(n.data) }
func (n Internal) IsRoot() bool   { return isRoot(n.data) }
func (n Internal) SetRoot(v bool) { setIsRoot(n.data, v) }
func (n Internal) Data() []byte   { return n.data }

func (n Internal) entryOffset(i int) int { return headerSize + i*internalEntrySize }

// ChildAt returns the PageID routed to by the entry at index i.
func (n Internal) ChildAt(i int) pageid.PageID {
	_, c := n.EntryAt(i)
	return c
}

// FenceAt returns the fence entry at index i.
func (n Internal) FenceAt(i int) Entry {
	e, _ := n.EntryAt(i)
	return e
}

// SetEntry overwrites the entry at index i in place, used to update a
// parent's separator fence after a sibling's low key changes
// (redistribute).
func (n Internal) SetEntry(i int, e Entry, child pageid.PageID) {
	n.setEntry(i, e, child)
}

// IndexOfChild returns the index of the entry routing to id, or -1.
func (n Internal) IndexOfChild(id pageid.PageID) int {
	size := n.Size()
	for i := 0; i < size; i++ {
		if n.ChildAt(i) == id {
			return i
		}
	}
	return -1
}

// EntryAt returns the (key, value) fence and child id at index i.
func (n Internal) EntryAt(i int) (Entry, pageid.PageID) {
	off := n.entryOffset(i)
	var e Entry
	copy(e.Key[:], n.data[off:off+KeySize])
	copy(e.Value[:], n.data[off+KeySize:off+KeySize+ValueSize])
	child := pageid.PageID(binary.LittleEndian.Uint64(n.data[off+KeySize+ValueSize:]))
	return e, child
}

func (n Internal) setEntry(i int, e Entry, child pageid.PageID) {
	off := n.entryOffset(i)
	copy(n.data[off:off+KeySize], e.Key[:])
	copy(n.data[off+KeySize:off+KeySize+ValueSize], e.Value[:])
	binary.LittleEndian.PutUint64(n.data[off+KeySize+ValueSize:], uint64(child))
}

// Child pairs a fence entry with the PageID it routes to, used by the
// bulk Entries/Rewrite helpers below.
type Child struct {
	Entry Entry
	Page  pageid.PageID
}

// Entries dumps every (fence, child) pair in order.
func (n Internal) Entries() []Child {
	size := n.Size()
	out := make([]Child, size)
	for i := 0; i < size; i++ {
		e, c := n.EntryAt(i)
		out[i] = Child{Entry: e, Page: c}
	}
	return out
}

// Rewrite replaces the node's contents with entries, which may exceed
// the node's steady-state MaxSize (the page buffer is always
// pageSize bytes regardless of the configured capacity). The tree
// does not call it: its split path stages an overflowed node with
// InsertAt before calling Split.
func (n Internal) Rewrite(entries []Child) {
	for i, c := range entries {
		n.setEntry(i, c.Entry, c.Page)
	}
	writeSize(n.data, len(entries))
}

// LocateChild returns the index and child PageID of the entry with
// the greatest fence <= e, per spec §4.6's locate_key: ties among
// equal keys are broken on value via the composite comparator.
func (n Internal) LocateChild(e Entry) (int, pageid.PageID) {
	size := n.Size()
	idx := 0
	_, child := n.EntryAt(0)
	for i := 0; i < size; i++ {
		fence, c := n.EntryAt(i)
		if CompareEntries(fence, e) > 0 {
			break
		}
		idx = i
		child = c
	}
	return idx, child
}

// InsertAt shifts entries right to make room at i and installs
// (e, child).
func (n Internal) InsertAt(i int, e Entry, child pageid.PageID) {
	size := n.Size()
	for j := size; j > i; j-- {
		prev, prevChild := n.EntryAt(j - 1)
		n.setEntry(j, prev, prevChild)
	}
	n.setEntry(i, e, child)
	writeSize(n.data, size+1)
}

// RemoveAt removes the entry at i, shifting the rest left.
func (n Internal) RemoveAt(i int) {
	size := n.Size()
	for j := i; j < size-1; j++ {
		next, nextChild := n.EntryAt(j + 1)
		n.setEntry(j, next, nextChild)
	}
	writeSize(n.data, size-1)
}

// Split moves the upper half of n's entries into right (a freshly
// allocated, initialized Internal of the same capacity), per spec
// §4.6: sizes end floor(C/2) and ceil(C/2). Returns the separator
// entry that the caller must propagate into the parent.
func (n Internal) Split(right Internal) Entry {
	size := n.Size()
	mid := size / 2

	for i := mid; i < size; i++ {
		e, c := n.EntryAt(i)
		right.InsertAt(i-mid, e, c)
	}
	writeSize(n.data, mid)

	sep, _ := right.EntryAt(0)
	return sep
}

// Merge concatenates right's entries onto the end of n. right becomes
// logically empty; the caller deallocates its page.
func (n Internal) Merge(right Internal) {
	base := n.Size()
	rsize := right.Size()
	for i := 0; i < rsize; i++ {
		e, c := right.EntryAt(i)
		n.setEntry(base+i, e, c)
	}
	writeSize(n.data, base+rsize)
}

// Redistribute moves entries between n and right so their sizes
// differ by at most 1, keeping ascending order across the pair.
// Returns the new separator fence for the parent.
func (n Internal) Redistribute(right Internal) Entry {
	total := n.Size() + right.Size()
	leftTarget := total / 2

	if n.Size() < leftTarget {
		// pull entries from the front of right into the back of n
		need := leftTarget - n.Size()
		for i := 0; i < need; i++ {
			e, c := right.EntryAt(i)
			n.InsertAt(n.Size(), e, c)
		}
		for i := 0; i < need; i++ {
			right.RemoveAt(0)
		}
	} else if n.Size() > leftTarget {
		// push entries from the back of n into the front of right
		excess := n.Size() - leftTarget
		for i := 0; i < excess; i++ {
			e, c := n.EntryAt(n.Size() - excess + i)
			right.InsertAt(i, e, c)
		}
		for i := 0; i < excess; i++ {
			n.RemoveAt(n.Size() - 1)
		}
	}

	sep, _ := right.EntryAt(0)
	return sep
}

// Leaf wraps a leaf node's page bytes: a sequence of (key, value)
// entries in ascending composite order, plus a right-sibling link.
type Leaf struct {
	data []byte
}

func NewLeaf(data []byte) Leaf { return Leaf{data: data} }

func InitLeaf(data []byte, pageSize uint32) Leaf {
	l := Leaf{data: data}
	data[offType] = TypeLeaf
	writeSize(data, 0)
	writeMaxSize(data, LeafCapacity(pageSize))
	writeRightSibling(data, pageid.Invalid)
	return l
}

func (l Leaf) Size() int                        { return readSize(l.data) }
func (l Leaf) MaxSize() int                     { return readMaxSize(l.data) }
func (l Leaf) IsRoot() bool                     { return isRoot(l.data) }
func (l Leaf) SetRoot(v bool)                   { setIsRoot(l.data, v) }
func (l Leaf) Data() []byte                     { return l.data }
func (l Leaf) RightSibling() pageid.PageID      { return readRightSibling(l.data) }
func (l Leaf) SetRightSibling(id pageid.PageID) { writeRightSibling(l.data, id) }

func (l Leaf) entryOffset(i int) int { return headerSize + i*leafEntrySize }

func (l Leaf) EntryAt(i int) Entry {
	off := l.entryOffset(i)
	var e Entry
	copy(e.Key[:], l.data[off:off+KeySize])
	copy(e.Value[:], l.data[off+KeySize:off+KeySize+ValueSize])
	return e
}

func (l Leaf) setEntry(i int, e Entry) {
	off := l.entryOffset(i)
	copy(l.data[off:off+KeySize], e.Key[:])
	copy(l.data[off+KeySize:off+KeySize+ValueSize], e.Value[:])
}

// Find returns the index of the first entry >= e (lower bound under
// composite order), and whether an exact match exists at that index.
func (l Leaf) Find(e Entry) (idx int, exact bool) {
	size := l.Size()
	for i := 0; i < size; i++ {
		cur := l.EntryAt(i)
		c := CompareEntries(cur, e)
		if c == 0 {
			return i, true
		}
		if c > 0 {
			return i, false
		}
	}
	return size, false
}

// InsertAt shifts entries right to make room at i and installs e.
func (l Leaf) InsertAt(i int, e Entry) {
	size := l.Size()
	for j := size; j > i; j-- {
		l.setEntry(j, l.EntryAt(j-1))
	}
	l.setEntry(i, e)
	writeSize(l.data, size+1)
}

// RemoveAt removes the entry at i, shifting the rest left.
func (l Leaf) RemoveAt(i int) {
	size := l.Size()
	for j := i; j < size-1; j++ {
		l.setEntry(j, l.EntryAt(j+1))
	}
	writeSize(l.data, size-1)
}

// Split moves the upper half of l's entries into right and threads
// the sibling link, per spec §4.6.
func (l Leaf) Split(right Leaf) Entry {
	size := l.Size()
	mid := size / 2

	for i := mid; i < size; i++ {
		right.InsertAt(i-mid, l.EntryAt(i))
	}
	writeSize(l.data, mid)

	right.SetRightSibling(l.RightSibling())
	return right.EntryAt(0)
}

// Merge concatenates right's entries onto l and reclaims its sibling
// link; right becomes logically empty and is deallocated by the
// caller.
func (l Leaf) Merge(right Leaf) {
	base := l.Size()
	rsize := right.Size()
	for i := 0; i < rsize; i++ {
		l.setEntry(base+i, right.EntryAt(i))
	}
	writeSize(l.data, base+rsize)
	l.SetRightSibling(right.RightSibling())
}

// Redistribute balances entries between l and right (sizes differ by
// at most 1), preserving ascending order across the pair.
func (l Leaf) Redistribute(right Leaf) {
	total := l.Size() + right.Size()
	leftTarget := total / 2

	if l.Size() < leftTarget {
		need := leftTarget - l.Size()
		for i := 0; i < need; i++ {
			l.InsertAt(l.Size(), right.EntryAt(i))
		}
		for i := 0; i < need; i++ {
			right.RemoveAt(0)
		}
	} else if l.Size() > leftTarget {
		excess := l.Size() - leftTarget
		for i := 0; i < excess; i++ {
			right.InsertAt(i, l.EntryAt(l.Size()-excess+i))
		}
		for i := 0; i < excess; i++ {
			l.RemoveAt(l.Size() - 1)
		}
	}
}
