package bptree

import (
	"encoding/binary"
	"sync"

	"github.com/0xd34d10cc/bltreedb/internal/buffer"
	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// rootMetaSize is the number of header bytes the tree claims for
// persisting its root PageID across restarts (spec §4.7's "the tree's
// root id survives a close/reopen cycle").
const rootMetaSize = 8

// Tree is the concurrent multi-valued B+tree described in spec §4.7:
// latch-coupled top-down descent for search/insert/remove, with
// early release of ancestor write latches once a node is provably
// safe (won't itself need to split or merge), and a dedicated root
// latch that Insert and Remove hold from the start of their descent
// until they reach a safe node (Search holds it only while reading
// the root id), so that replacing or collapsing the root is
// serialized.
type Tree struct {
	bm       *buffer.Manager
	pageSize uint32

	internalMax, internalMin, internalMergeBound int
	leafMax, leafMin, leafMergeBound             int

	rootMu sync.Mutex
	rootID pageid.PageID
}

// Open attaches a Tree to bm, restoring the root PageID from bm's
// header region if one was ever persisted, or starting with a null
// root (a new database file) otherwise. Insert allocates the first
// leaf lazily.
func Open(bm *buffer.Manager, pageSize uint32) (*Tree, error) {
	iMax, iMin, iMerge := FillFactors(InternalCapacity(pageSize))
	lMax, lMin, lMerge := FillFactors(LeafCapacity(pageSize))

	t := &Tree{
		bm:                 bm,
		pageSize:           pageSize,
		internalMax:        iMax,
		internalMin:        iMin,
		internalMergeBound: iMerge,
		leafMax:            lMax,
		leafMin:            lMin,
		leafMergeBound:     lMerge,
	}

	meta := make([]byte, rootMetaSize)
	ok, err := bm.ReadMeta(meta)
	if err != nil {
		return nil, err
	}
	if ok {
		t.rootID = pageid.PageID(binary.LittleEndian.Uint64(meta))
	} else {
		// fresh file: the root starts out null (spec §6, "if header
		// never written, the root is null"); Insert allocates the
		// first leaf lazily.
		t.rootID = pageid.Invalid
	}
	return t, nil
}

func (t *Tree) persistRoot() error {
	meta := make([]byte, rootMetaSize)
	binary.LittleEndian.PutUint64(meta, uint64(t.rootID))
	return t.bm.WriteMeta(meta)
}

// RootID returns the current root PageID, for diagnostics.
func (t *Tree) RootID() pageid.PageID {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.rootID
}

// Search returns every value stored under key, across as many leaves
// as the key's entries span.
func (t *Tree) Search(key Key) ([]Value, error) {
	t.rootMu.Lock()
	rootID := t.rootID
	t.rootMu.Unlock()

	if rootID == pageid.Invalid {
		return nil, nil
	}

	cur, err := t.bm.GetReader(rootID)
	if err != nil {
		return nil, err
	}

	for {
		data := cur.Data()
		if readType(data) == TypeLeaf {
			break
		}
		internal := NewInternal(data)
		_, childID := internal.LocateChild(Entry{Key: key})
		next, err := t.bm.GetReader(childID)
		cur.Release()
		if err != nil {
			return nil, err
		}
		cur = next
	}

	var values []Value
	for {
		leaf := NewLeaf(cur.Data())
		idx, _ := leaf.Find(Entry{Key: key})
		size := leaf.Size()
		reachedEnd := true
		for ; idx < size; idx++ {
			e := leaf.EntryAt(idx)
			if CompareKeys(e.Key, key) != 0 {
				reachedEnd = false
				break
			}
			values = append(values, e.Value)
		}

		if !reachedEnd {
			cur.Release()
			return values, nil
		}

		sib := leaf.RightSibling()
		if sib == pageid.Invalid {
			cur.Release()
			return values, nil
		}
		next, err := t.bm.GetReader(sib)
		cur.Release()
		if err != nil {
			return values, err
		}
		cur = next
	}
}

// ancestor is a retained write-latched internal node on the path from
// the root, kept only when it might still need to split or merge as a
// result of the operation in progress.
type ancestor struct {
	guard *buffer.WriteGuard
	id    pageid.PageID
	node  Internal
}

// Insert adds (key, value). Returns false without modifying the tree
// if that exact pair is already present.
func (t *Tree) Insert(key Key, value Value) (bool, error) {
	e := Entry{Key: key, Value: value}

	t.rootMu.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootMu.Unlock()
			rootHeld = false
		}
	}
	defer unlockRoot()

	if t.rootID == pageid.Invalid {
		rootID := t.bm.Alloc()
		w, err := t.bm.GetWriter(rootID)
		if err != nil {
			return false, err
		}
		leaf := InitLeaf(w.Data(), t.pageSize)
		leaf.SetRoot(true)
		leaf.InsertAt(0, e)
		w.Release()

		t.rootID = rootID
		if err := t.persistRoot(); err != nil {
			return false, err
		}
		return true, nil
	}

	curID := t.rootID
	cur, err := t.bm.GetWriter(curID)
	if err != nil {
		return false, err
	}

	var ancestors []ancestor
	releaseAncestors := func() {
		for _, a := range ancestors {
			a.guard.Release()
		}
		ancestors = ancestors[:0]
	}

	for {
		data := cur.Data()
		if readType(data) == TypeLeaf {
			break
		}
		node := NewInternal(data)
		_, childID := node.LocateChild(e)
		child, err := t.bm.GetWriter(childID)
		if err != nil {
			cur.Release()
			releaseAncestors()
			return false, err
		}

		if node.Size() < t.internalMax {
			// safe: this node cannot overflow even if the child below
			// propagates a new separator, so nothing above it is
			// needed anymore.
			releaseAncestors()
			unlockRoot()
		}
		ancestors = append(ancestors, ancestor{guard: cur, id: curID, node: node})

		cur = child
		curID = childID
	}

	leaf := NewLeaf(cur.Data())
	idx, exact := leaf.Find(e)
	if exact {
		cur.Release()
		releaseAncestors()
		return false, nil
	}

	if leaf.Size() < t.leafMax {
		leaf.InsertAt(idx, e)
		cur.Release()
		releaseAncestors()
		return true, nil
	}

	// leaf is full: the page buffer has exactly one slot of headroom
	// past leafMax (LeafCapacity = leafMax+1), so inserting past
	// threshold before splitting never overruns it.
	leaf.InsertAt(idx, e)
	rightID := t.bm.Alloc()
	rightGuard, err := t.bm.GetWriter(rightID)
	if err != nil {
		cur.Release()
		releaseAncestors()
		return false, err
	}
	rightLeaf := InitLeaf(rightGuard.Data(), t.pageSize)
	sep := leaf.Split(rightLeaf)
	leaf.SetRightSibling(rightID)

	cur.Release()
	rightGuard.Release()

	return true, t.propagateSplit(ancestors, curID, Child{Entry: sep, Page: rightID}, unlockRoot)
}

// propagateSplit installs newChild (the separator produced by
// splitting the page leftID) into the retained ancestor chain,
// cascading further splits upward and, if every retained ancestor
// (possibly including the root) also had to split, growing the tree
// by one level with a fresh root.
func (t *Tree) propagateSplit(ancestors []ancestor, leftID pageid.PageID, newChild Child, unlockRoot func()) error {
	for i := len(ancestors) - 1; i >= 0; i-- {
		a := ancestors[i]
		idx := a.node.IndexOfChild(leftID)
		insertPos := idx + 1

		if a.node.Size() < t.internalMax {
			a.node.InsertAt(insertPos, newChild.Entry, newChild.Page)
			a.guard.Release()
			for j := i - 1; j >= 0; j-- {
				ancestors[j].guard.Release()
			}
			unlockRoot()
			return nil
		}

		a.node.InsertAt(insertPos, newChild.Entry, newChild.Page)
		rightID := t.bm.Alloc()
		rightGuard, err := t.bm.GetWriter(rightID)
		if err != nil {
			a.guard.Release()
			for j := i - 1; j >= 0; j-- {
				ancestors[j].guard.Release()
			}
			unlockRoot()
			return err
		}
		rightInternal := InitInternal(rightGuard.Data(), t.pageSize)
		sep := a.node.Split(rightInternal)

		a.guard.Release()
		rightGuard.Release()

		leftID = a.id
		newChild = Child{Entry: sep, Page: rightID}
	}

	newRootID := t.bm.Alloc()
	newRootGuard, err := t.bm.GetWriter(newRootID)
	if err != nil {
		unlockRoot()
		return err
	}
	newRoot := InitInternal(newRootGuard.Data(), t.pageSize)
	newRoot.SetRoot(true)
	newRoot.InsertAt(0, Entry{}, leftID)
	newRoot.InsertAt(1, newChild.Entry, newChild.Page)
	newRootGuard.Release()

	t.rootID = newRootID
	err = t.persistRoot()
	unlockRoot()
	return err
}

// Remove deletes (key, value). Returns false without modifying the
// tree if that exact pair is not present.
func (t *Tree) Remove(key Key, value Value) (bool, error) {
	e := Entry{Key: key, Value: value}

	t.rootMu.Lock()
	rootHeld := true
	unlockRoot := func() {
		if rootHeld {
			t.rootMu.Unlock()
			rootHeld = false
		}
	}
	defer unlockRoot()

	if t.rootID == pageid.Invalid {
		return false, nil
	}

	rootID := t.rootID
	curID := rootID
	cur, err := t.bm.GetWriter(curID)
	if err != nil {
		return false, err
	}

	var ancestors []ancestor
	releaseAncestors := func() {
		for _, a := range ancestors {
			a.guard.Release()
		}
		ancestors = ancestors[:0]
	}

	for {
		data := cur.Data()
		if readType(data) == TypeLeaf {
			break
		}
		node := NewInternal(data)
		_, childID := node.LocateChild(e)
		child, err := t.bm.GetWriter(childID)
		if err != nil {
			cur.Release()
			releaseAncestors()
			return false, err
		}

		// a node is safe once we know removing one entry from it (the
		// worst a lower merge can do) still leaves it at or above the
		// minimum: everything above it is dropped. The root has no
		// sibling to merge with so it is never auto-safe here
		// (collapseRoot decides its fate).
		if node.Size() > t.internalMin && curID != rootID {
			releaseAncestors()
			unlockRoot()
		}
		ancestors = append(ancestors, ancestor{guard: cur, id: curID, node: node})

		cur = child
		curID = childID
	}

	leaf := NewLeaf(cur.Data())
	idx, exact := leaf.Find(e)
	if !exact {
		cur.Release()
		releaseAncestors()
		return false, nil
	}
	leaf.RemoveAt(idx)

	if len(ancestors) > 0 && leaf.Size() >= t.leafMin {
		cur.Release()
		releaseAncestors()
		return true, nil
	}

	return true, t.fixLeafUnderflow(ancestors, curID, cur, unlockRoot)
}

// fixLeafUnderflow repairs a leaf that dropped below leafMin by
// merging it with a sibling (when the combined size still fits
// leafMergeBound) or redistributing entries between them, then
// propagates any resulting change to the parent's child count.
func (t *Tree) fixLeafUnderflow(ancestors []ancestor, leafID pageid.PageID, leafGuard *buffer.WriteGuard, unlockRoot func()) error {
	if len(ancestors) == 0 {
		// leaf is the root: no sibling, no minimum to honor, except
		// that an emptied root goes null (spec §8: "removing it sets
		// the root to null; the next insert reinstates a leaf root").
		empty := NewLeaf(leafGuard.Data()).Size() == 0
		leafGuard.Release()
		if empty {
			t.rootID = pageid.Invalid
			if err := t.persistRoot(); err != nil {
				unlockRoot()
				return err
			}
			unlockRoot()
			t.bm.Dealloc(leafID)
			return nil
		}
		unlockRoot()
		return nil
	}

	parent := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]
	leaf := NewLeaf(leafGuard.Data())

	idx := parent.node.IndexOfChild(leafID)
	siblingIsRight := idx+1 < parent.node.Size()
	var siblingID pageid.PageID
	if siblingIsRight {
		siblingID = parent.node.ChildAt(idx + 1)
	} else {
		siblingID = parent.node.ChildAt(idx - 1)
	}

	siblingGuard, err := t.bm.GetWriter(siblingID)
	if err != nil {
		leafGuard.Release()
		for _, a := range rest {
			a.guard.Release()
		}
		unlockRoot()
		return err
	}
	sibling := NewLeaf(siblingGuard.Data())

	if leaf.Size()+sibling.Size() <= t.leafMergeBound {
		var removedID pageid.PageID
		var removeIdx int
		if siblingIsRight {
			leaf.Merge(sibling)
			removedID, removeIdx = siblingID, idx+1
		} else {
			sibling.Merge(leaf)
			removedID, removeIdx = leafID, idx
		}
		parent.node.RemoveAt(removeIdx)
		siblingGuard.Release()
		leafGuard.Release()
		t.bm.Dealloc(removedID)

		return t.afterChildRemoved(parent, rest, unlockRoot)
	}

	if siblingIsRight {
		leaf.Redistribute(sibling)
		parent.node.SetEntry(idx+1, sibling.EntryAt(0), siblingID)
	} else {
		sibling.Redistribute(leaf)
		parent.node.SetEntry(idx, leaf.EntryAt(0), leafID)
	}
	siblingGuard.Release()
	leafGuard.Release()

	parent.guard.Release()
	for _, a := range rest {
		a.guard.Release()
	}
	unlockRoot()
	return nil
}

// afterChildRemoved decides what x needs once one of its child
// entries has just been removed (by a merge one level down): nothing,
// if x still has more than internalMin entries (or x is the root,
// which has no minimum);
// a cascading merge/redistribute against x's own sibling, if x now
// underflows; or collapsing the root, if x is the root and is left
// with at most one child.
func (t *Tree) afterChildRemoved(x ancestor, rest []ancestor, unlockRoot func()) error {
	if len(rest) == 0 {
		if x.node.Size() <= 1 {
			return t.collapseRoot(x, unlockRoot)
		}
		x.guard.Release()
		unlockRoot()
		return nil
	}

	if x.node.Size() > t.internalMin {
		x.guard.Release()
		for _, a := range rest {
			a.guard.Release()
		}
		unlockRoot()
		return nil
	}

	return t.fixInternalUnderflow(rest, x, unlockRoot)
}

// collapseRoot replaces an internal root left with a single child by
// that child, shrinking the tree by one level.
func (t *Tree) collapseRoot(x ancestor, unlockRoot func()) error {
	if x.node.Size() == 0 {
		x.guard.Release()
		unlockRoot()
		return nil
	}

	newRootID := x.node.ChildAt(0)
	oldRootID := x.id
	x.guard.Release()

	t.rootID = newRootID
	if err := t.persistRoot(); err != nil {
		unlockRoot()
		return err
	}
	unlockRoot()

	t.bm.Dealloc(oldRootID)
	return nil
}

// fixInternalUnderflow mirrors fixLeafUnderflow one level up: x is a
// non-root internal node that has dropped at or below internalMin.
func (t *Tree) fixInternalUnderflow(rest []ancestor, x ancestor, unlockRoot func()) error {
	parent := rest[len(rest)-1]
	grandrest := rest[:len(rest)-1]

	idx := parent.node.IndexOfChild(x.id)
	siblingIsRight := idx+1 < parent.node.Size()
	var siblingID pageid.PageID
	if siblingIsRight {
		siblingID = parent.node.ChildAt(idx + 1)
	} else {
		siblingID = parent.node.ChildAt(idx - 1)
	}

	siblingGuard, err := t.bm.GetWriter(siblingID)
	if err != nil {
		x.guard.Release()
		for _, a := range rest {
			a.guard.Release()
		}
		unlockRoot()
		return err
	}
	sibling := NewInternal(siblingGuard.Data())

	if x.node.Size()+sibling.Size() <= t.internalMergeBound {
		var removedID pageid.PageID
		var removeIdx int
		if siblingIsRight {
			x.node.Merge(sibling)
			removedID, removeIdx = siblingID, idx+1
		} else {
			sibling.Merge(x.node)
			removedID, removeIdx = x.id, idx
		}
		parent.node.RemoveAt(removeIdx)
		siblingGuard.Release()
		x.guard.Release()
		t.bm.Dealloc(removedID)

		return t.afterChildRemoved(parent, grandrest, unlockRoot)
	}

	if siblingIsRight {
		newSep := x.node.Redistribute(sibling)
		parent.node.SetEntry(idx+1, newSep, siblingID)
	} else {
		newSep := sibling.Redistribute(x.node)
		parent.node.SetEntry(idx, newSep, x.id)
	}
	siblingGuard.Release()
	x.guard.Release()

	parent.guard.Release()
	for _, a := range grandrest {
		a.guard.Release()
	}
	unlockRoot()
	return nil
}
