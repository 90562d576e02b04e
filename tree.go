// Package bltreedb implements the persistent, concurrent, multi-valued
// B+tree described in spec §§1-8: a disk-backed ordered index with a
// fixed-capacity LRU-K buffered page cache, built from five layered
// components (index allocator, paged file, LRU-K replacer, per-page-id
// task scheduler, buffer manager) underneath the tree algorithms
// themselves.
package bltreedb

import (
	"sync"

	"github.com/0xd34d10cc/bltreedb/internal/bptree"
	"github.com/0xd34d10cc/bltreedb/internal/buffer"
	"github.com/0xd34d10cc/bltreedb/internal/diskio"
	"github.com/0xd34d10cc/bltreedb/internal/scheduler"
)

// Tree is the public ordered-index handle: construct with Open, issue
// Search/Insert/Remove concurrently from any number of goroutines, and
// release resources with Close.
type Tree struct {
	opts  Options
	pf    *diskio.PagedFile
	sched *scheduler.Scheduler
	bm    *buffer.Manager
	tree  *bptree.Tree

	closeOnce sync.Once
	closeErr  error
}

// Open attaches a Tree to the paged file at path (created if absent),
// per spec §6's "(path, k, buffer_capacity, worker_threads)" public
// constructor -- expressed here as an Options struct rather than four
// positional parameters, matching the teacher's explicit-parameter
// constructor style without losing any of the four knobs.
func Open(path string, opts Options) (*Tree, error) {
	opts = opts.normalized()

	file, err := diskio.OpenFileStorage(path)
	if err != nil {
		return nil, err
	}

	pf, err := diskio.Open(file, opts.PageSize, opts.HeaderSize, path+".idx")
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(opts.TaskGroups, opts.WorkerThreads)
	bm := buffer.New(pf, sched, opts.FrameCount, opts.K, opts.PageSize, opts.PoolOverflowTimeout)

	bpt, err := bptree.Open(bm, opts.PageSize)
	if err != nil {
		sched.Stop()
		bm.Close()
		return nil, err
	}

	return &Tree{opts: opts, pf: pf, sched: sched, bm: bm, tree: bpt}, nil
}

// Search returns every value stored under key, in ascending order of
// value, or an empty slice if key is absent.
func (t *Tree) Search(key Key) ([]Value, error) {
	return t.tree.Search(key)
}

// Insert adds (key, value). It returns false, without modifying the
// tree, iff that exact pair is already present.
func (t *Tree) Insert(key Key, value Value) (bool, error) {
	return t.tree.Insert(key, value)
}

// Remove deletes (key, value). It returns false, without modifying the
// tree, iff that exact pair is absent.
func (t *Tree) Remove(key Key, value Value) (bool, error) {
	return t.tree.Remove(key, value)
}

// RootID reports the current root PageID, InvalidPageID if the tree is
// empty. Exposed for diagnostics.
func (t *Tree) RootID() PageID {
	return t.tree.RootID()
}

// Close flushes every dirty frame, syncs the paged file and writes its
// sidecar allocator index, then stops the task scheduler, per spec
// §6's destructor contract. The root PageID needs no step of its own:
// the tree writes it to the header each time it changes. Safe to call
// more than once; only the first call does work.
func (t *Tree) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.bm.Close()
		t.sched.Stop()
	})
	return t.closeErr
}
