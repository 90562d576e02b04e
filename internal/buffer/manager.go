// Package buffer implements the bounded-memory page cache described
// in spec §4.5: a frame pool with pin/latch semantics, page guards,
// get_reader/get_writer with LRU-K-driven eviction, dealloc, and
// flush_all.
//
// Grounded on the teacher's Page (page.go: pinCount, dirty, RWMutex,
// Pin/Unpin/RLock/RUnlock/Lock/Unlock) generalized into Frame, and
// Pager.FetchPage's evict-then-load control flow (pager.go)
// generalized into the spec's six-step protocol with a real
// free-frame list and LRU-K-driven eviction -- the teacher's Pager
// only wraps a bare LRU cache with no pin-respecting wait/overflow
// path, which is the core addition this package makes on top of its
// shape.
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xd34d10cc/bltreedb/internal/diskio"
	"github.com/0xd34d10cc/bltreedb/internal/pageid"
	"github.com/0xd34d10cc/bltreedb/internal/replacer"
	"github.com/0xd34d10cc/bltreedb/internal/scheduler"
)

// ErrPoolOverflow is returned when every frame is pinned and none
// becomes evictable before the pool-overflow timeout elapses.
var ErrPoolOverflow = errors.New("buffer: pool overflow")

// Frame owns one page-sized buffer plus the bookkeeping from spec §3.
type Frame struct {
	latch sync.RWMutex // protects data bytes

	data    []byte
	pageID  pageid.PageID
	isValid bool
	isDirty bool

	pinCount int32 // atomic
}

// Manager is the buffer pool: frame array, page_map, bp_latch,
// replacer_cv and the LRU-K replacer driving eviction.
type Manager struct {
	pageSize uint32
	pf       *diskio.PagedFile
	sched    *scheduler.Scheduler
	rep      *replacer.Replacer

	overflowTimeout time.Duration

	mu   sync.Mutex // bp_latch
	cond *sync.Cond // replacer_cv, bound to mu

	frames     []Frame
	freeFrames []pageid.FrameID
	pageMap    map[pageid.PageID]pageid.FrameID
}

// New creates a buffer manager with frameCount frames of pageSize
// bytes each, backed by pf, dispatching I/O through sched, and using
// an LRU-K replacer with lookback k.
func New(pf *diskio.PagedFile, sched *scheduler.Scheduler, frameCount int, k int, pageSize uint32, overflowTimeout time.Duration) *Manager {
	m := &Manager{
		pageSize:        pageSize,
		pf:              pf,
		sched:           sched,
		rep:             replacer.New(k),
		overflowTimeout: overflowTimeout,
		frames:          make([]Frame, frameCount),
		pageMap:         make(map[pageid.PageID]pageid.FrameID, frameCount),
	}
	m.cond = sync.NewCond(&m.mu)

	m.freeFrames = make([]pageid.FrameID, frameCount)
	for i := range m.frames {
		m.frames[i].data = make([]byte, pageSize)
		m.freeFrames[i] = pageid.FrameID(frameCount - 1 - i)
	}

	return m
}

// FrameCount returns F, the total number of frames.
func (m *Manager) FrameCount() int {
	return len(m.frames)
}

// GetReader returns a read-latched guard on id's page, faulting it in
// from disk if necessary.
func (m *Manager) GetReader(id pageid.PageID) (*ReadGuard, error) {
	frame, frameID, err := m.fetch(id)
	if err != nil {
		return nil, err
	}
	frame.latch.RLock()
	return &ReadGuard{mgr: m, id: id, frameID: frameID, frame: frame}, nil
}

// GetWriter returns a write-latched guard on id's page.
func (m *Manager) GetWriter(id pageid.PageID) (*WriteGuard, error) {
	frame, frameID, err := m.fetch(id)
	if err != nil {
		return nil, err
	}
	frame.latch.Lock()
	return &WriteGuard{mgr: m, id: id, frameID: frameID, frame: frame}, nil
}

// fetch implements the get_reader/get_writer protocol of spec §4.5
// up through pinning the frame; the caller acquires the page latch
// itself (shared for GetReader, exclusive for GetWriter) after bp_
// latch has been released, matching "per-frame latches are acquired
// after releasing bp_latch."
//
// Concurrent fetches of the same not-yet-resident id must not both
// return before the page is actually loaded: the first caller claims
// the frame and maps id to it before its read completes, so a second
// caller that finds the map entry already present waits on
// replacer_cv until that frame turns valid (or the load fails and the
// entry is abandoned, in which case it falls through and claims a
// fresh frame itself) rather than handing back a guard over
// in-flight, unsynchronized frame.data.
func (m *Manager) fetch(id pageid.PageID) (*Frame, pageid.FrameID, error) {
	m.mu.Lock()

	for {
		frameID, ok := m.pageMap[id]
		if !ok {
			break
		}
		frame := &m.frames[frameID]
		if !frame.isValid {
			m.cond.Wait()
			continue
		}
		m.pinLocked(frameID, frame)
		m.mu.Unlock()
		return frame, frameID, nil
	}

	frameID, needsLoad, err := m.claimFrameLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, pageid.InvalidFrame, err
	}

	frame := &m.frames[frameID]
	m.pageMap[id] = frameID
	frame.pageID = id
	m.pinLocked(frameID, frame)
	m.mu.Unlock()

	if needsLoad {
		if err := m.loadPage(id, frame); err != nil {
			m.abandon(id, frameID, frame)
			return nil, pageid.InvalidFrame, err
		}
	}

	m.mu.Lock()
	frame.isValid = true
	m.cond.Broadcast()
	m.mu.Unlock()

	return frame, frameID, nil
}

// claimFrameLocked obtains a frame to hold id's contents: a free
// frame if one exists, otherwise an LRU-K victim (writing it back
// first if dirty). Must be called with mu held; may release and
// reacquire mu while waiting or writing back.
func (m *Manager) claimFrameLocked(id pageid.PageID) (pageid.FrameID, bool, error) {
	if n := len(m.freeFrames); n > 0 {
		frameID := m.freeFrames[n-1]
		m.freeFrames = m.freeFrames[:n-1]
		return frameID, true, nil
	}

	deadline := time.Now().Add(m.overflowTimeout)
	for m.rep.Size() == 0 {
		if !m.condWaitUntil(deadline) {
			return pageid.InvalidFrame, false, ErrPoolOverflow
		}
	}

	victim, ok := m.rep.Victim()
	if !ok {
		return pageid.InvalidFrame, false, ErrPoolOverflow
	}

	frame := &m.frames[victim]
	oldID := frame.pageID
	wasDirty := frame.isDirty

	delete(m.pageMap, oldID)
	_ = m.rep.Remove(victim)
	frame.isValid = false
	frame.isDirty = false
	atomic.StoreInt32(&frame.pinCount, 0)

	if wasDirty {
		oldData := append([]byte(nil), frame.data...)
		m.mu.Unlock()
		err := m.writeBack(oldID, oldData)
		m.mu.Lock()
		if err != nil {
			return pageid.InvalidFrame, false, err
		}
	}

	return victim, true, nil
}

// condWaitUntil waits on replacer_cv until deadline, returning false
// on timeout. Must be called with mu held; reacquires mu before
// returning, per sync.Cond semantics.
func (m *Manager) condWaitUntil(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	timer := time.AfterFunc(remaining, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	timer.Stop()

	return time.Now().Before(deadline) || m.rep.Size() > 0
}

// pinLocked increments pin_count and records an access, pinning the
// replacer entry on a 0->1 transition. Called with mu held.
func (m *Manager) pinLocked(frameID pageid.FrameID, frame *Frame) {
	m.rep.RecordAccess(frameID)
	if atomic.AddInt32(&frame.pinCount, 1) == 1 {
		m.rep.Pin(frameID)
	}
}

// unpin decrements pin_count, unpinning the replacer and waking
// replacer_cv on a 1->0 transition.
func (m *Manager) unpin(frameID pageid.FrameID) {
	m.mu.Lock()
	frame := &m.frames[frameID]
	if atomic.AddInt32(&frame.pinCount, -1) == 0 {
		m.rep.Unpin(frameID)
		m.cond.Broadcast()
	}
	m.mu.Unlock()
}

// abandon undoes a failed fetch: unmaps id, drops the frame back to
// the free list, and wakes any waiters.
func (m *Manager) abandon(id pageid.PageID, frameID pageid.FrameID, frame *Frame) {
	m.mu.Lock()
	delete(m.pageMap, id)
	_ = m.rep.Remove(frameID)
	atomic.StoreInt32(&frame.pinCount, 0)
	frame.isValid = false
	m.freeFrames = append(m.freeFrames, frameID)
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) loadPage(id pageid.PageID, frame *Frame) error {
	future, err := m.sched.Submit(uint64(id), func() (interface{}, error) {
		return nil, m.pf.Read(id, frame.data)
	})
	if err != nil {
		return err
	}
	_, err = future.Wait()
	return err
}

func (m *Manager) writeBack(id pageid.PageID, data []byte) error {
	future, err := m.sched.Submit(uint64(id), func() (interface{}, error) {
		return nil, m.pf.Write(id, data)
	})
	if err != nil {
		return err
	}
	_, err = future.Wait()
	return err
}

// Dealloc deallocates id. It refuses (returning false) if id is
// resident with a nonzero pin count.
func (m *Manager) Dealloc(id pageid.PageID) bool {
	m.mu.Lock()
	if frameID, ok := m.pageMap[id]; ok {
		frame := &m.frames[frameID]
		if atomic.LoadInt32(&frame.pinCount) > 0 {
			m.mu.Unlock()
			return false
		}
		delete(m.pageMap, id)
		_ = m.rep.Remove(frameID)
		frame.isValid = false
		frame.isDirty = false
		m.freeFrames = append(m.freeFrames, frameID)
	}
	m.mu.Unlock()

	m.pf.Dealloc(id)
	return true
}

// Alloc issues a fresh stable PageID from the embedded allocator.
func (m *Manager) Alloc() pageid.PageID {
	return m.pf.Alloc()
}

// FlushAll writes every valid, dirty frame back to disk. Called on
// Close.
func (m *Manager) FlushAll() error {
	for i := range m.frames {
		frame := &m.frames[i]

		m.mu.Lock()
		if !frame.isValid || !frame.isDirty {
			m.mu.Unlock()
			continue
		}
		id := frame.pageID
		m.mu.Unlock()

		frame.latch.Lock()
		var err error
		if frame.isValid && frame.isDirty && frame.pageID == id {
			data := append([]byte(nil), frame.data...)
			err = m.writeBack(id, data)
			if err == nil {
				frame.isDirty = false
			}
		}
		frame.latch.Unlock()

		if err != nil {
			return err
		}
	}
	return nil
}

// ReadMeta/WriteMeta expose the paged file's header region, used by
// the tree to persist its root PageID.
func (m *Manager) ReadMeta(out []byte) (bool, error) { return m.pf.ReadMeta(out) }
func (m *Manager) WriteMeta(in []byte) error         { return m.pf.WriteMeta(in) }

// Close flushes all dirty frames and closes the underlying paged
// file (which in turn persists the allocator's free list).
func (m *Manager) Close() error {
	if err := m.FlushAll(); err != nil {
		return err
	}
	return m.pf.Close()
}
