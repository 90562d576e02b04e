package buffer

import (
	"sync"

	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// ReadGuard is a scope-bound shared-latch handle on a page. It is not
// safe to use after Release. Go has no move-only types, so "move
// only, copy forbidden" from spec §3 is enforced by convention
// (callers must not copy a Guard) rather than by the compiler, the
// same way the teacher's Page relies on callers pairing RLock/RUnlock
// correctly rather than on RAII.
type ReadGuard struct {
	mgr      *Manager
	id       pageid.PageID
	frameID  pageid.FrameID
	frame    *Frame
	released sync.Once
}

// PageID returns the id of the page this guard latches.
func (g *ReadGuard) PageID() pageid.PageID { return g.id }

// Data returns the page's bytes. Valid only until Release.
func (g *ReadGuard) Data() []byte { return g.frame.data }

// Release drops the shared latch and the pin. Safe to call more than
// once; only the first call has effect.
func (g *ReadGuard) Release() {
	g.released.Do(func() {
		g.frame.latch.RUnlock()
		g.mgr.unpin(g.frameID)
	})
}

// WriteGuard is a scope-bound exclusive-latch handle on a page.
type WriteGuard struct {
	mgr      *Manager
	id       pageid.PageID
	frameID  pageid.FrameID
	frame    *Frame
	released sync.Once
	didDirty bool
}

// PageID returns the id of the page this guard latches.
func (g *WriteGuard) PageID() pageid.PageID { return g.id }

// Data returns the page's mutable bytes and marks the frame dirty on
// first call, matching spec §4.5's Writer.data() contract.
func (g *WriteGuard) Data() []byte {
	if !g.didDirty {
		g.frame.isDirty = true
		g.didDirty = true
	}
	return g.frame.data
}

// ReadOnlyData returns the page's bytes without marking the frame
// dirty, for callers that only need to inspect the bytes.
func (g *WriteGuard) ReadOnlyData() []byte { return g.frame.data }

// Release drops the exclusive latch and the pin.
func (g *WriteGuard) Release() {
	g.released.Do(func() {
		g.frame.latch.Unlock()
		g.mgr.unpin(g.frameID)
	})
}
