// Package replacer implements the LRU-K victim-selection replacer
// described in spec §4.3: frames are partitioned into an "obscure"
// set (seen fewer than K times) and a "hotspot" set (seen at least K
// times), each independently mutex-protected.
//
// Grounded on the teacher's lru.go (LRUCache: map + intrusive
// doubly-linked list, capacity-bounded, Get/Put/Remove/ForEach),
// generalized from a single plain-LRU list into the two k-distance
// buckets spec requires. The two-mutex split is additionally grounded
// on the sharded-bookkeeping pattern seen in the retrieved pack's
// novusdb and novasql buffer-manager implementations.
package replacer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xd34d10cc/bltreedb/internal/pageid"
)

// entry tracks the last up-to-K access timestamps for one frame.
type entry struct {
	history   []int64 // ring buffer, oldest first, capped at K
	evictable bool
}

func (e *entry) recordAccess(k int, ts int64) {
	if len(e.history) < k {
		e.history = append(e.history, ts)
		return
	}
	copy(e.history, e.history[1:])
	e.history[k-1] = ts
}

// kDistance is the timestamp the replacer ranks by: the oldest
// recorded access. For an obscure entry (< K accesses) this is the
// first-ever access; for a hotspot entry (== K accesses) this is the
// access K steps ago, since the ring buffer retains exactly the last
// K timestamps.
func (e *entry) kDistance() int64 {
	return e.history[0]
}

// Replacer selects eviction victims among the frames registered via
// RecordAccess, following an LRU-K policy over a logical (not
// wall-clock) timestamp.
type Replacer struct {
	k int

	clock int64 // logical, monotonically increasing access counter

	obscureMu sync.Mutex
	obscure   map[pageid.FrameID]*entry

	hotspotMu sync.Mutex
	hotspot   map[pageid.FrameID]*entry

	// evictableCount is the total number of entries (in either set)
	// currently marked evictable. Used by the buffer manager's
	// replacer_cv wait predicate without re-scanning both sets.
	evictableCount int64
}

// New creates a replacer that tracks up to k accesses per frame.
func New(k int) *Replacer {
	if k <= 0 {
		k = 2
	}
	return &Replacer{
		k:       k,
		obscure: make(map[pageid.FrameID]*entry),
		hotspot: make(map[pageid.FrameID]*entry),
	}
}

// RecordAccess records a new access for id, creating an obscure entry
// if id is unknown. New entries are evictable by default, matching
// the source behavior the spec documents in §4.3 -- callers that
// don't want that (the buffer manager, immediately after a fetch)
// must call SetEvictable(id, false) themselves.
func (r *Replacer) RecordAccess(id pageid.FrameID) {
	ts := atomic.AddInt64(&r.clock, 1)

	r.obscureMu.Lock()
	if e, ok := r.obscure[id]; ok {
		e.recordAccess(r.k, ts)
		if len(e.history) == r.k {
			delete(r.obscure, id)
			r.obscureMu.Unlock()

			r.hotspotMu.Lock()
			r.hotspot[id] = e
			r.hotspotMu.Unlock()
			return
		}
		r.obscureMu.Unlock()
		return
	}
	r.obscureMu.Unlock()

	r.hotspotMu.Lock()
	if e, ok := r.hotspot[id]; ok {
		e.recordAccess(r.k, ts)
		r.hotspotMu.Unlock()
		return
	}
	r.hotspotMu.Unlock()

	// unknown id: new obscure entry, evictable by default.
	e := &entry{history: []int64{ts}, evictable: true}
	r.obscureMu.Lock()
	r.obscure[id] = e
	r.obscureMu.Unlock()
	atomic.AddInt64(&r.evictableCount, 1)
}

// SetEvictable marks id evictable or not. A 0->evictable transition
// (unpin) or evictable->0 (pin) updates the evictable count the
// buffer manager's condition variable waits on.
func (r *Replacer) SetEvictable(id pageid.FrameID, evictable bool) {
	r.obscureMu.Lock()
	if e, ok := r.obscure[id]; ok {
		r.setEvictableLocked(e, evictable)
		r.obscureMu.Unlock()
		return
	}
	r.obscureMu.Unlock()

	r.hotspotMu.Lock()
	if e, ok := r.hotspot[id]; ok {
		r.setEvictableLocked(e, evictable)
	}
	r.hotspotMu.Unlock()
}

func (r *Replacer) setEvictableLocked(e *entry, evictable bool) {
	if e.evictable == evictable {
		return
	}
	e.evictable = evictable
	if evictable {
		atomic.AddInt64(&r.evictableCount, 1)
	} else {
		atomic.AddInt64(&r.evictableCount, -1)
	}
}

// Pin clears evictable for id (spec §4.5: pin_count 0->1 "pins the
// replacer").
func (r *Replacer) Pin(id pageid.FrameID) {
	r.SetEvictable(id, false)
}

// Unpin sets evictable for id (pin_count 1->0 "unpins the replacer").
func (r *Replacer) Unpin(id pageid.FrameID) {
	r.SetEvictable(id, true)
}

// Remove drops id's entry entirely. Fails if the target is not
// evictable.
func (r *Replacer) Remove(id pageid.FrameID) error {
	r.obscureMu.Lock()
	if e, ok := r.obscure[id]; ok {
		if !e.evictable {
			r.obscureMu.Unlock()
			return fmt.Errorf("replacer: Remove(%v): not evictable", id)
		}
		delete(r.obscure, id)
		r.obscureMu.Unlock()
		atomic.AddInt64(&r.evictableCount, -1)
		return nil
	}
	r.obscureMu.Unlock()

	r.hotspotMu.Lock()
	defer r.hotspotMu.Unlock()
	if e, ok := r.hotspot[id]; ok {
		if !e.evictable {
			return fmt.Errorf("replacer: Remove(%v): not evictable", id)
		}
		delete(r.hotspot, id)
		atomic.AddInt64(&r.evictableCount, -1)
		return nil
	}
	return nil
}

// Size returns the number of currently evictable entries.
func (r *Replacer) Size() int {
	return int(atomic.LoadInt64(&r.evictableCount))
}

// Victim selects an eviction candidate: the evictable obscure entry
// with the smallest k-distance (oldest-first preference) if any
// exists, else the evictable hotspot entry with the smallest
// k-distance, else (InvalidFrame, false).
func (r *Replacer) Victim() (pageid.FrameID, bool) {
	if id, ok := r.victimIn(&r.obscureMu, r.obscure); ok {
		return id, true
	}
	return r.victimIn(&r.hotspotMu, r.hotspot)
}

func (r *Replacer) victimIn(mu *sync.Mutex, set map[pageid.FrameID]*entry) (pageid.FrameID, bool) {
	mu.Lock()
	defer mu.Unlock()

	best := pageid.InvalidFrame
	var bestDist int64
	for id, e := range set {
		if !e.evictable {
			continue
		}
		if best == pageid.InvalidFrame || e.kDistance() < bestDist {
			best = id
			bestDist = e.kDistance()
		}
	}
	return best, best.Valid()
}
