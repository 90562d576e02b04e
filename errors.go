package bltreedb

import (
	"errors"

	"github.com/0xd34d10cc/bltreedb/internal/buffer"
	"github.com/0xd34d10cc/bltreedb/internal/diskio"
	"github.com/0xd34d10cc/bltreedb/internal/scheduler"
)

// Error kinds from spec §7. PoolOverflow is the only one callers are
// expected to recover from; the rest are fatal invariant breaches or
// programmer errors that should unwind the caller.
var (
	// ErrPoolOverflow is returned by the buffer manager when every
	// frame is pinned and no frame becomes evictable before the
	// pool-overflow timeout elapses.
	ErrPoolOverflow = buffer.ErrPoolOverflow

	// ErrInvalidPool is returned when a closure is submitted to the
	// task scheduler after Stop has been called.
	ErrInvalidPool = scheduler.ErrStopped

	// ErrSegmentationFault is returned by the paged file on read/write
	// of PageID 0.
	ErrSegmentationFault = diskio.ErrSegfault

	// ErrDebugAssertion marks an out-of-range index or other node
	// invariant breach; it is fatal and indicates a logic error.
	ErrDebugAssertion = errors.New("bltreedb: node invariant violated")

	// ErrNoFreePages is not returned by anything in the engine: the
	// LIFO allocator never runs out, since its capacity counter grows
	// without bound.
	ErrNoFreePages = errors.New("bltreedb: no free pages")

	// ErrKeyNotFound / ErrDuplicateEntry are not returned by the tree
	// or its internal packages: Insert/Remove signal these conditions
	// via their bool return per spec §6.
	ErrKeyNotFound    = errors.New("bltreedb: key not found")
	ErrDuplicateEntry = errors.New("bltreedb: (key, value) already exists")

	// ErrClosed names an operation on a closed tree. Tree's methods do
	// not track whether Close has been called and do not return it.
	ErrClosed = errors.New("bltreedb: operation on closed tree")
)
