package bltreedb

import "time"

// Options configures a Tree. Mirrors the teacher's explicit-parameter
// constructors (NewPager(maxPages, storage), NewBufMgr(name, bits,
// nodeMax, ...)) rather than a config-file/env layer -- nothing in the
// example pack reaches for one at this layer of a storage engine.
type Options struct {
	// PageSize is the on-disk page size in bytes. Rounded up to a
	// multiple of 4096 if it isn't already.
	PageSize uint32

	// FrameCount is the number of frames in the buffer pool (F in
	// spec §3).
	FrameCount int

	// K is the LRU-K replacer's lookback window.
	K int

	// WorkerThreads is the number of scheduler worker goroutines.
	WorkerThreads int

	// TaskGroups is the number of fixed scheduler FIFO groups (G in
	// spec §4.4).
	TaskGroups int

	// PoolOverflowTimeout bounds how long get_reader/get_writer waits
	// on replacer_cv before failing with ErrPoolOverflow.
	PoolOverflowTimeout time.Duration

	// HeaderSize reserves H bytes at offset 0 of the paged file for
	// the tree's root PageID (and padding). 0 selects the default of
	// 64 bytes, so the header is never disabled.
	HeaderSize uint32
}

const defaultPageSize = 4096

// DefaultOptions returns sane defaults for a moderately sized tree.
func DefaultOptions() Options {
	return Options{
		PageSize:            defaultPageSize,
		FrameCount:          256,
		K:                   2,
		WorkerThreads:       4,
		TaskGroups:          16,
		PoolOverflowTimeout: 20 * time.Millisecond,
		HeaderSize:          64,
	}
}

func alignUp(size, align uint32) uint32 {
	if align == 0 {
		return size
	}
	rem := size % align
	if rem == 0 {
		return size
	}
	return size + (align - rem)
}

func (o Options) normalized() Options {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	o.PageSize = alignUp(o.PageSize, 4096)
	if o.FrameCount <= 0 {
		o.FrameCount = 256
	}
	if o.K <= 0 {
		o.K = 2
	}
	if o.WorkerThreads <= 0 {
		o.WorkerThreads = 4
	}
	if o.TaskGroups <= 0 {
		o.TaskGroups = 16
	}
	if o.PoolOverflowTimeout <= 0 {
		o.PoolOverflowTimeout = 20 * time.Millisecond
	}
	if o.HeaderSize == 0 {
		o.HeaderSize = 64
	}
	return o
}
