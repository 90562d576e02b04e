package bltreedb

import "github.com/0xd34d10cc/bltreedb/internal/pageid"

// PageID identifies a fixed-size page on disk. 0 is reserved and never
// issued by the allocator.
type PageID = pageid.PageID

// InvalidPageID is the null page identifier.
const InvalidPageID = pageid.Invalid

// FrameID is an index into the buffer manager's frame array, [0, F).
type FrameID = pageid.FrameID

const InvalidFrameID = pageid.InvalidFrame
