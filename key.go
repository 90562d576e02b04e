package bltreedb

import "github.com/0xd34d10cc/bltreedb/internal/bptree"

// Key and Value are the tree's fixed-size, bitwise-copyable key and
// value types (spec's "no variable-length keys/values" non-goal).
type Key = bptree.Key
type Value = bptree.Value

// NewKey builds a Key from a string, erroring if it exceeds KeySize
// bytes.
func NewKey(s string) (Key, error) {
	return bptree.NewKey(s)
}

// ValueFromInt64 encodes an int64 as a Value whose bytewise order
// matches its numeric order, including for negative numbers.
func ValueFromInt64(v int64) Value {
	return bptree.ValueFromInt64(v)
}

// KeySize and ValueSize are the fixed widths of Key and Value.
const (
	KeySize   = bptree.KeySize
	ValueSize = bptree.ValueSize
)
