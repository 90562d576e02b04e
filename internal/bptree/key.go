// Package bptree implements the concurrent multi-valued B+tree
// described in spec §4.6 (node layout) and §4.7 (search/insert/remove
// algorithms): fixed-size bitwise-copyable keys and values, composite
// (key, value) ordering, latch-coupled optimistic-then-pessimistic
// descent.
//
// Grounded on the teacher's btree.go (BTreeNode, readNode/writeHeader,
// searchBranch/searchLeaf, insertBranch/insertLeaf, leaf prev/next
// sibling links, Cursor), generalized from a single-value, no-split
// toy tree (the teacher panics with "out of space" instead of
// splitting) into the spec's full split/merge/redistribute/root-latch
// protocol.
package bptree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// KeySize and ValueSize are the fixed widths of keys and values, per
// spec's "no variable-length keys/values" non-goal. 64 bytes
// comfortably holds the string keys used in spec's worked example
// ("FlowersForAlgernon", "CppPrimer", ...).
const (
	KeySize   = 64
	ValueSize = 8
)

// Key is a fixed-size, bitwise-copyable record compared lexically
// byte-by-byte. NewKey pads short string keys on the right with zero
// bytes, which sorts correctly against other zero-padded keys since
// 0x00 < any ASCII printable byte.
type Key [KeySize]byte

// Value is a fixed-size, bitwise-copyable record. ValueFromInt64
// encodes integers in a bias-adjusted big-endian form so that
// bytewise comparison matches numeric comparison, including for
// negative numbers.
type Value [ValueSize]byte

// NewKey builds a Key from s, which must fit within KeySize bytes.
func NewKey(s string) (Key, error) {
	var k Key
	if len(s) > KeySize {
		return k, fmt.Errorf("bptree: key %q exceeds %d bytes", s, KeySize)
	}
	copy(k[:], s)
	return k, nil
}

// String returns the original string a Key was built from (trailing
// zero padding stripped).
func (k Key) String() string {
	return strings.TrimRight(string(k[:]), "\x00")
}

// CompareKeys implements <_key from spec §4.6.
func CompareKeys(a, b Key) int {
	return bytes.Compare(a[:], b[:])
}

const signBit = uint64(1) << 63

// ValueFromInt64 encodes v as a Value whose bytewise order matches
// int64 numeric order.
func ValueFromInt64(v int64) Value {
	var val Value
	binary.BigEndian.PutUint64(val[:], uint64(v)^signBit)
	return val
}

// Int64 decodes a Value built by ValueFromInt64.
func (v Value) Int64() int64 {
	return int64(binary.BigEndian.Uint64(v[:]) ^ signBit)
}

// CompareValues implements <_value from spec §4.6.
func CompareValues(a, b Value) int {
	return bytes.Compare(a[:], b[:])
}

// Entry is a (key, value) pair, the multi-valued B+tree's payload.
type Entry struct {
	Key   Key
	Value Value
}

// CompareEntries composes <_key and <_value lexicographically, the
// composite order the multi-valued tree and its internal-node routing
// use throughout (spec §4.6).
func CompareEntries(a, b Entry) int {
	if c := CompareKeys(a.Key, b.Key); c != 0 {
		return c
	}
	return CompareValues(a.Value, b.Value)
}
