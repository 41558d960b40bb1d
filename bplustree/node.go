// Package bplustree implements the disk-resident B+ tree secondary index:
// node split/merge, crabbing latches during descent, and a range-scan
// iterator that follows leaf sibling links (spec.md §3.3).
//
// Grounded on the original storage_engine/access/indexfile_manager/
// bplustree package: the same node shape (sorted keys, children for
// internal nodes, a leaf sibling chain) and the same fixed-size page
// serialization (node_to_index_page.go), generalized from "one value per
// key" to "one Rid per (key, Rid) entry" so duplicate keys are supported
// by tie-breaking on Rid (spec.md §3.3's duplicate-key requirement) and
// from the original single whole-tree mutex to per-page latch crabbing
// during descent (spec.md §3.3's explicit "crabbing" requirement).
package bplustree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"strictdb/page"
)

const (
	// MaxEntries bounds how many (key, Rid) pairs a leaf holds and how
	// many keys an internal node holds before it must split. Chosen
	// conservatively against MaxKeyLen so MaxEntries*  (worst-case entry
	// size) always fits one page.
	MaxEntries = 32
	MinEntries = MaxEntries / 2

	MaxKeyLen = 256
)

// noPage marks an absent parent/next/child pointer (page 0 is a legitimate
// page number — the tree's own metadata page, which is never a tree node
// — so 0 doubles as the sentinel).
const noPage uint32 = 0

type nodeType uint8

const (
	typeInternal nodeType = 0
	typeLeaf     nodeType = 1
)

// entry is one (key, Rid) pair in a leaf. Leaves store one entry per
// occurrence of a key — duplicates are just adjacent entries with equal
// keys and different Rids, ordered by Rid as the tie-break.
type entry struct {
	key []byte
	rid page.Rid
}

func entryLess(a, b entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	if a.rid.PageNo != b.rid.PageNo {
		return a.rid.PageNo < b.rid.PageNo
	}
	return a.rid.Slot < b.rid.Slot
}

// node is the in-memory decoding of one page of the index file.
type node struct {
	pageNo uint32
	typ    nodeType
	parent uint32

	keys     [][]byte // internal: separator keys, len(children) == len(keys)+1
	children []uint32 // internal only

	entries []entry // leaf only, sorted
	next    uint32  // leaf only: right sibling page number, noPage if last
	prev    uint32  // leaf only: left sibling page number, noPage if first

	pg *page.Page
}

// Node layout (little-endian), offsets 0/8 shared with every page type:
//
//	0   8  LSN
//	8   1  PageType
//	9   1  nodeType (0=internal,1=leaf)
//	10  4  parent (noPage if root)
//	14  4  next (leaf only, noPage if none)
//	18  4  prev (leaf only, noPage if none)
//	22  2  count (len(keys) for internal, len(entries) for leaf)
//	24     body
//
// Internal body: count x [ keyLen uint16 | key ], then (count+1) x [ child uint32 ]
// Leaf body:     count x [ keyLen uint16 | key | rid(6 bytes) ]
//
// prev completes the doubly-linked leaf chain (spec.md §3/§4.3) so a
// range-scan cursor can be positioned at an arbitrary leaf without
// re-descending from the root, and so future reverse scans would only
// need a symmetric Prev on Cursor.
const (
	offNodeType = 9
	offParent   = 10
	offNext     = 14
	offPrev     = 18
	offCount    = 22
	bodyStart   = 24
)

func decodeNode(pg *page.Page) (*node, error) {
	d := pg.Data[:]
	n := &node{
		pageNo: pg.ID.PageNo(),
		parent: binary.LittleEndian.Uint32(d[offParent:]),
		pg:     pg,
	}
	if d[offNodeType] == byte(typeLeaf) {
		n.typ = typeLeaf
		n.next = binary.LittleEndian.Uint32(d[offNext:])
		n.prev = binary.LittleEndian.Uint32(d[offPrev:])
	} else {
		n.typ = typeInternal
	}
	count := int(binary.LittleEndian.Uint16(d[offCount:]))

	off := bodyStart
	keys := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > page.Size {
			return nil, fmt.Errorf("bplustree: corrupt node page %d: key overrun", n.pageNo)
		}
		klen := int(binary.LittleEndian.Uint16(d[off:]))
		off += 2
		if off+klen > page.Size {
			return nil, fmt.Errorf("bplustree: corrupt node page %d: key data overrun", n.pageNo)
		}
		key := append([]byte(nil), d[off:off+klen]...)
		off += klen

		if n.typ == typeLeaf {
			rid := page.RidFromBytes(d[off : off+6])
			off += 6
			n.entries = append(n.entries, entry{key: key, rid: rid})
		} else {
			keys = append(keys, key)
		}
	}
	if n.typ == typeInternal {
		n.keys = keys
		n.children = make([]uint32, 0, count+1)
		for i := 0; i < count+1; i++ {
			n.children = append(n.children, binary.LittleEndian.Uint32(d[off:]))
			off += 4
		}
	}
	return n, nil
}

func (n *node) encode() error {
	d := n.pg.Data[:]
	for i := offNodeType; i < page.Size; i++ {
		d[i] = 0
	}
	if n.typ == typeLeaf {
		d[offNodeType] = byte(typeLeaf)
		binary.LittleEndian.PutUint32(d[offNext:], n.next)
		binary.LittleEndian.PutUint32(d[offPrev:], n.prev)
	} else {
		d[offNodeType] = byte(typeInternal)
	}
	binary.LittleEndian.PutUint32(d[offParent:], n.parent)

	off := bodyStart
	if n.typ == typeLeaf {
		binary.LittleEndian.PutUint16(d[offCount:], uint16(len(n.entries)))
		for _, e := range n.entries {
			if len(e.key) > MaxKeyLen {
				return fmt.Errorf("bplustree: key too long (%d bytes)", len(e.key))
			}
			if off+2+len(e.key)+6 > page.Size {
				return fmt.Errorf("bplustree: leaf page overflow")
			}
			binary.LittleEndian.PutUint16(d[off:], uint16(len(e.key)))
			off += 2
			copy(d[off:], e.key)
			off += len(e.key)
			ridBytes := e.rid.Bytes()
			copy(d[off:], ridBytes[:])
			off += 6
		}
	} else {
		binary.LittleEndian.PutUint16(d[offCount:], uint16(len(n.keys)))
		for _, k := range n.keys {
			if off+2+len(k) > page.Size {
				return fmt.Errorf("bplustree: internal page overflow")
			}
			binary.LittleEndian.PutUint16(d[off:], uint16(len(k)))
			off += 2
			copy(d[off:], k)
			off += len(k)
		}
		for _, c := range n.children {
			if off+4 > page.Size {
				return fmt.Errorf("bplustree: internal page overflow writing children")
			}
			binary.LittleEndian.PutUint32(d[off:], c)
			off += 4
		}
	}
	n.pg.IsDirty = true
	return nil
}

func isLeaf(n *node) bool { return n.typ == typeLeaf }

// childFor returns the index of the child to descend into for key.
func (n *node) childFor(key []byte) int {
	i := 0
	for i < len(n.keys) && bytes.Compare(key, n.keys[i]) >= 0 {
		i++
	}
	return i
}

// lowerBoundEntry returns the index of the first entry >= e.
func lowerBoundEntry(entries []entry, e entry) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entryLess(entries[mid], e) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// lowerBoundKey returns the index of the first entry whose key is >= key,
// comparing only the key (not the Rid tie-break lowerBoundEntry uses) —
// a range-scan bound names a key, not a specific (key, Rid) pair, so
// positioning a cursor's start point has to land on the first entry of
// a matching key's run rather than a particular occurrence of it.
func lowerBoundKey(entries []entry, key []byte) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(entries[mid].key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
