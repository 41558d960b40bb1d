package bplustree

import (
	"bytes"
	"io"

	"strictdb/page"
)

// Cursor walks a contiguous run of (key, Rid) entries across one or more
// leaves, following the doubly-linked leaf chain (spec.md §3/§4.3)
// instead of re-descending from the root for every leaf boundary
// crossed. It holds exactly one leaf's read latch at a time: the next
// leaf is latched before the current one is released, the same
// crabbing discipline findLeaf uses vertically, applied horizontally.
type Cursor struct {
	t        *Tree
	leaf     *node
	idx      int
	high     []byte
	highIncl bool
	done     bool
}

// RangeScan returns a Cursor over every (key, Rid) entry with key in
// [low, high] (bounds nil-able and inclusive/exclusive per lowIncl and
// highIncl), ordered by key then Rid. low == nil starts at the
// leftmost leaf; high == nil scans to the end of the tree.
func (t *Tree) RangeScan(low, high []byte, lowIncl, highIncl bool) (*Cursor, error) {
	var leaf *node
	var err error
	if low == nil {
		leaf, err = t.findLeftmost()
	} else {
		leaf, err = t.findLeaf(low, nil)
	}
	if err != nil {
		return nil, err
	}

	idx := 0
	if low != nil {
		idx = lowerBoundKey(leaf.entries, low)
		if !lowIncl {
			for idx < len(leaf.entries) && bytes.Equal(leaf.entries[idx].key, low) {
				idx++
			}
		}
	}

	c := &Cursor{t: t, leaf: leaf, idx: idx, high: high, highIncl: highIncl}
	if err := c.advanceToValid(); err != nil {
		return nil, err
	}
	return c, nil
}

// findLeftmost descends via each node's first child, the same RLock
// crabbing findLeaf uses but without a key to compare against.
func (t *Tree) findLeftmost() (*node, error) {
	t.rootMu.Lock()
	rootNo := t.root
	t.rootMu.Unlock()

	cur, err := t.fetchNode(rootNo)
	if err != nil {
		return nil, err
	}
	cur.pg.RLock()

	for !isLeaf(cur) {
		childNo := cur.children[0]
		child, err := t.fetchNode(childNo)
		if err != nil {
			cur.pg.RUnlock()
			t.unpin(cur, false)
			return nil, err
		}
		child.pg.RLock()
		cur.pg.RUnlock()
		t.unpin(cur, false)
		cur = child
	}
	return cur, nil
}

// advanceToValid skips past an exhausted leaf by crabbing to leaf.next,
// and stops the cursor once the high bound is exceeded or the chain
// runs out. c.leaf is always either a still-RLocked leaf with a valid
// entry at c.idx, or done == true with every latch released.
func (c *Cursor) advanceToValid() error {
	for {
		if c.idx < len(c.leaf.entries) {
			e := c.leaf.entries[c.idx]
			if c.high != nil {
				cmp := bytes.Compare(e.key, c.high)
				if cmp > 0 || (cmp == 0 && !c.highIncl) {
					c.finish()
				}
			}
			return nil
		}

		nextNo := c.leaf.next
		if nextNo == noPage {
			c.finish()
			return nil
		}
		nextLeaf, err := c.t.fetchNode(nextNo)
		if err != nil {
			c.finish()
			return err
		}
		nextLeaf.pg.RLock()
		c.leaf.pg.RUnlock()
		c.t.unpin(c.leaf, false)
		c.leaf = nextLeaf
		c.idx = 0
	}
}

func (c *Cursor) finish() {
	if c.done {
		return
	}
	c.leaf.pg.RUnlock()
	c.t.unpin(c.leaf, false)
	c.done = true
}

// Next returns the next (key, Rid) pair in range, or io.EOF once the
// scan is exhausted.
func (c *Cursor) Next() ([]byte, page.Rid, error) {
	if c.done {
		return nil, page.Rid{}, io.EOF
	}
	e := c.leaf.entries[c.idx]
	c.idx++
	if err := c.advanceToValid(); err != nil {
		return nil, page.Rid{}, err
	}
	return e.key, e.rid, nil
}

// Close releases the cursor's held leaf latch, if any. Safe to call
// after the cursor is already exhausted.
func (c *Cursor) Close() error {
	c.finish()
	return nil
}
