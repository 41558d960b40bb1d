package bplustree

import (
	"bytes"
	"fmt"
	"sync"

	"strictdb/buffer"
	"strictdb/dberr"
	"strictdb/diskmgr"
	"strictdb/page"
)

// Tree is one secondary (or primary) index: a B+ tree of (key, Rid)
// entries stored in its own diskmgr file. Page 0 is reserved as a
// metadata page holding the current root's page number; every other
// page is a tree node.
//
// Structural changes (splits, merges, root replacement) are protected by
// per-page latches acquired hand-over-hand during descent (spec.md
// §3.3's "crabbing"), not by a single tree-wide lock — a reader never
// blocks behind a writer touching an unrelated subtree. rootMu guards
// only the rare moment the root pointer itself changes.
type Tree struct {
	fileID uint32
	pool   *buffer.Pool
	disk   *diskmgr.Manager
	unique bool

	rootMu sync.Mutex
	root   uint32
}

// Open opens (or initializes) the index file at path under fileID. A
// fresh file gets an empty leaf as its sole node.
func Open(path string, fileID uint32, unique bool, pool *buffer.Pool, disk *diskmgr.Manager) (*Tree, error) {
	if err := disk.OpenFileWithID(path, fileID); err != nil {
		return nil, err
	}
	t := &Tree{fileID: fileID, pool: pool, disk: disk, unique: unique}

	meta, err := pool.Fetch(page.MakeID(fileID, 0))
	if err != nil {
		// Fresh file: page 0 is the metadata page, page 1 the root leaf.
		meta, err = pool.NewPage(fileID, page.TypeMetadata)
		if err != nil {
			return nil, err
		}
		root, err := t.allocNode(typeLeaf)
		if err != nil {
			return nil, err
		}
		root.next = noPage
		if err := t.writeNode(root); err != nil {
			return nil, err
		}
		t.root = root.pageNo
		t.pool.Unpin(root.pg.ID, true)
		t.putRootPointer(meta)
		t.pool.Unpin(meta.ID, true)
		return t, nil
	}
	meta.RLock()
	t.root = readRootPointer(meta)
	meta.RUnlock()
	t.pool.Unpin(meta.ID, false)
	return t, nil
}

func readRootPointer(meta *page.Page) uint32 {
	return uint32(meta.Data[20]) | uint32(meta.Data[21])<<8 | uint32(meta.Data[22])<<16 | uint32(meta.Data[23])<<24
}

func (t *Tree) putRootPointer(meta *page.Page) {
	v := t.root
	meta.Data[20] = byte(v)
	meta.Data[21] = byte(v >> 8)
	meta.Data[22] = byte(v >> 16)
	meta.Data[23] = byte(v >> 24)
	meta.IsDirty = true
}

func (t *Tree) saveRoot() error {
	meta, err := t.pool.Fetch(page.MakeID(t.fileID, 0))
	if err != nil {
		return err
	}
	meta.Lock()
	t.putRootPointer(meta)
	meta.Unlock()
	return t.pool.Unpin(meta.ID, true)
}

func (t *Tree) allocNode(typ nodeType) (*node, error) {
	pg, err := t.pool.NewPage(t.fileID, page.TypeBTreeNode)
	if err != nil {
		return nil, err
	}
	n := &node{pageNo: pg.ID.PageNo(), typ: typ, parent: noPage, pg: pg}
	return n, nil
}

func (t *Tree) fetchNode(pageNo uint32) (*node, error) {
	pg, err := t.pool.Fetch(page.MakeID(t.fileID, pageNo))
	if err != nil {
		return nil, err
	}
	return decodeNode(pg)
}

func (t *Tree) writeNode(n *node) error {
	return n.encode()
}

func (t *Tree) unpin(n *node, dirty bool) {
	t.pool.Unpin(n.pg.ID, dirty)
}

// fixSiblingPrev updates the leaf at n.next (if any) so its prev points
// back to n — called after any structural change that moves n.next to a
// different page, to keep the doubly-linked leaf chain (spec.md §3/§4.3)
// consistent for range-scan cursors walking it in either direction.
func (t *Tree) fixSiblingPrev(n *node) error {
	if n.next == noPage {
		return nil
	}
	neighbor, err := t.fetchNode(n.next)
	if err != nil {
		return err
	}
	neighbor.pg.Lock()
	neighbor.prev = n.pageNo
	err = t.writeNode(neighbor)
	neighbor.pg.Unlock()
	t.unpin(neighbor, true)
	return err
}

// Search returns every Rid stored under key.
func (t *Tree) Search(key []byte) ([]page.Rid, error) {
	leaf, err := t.findLeaf(key, nil)
	if err != nil {
		return nil, err
	}
	// findLeaf returns the leaf already read-latched; release that latch
	// before unpinning (deferred calls run in reverse order).
	defer t.unpin(leaf, false)
	defer leaf.pg.RUnlock()

	var rids []page.Rid
	probe := entry{key: key}
	idx := lowerBoundEntry(leaf.entries, probe)
	for idx < len(leaf.entries) && bytes.Equal(leaf.entries[idx].key, key) {
		rids = append(rids, leaf.entries[idx].rid)
		idx++
	}
	return rids, nil
}

// findLeaf descends with read-latch coupling: it holds a node's latch
// only until the child it picked is latched, then releases it — a
// reader never holds more than two page latches at once.
func (t *Tree) findLeaf(key []byte, path *[]uint32) (*node, error) {
	t.rootMu.Lock()
	rootNo := t.root
	t.rootMu.Unlock()

	cur, err := t.fetchNode(rootNo)
	if err != nil {
		return nil, err
	}
	cur.pg.RLock()

	for !isLeaf(cur) {
		if path != nil {
			*path = append(*path, cur.pageNo)
		}
		childNo := cur.children[cur.childFor(key)]
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

// Insert adds (key, rid). If the tree is unique, a pre-existing entry
// for key is rejected with dberr.ErrDuplicateKey. The index layer
// (exec.InsertOperator) also checks Search first so it can fail before
// writing the heap row at all, but the check here is the one that's
// atomic with the insert — both run under the same leaf latch acquired
// by writeLockPathSafe, so no second writer can slip a duplicate in
// between the caller's check and this one.
func (t *Tree) Insert(key []byte, rid page.Rid) error {
	if len(key) > MaxKeyLen {
		return fmt.Errorf("bplustree: key too long (%d bytes)", len(key))
	}

	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	path, err := t.writeLockPathSafe(key)
	if err != nil {
		return err
	}
	defer t.unlockPath(path, true)

	leaf := path[len(path)-1]
	if t.unique {
		pos := lowerBoundKey(leaf.entries, key)
		if pos < len(leaf.entries) && bytes.Equal(leaf.entries[pos].key, key) {
			return dberr.Wrap(dberr.KindIndex, "bplustree: insert", dberr.ErrDuplicateKey)
		}
	}

	e := entry{key: key, rid: rid}
	idx := lowerBoundEntry(leaf.entries, e)
	leaf.entries = append(leaf.entries, entry{})
	copy(leaf.entries[idx+1:], leaf.entries[idx:])
	leaf.entries[idx] = e
	if err := t.writeNode(leaf); err != nil {
		return err
	}

	if len(leaf.entries) <= MaxEntries {
		return nil
	}
	return t.splitLeaf(path)
}

// writeLockPathSafe descends with write latches, releasing every
// ancestor behind a "safe" node (one with room to spare, so it cannot
// itself need to split/merge when its child does) — the standard
// pessimistic latch-crabbing discipline for a node capacity of
// MaxEntries/MinEntries.
func (t *Tree) writeLockPathSafe(key []byte) ([]*node, error) {
	rootNo := t.root
	cur, err := t.fetchNode(rootNo)
	if err != nil {
		return nil, err
	}
	cur.pg.Lock()
	path := []*node{cur}

	for !isLeaf(cur) {
		childNo := cur.children[cur.childFor(key)]
		child, err := t.fetchNode(childNo)
		if err != nil {
			t.unlockPath(path, false)
			return nil, err
		}
		child.pg.Lock()

		if safeForInsert(child) {
			t.unlockPath(path, false)
			path = path[:0]
		}
		path = append(path, child)
		cur = child
	}
	return path, nil
}

func safeForInsert(n *node) bool {
	if isLeaf(n) {
		return len(n.entries) < MaxEntries
	}
	return len(n.keys) < MaxEntries
}

func (t *Tree) unlockPath(path []*node, dirty bool) {
	for _, n := range path {
		n.pg.Unlock()
		t.unpin(n, dirty)
	}
}

// splitLeaf and its internal-node counterpart assume the full write path
// (root..leaf) is still latched in path, caller holds rootMu.
func (t *Tree) splitLeaf(path []*node) error {
	leaf := path[len(path)-1]
	mid := len(leaf.entries) / 2

	right, err := t.allocNode(typeLeaf)
	if err != nil {
		return err
	}
	right.entries = append(right.entries, leaf.entries[mid:]...)
	right.next = leaf.next
	right.prev = leaf.pageNo
	right.parent = leaf.parent
	leaf.entries = leaf.entries[:mid]
	leaf.next = right.pageNo

	if err := t.writeNode(leaf); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		t.unpin(right, false)
		return err
	}
	if err := t.fixSiblingPrev(right); err != nil {
		t.unpin(right, true)
		return err
	}
	sep := append([]byte(nil), right.entries[0].key...)
	t.unpin(right, true)

	if len(path) == 1 {
		return t.newRoot(leaf.pageNo, sep, right.pageNo)
	}
	return t.insertIntoParent(path[:len(path)-1], leaf.pageNo, sep, right.pageNo)
}

func (t *Tree) newRoot(leftNo uint32, sep []byte, rightNo uint32) error {
	root, err := t.allocNode(typeInternal)
	if err != nil {
		return err
	}
	root.keys = [][]byte{sep}
	root.children = []uint32{leftNo, rightNo}
	if err := t.writeNode(root); err != nil {
		t.unpin(root, false)
		return err
	}
	t.root = root.pageNo
	t.unpin(root, true)

	if err := t.reparent(leftNo, root.pageNo); err != nil {
		return err
	}
	if err := t.reparent(rightNo, root.pageNo); err != nil {
		return err
	}
	return t.saveRoot()
}

func (t *Tree) reparent(childNo, parentNo uint32) error {
	child, err := t.fetchNode(childNo)
	if err != nil {
		return err
	}
	child.pg.Lock()
	child.parent = parentNo
	err = t.writeNode(child)
	child.pg.Unlock()
	t.unpin(child, true)
	return err
}

// insertIntoParent inserts sep/rightNo into ancestors[last], splitting
// further up the already-latched path if it overflows.
func (t *Tree) insertIntoParent(ancestors []*node, leftNo uint32, sep []byte, rightNo uint32) error {
	parent := ancestors[len(ancestors)-1]
	idx := 0
	for idx < len(parent.children) && parent.children[idx] != leftNo {
		idx++
	}
	parent.keys = append(parent.keys, nil)
	copy(parent.keys[idx+1:], parent.keys[idx:])
	parent.keys[idx] = sep

	parent.children = append(parent.children, 0)
	copy(parent.children[idx+2:], parent.children[idx+1:])
	parent.children[idx+1] = rightNo

	if err := t.writeNode(parent); err != nil {
		return err
	}
	if err := t.reparent(rightNo, parent.pageNo); err != nil {
		return err
	}

	if len(parent.keys) <= MaxEntries {
		return nil
	}

	mid := len(parent.keys) / 2
	promote := parent.keys[mid]
	right, err := t.allocNode(typeInternal)
	if err != nil {
		return err
	}
	right.keys = append(right.keys, parent.keys[mid+1:]...)
	right.children = append(right.children, parent.children[mid+1:]...)
	right.parent = parent.parent
	parent.keys = parent.keys[:mid]
	parent.children = parent.children[:mid+1]

	if err := t.writeNode(parent); err != nil {
		t.unpin(right, false)
		return err
	}
	if err := t.writeNode(right); err != nil {
		t.unpin(right, false)
		return err
	}
	for _, c := range right.children {
		if err := t.reparent(c, right.pageNo); err != nil {
			t.unpin(right, true)
			return err
		}
	}
	t.unpin(right, true)

	if len(ancestors) == 1 {
		return t.newRoot(parent.pageNo, promote, right.pageNo)
	}
	return t.insertIntoParent(ancestors[:len(ancestors)-1], parent.pageNo, promote, right.pageNo)
}

// Delete removes the (key, rid) entry, merging or redistributing with a
// sibling when the owning leaf underflows.
func (t *Tree) Delete(key []byte, rid page.Rid) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	path, err := t.writeLockFullPath(key)
	if err != nil {
		return err
	}
	defer t.unlockPath(path, true)

	leaf := path[len(path)-1]
	probe := entry{key: key, rid: rid}
	idx := lowerBoundEntry(leaf.entries, probe)
	if idx >= len(leaf.entries) || !bytes.Equal(leaf.entries[idx].key, key) || leaf.entries[idx].rid != rid {
		return fmt.Errorf("bplustree: key not found")
	}
	leaf.entries = append(leaf.entries[:idx], leaf.entries[idx+1:]...)
	if err := t.writeNode(leaf); err != nil {
		return err
	}

	if len(path) == 1 || len(leaf.entries) >= MinEntries {
		return nil
	}
	return t.rebalance(path)
}

// writeLockFullPath takes a write latch on every node from the root to
// the target leaf — deletion's borrow/merge step can touch a sibling and
// the parent at any level, so (unlike insert) the whole path stays held.
func (t *Tree) writeLockFullPath(key []byte) ([]*node, error) {
	cur, err := t.fetchNode(t.root)
	if err != nil {
		return nil, err
	}
	cur.pg.Lock()
	path := []*node{cur}
	for !isLeaf(cur) {
		childNo := cur.children[cur.childFor(key)]
		child, err := t.fetchNode(childNo)
		if err != nil {
			t.unlockPath(path, false)
			return nil, err
		}
		child.pg.Lock()
		path = append(path, child)
		cur = child
	}
	return path, nil
}

// rebalance handles one underflowed node (path's last entry) by
// borrowing from or merging with a sibling, propagating upward along the
// already-latched path as needed.
func (t *Tree) rebalance(path []*node) error {
	child := path[len(path)-1]
	parent := path[len(path)-2]

	myIdx := 0
	for myIdx < len(parent.children) && parent.children[myIdx] != child.pageNo {
		myIdx++
	}

	var left, right *node
	if myIdx > 0 {
		left, _ = t.fetchNode(parent.children[myIdx-1])
	}
	if myIdx < len(parent.children)-1 {
		right, _ = t.fetchNode(parent.children[myIdx+1])
	}

	if left != nil && hasSpareEntries(left) {
		borrowFromLeft(parent, myIdx, left, child)
		t.writeNode(left)
		t.writeNode(child)
		t.writeNode(parent)
		return nil
	}
	if right != nil && hasSpareEntries(right) {
		borrowFromRight(parent, myIdx, child, right)
		t.writeNode(right)
		t.writeNode(child)
		t.writeNode(parent)
		return nil
	}

	if left != nil {
		if err := t.mergeNodes(parent, myIdx-1, left, child); err != nil {
			return err
		}
		t.writeNode(left)
		t.writeNode(parent)
	} else if right != nil {
		if err := t.mergeNodes(parent, myIdx, child, right); err != nil {
			return err
		}
		t.writeNode(child)
		t.writeNode(parent)
	} else {
		return nil // only child, nothing to merge with
	}

	if len(path) == 2 {
		return t.collapseRootIfEmpty(parent)
	}
	if len(parent.keys) >= MinEntries {
		return nil
	}
	return t.rebalance(path[:len(path)-1])
}

func hasSpareEntries(n *node) bool {
	if isLeaf(n) {
		return len(n.entries) > MinEntries
	}
	return len(n.keys) > MinEntries
}

func borrowFromLeft(parent *node, idx int, left, child *node) {
	if isLeaf(child) {
		last := left.entries[len(left.entries)-1]
		left.entries = left.entries[:len(left.entries)-1]
		child.entries = append([]entry{last}, child.entries...)
		parent.keys[idx-1] = append([]byte(nil), child.entries[0].key...)
	} else {
		sep := parent.keys[idx-1]
		lastKey := left.keys[len(left.keys)-1]
		lastChild := left.children[len(left.children)-1]
		left.keys = left.keys[:len(left.keys)-1]
		left.children = left.children[:len(left.children)-1]
		child.keys = append([][]byte{sep}, child.keys...)
		child.children = append([]uint32{lastChild}, child.children...)
		parent.keys[idx-1] = lastKey
	}
}

func borrowFromRight(parent *node, idx int, child, right *node) {
	if isLeaf(child) {
		first := right.entries[0]
		right.entries = right.entries[1:]
		child.entries = append(child.entries, first)
		parent.keys[idx] = append([]byte(nil), right.entries[0].key...)
	} else {
		sep := parent.keys[idx]
		firstKey := right.keys[0]
		firstChild := right.children[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
		child.keys = append(child.keys, sep)
		child.children = append(child.children, firstChild)
		parent.keys[idx] = firstKey
	}
}

// mergeNodes merges right into left (left absorbs right's contents) and
// removes the separator/child pair from parent at index sepIdx.
func (t *Tree) mergeNodes(parent *node, sepIdx int, left, right *node) error {
	if isLeaf(left) {
		left.entries = append(left.entries, right.entries...)
		left.next = right.next
		if err := t.fixSiblingPrev(left); err != nil {
			return err
		}
	} else {
		sep := parent.keys[sepIdx]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.keys = append(parent.keys[:sepIdx], parent.keys[sepIdx+1:]...)
	parent.children = append(parent.children[:sepIdx+1], parent.children[sepIdx+2:]...)
	return nil
}

func (t *Tree) collapseRootIfEmpty(root *node) error {
	if len(root.keys) != 0 || len(root.children) != 1 {
		return nil
	}
	t.root = root.children[0]
	return t.saveRoot()
}
