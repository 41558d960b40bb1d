package bplustree

import (
	"fmt"
	"io"

	"strictdb/buffer"
	"strictdb/diskmgr"
)

// Inspect writes a human-readable BFS dump of an index file to w: the
// root pointer, then level by level each internal node's key count and
// child pages, and each leaf's (key, Rid) entries.
//
// Grounded on the original bplustree/inspect.go (InspectIndexFileTo's
// BFS-over-pages dump), rewritten against this package's page/node
// shapes instead of the original standalone on-disk pager.
func Inspect(w io.Writer, path string, fileID uint32) error {
	disk := diskmgr.New(nil)
	defer disk.CloseAll()
	pool := buffer.NewPool(64, disk, nil)

	tree, err := Open(path, fileID, false, pool, disk)
	if err != nil {
		return fmt.Errorf("bplustree: inspect: %w", err)
	}

	fmt.Fprintf(w, "Index file: %s\n", path)
	fmt.Fprintf(w, "  root page = %d\n", tree.root)

	queue := []uint32{tree.root}
	level := 0
	for len(queue) > 0 {
		fmt.Fprintf(w, "  Level %d:\n", level)
		var next []uint32
		for _, pageNo := range queue {
			n, err := tree.fetchNode(pageNo)
			if err != nil {
				fmt.Fprintf(w, "    [page %d] read error: %v\n", pageNo, err)
				continue
			}
			if n.typ == typeInternal {
				fmt.Fprintf(w, "    [page %d] INTERNAL keys=%d children=%v\n", pageNo, len(n.keys), n.children)
				next = append(next, n.children...)
			} else {
				fmt.Fprintf(w, "    [page %d] LEAF entries=%d next=%d\n", pageNo, len(n.entries), n.next)
				for _, e := range n.entries {
					fmt.Fprintf(w, "      %q -> (page=%d slot=%d)\n", e.key, e.rid.PageNo, e.rid.Slot)
				}
			}
			tree.unpin(n, false)
		}
		queue = next
		level++
	}
	return nil
}
