package bplustree

import (
	"fmt"
	"path/filepath"
	"testing"

	"strictdb/buffer"
	"strictdb/diskmgr"
	"strictdb/page"
)

func newTestTree(t *testing.T, fileID uint32, unique bool) *Tree {
	t.Helper()
	dir := t.TempDir()
	disk := diskmgr.New(nil)
	pool := buffer.NewPool(64, disk, nil)

	tr, err := Open(filepath.Join(dir, "idx"), fileID, unique, pool, disk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return tr
}

func TestInsertAndSearch(t *testing.T) {
	tr := newTestTree(t, 1, false)

	if err := tr.Insert([]byte("apple"), page.Rid{PageNo: 0, Slot: 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tr.Insert([]byte("banana"), page.Rid{PageNo: 0, Slot: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rids, err := tr.Search([]byte("apple"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rids) != 1 || rids[0] != (page.Rid{PageNo: 0, Slot: 0}) {
		t.Fatalf("unexpected result %v", rids)
	}

	if rids, _ := tr.Search([]byte("missing")); len(rids) != 0 {
		t.Fatalf("expected no hits, got %v", rids)
	}
}

func TestDuplicateKeys(t *testing.T) {
	tr := newTestTree(t, 1, false)

	key := []byte("dup")
	for i := 0; i < 5; i++ {
		if err := tr.Insert(key, page.Rid{PageNo: uint32(i), Slot: 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	rids, err := tr.Search(key)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rids) != 5 {
		t.Fatalf("expected 5 rids for duplicate key, got %d", len(rids))
	}
}

func TestSplitsAcrossManyKeys(t *testing.T) {
	tr := newTestTree(t, 1, false)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := tr.Insert(key, page.Rid{PageNo: uint32(i), Slot: 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		rids, err := tr.Search(key)
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if len(rids) != 1 || rids[0].PageNo != uint32(i) {
			t.Fatalf("key %d: unexpected result %v", i, rids)
		}
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tr := newTestTree(t, 1, false)

	rid := page.Rid{PageNo: 7, Slot: 3}
	if err := tr.Insert([]byte("gone"), rid); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tr.Delete([]byte("gone"), rid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rids, err := tr.Search([]byte("gone"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rids) != 0 {
		t.Fatalf("expected key removed, found %v", rids)
	}
}

func TestDeleteTriggersMergeAcrossManyKeys(t *testing.T) {
	tr := newTestTree(t, 1, false)

	const n = 300
	var rids []page.Rid
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		rid := page.Rid{PageNo: uint32(i), Slot: 0}
		if err := tr.Insert(key, rid); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, rid)
	}

	for i := 0; i < n-1; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		if err := tr.Delete(key, rids[i]); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	for i := 0; i < n-1; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		got, err := tr.Search(key)
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if len(got) != 0 {
			t.Fatalf("key %d should have been deleted, found %v", i, got)
		}
	}
	last := []byte(fmt.Sprintf("k-%05d", n-1))
	got, err := tr.Search(last)
	if err != nil {
		t.Fatalf("search last: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected last surviving key, got %v", got)
	}
}

func TestReopenPersistsRoot(t *testing.T) {
	dir := t.TempDir()
	disk := diskmgr.New(nil)
	pool := buffer.NewPool(64, disk, nil)
	path := filepath.Join(dir, "idx")

	tr, err := Open(path, 1, false, pool, disk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("p-%05d", i))
		if err := tr.Insert(key, page.Rid{PageNo: uint32(i), Slot: 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := pool.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	disk2 := diskmgr.New(nil)
	pool2 := buffer.NewPool(64, disk2, nil)
	tr2, err := Open(path, 1, false, pool2, disk2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rids, err := tr2.Search([]byte("p-00199"))
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(rids) != 1 {
		t.Fatalf("expected surviving key after reopen, got %v", rids)
	}
}
