package heap

import (
	"path/filepath"
	"testing"
	"time"

	"strictdb/buffer"
	"strictdb/diskmgr"
	"strictdb/lockmgr"
	"strictdb/page"
	"strictdb/txn"
	"strictdb/wal"
)

type harness struct {
	disk  *diskmgr.Manager
	pool  *buffer.Pool
	log   *wal.Manager
	locks *lockmgr.Manager
	txns  *txn.Manager
	heap  *Heap
	dir   string
}

func newHarness(t *testing.T, fileID uint32) *harness {
	t.Helper()
	dir := t.TempDir()

	disk := diskmgr.New(nil)
	if err := disk.OpenFileWithID(filepath.Join(dir, "t.heap"), fileID); err != nil {
		t.Fatalf("open heap file: %v", err)
	}

	logMgr, err := wal.Open(filepath.Join(dir, "log"), 4096, nil)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	pool := buffer.NewPool(16, disk, nil)
	pool.SetWAL(logMgr)

	locks := lockmgr.NewManager(time.Second, nil)
	h := New("t", fileID, pool, logMgr, locks, nil)
	txns := txn.NewManager(locks, logMgr, h, nil)

	return &harness{disk: disk, pool: pool, log: logMgr, locks: locks, txns: txns, heap: h, dir: dir}
}

func mustBegin(t *testing.T, m *txn.Manager) *txn.Transaction {
	t.Helper()
	tx, err := m.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func TestInsertAndGet(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	rid, err := h.heap.Insert(tx, []byte("Alice|20|A"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rid.PageNo != 0 || rid.Slot != 0 {
		t.Fatalf("unexpected rid %+v", rid)
	}

	got, err := h.heap.Get(tx, rid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "Alice|20|A" {
		t.Fatalf("got %q", got)
	}

	if err := h.txns.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestSlotIndicesAreSequential(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	for i := 0; i < 10; i++ {
		rid, err := h.heap.Insert(tx, []byte{byte(i)})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if rid.Slot != uint16(i) {
			t.Errorf("row %d: expected slot %d, got %d", i, i, rid.Slot)
		}
	}
}

func TestDeleteTombstonesSlot(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	rid, err := h.heap.Insert(tx, []byte("to-delete"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.heap.Delete(tx, rid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.heap.Get(tx, rid); err == nil {
		t.Fatalf("expected error reading deleted row")
	}
}

func TestUpdateInPlaceKeepsRid(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	rid, err := h.heap.Insert(tx, []byte("original-value"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	newRid, err := h.heap.Update(tx, rid, []byte("short"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if newRid != rid {
		t.Fatalf("expected in-place update to keep rid %+v, got %+v", rid, newRid)
	}
	got, err := h.heap.Get(tx, rid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateRelocatesWhenLarger(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	rid, err := h.heap.Insert(tx, []byte("x"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	bigger := make([]byte, 64)
	for i := range bigger {
		bigger[i] = 'z'
	}
	newRid, err := h.heap.Update(tx, rid, bigger)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if newRid == rid {
		t.Fatalf("expected update to relocate to a new slot")
	}
	got, err := h.heap.Get(tx, newRid)
	if err != nil {
		t.Fatalf("get relocated: %v", err)
	}
	if string(got) != string(bigger) {
		t.Fatalf("relocated data mismatch")
	}
}

func TestMultiplePagesOnOverflow(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	seen := map[uint32]bool{}
	row := make([]byte, 500)
	for i := 0; i < 50; i++ {
		rid, err := h.heap.Insert(tx, row)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		seen[rid.PageNo] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected rows to spill onto a second page, stayed on %d", len(seen))
	}
}

func TestAbortUndoesInsert(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	rid, err := h.heap.Insert(tx, []byte("rolled-back"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.txns.Abort(tx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := h.heap.Get(nil, rid); err == nil {
		t.Fatalf("expected inserted row to be undone after abort")
	}
}

func TestAbortUndoesDelete(t *testing.T) {
	h := newHarness(t, 1)
	setupTx := mustBegin(t, h.txns)
	rid, err := h.heap.Insert(setupTx, []byte("will-survive"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.txns.Commit(setupTx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx := mustBegin(t, h.txns)
	if err := h.heap.Delete(tx, rid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.txns.Abort(tx); err != nil {
		t.Fatalf("abort: %v", err)
	}

	got, err := h.heap.Get(nil, rid)
	if err != nil {
		t.Fatalf("expected deleted row restored after abort: %v", err)
	}
	if string(got) != "will-survive" {
		t.Fatalf("got %q", got)
	}
}

func TestScanReturnsLiveRowsOnly(t *testing.T) {
	h := newHarness(t, 1)
	tx := mustBegin(t, h.txns)

	var rids []page.Rid
	for i := 0; i < 5; i++ {
		rid, err := h.heap.Insert(tx, []byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		rids = append(rids, rid)
	}
	if err := h.heap.Delete(tx, rids[2]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	live, err := h.heap.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(live) != 4 {
		t.Fatalf("expected 4 live rows, got %d", len(live))
	}
}

