package exec_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strictdb/bplustree"
	"strictdb/buffer"
	"strictdb/catalog"
	"strictdb/diskmgr"
	"strictdb/exec"
	"strictdb/heap"
	"strictdb/lockmgr"
	"strictdb/page"
	"strictdb/txn"
	"strictdb/wal"
)

type harness struct {
	pool   *buffer.Pool
	h      *heap.Heap
	tree   *bplustree.Tree
	txns   *txn.Manager
	table  *catalog.TableDef
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	disk := diskmgr.New(nil)
	require.NoError(t, disk.OpenFileWithID(filepath.Join(dir, "accounts.heap"), 1))
	require.NoError(t, disk.OpenFileWithID(filepath.Join(dir, "accounts.idx"), 2))
	logMgr, err := wal.Open(filepath.Join(dir, "wal.log"), 4096, nil)
	require.NoError(t, err)
	pool := buffer.NewPool(64, disk, nil)
	pool.SetWAL(logMgr)
	locks := lockmgr.NewManager(time.Second, nil)
	h := heap.New("accounts", 1, pool, logMgr, locks, nil)
	tree, err := bplustree.Open(filepath.Join(dir, "accounts.idx"), 2, true, pool, disk)
	require.NoError(t, err)
	txns := txn.NewManager(locks, logMgr, h, nil)

	table := &catalog.TableDef{
		Name: "accounts",
		Columns: []catalog.Column{
			{Name: "id", Type: catalog.TypeInt32},
			{Name: "name", Type: catalog.TypeString, Width: 16},
		},
	}
	return &harness{pool: pool, h: h, tree: tree, txns: txns, table: table}
}

func (hs *harness) indexes() []exec.IndexMaintainer {
	col, _ := hs.table.Column("id")
	return []exec.IndexMaintainer{{Tree: hs.tree, Col: col}}
}

func TestInsertThenSeqScan(t *testing.T) {
	hs := newHarness(t)
	tx, err := hs.txns.Begin()
	require.NoError(t, err)

	ins := exec.NewInsert(hs.table, hs.h, hs.indexes(), tx, []any{int32(1), "alice"})
	_, err = ins.Next()
	require.NoError(t, err)
	ins2 := exec.NewInsert(hs.table, hs.h, hs.indexes(), tx, []any{int32(2), "bob"})
	_, err = ins2.Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx))

	scan := exec.NewSeqScan(hs.table, hs.h, nil)
	rows := drain(t, scan)
	require.Len(t, rows, 2)
}

func TestIndexScanFindsInsertedRow(t *testing.T) {
	hs := newHarness(t)
	tx, err := hs.txns.Begin()
	require.NoError(t, err)
	_, err = exec.NewInsert(hs.table, hs.h, hs.indexes(), tx, []any{int32(42), "carol"}).Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx))

	col, _ := hs.table.Column("id")
	scan, err := exec.NewIndexScan(hs.table, hs.h, hs.tree, nil, col, int32(42))
	require.NoError(t, err)
	rows := drain(t, scan)
	require.Len(t, rows, 1)
	require.Equal(t, "carol", rows[0][1])
}

func TestDeleteOperatorRemovesRowAndIndexEntry(t *testing.T) {
	hs := newHarness(t)
	tx, err := hs.txns.Begin()
	require.NoError(t, err)
	_, err = exec.NewInsert(hs.table, hs.h, hs.indexes(), tx, []any{int32(7), "dave"}).Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx))

	tx2, err := hs.txns.Begin()
	require.NoError(t, err)

	rids, err := hs.h.Scan()
	require.NoError(t, err)
	require.Len(t, rids, 1)
	rid := rids[0]

	scan := exec.NewSeqScan(hs.table, hs.h, tx2)
	del := exec.NewDelete(scan, hs.table, hs.h, hs.indexes(), tx2, func(exec.Row) page.Rid { return rid })
	_, err = del.Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx2))

	col, _ := hs.table.Column("id")
	idxScan, err := exec.NewIndexScan(hs.table, hs.h, hs.tree, nil, col, int32(7))
	require.NoError(t, err)
	rows := drain(t, idxScan)
	require.Empty(t, rows)
}

func TestUpdateOperatorPatchesRowAndReindexes(t *testing.T) {
	hs := newHarness(t)
	tx, err := hs.txns.Begin()
	require.NoError(t, err)
	_, err = exec.NewInsert(hs.table, hs.h, hs.indexes(), tx, []any{int32(9), "erin"}).Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx))

	tx2, err := hs.txns.Begin()
	require.NoError(t, err)
	rids, err := hs.h.Scan()
	require.NoError(t, err)
	rid := rids[0]

	scan := exec.NewSeqScan(hs.table, hs.h, tx2)
	upd := exec.NewUpdate(scan, hs.table, hs.h, hs.indexes(), tx2,
		func(exec.Row) page.Rid { return rid },
		func(r exec.Row) exec.Row { return exec.Row{int32(99), r[1]} },
	)
	_, err = upd.Next()
	require.NoError(t, err)
	require.NoError(t, hs.txns.Commit(tx2))

	col, _ := hs.table.Column("id")
	oldScan, err := exec.NewIndexScan(hs.table, hs.h, hs.tree, nil, col, int32(9))
	require.NoError(t, err)
	require.Empty(t, drain(t, oldScan))

	newScan, err := exec.NewIndexScan(hs.table, hs.h, hs.tree, nil, col, int32(99))
	require.NoError(t, err)
	rows := drain(t, newScan)
	require.Len(t, rows, 1)
	require.Equal(t, "erin", rows[0][1])
}
