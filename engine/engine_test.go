package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strictdb/catalog"
	"strictdb/config"
	"strictdb/engine"
)

func studentsSchema() []catalog.Column {
	return []catalog.Column{
		{Name: "id", Type: catalog.TypeInt32},
		{Name: "name", Type: catalog.TypeString, Width: 16},
		{Name: "gpa", Type: catalog.TypeFloat32},
	}
}

func TestCreateTableInsertAndScan(t *testing.T) {
	dir := t.TempDir()
	e, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.CreateTable("students", studentsSchema())
	require.NoError(t, err)
	_, err = e.CreateIndex("students", "id", true)
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	for _, row := range [][]any{
		{int32(1), "alice", float32(3.9)},
		{int32(2), "bob", float32(3.2)},
	} {
		ins, err := e.Insert(tx, "students", row)
		require.NoError(t, err)
		_, err = e.Execute(tx, ins)
		require.NoError(t, err)
	}
	require.NoError(t, e.Commit(tx))

	scanTx, err := e.Begin()
	require.NoError(t, err)
	scan, err := e.SeqScan(scanTx, "students")
	require.NoError(t, err)
	rows, err := e.Execute(scanTx, scan)
	require.NoError(t, err)
	require.NoError(t, e.Commit(scanTx))
	require.Len(t, rows, 2)
}

func TestIndexScanFindsExactRow(t *testing.T) {
	dir := t.TempDir()
	e, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.CreateTable("students", studentsSchema())
	require.NoError(t, err)
	_, err = e.CreateIndex("students", "id", true)
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	ins, err := e.Insert(tx, "students", []any{int32(7), "carol", float32(3.7)})
	require.NoError(t, err)
	_, err = e.Execute(tx, ins)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	lookupTx, err := e.Begin()
	require.NoError(t, err)
	scan, err := e.IndexScan(lookupTx, "students", "id", int32(7))
	require.NoError(t, err)
	rows, err := e.Execute(lookupTx, scan)
	require.NoError(t, err)
	require.NoError(t, e.Commit(lookupTx))
	require.Len(t, rows, 1)
	require.Equal(t, "carol", rows[0][1])
}

func TestAbortedInsertIsNotVisible(t *testing.T) {
	dir := t.TempDir()
	e, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.CreateTable("students", studentsSchema())
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	ins, err := e.Insert(tx, "students", []any{int32(1), "alice", float32(3.9)})
	require.NoError(t, err)
	_, err = e.Execute(tx, ins)
	require.NoError(t, err)
	require.NoError(t, e.Abort(tx))

	scanTx, err := e.Begin()
	require.NoError(t, err)
	scan, err := e.SeqScan(scanTx, "students")
	require.NoError(t, err)
	rows, err := e.Execute(scanTx, scan)
	require.NoError(t, err)
	require.NoError(t, e.Commit(scanTx))
	require.Empty(t, rows)
}

// TestReopenRecoversCommittedData exercises the restart path: committed
// rows written before Close must still be visible after a fresh Open
// against the same data directory, driven through recovery rather than
// an in-memory handle surviving the restart.
func TestReopenRecoversCommittedData(t *testing.T) {
	dir := t.TempDir()

	e1, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	_, err = e1.CreateTable("students", studentsSchema())
	require.NoError(t, err)
	_, err = e1.CreateIndex("students", "id", true)
	require.NoError(t, err)

	tx, err := e1.Begin()
	require.NoError(t, err)
	ins, err := e1.Insert(tx, "students", []any{int32(1), "alice", float32(3.9)})
	require.NoError(t, err)
	_, err = e1.Execute(tx, ins)
	require.NoError(t, err)
	require.NoError(t, e1.Commit(tx))
	require.NoError(t, e1.Close())

	e2, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	defer e2.Close()

	scanTx, err := e2.Begin()
	require.NoError(t, err)
	scan, err := e2.SeqScan(scanTx, "students")
	require.NoError(t, err)
	rows, err := e2.Execute(scanTx, scan)
	require.NoError(t, err)
	require.NoError(t, e2.Commit(scanTx))
	require.Len(t, rows, 1)
	require.Equal(t, int32(1), rows[0][0])

	lookupTx, err := e2.Begin()
	require.NoError(t, err)
	idxScan, err := e2.IndexScan(lookupTx, "students", "id", int32(1))
	require.NoError(t, err)
	idxRows, err := e2.Execute(lookupTx, idxScan)
	require.NoError(t, err)
	require.NoError(t, e2.Commit(lookupTx))
	require.Len(t, idxRows, 1)
}

func TestSecondOpenOnSameDirFailsOnDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	e1, err := engine.Open(dir, config.Default(), nil)
	require.NoError(t, err)
	defer e1.Close()

	_, err = engine.Open(dir, config.Default(), nil)
	require.Error(t, err)
}
