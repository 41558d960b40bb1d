package engine

import (
	"fmt"

	"strictdb/exec"
	"strictdb/page"
	"strictdb/txn"
)

// SeqScan returns a full-table scan operator over table under t — one of
// the two access paths an optimizer-produced tree chooses between
// (spec.md §1's "out of scope" optimizer contract; engine only supplies
// the leaves).
func (e *Engine) SeqScan(t *txn.Transaction, table string) (*exec.SeqScanOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	return exec.NewSeqScan(def, h, t), nil
}

// IndexScan returns a scan operator over an equality lookup against
// table's column index.
func (e *Engine) IndexScan(t *txn.Transaction, table, column string, value any) (*exec.IndexScanOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	tree, ok := e.indexFor(table, column)
	if !ok {
		return nil, fmt.Errorf("engine: %s has no index on %s", table, column)
	}
	col, ok := def.Column(column)
	if !ok {
		return nil, fmt.Errorf("engine: %s has no column %s", table, column)
	}
	return exec.NewIndexScan(def, h, tree, t, col, value)
}

// RangeScan returns a scan operator over an ordered range of table's
// column index: [low, high] with either bound nil for an open end and
// lowIncl/highIncl controlling whether that bound's own value is
// included.
func (e *Engine) RangeScan(t *txn.Transaction, table, column string, low, high any, lowIncl, highIncl bool) (*exec.RangeScanOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	tree, ok := e.indexFor(table, column)
	if !ok {
		return nil, fmt.Errorf("engine: %s has no index on %s", table, column)
	}
	col, ok := def.Column(column)
	if !ok {
		return nil, fmt.Errorf("engine: %s has no column %s", table, column)
	}
	return exec.NewRangeScan(def, h, tree, t, col, low, high, lowIncl, highIncl)
}

// Insert returns an operator that inserts one row into table, keeping
// every index on it in sync.
func (e *Engine) Insert(t *txn.Transaction, table string, values []any) (*exec.InsertOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	maintainers, err := e.IndexMaintainers(table)
	if err != nil {
		return nil, err
	}
	return exec.NewInsert(def, h, maintainers, t, values), nil
}

// Delete returns an operator that deletes every row child produces,
// resolving each row back to its Rid through ridOf.
func (e *Engine) Delete(t *txn.Transaction, table string, child exec.Operator, ridOf func(exec.Row) page.Rid) (*exec.DeleteOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	maintainers, err := e.IndexMaintainers(table)
	if err != nil {
		return nil, err
	}
	return exec.NewDelete(child, def, h, maintainers, t, ridOf), nil
}

// Update returns an operator that patches every row child produces and
// writes the new image back, repointing any index whose key changed.
func (e *Engine) Update(t *txn.Transaction, table string, child exec.Operator, ridOf func(exec.Row) page.Rid, patch func(exec.Row) exec.Row) (*exec.UpdateOperator, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	h, err := e.heapFor(table)
	if err != nil {
		return nil, err
	}
	maintainers, err := e.IndexMaintainers(table)
	if err != nil {
		return nil, err
	}
	return exec.NewUpdate(child, def, h, maintainers, t, ridOf, patch), nil
}
