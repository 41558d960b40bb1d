package exec

import (
	"fmt"
	"io"

	"strictdb/bplustree"
	"strictdb/catalog"
	"strictdb/dberr"
	"strictdb/heap"
	"strictdb/page"
	"strictdb/txn"
)

// IndexMaintainer is a table's secondary/primary index set, kept in sync
// by the DML operators below as they mutate the heap — each index is
// keyed by the catalog.ColumnLayout of its indexed column, so InsertOp
// doesn't need to know column types itself. Unique carries the
// catalog.IndexDef's uniqueness flag through to insert time: the
// operators search the index for the key first and refuse a duplicate
// before touching the tree (a tree opened as unique also rejects a
// present key in its own Insert).
type IndexMaintainer struct {
	Tree   *bplustree.Tree
	Col    catalog.ColumnLayout
	Unique bool
}

// InsertOperator drives one row through the heap and every index
// maintaining it, then reports the insert (as a single-row result, the
// shape an INSERT...VALUES statement needs) to its caller.
//
// Grounded on the original InsertRow: serialize, write heap, then
// update the primary key index, compensating the heap write if the index
// insert fails. The heap write is logged (heap.Insert logs before marking
// the page dirty) while the index has no WAL of its own, so on an index
// failure the compensation removes the index entries already added and
// deletes the heap row through heap.Delete.
type InsertOperator struct {
	table   *catalog.TableDef
	h       *heap.Heap
	indexes []IndexMaintainer
	tx      *txn.Transaction

	values []any
	done   bool
}

func NewInsert(table *catalog.TableDef, h *heap.Heap, indexes []IndexMaintainer, tx *txn.Transaction, values []any) *InsertOperator {
	return &InsertOperator{table: table, h: h, indexes: indexes, tx: tx, values: values}
}

func (o *InsertOperator) Open() error { return nil }

func (o *InsertOperator) Next() (Row, error) {
	if o.done {
		return nil, io.EOF
	}
	o.done = true

	layout := o.table.Layout()
	data, err := catalog.EncodeTuple(layout, o.values)
	if err != nil {
		return nil, fmt.Errorf("exec: insert %s: %w", o.table.Name, err)
	}
	rid, err := o.h.Insert(o.tx, data)
	if err != nil {
		return nil, fmt.Errorf("exec: insert %s: %w", o.table.Name, err)
	}

	for i, ix := range o.indexes {
		key, err := catalog.EncodeKey(ix.Col, valueFor(layout, o.values, ix.Col))
		if err != nil {
			o.compensate(o.indexes[:i], rid)
			o.h.Delete(o.tx, rid)
			return nil, fmt.Errorf("exec: insert %s: index key: %w", o.table.Name, err)
		}
		if ix.Unique {
			existing, err := ix.Tree.Search(key)
			if err != nil {
				o.compensate(o.indexes[:i], rid)
				o.h.Delete(o.tx, rid)
				return nil, fmt.Errorf("exec: insert %s: index lookup: %w", o.table.Name, err)
			}
			if len(existing) > 0 {
				o.compensate(o.indexes[:i], rid)
				o.h.Delete(o.tx, rid)
				return nil, dberr.Wrap(dberr.KindIndex, fmt.Sprintf("exec: insert %s.%s", o.table.Name, ix.Col.Name), dberr.ErrDuplicateKey)
			}
		}
		if err := ix.Tree.Insert(key, rid); err != nil {
			o.compensate(o.indexes[:i], rid)
			o.h.Delete(o.tx, rid)
			return nil, fmt.Errorf("exec: insert %s: index insert: %w", o.table.Name, err)
		}
	}

	return Row(o.values), nil
}

func valueFor(layout []catalog.ColumnLayout, values []any, col catalog.ColumnLayout) any {
	for i, c := range layout {
		if c.Name == col.Name {
			return values[i]
		}
	}
	return nil
}

func (o *InsertOperator) compensate(applied []IndexMaintainer, rid page.Rid) {
	layout := o.table.Layout()
	for _, ix := range applied {
		key, err := catalog.EncodeKey(ix.Col, valueFor(layout, o.values, ix.Col))
		if err != nil {
			continue
		}
		ix.Tree.Delete(key, rid)
	}
}

func (o *InsertOperator) Close() error { return nil }

func (o *InsertOperator) Schema() Schema {
	layout := o.table.Layout()
	out := make(Schema, len(layout))
	for i, c := range layout {
		out[i] = o.table.Name + "." + c.Name
	}
	return out
}

// DeleteOperator consumes every row its child produces (typically a scan
// or index scan already filtered to the target rows) and removes it from
// the heap and every index, returning the deleted rows for a DELETE...
// RETURNING-style caller or just a row count.
type DeleteOperator struct {
	child   Operator
	table   *catalog.TableDef
	h       *heap.Heap
	indexes []IndexMaintainer
	tx      *txn.Transaction
	rids    func(Row) page.Rid
}

// NewDelete takes a ridOf function because the child operator's Row
// carries decoded values, not the Rid it came from — callers that need
// physical deletion pair a scan operator with its own Rid bookkeeping
// (e.g. by scanning Rids directly rather than through a generic
// Operator) and pass the lookup here.
func NewDelete(child Operator, table *catalog.TableDef, h *heap.Heap, indexes []IndexMaintainer, tx *txn.Transaction, ridOf func(Row) page.Rid) *DeleteOperator {
	return &DeleteOperator{child: child, table: table, h: h, indexes: indexes, tx: tx, rids: ridOf}
}

func (o *DeleteOperator) Open() error { return o.child.Open() }

func (o *DeleteOperator) Next() (Row, error) {
	row, err := o.child.Next()
	if err != nil {
		return nil, err
	}
	rid := o.rids(row)
	layout := o.table.Layout()

	for _, ix := range o.indexes {
		key, err := catalog.EncodeKey(ix.Col, valueFor(layout, row, ix.Col))
		if err != nil {
			return nil, fmt.Errorf("exec: delete %s: index key: %w", o.table.Name, err)
		}
		if err := ix.Tree.Delete(key, rid); err != nil {
			return nil, fmt.Errorf("exec: delete %s: index delete: %w", o.table.Name, err)
		}
	}
	if err := o.h.Delete(o.tx, rid); err != nil {
		return nil, fmt.Errorf("exec: delete %s: %w", o.table.Name, err)
	}
	return row, nil
}

func (o *DeleteOperator) Close() error { return o.child.Close() }

func (o *DeleteOperator) Schema() Schema { return o.child.Schema() }

// UpdateOperator consumes each row from child, applies a column-value
// patch function, and writes the new image back through the heap,
// repointing any index whose key column changed.
type UpdateOperator struct {
	child   Operator
	table   *catalog.TableDef
	h       *heap.Heap
	indexes []IndexMaintainer
	tx      *txn.Transaction
	rids    func(Row) page.Rid
	patch   func(Row) Row
}

func NewUpdate(child Operator, table *catalog.TableDef, h *heap.Heap, indexes []IndexMaintainer, tx *txn.Transaction, ridOf func(Row) page.Rid, patch func(Row) Row) *UpdateOperator {
	return &UpdateOperator{child: child, table: table, h: h, indexes: indexes, tx: tx, rids: ridOf, patch: patch}
}

func (o *UpdateOperator) Open() error { return o.child.Open() }

func (o *UpdateOperator) Next() (Row, error) {
	oldRow, err := o.child.Next()
	if err != nil {
		return nil, err
	}
	rid := o.rids(oldRow)
	newRow := o.patch(oldRow)
	layout := o.table.Layout()

	data, err := catalog.EncodeTuple(layout, newRow)
	if err != nil {
		return nil, fmt.Errorf("exec: update %s: %w", o.table.Name, err)
	}
	newRid, err := o.h.Update(o.tx, rid, data)
	if err != nil {
		return nil, fmt.Errorf("exec: update %s: %w", o.table.Name, err)
	}

	for _, ix := range o.indexes {
		oldKey, err := catalog.EncodeKey(ix.Col, valueFor(layout, oldRow, ix.Col))
		if err != nil {
			return nil, fmt.Errorf("exec: update %s: index key: %w", o.table.Name, err)
		}
		newKey, err := catalog.EncodeKey(ix.Col, valueFor(layout, newRow, ix.Col))
		if err != nil {
			return nil, fmt.Errorf("exec: update %s: index key: %w", o.table.Name, err)
		}
		if string(oldKey) == string(newKey) && newRid == rid {
			continue
		}
		if ix.Unique {
			existing, err := ix.Tree.Search(newKey)
			if err != nil {
				return nil, fmt.Errorf("exec: update %s: index lookup: %w", o.table.Name, err)
			}
			if len(existing) > 0 {
				return nil, dberr.Wrap(dberr.KindIndex, fmt.Sprintf("exec: update %s.%s", o.table.Name, ix.Col.Name), dberr.ErrDuplicateKey)
			}
		}
		if err := ix.Tree.Delete(oldKey, rid); err != nil {
			return nil, fmt.Errorf("exec: update %s: index delete: %w", o.table.Name, err)
		}
		if err := ix.Tree.Insert(newKey, newRid); err != nil {
			return nil, fmt.Errorf("exec: update %s: index insert: %w", o.table.Name, err)
		}
	}

	return newRow, nil
}

func (o *UpdateOperator) Close() error { return o.child.Close() }

func (o *UpdateOperator) Schema() Schema { return o.child.Schema() }
