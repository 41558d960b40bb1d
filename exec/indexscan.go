package exec

import (
	"fmt"
	"io"

	"strictdb/bplustree"
	"strictdb/catalog"
	"strictdb/heap"
	"strictdb/page"
	"strictdb/txn"
)

// IndexScanOperator answers an equality predicate via a B+ tree lookup
// instead of a full scan — one or more Rids (duplicates for a non-unique
// index), each resolved through the heap.
//
// Grounded on the original selectWithPKLookup: encode the WHERE value,
// btree.Search, decode the row pointer, HeapManager.GetRow. Generalized
// from "primary key only" to any indexed column, since this module's
// bplustree supports duplicate keys and isn't restricted to uniqueness.
type IndexScanOperator struct {
	table  string
	tx     *txn.Transaction
	h      *heap.Heap
	tree   *bplustree.Tree
	layout []catalog.ColumnLayout
	schema Schema
	key    []byte

	rids []page.Rid
	pos  int
}

func NewIndexScan(def *catalog.TableDef, h *heap.Heap, tree *bplustree.Tree, t *txn.Transaction, col catalog.ColumnLayout, value any) (*IndexScanOperator, error) {
	key, err := catalog.EncodeKey(col, value)
	if err != nil {
		return nil, fmt.Errorf("exec: indexscan %s: %w", def.Name, err)
	}
	layout := layoutOf(def)
	schema := make(Schema, len(layout))
	for i, c := range layout {
		schema[i] = def.Name + "." + c.Name
	}
	return &IndexScanOperator{table: def.Name, tx: t, h: h, tree: tree, layout: layout, schema: schema, key: key}, nil
}

func (s *IndexScanOperator) Open() error {
	rids, err := s.tree.Search(s.key)
	if err != nil {
		return fmt.Errorf("exec: indexscan %s: %w", s.table, err)
	}
	s.rids = rids
	s.pos = 0
	return nil
}

func (s *IndexScanOperator) Next() (Row, error) {
	for s.pos < len(s.rids) {
		rid := s.rids[s.pos]
		s.pos++
		data, err := s.h.Get(s.tx, rid)
		if err != nil {
			continue
		}
		values, err := catalog.DecodeTuple(s.layout, data)
		if err != nil {
			return nil, fmt.Errorf("exec: indexscan %s: decode: %w", s.table, err)
		}
		return Row(values), nil
	}
	return nil, io.EOF
}

func (s *IndexScanOperator) Close() error {
	s.rids = nil
	return nil
}

func (s *IndexScanOperator) Schema() Schema { return s.schema }
