package exec

import (
	"fmt"
	"io"

	"strictdb/bplustree"
	"strictdb/catalog"
	"strictdb/heap"
	"strictdb/txn"
)

// RangeScanOperator answers an ordered-range predicate (col BETWEEN low
// AND high, or an open-ended half of one) via the B+ tree's cursor
// instead of a point lookup — spec.md §4.3's range_scan, the ordered
// counterpart to IndexScanOperator's equality lookup.
//
// Grounded the same way IndexScanOperator is: encode the bound values
// with catalog.EncodeKey, walk the resulting Rids through the heap.
// low and high are nil-able (an unbounded side of the range); when both
// are nil this degenerates to a full index-order scan.
type RangeScanOperator struct {
	table  string
	tx     *txn.Transaction
	h      *heap.Heap
	tree   *bplustree.Tree
	layout []catalog.ColumnLayout
	schema Schema

	low, high         []byte
	lowIncl, highIncl bool

	cur *bplustree.Cursor
}

func NewRangeScan(def *catalog.TableDef, h *heap.Heap, tree *bplustree.Tree, t *txn.Transaction, col catalog.ColumnLayout, low, high any, lowIncl, highIncl bool) (*RangeScanOperator, error) {
	var lowKey, highKey []byte
	if low != nil {
		k, err := catalog.EncodeKey(col, low)
		if err != nil {
			return nil, fmt.Errorf("exec: rangescan %s: %w", def.Name, err)
		}
		lowKey = k
	}
	if high != nil {
		k, err := catalog.EncodeKey(col, high)
		if err != nil {
			return nil, fmt.Errorf("exec: rangescan %s: %w", def.Name, err)
		}
		highKey = k
	}
	layout := layoutOf(def)
	schema := make(Schema, len(layout))
	for i, c := range layout {
		schema[i] = def.Name + "." + c.Name
	}
	return &RangeScanOperator{
		table: def.Name, tx: t, h: h, tree: tree, layout: layout, schema: schema,
		low: lowKey, high: highKey, lowIncl: lowIncl, highIncl: highIncl,
	}, nil
}

func (s *RangeScanOperator) Open() error {
	cur, err := s.tree.RangeScan(s.low, s.high, s.lowIncl, s.highIncl)
	if err != nil {
		return fmt.Errorf("exec: rangescan %s: %w", s.table, err)
	}
	s.cur = cur
	return nil
}

func (s *RangeScanOperator) Next() (Row, error) {
	for {
		_, rid, err := s.cur.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("exec: rangescan %s: %w", s.table, err)
		}
		data, err := s.h.Get(s.tx, rid)
		if err != nil {
			continue
		}
		values, err := catalog.DecodeTuple(s.layout, data)
		if err != nil {
			return nil, fmt.Errorf("exec: rangescan %s: decode: %w", s.table, err)
		}
		return Row(values), nil
	}
}

func (s *RangeScanOperator) Close() error {
	if s.cur != nil {
		return s.cur.Close()
	}
	return nil
}

func (s *RangeScanOperator) Schema() Schema { return s.schema }
