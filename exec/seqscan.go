package exec

import (
	"fmt"
	"io"

	"strictdb/catalog"
	"strictdb/heap"
	"strictdb/page"
	"strictdb/txn"
)

// SeqScanOperator reads every live row of one table in heap order.
//
// Grounded on the original selectFullScan: GetAllRowPointers then GetRow
// per pointer, decode, append — generalized into a pull iterator instead
// of building the whole result slice up front, so a LIMIT or a join above
// it can stop early without paying for rows it never asked for.
type SeqScanOperator struct {
	table  string
	tx     *txn.Transaction
	h      *heap.Heap
	layout []catalog.ColumnLayout
	schema Schema

	rids []page.Rid
	pos  int
}

func NewSeqScan(def *catalog.TableDef, h *heap.Heap, t *txn.Transaction) *SeqScanOperator {
	layout := layoutOf(def)
	schema := make(Schema, len(layout))
	for i, c := range layout {
		schema[i] = def.Name + "." + c.Name
	}
	return &SeqScanOperator{table: def.Name, tx: t, h: h, layout: layout, schema: schema}
}

func (s *SeqScanOperator) Open() error {
	rids, err := s.h.Scan()
	if err != nil {
		return fmt.Errorf("exec: seqscan %s: %w", s.table, err)
	}
	s.rids = rids
	s.pos = 0
	return nil
}

func (s *SeqScanOperator) Next() (Row, error) {
	for s.pos < len(s.rids) {
		rid := s.rids[s.pos]
		s.pos++
		data, err := s.h.Get(s.tx, rid)
		if err != nil {
			// A row concurrently deleted between Scan and Get is not an
			// error for the scan — just skip it, as the original
			// selectFullScan does for corrupted/missing rows.
			continue
		}
		values, err := catalog.DecodeTuple(s.layout, data)
		if err != nil {
			return nil, fmt.Errorf("exec: seqscan %s: decode: %w", s.table, err)
		}
		return Row(values), nil
	}
	return nil, io.EOF
}

func (s *SeqScanOperator) Close() error {
	s.rids = nil
	return nil
}

func (s *SeqScanOperator) Schema() Schema { return s.schema }
