package exec

import (
	"container/heap"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sort"
)

func init() {
	// Row elements travel through gob as interface{} — every concrete
	// column type a run file might spill has to be registered for gob to
	// round-trip it.
	gob.Register(int32(0))
	gob.Register(float32(0))
	gob.Register("")
}

// runSizeRows bounds how many rows one sorted run holds in memory before
// it is spilled to a temp file — small enough that a handful of runs is
// easy to force in tests, proportionate to spec.md's target scale rather
// than a production-sized working set.
const runSizeRows = 1024

// ExternalSort produces child's rows in ascending order of a chosen sort
// key, spilling sorted runs to disk and k-way-merging them back — the
// operator sort-merge join (and ORDER BY) builds on when the whole input
// doesn't fit comfortably in memory.
//
// Grounded on the original sortRowsByColumn (an in-memory sort.Slice
// over a fully materialized row set) generalized to the textbook
// replacement-free external merge sort: split into bounded runs, sort
// each in memory, merge runs with a tournament tree. Nothing in the
// original needed this because its joins always materialize the whole
// table first; strictdb's sort-merge join uses this operator
// specifically so the "materialize everything" assumption isn't
// load-bearing.
type ExternalSort struct {
	child  Operator
	keyIdx int
	less   func(a, b any) int

	runs    []*runFile
	merger  *kwayMerge
	schema  Schema
}

func NewExternalSort(child Operator, keyIdx int, cmp func(a, b any) int) *ExternalSort {
	return &ExternalSort{child: child, keyIdx: keyIdx, less: cmp, schema: child.Schema()}
}

func (s *ExternalSort) Open() error {
	if err := s.child.Open(); err != nil {
		return err
	}
	defer s.child.Close()

	var batch []Row
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sort.Slice(batch, func(i, j int) bool {
			return s.less(batch[i][s.keyIdx], batch[j][s.keyIdx]) < 0
		})
		rf, err := spillRun(batch)
		if err != nil {
			return err
		}
		s.runs = append(s.runs, rf)
		batch = nil
		return nil
	}

	for {
		row, err := s.child.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("exec: externalsort: %w", err)
		}
		batch = append(batch, row)
		if len(batch) >= runSizeRows {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	m, err := newKwayMerge(s.runs, s.keyIdx, s.less)
	if err != nil {
		return err
	}
	s.merger = m
	return nil
}

func (s *ExternalSort) Next() (Row, error) {
	return s.merger.next()
}

func (s *ExternalSort) Close() error {
	if s.merger != nil {
		s.merger.close()
	}
	for _, rf := range s.runs {
		os.Remove(rf.path)
	}
	return nil
}

func (s *ExternalSort) Schema() Schema { return s.schema }

// runFile is one sorted, spilled run: a gob-encoded sequence of Rows
// terminated by EOF.
type runFile struct {
	path string
}

func spillRun(rows []Row) (*runFile, error) {
	f, err := os.CreateTemp("", "strictdb-run-*.gob")
	if err != nil {
		return nil, fmt.Errorf("exec: externalsort: spill: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("exec: externalsort: encode run: %w", err)
		}
	}
	return &runFile{path: f.Name()}, nil
}

// kwayMerge is a tournament-tree merge over N sorted run files, using
// container/heap as the priority queue over each run's current head row.
type kwayMerge struct {
	keyIdx int
	less   func(a, b any) int

	readers []*runReader
	pq      *mergeHeap
}

type runReader struct {
	f      *os.File
	dec    *gob.Decoder
	cur    Row
	done   bool
	source int
}

func newKwayMerge(runs []*runFile, keyIdx int, cmp func(a, b any) int) (*kwayMerge, error) {
	m := &kwayMerge{keyIdx: keyIdx, less: cmp}
	m.pq = &mergeHeap{less: cmp, keyIdx: keyIdx}

	for i, rf := range runs {
		f, err := os.Open(rf.path)
		if err != nil {
			return nil, fmt.Errorf("exec: externalsort: open run: %w", err)
		}
		r := &runReader{f: f, dec: gob.NewDecoder(f), source: i}
		if err := r.advance(); err != nil {
			return nil, err
		}
		m.readers = append(m.readers, r)
		if !r.done {
			heap.Push(m.pq, r)
		}
	}
	return m, nil
}

func (r *runReader) advance() error {
	var row Row
	err := r.dec.Decode(&row)
	if err == io.EOF {
		r.done = true
		r.cur = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("exec: externalsort: decode run: %w", err)
	}
	r.cur = row
	return nil
}

func (m *kwayMerge) next() (Row, error) {
	if m.pq.Len() == 0 {
		return nil, io.EOF
	}
	r := heap.Pop(m.pq).(*runReader)
	out := r.cur
	if err := r.advance(); err != nil {
		return nil, err
	}
	if !r.done {
		heap.Push(m.pq, r)
	}
	return out, nil
}

func (m *kwayMerge) close() {
	for _, r := range m.readers {
		r.f.Close()
	}
}

// mergeHeap implements container/heap.Interface over the runReaders
// currently in play, ordered by their head row's sort key.
type mergeHeap struct {
	items  []*runReader
	less   func(a, b any) int
	keyIdx int
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.less(h.items[i].cur[h.keyIdx], h.items[j].cur[h.keyIdx]) < 0
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(*runReader)) }
func (h *mergeHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}
