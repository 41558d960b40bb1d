package exec

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// hashAggGroupLimit bounds how many distinct groups HashAggregation
// keeps in memory before it starts partitioning the rest of the input
// by hash instead of growing the table further — proportionate to
// ExternalSort's runSizeRows rather than a production-sized working set.
const hashAggGroupLimit = 4096

// hashAggPartitions is the fan-out used when a partition still needs to
// be spilled and recursed into.
const hashAggPartitions = 8

// HashAggregation computes one or more AggSpecs per distinct value of
// the grouping columns without requiring sorted input: it builds an
// in-memory hash table keyed by the group columns, and once that table
// exceeds hashAggGroupLimit distinct groups it stops growing it and
// instead partitions the remaining rows to disk by xxhash.Sum64String
// of the group key (the same partition-selection library lockmgr uses
// for its lock table), recursing into each partition once the first
// pass over the child is done. This is the fallback path
// GroupedAggregation's sorted streaming pass doesn't cover.
type HashAggregation struct {
	child     Operator
	groupCols []int
	specs     []AggSpec
	schema    Schema

	rows []Row
	pos  int
}

func NewHashAggregation(child Operator, groupCols []int, specs []AggSpec) *HashAggregation {
	schema := make(Schema, 0, len(groupCols)+len(specs))
	in := child.Schema()
	for _, c := range groupCols {
		schema = append(schema, in[c])
	}
	for _, s := range specs {
		schema = append(schema, s.Name)
	}
	return &HashAggregation{child: child, groupCols: groupCols, specs: specs, schema: schema}
}

func (h *HashAggregation) Open() error {
	rows, err := aggregateHashed(h.child, h.groupCols, h.specs)
	if err != nil {
		return fmt.Errorf("exec: hashaggregate: %w", err)
	}
	h.rows = rows
	h.pos = 0
	return nil
}

func (h *HashAggregation) Next() (Row, error) {
	if h.pos >= len(h.rows) {
		return nil, io.EOF
	}
	row := h.rows[h.pos]
	h.pos++
	return row, nil
}

func (h *HashAggregation) Close() error {
	h.rows = nil
	return nil
}

func (h *HashAggregation) Schema() Schema { return h.schema }

// hashGroup is one distinct group's running aggregate state plus a
// representative row (any row from the group works, since group column
// values are equal across the group by construction).
type hashGroup struct {
	row    Row
	states []*aggState
}

func newHashGroup(specs []AggSpec) *hashGroup {
	states := make([]*aggState, len(specs))
	for i := range states {
		states[i] = &aggState{}
	}
	return &hashGroup{states: states}
}

func (g *hashGroup) update(row Row, specs []AggSpec) {
	if g.row == nil {
		g.row = row
	}
	for i, spec := range specs {
		if spec.Func == AggCount && spec.Col < 0 {
			g.states[i].count++
			continue
		}
		g.states[i].update(row[spec.Col])
	}
}

func (g *hashGroup) finish(groupCols []int, specs []AggSpec) Row {
	out := make(Row, 0, len(groupCols)+len(specs))
	for _, c := range groupCols {
		out = append(out, g.row[c])
	}
	for i, spec := range specs {
		out = append(out, g.states[i].result(spec.Func))
	}
	return out
}

// groupKeyString renders the group columns of row as a comparable map
// key, tagging each value with its dynamic type so, e.g., int32(1) and
// "1" never collide.
func groupKeyString(row Row, groupCols []int) string {
	var b strings.Builder
	for _, c := range groupCols {
		fmt.Fprintf(&b, "%T:%v|", row[c], row[c])
	}
	return b.String()
}

// hashPartition accumulates one hash bucket's overflow rows, spilling
// to a run file (reusing ExternalSort's spillRun) whenever the
// in-memory buffer reaches runSizeRows.
type hashPartition struct {
	buf   []Row
	files []string
}

func (p *hashPartition) add(row Row) error {
	p.buf = append(p.buf, row)
	if len(p.buf) < runSizeRows {
		return nil
	}
	rf, err := spillRun(p.buf)
	if err != nil {
		return err
	}
	p.files = append(p.files, rf.path)
	p.buf = nil
	return nil
}

// aggregateHashed drives one pass of hash aggregation over child,
// opening and closing it itself (the same self-contained shape
// ExternalSort.Open uses for its own child). Overflow past
// hashAggGroupLimit distinct groups is partitioned by hash and
// recursed into after the first pass completes.
func aggregateHashed(child Operator, groupCols []int, specs []AggSpec) ([]Row, error) {
	if err := child.Open(); err != nil {
		return nil, err
	}
	defer child.Close()

	groups := make(map[string]*hashGroup)
	partitions := make([]*hashPartition, hashAggPartitions)
	overflowed := false

	for {
		row, err := child.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		key := groupKeyString(row, groupCols)
		if g, ok := groups[key]; ok {
			g.update(row, specs)
			continue
		}
		if !overflowed && len(groups) >= hashAggGroupLimit {
			overflowed = true
		}
		if overflowed {
			idx := xxhash.Sum64String(key) % hashAggPartitions
			p := partitions[idx]
			if p == nil {
				p = &hashPartition{}
				partitions[idx] = p
			}
			if err := p.add(row); err != nil {
				return nil, err
			}
			continue
		}
		g := newHashGroup(specs)
		g.update(row, specs)
		groups[key] = g
	}

	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.finish(groupCols, specs))
	}

	var spillFiles []string
	for _, p := range partitions {
		if p == nil {
			continue
		}
		spillFiles = append(spillFiles, p.files...)
		sub := newRowSetOperator(child.Schema(), p.files, p.buf)
		subRows, err := aggregateHashed(sub, groupCols, specs)
		if err != nil {
			for _, f := range spillFiles {
				os.Remove(f)
			}
			return nil, err
		}
		out = append(out, subRows...)
	}
	for _, f := range spillFiles {
		os.Remove(f)
	}
	return out, nil
}

// rowSetOperator replays a spilled partition: zero or more gob-encoded
// run files (written by spillRun) followed by whatever rows were still
// buffered in memory when the partition's first pass ended.
type rowSetOperator struct {
	schema Schema
	files  []string
	mem    []Row

	fi     int
	f      *os.File
	dec    *gob.Decoder
	memPos int
}

func newRowSetOperator(schema Schema, files []string, mem []Row) *rowSetOperator {
	return &rowSetOperator{schema: schema, files: files, mem: mem}
}

func (r *rowSetOperator) Open() error { return nil }

func (r *rowSetOperator) Next() (Row, error) {
	for {
		if r.dec != nil {
			var row Row
			err := r.dec.Decode(&row)
			if err == io.EOF {
				r.f.Close()
				r.f = nil
				r.dec = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("exec: hashaggregate: decode partition: %w", err)
			}
			return row, nil
		}
		if r.fi < len(r.files) {
			f, err := os.Open(r.files[r.fi])
			r.fi++
			if err != nil {
				return nil, fmt.Errorf("exec: hashaggregate: open partition: %w", err)
			}
			r.f = f
			r.dec = gob.NewDecoder(f)
			continue
		}
		if r.memPos < len(r.mem) {
			row := r.mem[r.memPos]
			r.memPos++
			return row, nil
		}
		return nil, io.EOF
	}
}

func (r *rowSetOperator) Close() error {
	if r.f != nil {
		r.f.Close()
	}
	return nil
}

func (r *rowSetOperator) Schema() Schema { return r.schema }
