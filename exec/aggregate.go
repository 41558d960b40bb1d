package exec

import (
	"fmt"
	"io"

	"strictdb/catalog"
)

// AggFunc is one of the aggregate kinds a GroupedAggregation column
// computes.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggSpec names one output aggregate column: which input column it
// reduces (ignored for AggCount) and which function reduces it.
type AggSpec struct {
	Func AggFunc
	Col  int // index into the child's Row; unused for AggCount
	Name string
}

type aggState struct {
	count int64
	sum   float64
	min   any
	max   any
	seen  bool
}

func (s *aggState) update(v any) {
	s.count++
	switch n := v.(type) {
	case int32:
		s.sum += float64(n)
	case float32:
		s.sum += float64(n)
	}
	if !s.seen {
		s.min, s.max = v, v
		s.seen = true
		return
	}
	if catalog.CompareValues(v, s.min) < 0 {
		s.min = v
	}
	if catalog.CompareValues(v, s.max) > 0 {
		s.max = v
	}
}

func (s *aggState) result(f AggFunc) any {
	switch f {
	case AggCount:
		return s.count
	case AggSum:
		return s.sum
	case AggAvg:
		if s.count == 0 {
			return float64(0)
		}
		return s.sum / float64(s.count)
	case AggMin:
		return s.min
	case AggMax:
		return s.max
	default:
		return nil
	}
}

// GroupedAggregation computes one or more AggSpecs per distinct value of
// the grouping columns. It requires its child already sorted on those
// columns (typically an ExternalSort) so each group can be emitted as
// soon as its key changes, without buffering the whole input — the
// GROUP BY the original engine never implemented at all (its joins.go
// comment block only covers joins; aggregation is new to this
// execution layer, built in the merge-sort operators' style: sorted
// input, single linear pass, per-group state machine).
//
// The sorted-input requirement is an enforced precondition, not an
// assumption: Next returns an error the moment a group's key is lower
// than the previous group's, rather than silently splitting one
// distinct key into multiple output rows. Callers with unsorted input
// use HashAggregation instead, or sort first.
type GroupedAggregation struct {
	child     Operator
	groupCols []int
	specs     []AggSpec
	schema    Schema

	pending      Row
	prevGroupRow Row
	done         bool
}

func NewGroupedAggregation(child Operator, groupCols []int, specs []AggSpec) *GroupedAggregation {
	schema := make(Schema, 0, len(groupCols)+len(specs))
	in := child.Schema()
	for _, c := range groupCols {
		schema = append(schema, in[c])
	}
	for _, s := range specs {
		schema = append(schema, s.Name)
	}
	return &GroupedAggregation{child: child, groupCols: groupCols, specs: specs, schema: schema}
}

func (g *GroupedAggregation) Open() error {
	if err := g.child.Open(); err != nil {
		return err
	}
	row, err := g.child.Next()
	if err == io.EOF {
		g.done = true
		return nil
	}
	if err != nil {
		return err
	}
	g.pending = row
	return nil
}

func (g *GroupedAggregation) sameGroup(a, b Row) bool {
	for _, c := range g.groupCols {
		if catalog.CompareValues(a[c], b[c]) != 0 {
			return false
		}
	}
	return true
}

func (g *GroupedAggregation) Next() (Row, error) {
	if g.done {
		return nil, io.EOF
	}

	groupRow := g.pending
	if g.prevGroupRow != nil {
		for _, c := range g.groupCols {
			if catalog.CompareValues(groupRow[c], g.prevGroupRow[c]) < 0 {
				return nil, fmt.Errorf("exec: aggregate: input not sorted by group columns; use HashAggregation for unsorted input")
			}
		}
	}
	g.prevGroupRow = groupRow

	states := make([]*aggState, len(g.specs))
	for i := range states {
		states[i] = &aggState{}
	}

	cur := g.pending
	for {
		for i, spec := range g.specs {
			if spec.Func == AggCount && spec.Col < 0 {
				states[i].count++
				continue
			}
			states[i].update(cur[spec.Col])
		}

		next, err := g.child.Next()
		if err == io.EOF {
			g.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("exec: aggregate: %w", err)
		}
		if !g.sameGroup(groupRow, next) {
			g.pending = next
			break
		}
		cur = next
	}

	out := make(Row, 0, len(g.groupCols)+len(g.specs))
	for _, c := range g.groupCols {
		out = append(out, groupRow[c])
	}
	for i, spec := range g.specs {
		out = append(out, states[i].result(spec.Func))
	}
	return out, nil
}

func (g *GroupedAggregation) Close() error { return g.child.Close() }

func (g *GroupedAggregation) Schema() Schema { return g.schema }
