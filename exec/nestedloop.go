package exec

import "io"

// JoinPredicate tests a candidate (left, right) pair for a match. left
// and right are laid out as left's columns followed by right's.
type JoinPredicate func(left, right Row) bool

// NestedLoopJoinOperator is the fallback join strategy: for every left
// row, rescan the whole right side. Quadratic, but requires no sort and
// no equality predicate — the join strategy the config knob
// enable_nestloop (spec.md §6) gates in when sort-merge isn't
// applicable (the join columns aren't an equality comparison, or one
// side is too small to bother sorting).
//
// rightFactory reopens the right side fresh for every left row — a
// right child operator cannot simply be Open'd twice without Close, so a
// factory gives the join a clean iterator each pass, the same way
// loadTableRows is called once per table and its slice walked repeatedly
// in mergeSortInnerJoin (there, because both sides are fully
// materialized; here, because the right side may be arbitrarily large
// and isn't).
type NestedLoopJoinOperator struct {
	left         Operator
	rightFactory func() Operator
	pred         JoinPredicate
	schema       Schema

	leftRow Row
	right   Operator
	started bool
}

func NewNestedLoopJoin(left Operator, rightFactory func() Operator, rightSchema Schema, pred JoinPredicate) *NestedLoopJoinOperator {
	schema := make(Schema, 0, len(left.Schema())+len(rightSchema))
	schema = append(schema, left.Schema()...)
	schema = append(schema, rightSchema...)
	return &NestedLoopJoinOperator{left: left, rightFactory: rightFactory, pred: pred, schema: schema}
}

func (j *NestedLoopJoinOperator) Open() error {
	return j.left.Open()
}

func (j *NestedLoopJoinOperator) Next() (Row, error) {
	for {
		if j.right == nil {
			row, err := j.left.Next()
			if err != nil {
				return nil, err
			}
			j.leftRow = row
			j.right = j.rightFactory()
			if err := j.right.Open(); err != nil {
				return nil, err
			}
		}

		rightRow, err := j.right.Next()
		if err == io.EOF {
			j.right.Close()
			j.right = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		if !j.pred(j.leftRow, rightRow) {
			continue
		}
		out := make(Row, 0, len(j.leftRow)+len(rightRow))
		out = append(out, j.leftRow...)
		out = append(out, rightRow...)
		return out, nil
	}
}

func (j *NestedLoopJoinOperator) Close() error {
	if j.right != nil {
		j.right.Close()
		j.right = nil
	}
	return j.left.Close()
}

func (j *NestedLoopJoinOperator) Schema() Schema { return j.schema }
