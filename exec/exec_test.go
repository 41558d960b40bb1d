package exec_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"strictdb/exec"
)

// fakeOperator replays a fixed slice of rows — enough to exercise
// filter/project/join/sort/aggregate without standing up a heap.
type fakeOperator struct {
	rows   []exec.Row
	schema exec.Schema
	pos    int
}

func newFake(schema exec.Schema, rows ...exec.Row) *fakeOperator {
	return &fakeOperator{rows: rows, schema: schema}
}

func (f *fakeOperator) Open() error { f.pos = 0; return nil }
func (f *fakeOperator) Next() (exec.Row, error) {
	if f.pos >= len(f.rows) {
		return nil, io.EOF
	}
	r := f.rows[f.pos]
	f.pos++
	return r, nil
}
func (f *fakeOperator) Close() error        { return nil }
func (f *fakeOperator) Schema() exec.Schema { return f.schema }

func drain(t *testing.T, op exec.Operator) []exec.Row {
	t.Helper()
	require.NoError(t, op.Open())
	defer op.Close()
	var out []exec.Row
	for {
		row, err := op.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, row)
	}
	return out
}

func cmp(a, b any) int {
	x := a.(int32)
	y := b.(int32)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func TestFilterPassesOnlyMatching(t *testing.T) {
	src := newFake(exec.Schema{"t.id"},
		exec.Row{int32(1)}, exec.Row{int32(2)}, exec.Row{int32(3)})
	f := exec.NewFilter(src, exec.EqualsColumn(0, int32(2), cmp))
	rows := drain(t, f)
	require.Len(t, rows, 1)
	require.Equal(t, int32(2), rows[0][0])
}

func TestProjectNarrowsColumns(t *testing.T) {
	src := newFake(exec.Schema{"t.id", "t.name"},
		exec.Row{int32(1), "alice"}, exec.Row{int32(2), "bob"})
	p, err := exec.NewProject(src, []string{"t.name"})
	require.NoError(t, err)
	rows := drain(t, p)
	require.Equal(t, []exec.Row{{"alice"}, {"bob"}}, rows)
}

func TestProjectRejectsUnknownColumn(t *testing.T) {
	src := newFake(exec.Schema{"t.id"}, exec.Row{int32(1)})
	_, err := exec.NewProject(src, []string{"t.nope"})
	require.Error(t, err)
}

func TestNestedLoopJoinInner(t *testing.T) {
	left := newFake(exec.Schema{"l.id"}, exec.Row{int32(1)}, exec.Row{int32(2)})
	rightSchema := exec.Schema{"r.id"}
	factory := func() exec.Operator {
		return newFake(rightSchema, exec.Row{int32(1)}, exec.Row{int32(2)}, exec.Row{int32(2)})
	}
	j := exec.NewNestedLoopJoin(left, factory, rightSchema, func(l, r exec.Row) bool {
		return l[0].(int32) == r[0].(int32)
	})
	rows := drain(t, j)
	require.Len(t, rows, 3) // (1,1), (2,2), (2,2)
}

func TestSortMergeJoinInner(t *testing.T) {
	left := newFake(exec.Schema{"l.id"}, exec.Row{int32(1)}, exec.Row{int32(2)}, exec.Row{int32(3)})
	right := newFake(exec.Schema{"r.id"}, exec.Row{int32(2)}, exec.Row{int32(2)}, exec.Row{int32(4)})
	j := exec.NewSortMergeJoin(left, right, 0, 0, exec.InnerJoin)
	rows := drain(t, j)
	require.Len(t, rows, 2) // id=2 matches twice on the right
	for _, r := range rows {
		require.Equal(t, int32(2), r[0])
		require.Equal(t, int32(2), r[1])
	}
}

func TestSortMergeJoinLeftOuterFillsNulls(t *testing.T) {
	left := newFake(exec.Schema{"l.id"}, exec.Row{int32(1)}, exec.Row{int32(2)})
	right := newFake(exec.Schema{"r.id"}, exec.Row{int32(2)})
	j := exec.NewSortMergeJoin(left, right, 0, 0, exec.LeftJoin)
	rows := drain(t, j)
	require.Len(t, rows, 2)
	require.Equal(t, int32(1), rows[0][0])
	require.Nil(t, rows[0][1])
	require.Equal(t, int32(2), rows[1][0])
	require.Equal(t, int32(2), rows[1][1])
}

func TestSortMergeJoinResidualNarrowsMatchesWithoutDroppingOuterRows(t *testing.T) {
	left := newFake(exec.Schema{"l.id", "l.tag"},
		exec.Row{int32(1), "a"}, exec.Row{int32(1), "b"})
	right := newFake(exec.Schema{"r.id", "r.tag"},
		exec.Row{int32(1), "x"})

	// Equality on id groups both left rows with the right row, but the
	// residual only accepts the left row tagged "a" — the other left
	// row in the same key group must still surface as an outer row with
	// nulls under FullJoin, not be silently dropped.
	residual := func(l, r exec.Row) bool { return l[1].(string) == "a" }
	j := exec.NewSortMergeJoinWithResidual(left, right, 0, 0, exec.FullJoin, residual)
	rows := drain(t, j)
	require.Len(t, rows, 2)

	var matched, unmatched exec.Row
	for _, r := range rows {
		if r[1] == "a" {
			matched = r
		} else {
			unmatched = r
		}
	}
	require.Equal(t, exec.Row{int32(1), "a", int32(1), "x"}, matched)
	require.Equal(t, int32(1), unmatched[0])
	require.Equal(t, "b", unmatched[1])
	require.Nil(t, unmatched[2])
	require.Nil(t, unmatched[3])
}

func TestExternalSortOrdersAcrossMultipleRuns(t *testing.T) {
	var rows []exec.Row
	for i := 2000; i > 0; i-- {
		rows = append(rows, exec.Row{int32(i)})
	}
	src := newFake(exec.Schema{"t.id"}, rows...)
	s := exec.NewExternalSort(src, 0, cmp)
	out := drain(t, s)
	require.Len(t, out, 2000)
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i-1][0].(int32), out[i][0].(int32))
	}
	require.Equal(t, int32(1), out[0][0])
	require.Equal(t, int32(2000), out[len(out)-1][0])
}

func TestGroupedAggregationCountAndSum(t *testing.T) {
	src := newFake(exec.Schema{"t.grp", "t.amt"},
		exec.Row{int32(1), int32(10)},
		exec.Row{int32(1), int32(20)},
		exec.Row{int32(2), int32(5)},
	)
	agg := exec.NewGroupedAggregation(src, []int{0}, []exec.AggSpec{
		{Func: exec.AggCount, Col: -1, Name: "n"},
		{Func: exec.AggSum, Col: 1, Name: "total"},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 2)
	require.Equal(t, int32(1), rows[0][0])
	require.Equal(t, int64(2), rows[0][1])
	require.Equal(t, float64(30), rows[0][2])
	require.Equal(t, int32(2), rows[1][0])
	require.Equal(t, int64(1), rows[1][1])
	require.Equal(t, float64(5), rows[1][2])
}

func TestGroupedAggregationRejectsUnsortedInput(t *testing.T) {
	src := newFake(exec.Schema{"t.grp", "t.amt"},
		exec.Row{int32(1), int32(10)},
		exec.Row{int32(2), int32(5)},
		exec.Row{int32(1), int32(20)}, // group 1 reappears after group 2: not sorted
	)
	agg := exec.NewGroupedAggregation(src, []int{0}, []exec.AggSpec{
		{Func: exec.AggCount, Col: -1, Name: "n"},
	})
	require.NoError(t, agg.Open())
	defer agg.Close()
	_, err := agg.Next() // group 1
	require.NoError(t, err)
	_, err = agg.Next() // group 2
	require.NoError(t, err)
	_, err = agg.Next() // group 1 again: must error, not silently split
	require.Error(t, err)
}

func TestHashAggregationHandlesUnsortedInput(t *testing.T) {
	src := newFake(exec.Schema{"t.grp", "t.amt"},
		exec.Row{int32(1), int32(10)},
		exec.Row{int32(2), int32(5)},
		exec.Row{int32(1), int32(20)},
	)
	agg := exec.NewHashAggregation(src, []int{0}, []exec.AggSpec{
		{Func: exec.AggCount, Col: -1, Name: "n"},
		{Func: exec.AggSum, Col: 1, Name: "total"},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 2) // one row per distinct key, not per contiguous run
	byGroup := map[int32]exec.Row{}
	for _, r := range rows {
		byGroup[r[0].(int32)] = r
	}
	require.Equal(t, int64(2), byGroup[int32(1)][1])
	require.Equal(t, float64(30), byGroup[int32(1)][2])
	require.Equal(t, int64(1), byGroup[int32(2)][1])
	require.Equal(t, float64(5), byGroup[int32(2)][2])
}
