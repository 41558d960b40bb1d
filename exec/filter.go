package exec

// Predicate tests one row; returning false excludes it from the result.
type Predicate func(Row) bool

// EqualsColumn builds a Predicate comparing the column at idx against a
// fixed value — the non-PK WHERE clause the original
// selectFullScanWithFilter hardcodes as a string-formatted equality
// check (fmt.Sprintf("%v", values[i]) == payload.WhereVal), generalized
// here to compare typed values directly through the caller's cmp (such
// as catalog.CompareValues) rather than round-tripping through string
// formatting.
func EqualsColumn(idx int, value any, cmp func(a, b any) int) Predicate {
	return func(r Row) bool {
		if idx < 0 || idx >= len(r) {
			return false
		}
		return cmp(r[idx], value) == 0
	}
}

// FilterOperator passes through only rows its Predicate accepts.
//
// Grounded on the original selectFullScanWithFilter, split out of the
// monolithic select path into its own composable operator.
type FilterOperator struct {
	child Operator
	pred  Predicate
}

func NewFilter(child Operator, pred Predicate) *FilterOperator {
	return &FilterOperator{child: child, pred: pred}
}

func (f *FilterOperator) Open() error { return f.child.Open() }

func (f *FilterOperator) Next() (Row, error) {
	for {
		row, err := f.child.Next()
		if err != nil {
			return nil, err
		}
		if f.pred(row) {
			return row, nil
		}
	}
}

func (f *FilterOperator) Close() error { return f.child.Close() }

func (f *FilterOperator) Schema() Schema { return f.child.Schema() }
