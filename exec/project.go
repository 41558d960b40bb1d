package exec

import "fmt"

// ProjectOperator narrows each row down to a chosen subset of columns, in
// the requested order — the original "determine display columns" step
// in executeSimpleSelect/executeSelectWithJoin, pulled out as its own
// operator instead of a post-processing pass over a fully materialized
// result slice.
type ProjectOperator struct {
	child Operator
	cols  []int
	out   Schema
}

// NewProject projects child's rows down to the named columns, resolved
// against child's Schema once at construction time.
func NewProject(child Operator, names []string) (*ProjectOperator, error) {
	in := child.Schema()
	cols := make([]int, len(names))
	out := make(Schema, len(names))
	for i, name := range names {
		idx := in.IndexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("exec: project: column %q not in input schema", name)
		}
		cols[i] = idx
		out[i] = name
	}
	return &ProjectOperator{child: child, cols: cols, out: out}, nil
}

func (p *ProjectOperator) Open() error { return p.child.Open() }

func (p *ProjectOperator) Next() (Row, error) {
	row, err := p.child.Next()
	if err != nil {
		return nil, err
	}
	out := make(Row, len(p.cols))
	for i, idx := range p.cols {
		out[i] = row[idx]
	}
	return out, nil
}

func (p *ProjectOperator) Close() error { return p.child.Close() }

func (p *ProjectOperator) Schema() Schema { return p.out }
