// Package exec implements the engine's query execution layer: a pull-
// based iterator tree (Open/Next/Close) over scan, filter, project, and
// join operators, plus the DML operators that drive heap mutation from a
// child operator's output (spec.md §4.4, §6).
//
// Grounded on the original storage_engine/exec_select.go and joins.go,
// which inline a single monolithic ExecuteSelect that special-cases PK
// lookup vs. full scan vs. join and builds a merge-sort join by hand.
// strictdb generalizes that into the textbook Volcano/iterator model —
// every step of what ExecuteSelect did becomes its own Operator, composed
// by the planner instead of hardcoded — while keeping its own
// algorithms (merge-sort join, PK-lookup-vs-scan) as the concrete
// Operator implementations.
package exec

import "strictdb/catalog"

// Row is one tuple moving through the operator tree: decoded Go values in
// the order Schema names them, not the raw on-disk bytes.
type Row []any

// Schema names each column Row carries, qualified as "table.column" once
// a join has combined two tables (mirroring the original
// resolveKey(table, col) qualification in exec_select.go).
type Schema []string

// IndexOf returns the position of a (possibly qualified) column name, or
// -1 if Schema doesn't carry it.
func (s Schema) IndexOf(name string) int {
	for i, c := range s {
		if c == name {
			return i
		}
	}
	return -1
}

// Operator is the pull contract every execution node implements: Open
// before the first Next, repeated Next until io.EOF, then Close exactly
// once regardless of how iteration ended.
type Operator interface {
	Open() error
	// Next returns the next row, or io.EOF once exhausted.
	Next() (Row, error)
	Close() error
	Schema() Schema
}

// layoutOf is a small shared helper: every scan operator needs a table's
// column layout to decode raw heap bytes into a Row.
func layoutOf(t *catalog.TableDef) []catalog.ColumnLayout {
	return t.Layout()
}
