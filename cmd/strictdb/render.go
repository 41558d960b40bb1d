package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"strictdb/exec"
)

// renderRows prints rows as an ASCII table, one column per schema entry —
// grounded on maho's repl.ReplSQL RowsPlan rendering (tablewriter.NewWriter,
// SetHeader from the plan's columns, Append per row, Render, then a
// "(N rows)" footer via tw.NumLines()).
func renderRows(w io.Writer, schema exec.Schema, rows []exec.Row) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string(schema))

	rendered := make([]string, len(schema))
	for _, row := range rows {
		for i, v := range row {
			rendered[i] = fmt.Sprint(v)
		}
		tw.Append(append([]string(nil), rendered...))
	}
	tw.Render()
	fmt.Fprintf(w, "(%d rows)\n", tw.NumLines())
}
