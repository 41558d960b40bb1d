// The interactive shell's command grammar is hand-rolled, not SQL: a
// query/DDL parser and an optimizer are out of scope (spec.md §1), so
// the shell talks to engine.Engine's operator factories directly instead
// of building a tree for one to plan. Each line is one of:
//
//	begin
//	commit
//	abort
//	create table NAME (col type[, col type]...)      types: int32, float32, string(N)
//	create index TABLE COLUMN [unique]
//	insert into TABLE values (v1, v2, ...)
//	select from TABLE [where COLUMN = VALUE]
//	.tables
//	.schema TABLE
//	.help
//	.quit / .exit
//
// Grounded on leftmike/maho's repl.Interact + repl.ReplSQL (a liner-backed
// prompt loop that parses one statement at a time, runs it against a
// session/transaction, and renders StmtPlan/RowsPlan results) — here
// simplified to a line-at-a-time command grammar instead of maho's
// per-statement SQL parser and session/plan machinery. Outside an explicit
// begin/commit, each insert or select runs in its own transaction that is
// begun and committed around that one statement.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"strictdb/catalog"
	"strictdb/engine"
	"strictdb/exec"
	"strictdb/txn"
)

const historyFile = ".strictdb_history"

type shell struct {
	e  *engine.Engine
	w  io.Writer
	tx *txn.Transaction
}

func runShell(e *engine.Engine, in, out *os.File) error {
	if in != os.Stdin {
		return runScript(e, in, out)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	sh := &shell{e: e, w: out}
	for {
		input, err := line.Prompt(sh.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}
			return err
		}
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		line.AppendHistory(trimmed)

		if sh.dispatch(trimmed) {
			break
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

// runScript reads commands from a non-interactive reader (piped input,
// redirected file) one line at a time instead of driving liner, which
// requires a real terminal.
func runScript(e *engine.Engine, in, out *os.File) error {
	sh := &shell{e: e, w: out}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if sh.dispatch(trimmed) {
			break
		}
	}
	return nil
}

func (sh *shell) prompt() string {
	if sh.tx != nil {
		return "strictdb*> "
	}
	return "strictdb> "
}

// dispatch runs one command line and returns true when the shell should
// exit.
func (sh *shell) dispatch(line string) (quit bool) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(sh.w, "error: %v\n", r)
		}
	}()

	fields := strings.Fields(line)
	word := strings.ToLower(fields[0])

	switch word {
	case ".quit", ".exit", "quit", "exit":
		return true
	case ".help":
		sh.help()
	case ".tables":
		sh.listTables()
	case ".schema":
		if len(fields) < 2 {
			fmt.Fprintln(sh.w, "usage: .schema TABLE")
			return false
		}
		sh.schema(fields[1])
	case "begin":
		sh.begin()
	case "commit":
		sh.commit()
	case "abort", "rollback":
		sh.abort()
	case "create":
		sh.create(line)
	case "insert":
		sh.insert(line)
	case "select":
		sh.selectRows(line)
	default:
		fmt.Fprintf(sh.w, "unrecognized command: %s (try .help)\n", fields[0])
	}
	return false
}

func (sh *shell) help() {
	fmt.Fprint(sh.w, `commands:
  begin
  commit
  abort
  create table NAME (col type[, col type]...)   types: int32, float32, string(N)
  create index TABLE COLUMN [unique]
  insert into TABLE values (v1, v2, ...)
  select from TABLE [where COLUMN = VALUE]
  .tables
  .schema TABLE
  .quit
`)
}

func (sh *shell) listTables() {
	for _, t := range sh.e.AllTables() {
		fmt.Fprintln(sh.w, t.Name)
	}
}

func (sh *shell) schema(table string) {
	def, err := sh.e.Table(table)
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}
	for _, c := range def.Columns {
		fmt.Fprintf(sh.w, "  %s %s\n", c.Name, typeName(c))
	}
	for _, idx := range def.Indexes {
		unique := ""
		if idx.Unique {
			unique = " unique"
		}
		fmt.Fprintf(sh.w, "  index %s on %s%s\n", idx.Name, idx.Column, unique)
	}
}

func typeName(c catalog.Column) string {
	switch c.Type {
	case catalog.TypeInt32:
		return "int32"
	case catalog.TypeFloat32:
		return "float32"
	case catalog.TypeString:
		return fmt.Sprintf("string(%d)", c.Width)
	default:
		return "unknown"
	}
}

// withTxn runs fn under the shell's open transaction, auto-beginning and
// auto-committing one around a single statement when none is open —
// mirroring maho's Session.Run, which wraps every statement in an
// implicit transaction unless the session already has one started.
func (sh *shell) withTxn(fn func(t *txn.Transaction) error) {
	if sh.tx != nil {
		if err := fn(sh.tx); err != nil {
			fmt.Fprintf(sh.w, "error: %v\n", err)
		}
		return
	}

	t, err := sh.e.Begin()
	if err != nil {
		fmt.Fprintf(sh.w, "error: begin: %v\n", err)
		return
	}
	if err := fn(t); err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		sh.e.Abort(t)
		return
	}
	if err := sh.e.Commit(t); err != nil {
		fmt.Fprintf(sh.w, "error: commit: %v\n", err)
	}
}

func (sh *shell) begin() {
	if sh.tx != nil {
		fmt.Fprintln(sh.w, "error: a transaction is already open")
		return
	}
	t, err := sh.e.Begin()
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}
	sh.tx = t
}

func (sh *shell) commit() {
	if sh.tx == nil {
		fmt.Fprintln(sh.w, "error: no open transaction")
		return
	}
	err := sh.e.Commit(sh.tx)
	sh.tx = nil
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
	}
}

func (sh *shell) abort() {
	if sh.tx == nil {
		fmt.Fprintln(sh.w, "error: no open transaction")
		return
	}
	err := sh.e.Abort(sh.tx)
	sh.tx = nil
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
	}
}

func (sh *shell) create(line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "create table"):
		sh.createTable(line)
	case strings.HasPrefix(lower, "create index"):
		sh.createIndex(line)
	default:
		fmt.Fprintln(sh.w, "usage: create table ... | create index ...")
	}
}

func (sh *shell) createTable(line string) {
	rest := strings.TrimSpace(line[len("create table"):])
	open := strings.Index(rest, "(")
	if open < 0 {
		fmt.Fprintln(sh.w, "usage: create table NAME (col type, ...)")
		return
	}
	name := strings.TrimSpace(rest[:open])
	body, err := extractParens(rest, open)
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}

	var cols []catalog.Column
	for _, spec := range splitTopLevel(body, ',') {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.Fields(spec)
		if len(parts) != 2 {
			fmt.Fprintf(sh.w, "error: bad column spec %q (want \"name type\")\n", spec)
			return
		}
		col, err := parseColumnType(parts[0], parts[1])
		if err != nil {
			fmt.Fprintf(sh.w, "error: %v\n", err)
			return
		}
		cols = append(cols, col)
	}

	if _, err := sh.e.CreateTable(name, cols); err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(sh.w, "table %s created\n", name)
}

func parseColumnType(name, typ string) (catalog.Column, error) {
	typ = strings.ToLower(typ)
	switch {
	case typ == "int32":
		return catalog.Column{Name: name, Type: catalog.TypeInt32}, nil
	case typ == "float32":
		return catalog.Column{Name: name, Type: catalog.TypeFloat32}, nil
	case strings.HasPrefix(typ, "string("):
		width, err := extractParens(typ, strings.Index(typ, "("))
		if err != nil {
			return catalog.Column{}, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(width))
		if err != nil {
			return catalog.Column{}, fmt.Errorf("bad string width %q", width)
		}
		return catalog.Column{Name: name, Type: catalog.TypeString, Width: n}, nil
	default:
		return catalog.Column{}, fmt.Errorf("unknown column type %q", typ)
	}
}

func (sh *shell) createIndex(line string) {
	fields := strings.Fields(line)
	// create index TABLE COLUMN [unique]
	if len(fields) < 4 {
		fmt.Fprintln(sh.w, "usage: create index TABLE COLUMN [unique]")
		return
	}
	table, column := fields[2], fields[3]
	unique := len(fields) >= 5 && strings.EqualFold(fields[4], "unique")

	if _, err := sh.e.CreateIndex(table, column, unique); err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(sh.w, "index on %s.%s created\n", table, column)
}

func (sh *shell) insert(line string) {
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, "insert into") {
		fmt.Fprintln(sh.w, "usage: insert into TABLE values (v1, v2, ...)")
		return
	}
	rest := strings.TrimSpace(line[len("insert into"):])
	valuesIdx := strings.Index(strings.ToLower(rest), "values")
	if valuesIdx < 0 {
		fmt.Fprintln(sh.w, "usage: insert into TABLE values (v1, v2, ...)")
		return
	}
	table := strings.TrimSpace(rest[:valuesIdx])
	tail := rest[valuesIdx+len("values"):]
	open := strings.Index(tail, "(")
	if open < 0 {
		fmt.Fprintln(sh.w, "usage: insert into TABLE values (v1, v2, ...)")
		return
	}
	body, err := extractParens(tail, open)
	if err != nil {
		fmt.Fprintf(sh.w, "error: %v\n", err)
		return
	}

	var values []any
	for _, tok := range splitTopLevel(body, ',') {
		values = append(values, parseLiteral(strings.TrimSpace(tok)))
	}

	sh.withTxn(func(t *txn.Transaction) error {
		ins, err := sh.e.Insert(t, table, values)
		if err != nil {
			return err
		}
		_, err = sh.e.Execute(t, ins)
		return err
	})
}

func (sh *shell) selectRows(line string) {
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, "select from") {
		fmt.Fprintln(sh.w, "usage: select from TABLE [where COLUMN = VALUE]")
		return
	}
	rest := strings.TrimSpace(line[len("select from"):])

	var table, whereCol string
	var whereVal any
	if idx := strings.Index(strings.ToLower(rest), "where"); idx >= 0 {
		table = strings.TrimSpace(rest[:idx])
		clause := strings.Fields(rest[idx+len("where"):])
		if len(clause) != 3 || clause[1] != "=" {
			fmt.Fprintln(sh.w, "usage: select from TABLE where COLUMN = VALUE")
			return
		}
		whereCol = clause[0]
		whereVal = parseLiteral(clause[2])
	} else {
		table = rest
	}

	sh.withTxn(func(t *txn.Transaction) error {
		var op exec.Operator
		var err error
		if whereCol != "" {
			op, err = sh.e.IndexScan(t, table, whereCol, whereVal)
			if err != nil {
				op, err = sh.filteredSeqScan(t, table, whereCol, whereVal)
			}
		} else {
			op, err = sh.e.SeqScan(t, table)
		}
		if err != nil {
			return err
		}
		rows, err := sh.e.Execute(t, op)
		if err != nil {
			return err
		}
		renderRows(sh.w, op.Schema(), rows)
		return nil
	})
}

// filteredSeqScan answers a WHERE clause on a column with no index by
// wrapping a full scan in exec.FilterOperator — the fallback access path
// an optimizer would otherwise choose automatically.
func (sh *shell) filteredSeqScan(t *txn.Transaction, table, column string, value any) (exec.Operator, error) {
	def, err := sh.e.Table(table)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, c := range def.Columns {
		if c.Name == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s has no column %s", table, column)
	}
	scan, err := sh.e.SeqScan(t, table)
	if err != nil {
		return nil, err
	}
	return exec.NewFilter(scan, func(row exec.Row) bool {
		return fmt.Sprint(row[idx]) == fmt.Sprint(value)
	}), nil
}

func parseLiteral(tok string) any {
	if len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"') && tok[len(tok)-1] == tok[0] {
		return tok[1 : len(tok)-1]
	}
	if n, err := strconv.ParseInt(tok, 10, 32); err == nil {
		return int32(n)
	}
	if f, err := strconv.ParseFloat(tok, 32); err == nil {
		return float32(f)
	}
	return tok
}

// extractParens returns the text between the '(' at rest[openAt] and its
// matching ')', tracking nesting so a string(32) column type inside a
// create table's column list doesn't close the outer list early.
func extractParens(s string, openAt int) (string, error) {
	depth := 0
	for i := openAt; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[openAt+1 : i], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced parentheses in %q", s)
}

// splitTopLevel splits s on sep, ignoring occurrences of sep nested
// inside parentheses (e.g. inside a "string(32)" column type).
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
