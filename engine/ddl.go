package engine

import (
	"fmt"

	"strictdb/bplustree"
	"strictdb/catalog"
	"strictdb/dberr"
	"strictdb/exec"
	"strictdb/heap"
)

// CreateTable registers a new table in the catalog and opens its heap
// file. Acquires the catalog's writer latch for the duration of the
// catalog update (spec.md §5's "DDL acquires the writer latch").
func (e *Engine) CreateTable(name string, columns []catalog.Column) (*catalog.TableDef, error) {
	def := &catalog.TableDef{Name: name, Columns: columns}
	if err := e.cat.CreateTable(def); err != nil {
		return nil, err
	}

	if err := e.disk.OpenFileWithID(e.heapPath(name), def.HeapFileID); err != nil {
		return nil, fmt.Errorf("engine: create table %s: %w", name, err)
	}
	h := heap.New(name, def.HeapFileID, e.pool, e.wal, e.locks, nil)

	e.mu.Lock()
	e.heaps[name] = h
	e.mu.Unlock()
	e.undo.register(name, h)

	e.logger.WithField("table", name).Info("table created")
	return def, nil
}

// CreateIndex registers a new index on table.column and opens its B+
// tree file. With unique set, the tree's own Insert rejects a key that is
// already present with dberr.ErrDuplicateKey (see bplustree.Tree.Insert).
func (e *Engine) CreateIndex(table, column string, unique bool) (*catalog.IndexDef, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	if _, ok := def.Column(column); !ok {
		return nil, fmt.Errorf("engine: create index: %s.%s: %w", table, column, dberr.ErrColumnNotFound)
	}

	idx := catalog.IndexDef{Name: table + "_" + column + "_idx", Column: column, Unique: unique}
	if err := e.cat.CreateIndex(table, idx); err != nil {
		return nil, err
	}
	// CreateIndex appended a copy with FileID filled in; re-read it.
	def, err = e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	var assigned catalog.IndexDef
	for _, ix := range def.Indexes {
		if ix.Column == column {
			assigned = ix
		}
	}

	if err := e.disk.OpenFileWithID(e.indexPath(table, column), assigned.FileID); err != nil {
		return nil, fmt.Errorf("engine: create index %s.%s: %w", table, column, err)
	}
	tree, err := bplustree.Open(e.indexPath(table, column), assigned.FileID, unique, e.pool, e.disk)
	if err != nil {
		return nil, fmt.Errorf("engine: create index %s.%s: %w", table, column, err)
	}

	e.mu.Lock()
	if e.indexes[table] == nil {
		e.indexes[table] = make(map[string]*bplustree.Tree)
	}
	e.indexes[table][column] = tree
	e.mu.Unlock()

	e.logger.WithField("table", table).WithField("column", column).Info("index created")
	return &assigned, nil
}

// Table returns the catalog definition for name.
func (e *Engine) Table(name string) (*catalog.TableDef, error) { return e.cat.Table(name) }

// AllTables returns every table definition currently in the catalog.
func (e *Engine) AllTables() []*catalog.TableDef { return e.cat.AllTables() }

func (e *Engine) heapFor(table string) (*heap.Heap, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.heaps[table]
	if !ok {
		return nil, fmt.Errorf("engine: unknown table %q", table)
	}
	return h, nil
}

func (e *Engine) indexFor(table, column string) (*bplustree.Tree, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cols, ok := e.indexes[table]
	if !ok {
		return nil, false
	}
	tree, ok := cols[column]
	return tree, ok
}

// IndexMaintainers returns the set of index maintainers DML operators
// need to keep table's indexes in sync with its heap.
func (e *Engine) IndexMaintainers(table string) ([]exec.IndexMaintainer, error) {
	def, err := e.cat.Table(table)
	if err != nil {
		return nil, err
	}
	var out []exec.IndexMaintainer
	for _, idx := range def.Indexes {
		tree, ok := e.indexFor(table, idx.Column)
		if !ok {
			continue
		}
		col, ok := def.Column(idx.Column)
		if !ok {
			continue
		}
		out = append(out, exec.IndexMaintainer{Tree: tree, Col: col, Unique: idx.Unique})
	}
	return out, nil
}
