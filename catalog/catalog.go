// Package catalog holds the in-memory table/column/index metadata and
// persists it to a single metadata file at shutdown (spec.md §2, §6).
//
// Grounded on the original storage_engine/catalog package (an in-memory
// schema map loaded lazily per table, JSON-serialized to disk, protected
// by a latch DDL takes exclusively) generalized from "one schema file per
// table, read back lazily" to "one metadata file for the whole database,
// written atomically at shutdown," per spec.md §6's on-disk file layout,
// and extended with the unique-index flag and fixed tuple width the
// record heap and B+ tree need that spec.md §4 leaves to the catalog to
// track.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ColumnType is the fixed set of column types spec.md §3 allows.
type ColumnType int

const (
	TypeInt32 ColumnType = iota
	TypeFloat32
	TypeString // fixed-length, NUL-padded; width carried in Column.Width
)

func (t ColumnType) Width(fixedWidth int) int {
	switch t {
	case TypeInt32, TypeFloat32:
		return 4
	case TypeString:
		return fixedWidth
	default:
		return 0
	}
}

type Column struct {
	Name  string     `json:"name"`
	Type  ColumnType `json:"type"`
	Width int        `json:"width"` // only meaningful for TypeString
}

// Offset/Size describe one column's position within a tuple's fixed
// column-major layout (spec.md §3: "fixed-length bytes laid out column by
// column").
type ColumnLayout struct {
	Column
	Offset int
	Size   int
}

type IndexDef struct {
	Name    string `json:"name"`
	Column  string `json:"column"`
	Unique  bool   `json:"unique"`
	FileID  uint32 `json:"file_id"`
}

type TableDef struct {
	Name       string     `json:"name"`
	Columns    []Column   `json:"columns"`
	Indexes    []IndexDef `json:"indexes"`
	HeapFileID uint32     `json:"heap_file_id"`

	layout    []ColumnLayout
	tupleSize int
}

// Layout returns the fixed column-major byte layout, computed once.
func (t *TableDef) Layout() []ColumnLayout {
	if t.layout != nil {
		return t.layout
	}
	offset := 0
	for _, c := range t.Columns {
		w := c.Type.Width(c.Width)
		t.layout = append(t.layout, ColumnLayout{Column: c, Offset: offset, Size: w})
		offset += w
	}
	t.tupleSize = offset
	return t.layout
}

func (t *TableDef) TupleSize() int {
	t.Layout()
	return t.tupleSize
}

func (t *TableDef) Column(name string) (ColumnLayout, bool) {
	for _, c := range t.Layout() {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnLayout{}, false
}

// Manager is the catalog: an in-memory map of table definitions, guarded
// by a reader/writer latch (spec.md §5: "DDL acquires the writer latch"),
// persisted as one JSON metadata file at shutdown. A ristretto read-
// through cache sits in front of lookups for hot-path reads during query
// execution; it is never the source of truth and is invalidated (not
// populated through) on every writer-latch acquisition, so staleness
// cannot outlive a DDL statement.
type Manager struct {
	mu         sync.RWMutex
	tables     map[string]*TableDef
	nextFileID uint32
	metaPath   string

	cache *ristretto.Cache[string, *TableDef]
}

func New(dbRoot string) (*Manager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *TableDef]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: init cache: %w", err)
	}
	m := &Manager{
		tables:     make(map[string]*TableDef),
		nextFileID: 1,
		metaPath:   filepath.Join(dbRoot, "catalog.json"),
		cache:      cache,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

type onDisk struct {
	NextFileID uint32      `json:"next_file_id"`
	Tables     []*TableDef `json:"tables"`
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read metadata: %w", err)
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("catalog: corrupt metadata file: %w", err)
	}
	m.nextFileID = d.NextFileID
	for _, t := range d.Tables {
		m.tables[t.Name] = t
	}
	return nil
}

// Persist writes the whole catalog atomically (write-temp, fsync,
// rename), the same durable-write pattern the original checkpoint
// manager uses for its checkpoint file.
func (m *Manager) Persist() error {
	m.mu.RLock()
	d := onDisk{NextFileID: m.nextFileID}
	for _, t := range m.tables {
		d.Tables = append(d.Tables, t)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("catalog: write temp metadata: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	if err := os.Rename(tmp, m.metaPath); err != nil {
		return fmt.Errorf("catalog: rename metadata: %w", err)
	}
	return nil
}

func (m *Manager) CreateTable(def *TableDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[def.Name]; exists {
		return fmt.Errorf("%s: %w", def.Name, errTableExists)
	}
	def.HeapFileID = m.nextFileID
	m.nextFileID++
	m.tables[def.Name] = def
	m.cache.Del(def.Name)
	return nil
}

func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tables[name]; !exists {
		return fmt.Errorf("%s: %w", name, errTableNotFound)
	}
	delete(m.tables, name)
	m.cache.Del(name)
	return nil
}

func (m *Manager) CreateIndex(table string, idx IndexDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tables[table]
	if !exists {
		return fmt.Errorf("%s: %w", table, errTableNotFound)
	}
	idx.FileID = m.nextFileID
	m.nextFileID++
	t.Indexes = append(t.Indexes, idx)
	m.cache.Del(table)
	return nil
}

// Table looks up a table definition, trying the ristretto cache first.
func (m *Manager) Table(name string) (*TableDef, error) {
	if v, ok := m.cache.Get(name); ok {
		return v, nil
	}

	m.mu.RLock()
	t, exists := m.tables[name]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, errTableNotFound)
	}
	m.cache.SetWithTTL(name, t, 1, 10*time.Minute)
	return t, nil
}

func (m *Manager) AllTables() []*TableDef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TableDef, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}

var (
	errTableExists   = fmt.Errorf("table already exists")
	errTableNotFound = fmt.Errorf("table not found")
)
