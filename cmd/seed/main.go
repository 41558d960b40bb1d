// Seed program: creates a demo database with one table (students, with a
// unique index on id) and sample rows, then dumps them back out with a
// sequential scan.
// Run: go run ./cmd/seed [data-dir]
package main

import (
	"fmt"
	"log"
	"os"

	"strictdb/catalog"
	"strictdb/config"
	"strictdb/engine"
)

func main() {
	dataDir := "data/demo"
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}
	if err := os.RemoveAll(dataDir); err != nil {
		log.Fatalf("seed: clean %s: %v", dataDir, err)
	}

	e, err := engine.Open(dataDir, config.Default(), nil)
	if err != nil {
		log.Fatalf("seed: open engine: %v", err)
	}
	defer e.Close()

	if _, err := e.CreateTable("students", []catalog.Column{
		{Name: "id", Type: catalog.TypeInt32},
		{Name: "name", Type: catalog.TypeString, Width: 32},
		{Name: "gpa", Type: catalog.TypeFloat32},
	}); err != nil {
		log.Fatalf("seed: create table: %v", err)
	}
	if _, err := e.CreateIndex("students", "id", true); err != nil {
		log.Fatalf("seed: create index: %v", err)
	}

	students := []struct {
		id   int32
		name string
		gpa  float32
	}{
		{1, "alice", 3.9},
		{2, "bob", 3.2},
		{3, "carol", 3.7},
	}

	tx, err := e.Begin()
	if err != nil {
		log.Fatalf("seed: begin: %v", err)
	}
	for _, s := range students {
		ins, err := e.Insert(tx, "students", []any{s.id, s.name, s.gpa})
		if err != nil {
			log.Fatalf("seed: build insert: %v", err)
		}
		if _, err := e.Execute(tx, ins); err != nil {
			log.Fatalf("seed: insert %v: %v", s, err)
		}
	}
	if err := e.Commit(tx); err != nil {
		log.Fatalf("seed: commit: %v", err)
	}

	scanTx, err := e.Begin()
	if err != nil {
		log.Fatalf("seed: begin scan: %v", err)
	}
	scan, err := e.SeqScan(scanTx, "students")
	if err != nil {
		log.Fatalf("seed: build scan: %v", err)
	}
	rows, err := e.Execute(scanTx, scan)
	if err != nil {
		log.Fatalf("seed: scan: %v", err)
	}
	if err := e.Commit(scanTx); err != nil {
		log.Fatalf("seed: commit scan: %v", err)
	}

	fmt.Printf("students (%d rows):\n", len(rows))
	for _, row := range rows {
		fmt.Printf("  %v\n", row)
	}
	fmt.Println("\nInspect the index with:")
	fmt.Printf("  go run ./cmd/inspect_idx %s/indexes/students_id.idx %d\n", dataDir, mustIndexFileID(e, "students", "id"))
}

func mustIndexFileID(e *engine.Engine, table, column string) uint32 {
	def, err := e.Table(table)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	for _, idx := range def.Indexes {
		if idx.Column == column {
			return idx.FileID
		}
	}
	log.Fatalf("seed: no index on %s.%s", table, column)
	return 0
}
