// dump_sample runs the seed program and the index inspector, writing all
// output to cmd/sample_run_output.txt. Run from repo root:
// go run ./cmd/dump_sample
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"strictdb/bplustree"
)

const (
	baseDir    = "data/demo"
	outputFile = "cmd/sample_run_output.txt"
)

func main() {
	outPath := outputFile
	// If run from cmd/dump_sample, output next to binary.
	if _, err := os.Stat("cmd"); os.IsNotExist(err) {
		outPath = "sample_run_output.txt"
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	root := repoRoot()
	os.RemoveAll(filepath.Join(root, baseDir))

	fmt.Fprintln(f, "========== SEED (create students table, inserts, scan) ==========")
	cmd := exec.Command("go", "run", "./cmd/seed", baseDir)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Dir = root
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(f, "seed exited with error: %v\n", err)
	}

	// seed.go creates the students table (heap file ID 1) and its id
	// index (file ID 2), in that order — catalog.Manager.nextFileID is
	// a monotonic counter starting at 1.
	indexPath := filepath.Join(root, baseDir, "indexes", "students_id.idx")
	fmt.Fprintln(f, "\n========== INSPECT students_id.idx ==========")
	if err := bplustree.Inspect(f, indexPath, 2); err != nil {
		fmt.Fprintf(f, "inspect error: %v\n", err)
	}

	fmt.Printf("Output written to %s\n", outPath)
}

func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
