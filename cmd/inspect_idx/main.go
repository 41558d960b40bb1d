// Inspect a B+ tree index file (.idx).
// Usage: go run ./cmd/inspect_idx <path-to-.idx> [file-id]
// Example: go run ./cmd/inspect_idx data/indexes/accounts_id.idx 2
package main

import (
	"fmt"
	"os"
	"strconv"

	"strictdb/bplustree"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <index.idx> [file-id]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s data/indexes/accounts_id.idx 2\n", os.Args[0])
		os.Exit(1)
	}
	path := os.Args[1]

	fileID := uint32(1)
	if len(os.Args) >= 3 {
		n, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid file-id %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
		fileID = uint32(n)
	}

	if err := bplustree.Inspect(os.Stdout, path, fileID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
