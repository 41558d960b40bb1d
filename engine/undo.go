package engine

import (
	"fmt"
	"sync"

	"strictdb/heap"
	"strictdb/wal"
)

// tableUndoer implements txn.UndoHandler by dispatching on the table name
// carried in each DML payload to that table's heap — the single UndoHandler
// txn.Manager wants, fanned out across every table the engine has open.
type tableUndoer struct {
	mu    sync.RWMutex
	heaps map[string]*heap.Heap
}

func (u *tableUndoer) register(name string, h *heap.Heap) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.heaps[name] = h
}

func (u *tableUndoer) heapFor(name string) (*heap.Heap, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	h, ok := u.heaps[name]
	if !ok {
		return nil, fmt.Errorf("engine: undo: unknown table %q", name)
	}
	return h, nil
}

func (u *tableUndoer) UndoInsert(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	h, err := u.heapFor(p.Table)
	if err != nil {
		return 0, err
	}
	return h.UndoInsert(txnID, p, undoneLSN, prevLSN)
}

func (u *tableUndoer) UndoDelete(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	h, err := u.heapFor(p.Table)
	if err != nil {
		return 0, err
	}
	return h.UndoDelete(txnID, p, undoneLSN, prevLSN)
}

func (u *tableUndoer) UndoUpdate(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	h, err := u.heapFor(p.Table)
	if err != nil {
		return 0, err
	}
	return h.UndoUpdate(txnID, p, undoneLSN, prevLSN)
}
