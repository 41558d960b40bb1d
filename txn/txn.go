// Package txn implements transaction lifecycle: begin/commit/abort,
// strict two-phase locking bookkeeping, and abort-time undo driven by the
// WAL's prev_lsn chain.
//
// Grounded on the original storage_engine/transaction_manager package
// (atomic id issuance, an active-transaction map, idempotent Commit/Abort)
// generalized from "abort is implicit because uncommitted ops never see a
// COMMIT record during replay" to spec.md's explicit undo pass: Abort here
// walks the transaction's own prev_lsn chain and applies compensating
// writes before releasing locks, rather than relying on recovery alone.
package txn

import "strictdb/lockmgr"

// Status is one of the four states spec.md §3 names. Strict 2PL never
// re-enters Growing after Shrinking.
type Status int

const (
	Growing Status = iota
	Shrinking
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Growing:
		return "growing"
	case Shrinking:
		return "shrinking"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction is the per-transaction state spec.md §3 defines:
// {id, status, last_lsn, held_locks, touched_pages}.
type Transaction struct {
	ID      uint64
	Status  Status
	LastLSN uint64 // most recent WAL record this txn wrote; InvalidLSN if none
	locker  *lockmgr.Txn

	touchedPages map[uint32]map[uint32]struct{} // fileID -> set of page numbers
}

// Locker exposes the lock-manager handle so callers acquire locks
// through the same object the lock manager's deadlock detector tracks.
func (t *Transaction) Locker() *lockmgr.Txn { return t.locker }

func (t *Transaction) touchPage(fileID, pageNo uint32) {
	if t.touchedPages == nil {
		t.touchedPages = make(map[uint32]map[uint32]struct{})
	}
	if t.touchedPages[fileID] == nil {
		t.touchedPages[fileID] = make(map[uint32]struct{})
	}
	t.touchedPages[fileID][pageNo] = struct{}{}
}

// IsAborted reports whether t's status is Aborted. Lock acquisition and
// tuple pulls do not consult it.
func (t *Transaction) IsAborted() bool { return t.Status == Aborted }
