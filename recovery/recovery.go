// Package recovery implements ARIES-style crash recovery: analysis,
// redo, and undo passes over the write-ahead log, run once at startup
// before the engine accepts any work (spec.md §4.5).
//
// Grounded on the original storage_engine/recover_wal.go
// (RecoverFromWAL's "scan everything, partition into committed/aborted,
// redo forward then undo in reverse" shape and its per-record replay
// handlers) split here into the three textbook ARIES passes: analysis
// seeds the active-transaction table from the last durable checkpoint
// instead of replaying from the log head, redo is gated on each page's
// own LSN so it is safe to re-run over already-durable records, and undo
// emits CLRs (via the same heap.Heap.Undo* methods a live Abort uses) so
// a second crash mid-rollback resumes instead of re-doing work.
package recovery

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"strictdb/wal"
)

// TableHandler is the per-table surface recovery drives redo/undo
// through. heap.Heap implements it directly — recovery never imports the
// catalog or engine layer, it just needs somewhere to send each table's
// compensating writes, supplied by the caller's table registry.
type TableHandler interface {
	RedoInsert(p wal.DMLPayload, lsn uint64) error
	RedoDelete(p wal.DMLPayload, lsn uint64) error
	RedoUpdate(p wal.DMLPayload, lsn uint64) error
	RedoCLR(p wal.CLRPayload, lsn uint64) error
	UndoInsert(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (clrLSN uint64, err error)
	UndoDelete(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (clrLSN uint64, err error)
	UndoUpdate(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (clrLSN uint64, err error)
}

// Manager drives one recovery run against a single log file.
type Manager struct {
	log    *wal.Manager
	tables map[string]TableHandler
	logger *logrus.Entry
}

func NewManager(logMgr *wal.Manager, tables map[string]TableHandler, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{log: logMgr, tables: tables, logger: logger.WithField("component", "recovery")}
}

// Run executes analysis, redo, and undo in sequence. Safe to call on a
// log with no crash to recover from — each pass is then a no-op.
func (m *Manager) Run() error {
	entries, byLSN, err := m.scanAll()
	if err != nil {
		return fmt.Errorf("recovery: scan: %w", err)
	}
	if len(entries) == 0 {
		m.logger.Info("no log records to recover")
		return nil
	}

	att, minRedoLSN := m.analyze(entries)
	m.logger.WithFields(logrus.Fields{"losers": len(att), "redo_from_lsn": minRedoLSN}).Info("analysis complete")

	redone, err := m.redo(entries, minRedoLSN)
	if err != nil {
		return fmt.Errorf("recovery: redo: %w", err)
	}
	m.logger.WithField("records_redone", redone).Info("redo complete")

	undone, err := m.undo(att, byLSN)
	if err != nil {
		return fmt.Errorf("recovery: undo: %w", err)
	}
	m.logger.WithField("transactions_rolled_back", undone).Info("undo complete")
	return nil
}

// scanAll reads the whole log file sequentially once, returning both the
// in-order record list (for the forward analysis/redo passes) and an
// LSN-indexed map (for undo's backward chain walk).
func (m *Manager) scanAll() ([]wal.Record, map[uint64]wal.Record, error) {
	r, err := wal.NewReader(m.log.Path(), wal.FileHeaderSize())
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var entries []wal.Record
	byLSN := make(map[uint64]wal.Record)
	for {
		rec, _, err := r.Next()
		if err != nil {
			// io.EOF or wal.ErrTruncated — either way the log ends here;
			// a torn tail from a mid-append crash is simply the last
			// record this process will ever see (spec.md §4.5).
			break
		}
		entries = append(entries, rec)
		byLSN[rec.LSN] = rec
	}
	return entries, byLSN, nil
}

// analyze builds the set of loser transactions (active at crash time,
// never reaching COMMIT or ABORT) and the LSN redo should start from.
// Seeded from the most recent RecCheckpoint found, then updated by every
// record after it — exactly the two things a checkpoint exists to bound
// (spec.md §4.5, §6).
func (m *Manager) analyze(entries []wal.Record) (map[uint64]uint64, uint64) {
	att := make(map[uint64]uint64) // txnID -> that txn's most recent LSN
	minRedoLSN := uint64(0)

	for _, rec := range entries {
		switch rec.Type {
		case wal.RecCheckpoint:
			cp := wal.DecodeCheckpoint(rec.Payload)
			att = make(map[uint64]uint64, len(cp.ATT))
			for _, e := range cp.ATT {
				att[e.TxnID] = e.LastLSN
			}
			minRedoLSN = rec.LSN
			for _, e := range cp.DPT {
				if e.RecoveryLSN < minRedoLSN {
					minRedoLSN = e.RecoveryLSN
				}
			}
		case wal.RecBegin:
			att[rec.TxnID] = rec.LSN
		case wal.RecCommit, wal.RecAbort:
			delete(att, rec.TxnID)
		case wal.RecInsert, wal.RecDelete, wal.RecUpdate, wal.RecCLR:
			att[rec.TxnID] = rec.LSN
		}
	}
	return att, minRedoLSN
}

// redo reapplies every DML/CLR record from minRedoLSN onward. Each
// handler call is itself idempotent (gated on the target page's LSN), so
// redoing a record already durable on disk is a safe no-op — spec.md
// §4.5's "redo... only if the page's LSN is older than the record's".
func (m *Manager) redo(entries []wal.Record, minRedoLSN uint64) (int, error) {
	redone := 0
	for _, rec := range entries {
		if rec.LSN < minRedoLSN {
			continue
		}
		switch rec.Type {
		case wal.RecInsert:
			p := wal.DecodeInsert(rec.Payload)
			h, ok := m.tables[p.Table]
			if !ok {
				continue
			}
			if err := h.RedoInsert(p, rec.LSN); err != nil {
				return redone, fmt.Errorf("redo insert lsn=%d table=%s: %w", rec.LSN, p.Table, err)
			}
			redone++
		case wal.RecDelete:
			p := wal.DecodeDelete(rec.Payload)
			h, ok := m.tables[p.Table]
			if !ok {
				continue
			}
			if err := h.RedoDelete(p, rec.LSN); err != nil {
				return redone, fmt.Errorf("redo delete lsn=%d table=%s: %w", rec.LSN, p.Table, err)
			}
			redone++
		case wal.RecUpdate:
			p := wal.DecodeUpdate(rec.Payload)
			h, ok := m.tables[p.Table]
			if !ok {
				continue
			}
			if err := h.RedoUpdate(p, rec.LSN); err != nil {
				return redone, fmt.Errorf("redo update lsn=%d table=%s: %w", rec.LSN, p.Table, err)
			}
			redone++
		case wal.RecCLR:
			p := wal.DecodeCLR(rec.Payload)
			h, ok := m.tables[p.Table]
			if !ok {
				continue
			}
			if err := h.RedoCLR(p, rec.LSN); err != nil {
				return redone, fmt.Errorf("redo clr lsn=%d table=%s: %w", rec.LSN, p.Table, err)
			}
			redone++
		}
	}
	return redone, nil
}

// undo rolls back every loser transaction found by analyze, walking each
// one's prev_lsn chain backward. A CLR encountered along the way belongs
// to an interrupted prior rollback attempt — its UndoNextLSN says where
// that attempt still had left to go, so undo jumps there directly instead
// of re-compensating an already-compensated record.
func (m *Manager) undo(att map[uint64]uint64, byLSN map[uint64]wal.Record) (int, error) {
	rolledBack := 0
	for txnID, lastLSN := range att {
		frontier := lastLSN
		cur := lastLSN

		for cur != wal.InvalidLSN {
			rec, ok := byLSN[cur]
			if !ok {
				break
			}

			switch rec.Type {
			case wal.RecBegin:
				cur = wal.InvalidLSN
				continue
			case wal.RecCLR:
				cp := wal.DecodeCLR(rec.Payload)
				cur = cp.UndoNextLSN
				continue
			case wal.RecInsert:
				p := wal.DecodeInsert(rec.Payload)
				if h, ok := m.tables[p.Table]; ok {
					clrLSN, err := h.UndoInsert(txnID, p, rec.LSN, rec.PrevLSN)
					if err != nil {
						return rolledBack, fmt.Errorf("undo insert txn=%d lsn=%d: %w", txnID, rec.LSN, err)
					}
					if clrLSN != wal.InvalidLSN {
						frontier = clrLSN
					}
				}
			case wal.RecDelete:
				p := wal.DecodeDelete(rec.Payload)
				if h, ok := m.tables[p.Table]; ok {
					clrLSN, err := h.UndoDelete(txnID, p, rec.LSN, rec.PrevLSN)
					if err != nil {
						return rolledBack, fmt.Errorf("undo delete txn=%d lsn=%d: %w", txnID, rec.LSN, err)
					}
					if clrLSN != wal.InvalidLSN {
						frontier = clrLSN
					}
				}
			case wal.RecUpdate:
				p := wal.DecodeUpdate(rec.Payload)
				if h, ok := m.tables[p.Table]; ok {
					clrLSN, err := h.UndoUpdate(txnID, p, rec.LSN, rec.PrevLSN)
					if err != nil {
						return rolledBack, fmt.Errorf("undo update txn=%d lsn=%d: %w", txnID, rec.LSN, err)
					}
					if clrLSN != wal.InvalidLSN {
						frontier = clrLSN
					}
				}
			}
			cur = rec.PrevLSN
		}

		lsn, err := m.log.Append(wal.RecAbort, txnID, frontier, nil)
		if err != nil {
			return rolledBack, err
		}
		if err := m.log.Flush(lsn); err != nil {
			return rolledBack, err
		}
		rolledBack++
		m.logger.WithField("txn_id", txnID).Info("loser transaction rolled back")
	}
	return rolledBack, nil
}
