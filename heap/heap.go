package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"strictdb/buffer"
	"strictdb/dberr"
	"strictdb/lockmgr"
	"strictdb/page"
	"strictdb/txn"
	"strictdb/wal"
)

// Heap is one table's record heap: a sequence of fixed-format slotted
// pages in a single diskmgr file, accessed exclusively through the
// buffer pool. Every mutation acquires the appropriate row lock first,
// writes its WAL record, then applies the change to the pinned page —
// the ordering spec.md §4.5 requires ("log before the corresponding page
// write reaches disk").
//
// Grounded on the original storage_engine/access/heapfile_manager
// package: HeapFile wraps one data file behind an RWMutex and delegates
// to the page-level functions in page.go; generalized here to take locks
// from the shared lock manager instead of the file-level mutex alone,
// and to log through wal.Manager instead of the ad hoc fmt.Printf trace
// lines used as a stand-in for a real log record.
type Heap struct {
	table  string
	fileID uint32

	pool  *buffer.Pool
	log   *wal.Manager
	locks *lockmgr.Manager

	logger *logrus.Entry
}

func New(table string, fileID uint32, pool *buffer.Pool, logMgr *wal.Manager, locks *lockmgr.Manager, logger *logrus.Logger) *Heap {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Heap{
		table:  table,
		fileID: fileID,
		pool:   pool,
		log:    logMgr,
		locks:  locks,
		logger: logger.WithFields(logrus.Fields{"component": "heap", "table": table}),
	}
}

// appendAndStamp writes one WAL record chained off t.LastLSN, advances
// t's LastLSN, and stamps the page's LastAppliedLSN to the same value —
// the per-page LSN that gates the buffer pool's WAL-before-data flush
// rule.
func (h *Heap) appendAndStamp(t *txn.Transaction, typ wal.RecordType, payload []byte, pg *page.Page) (uint64, error) {
	lsn, err := h.log.Append(typ, t.ID, t.LastLSN, payload)
	if err != nil {
		return 0, err
	}
	t.LastLSN = lsn
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	return lsn, nil
}

// Insert appends a new record, returning its Rid. Acquires IX on the
// table and X on the new row (spec.md §4.2: "acquires IX on table, X on
// the chosen row") — there is no prior row holder to conflict with, but
// the lock still establishes the row as this transaction's to undo on
// abort.
func (h *Heap) Insert(t *txn.Transaction, data []byte) (page.Rid, error) {
	if len(data) == 0 || len(data) > MaxRecordSize {
		return page.Rid{}, fmt.Errorf("heap: record size %d out of bounds", len(data))
	}
	if err := t.Locker().Acquire(lockmgr.TableObject(h.table), lockmgr.IX); err != nil {
		return page.Rid{}, err
	}

	for {
		pg, err := h.findSuitablePage(len(data))
		if err != nil {
			return page.Rid{}, err
		}

		pg.Lock()
		if FreeSpace(pg) < len(data) {
			pg.Unlock()
			h.pool.Unpin(pg.ID, false)
			continue
		}
		slotIdx, err := InsertRecord(pg, data)
		if err != nil {
			pg.Unlock()
			h.pool.Unpin(pg.ID, false)
			return page.Rid{}, err
		}
		rid := page.Rid{PageNo: pg.ID.PageNo(), Slot: slotIdx}

		if err := t.Locker().Acquire(lockmgr.RowObject(h.table, h.fileID, rid.PageNo, rid.Slot), lockmgr.X); err != nil {
			pg.Unlock()
			h.pool.Unpin(pg.ID, false)
			return page.Rid{}, err
		}

		payload := wal.EncodeInsert(wal.DMLPayload{Table: h.table, Rid: rid, After: data})
		if _, err := h.appendAndStamp(t, wal.RecInsert, payload, pg); err != nil {
			pg.Unlock()
			h.pool.Unpin(pg.ID, false)
			return page.Rid{}, err
		}
		pg.Unlock()
		h.pool.Unpin(pg.ID, true)

		h.logger.WithFields(logrus.Fields{"txn_id": t.ID, "rid": rid.String()}).Debug("insert")
		return rid, nil
	}
}

// Get fetches one row by Rid. Acquires IS on the table and S on the row
// (spec.md §4.2). A nil transaction bypasses locking entirely — recovery
// and engine-internal reads during undo/redo run outside any 2PL scope.
func (h *Heap) Get(t *txn.Transaction, rid page.Rid) ([]byte, error) {
	if t != nil {
		if err := t.Locker().Acquire(lockmgr.TableObject(h.table), lockmgr.IS); err != nil {
			return nil, err
		}
		if err := t.Locker().Acquire(lockmgr.RowObject(h.table, h.fileID, rid.PageNo, rid.Slot), lockmgr.S); err != nil {
			return nil, err
		}
	}
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, rid.PageNo))
	if err != nil {
		return nil, err
	}
	defer h.pool.Unpin(pg.ID, false)

	pg.RLock()
	defer pg.RUnlock()
	return GetRecord(pg, rid.Slot)
}

// Delete removes a row by Rid, logging its full before-image. Acquires
// IX on the table and X on the row (spec.md §4.2).
func (h *Heap) Delete(t *txn.Transaction, rid page.Rid) error {
	if err := t.Locker().Acquire(lockmgr.TableObject(h.table), lockmgr.IX); err != nil {
		return err
	}
	if err := t.Locker().Acquire(lockmgr.RowObject(h.table, h.fileID, rid.PageNo, rid.Slot), lockmgr.X); err != nil {
		return err
	}
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, rid.PageNo))
	if err != nil {
		return err
	}

	pg.Lock()
	before, err := GetRecord(pg, rid.Slot)
	if err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return err
	}
	if err := DeleteRecord(pg, rid.Slot); err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return err
	}
	payload := wal.EncodeDelete(wal.DMLPayload{Table: h.table, Rid: rid, Before: before})
	if _, err := h.appendAndStamp(t, wal.RecDelete, payload, pg); err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return err
	}
	pg.Unlock()
	h.pool.Unpin(pg.ID, true)

	h.logger.WithFields(logrus.Fields{"txn_id": t.ID, "rid": rid.String()}).Debug("delete")
	return nil
}

// Update overwrites a row in place, or tombstones and re-inserts
// elsewhere if the new image no longer fits — in which case the returned
// Rid differs from the one passed in and callers owning a secondary
// index must repoint it.
// Update overwrites or relocates a row. Acquires IX on the table and X
// on the row (spec.md §4.2); a relocation acquires a second IX/X pair
// through the recursive Insert call below for the new Rid.
func (h *Heap) Update(t *txn.Transaction, rid page.Rid, newData []byte) (page.Rid, error) {
	if err := t.Locker().Acquire(lockmgr.TableObject(h.table), lockmgr.IX); err != nil {
		return page.Rid{}, err
	}
	if err := t.Locker().Acquire(lockmgr.RowObject(h.table, h.fileID, rid.PageNo, rid.Slot), lockmgr.X); err != nil {
		return page.Rid{}, err
	}
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, rid.PageNo))
	if err != nil {
		return page.Rid{}, err
	}

	pg.Lock()
	before, err := GetRecord(pg, rid.Slot)
	if err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return page.Rid{}, err
	}
	updatedInPlace, err := UpdateRecord(pg, rid.Slot, newData)
	if err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return page.Rid{}, err
	}

	payload := wal.EncodeUpdate(wal.DMLPayload{Table: h.table, Rid: rid, Before: before, After: newData})
	if _, err := h.appendAndStamp(t, wal.RecUpdate, payload, pg); err != nil {
		pg.Unlock()
		h.pool.Unpin(pg.ID, false)
		return page.Rid{}, err
	}
	pg.Unlock()
	h.pool.Unpin(pg.ID, updatedInPlace)

	if updatedInPlace {
		h.logger.WithFields(logrus.Fields{"txn_id": t.ID, "rid": rid.String()}).Debug("update in place")
		return rid, nil
	}

	// UpdateRecord already tombstoned the old slot (and its own WAL record
	// for that is folded into the single RecUpdate above) — now place the
	// new image on whatever page has room.
	newRid, err := h.Insert(t, newData)
	if err != nil {
		return page.Rid{}, fmt.Errorf("heap: update relocate: %w", err)
	}
	h.logger.WithFields(logrus.Fields{"txn_id": t.ID, "old_rid": rid.String(), "new_rid": newRid.String()}).Debug("update moved")
	return newRid, nil
}

// findSuitablePage returns a pinned page with at least size bytes free,
// scanning existing pages once and allocating a new one if none qualify.
// Grounded on the original HeapFile.findSuitablePage scan-then-extend
// strategy.
func (h *Heap) findSuitablePage(size int) (*page.Page, error) {
	fd := h.fileID
	// A real engine would keep a free-space map; this module scans
	// forward from page 0, which is adequate at spec.md's target scale
	// and mirrors its own linear search.
	for pageNo := uint32(0); ; pageNo++ {
		pg, err := h.pool.Fetch(page.MakeID(fd, pageNo))
		if err != nil {
			return h.allocatePage()
		}
		pg.RLock()
		full := IsPageFull(pg) || FreeSpace(pg) < size
		pg.RUnlock()
		if !full {
			return pg, nil
		}
		h.pool.Unpin(pg.ID, false)
		if pageNo > maxScanPages {
			return h.allocatePage()
		}
	}
}

// maxScanPages bounds the linear scan so a heap with many full pages
// doesn't degrade findSuitablePage into an O(n) crawl on every insert;
// beyond this many pages we just allocate fresh rather than keep
// looking.
const maxScanPages = 64

func (h *Heap) allocatePage() (*page.Page, error) {
	pg, err := h.pool.NewPage(h.fileID, page.TypeHeapData)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindStorage, "allocatePage", err)
	}
	Init(pg, h.fileID, pg.ID.PageNo())
	return pg, nil
}

// Scan returns every live Rid in the heap in page order, for a sequential
// scan operator.
func (h *Heap) Scan() ([]page.Rid, error) {
	var out []page.Rid
	for pageNo := uint32(0); ; pageNo++ {
		pg, err := h.pool.Fetch(page.MakeID(h.fileID, pageNo))
		if err != nil {
			break
		}
		pg.RLock()
		if pg.Type == page.TypeHeapData {
			count := SlotCount(pg)
			for slot := uint16(0); slot < count; slot++ {
				if IsSlotLive(pg, slot) {
					out = append(out, page.Rid{PageNo: pageNo, Slot: slot})
				}
			}
		}
		pg.RUnlock()
		h.pool.Unpin(pg.ID, false)
	}
	return out, nil
}

// --- txn.UndoHandler: applied during abort (or by the recovery package's
// undo pass, against whichever heap owns p.Table). The CLR's own prev_lsn
// is undoneLSN itself: by the time a record is reached walking a
// transaction's chain in reverse, it is the most recent record that
// transaction wrote, so the compensating record logically follows it
// directly (spec.md §4.5).

func (h *Heap) UndoInsert(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return wal.InvalidLSN, err
	}
	pg.Lock()
	defer pg.Unlock()

	if IsSlotLive(pg, p.Rid.Slot) {
		if err := DeleteRecord(pg, p.Rid.Slot); err != nil {
			h.pool.Unpin(pg.ID, false)
			return wal.InvalidLSN, err
		}
	}
	clrLSN, err := h.writeCLR(txnID, undoneLSN, prevLSN, p.Table, p.Rid, nil, pg)
	h.pool.Unpin(pg.ID, true)
	return clrLSN, err
}

func (h *Heap) UndoDelete(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return wal.InvalidLSN, err
	}
	pg.Lock()
	defer pg.Unlock()

	if err := restoreAt(pg, p.Rid.Slot, p.Before); err != nil {
		h.pool.Unpin(pg.ID, false)
		return wal.InvalidLSN, err
	}
	clrLSN, err := h.writeCLR(txnID, undoneLSN, prevLSN, p.Table, p.Rid, p.Before, pg)
	h.pool.Unpin(pg.ID, true)
	return clrLSN, err
}

func (h *Heap) UndoUpdate(txnID uint64, p wal.DMLPayload, undoneLSN, prevLSN uint64) (uint64, error) {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return wal.InvalidLSN, err
	}
	pg.Lock()
	defer pg.Unlock()

	if err := restoreAt(pg, p.Rid.Slot, p.Before); err != nil {
		h.pool.Unpin(pg.ID, false)
		return wal.InvalidLSN, err
	}
	clrLSN, err := h.writeCLR(txnID, undoneLSN, prevLSN, p.Table, p.Rid, p.Before, pg)
	h.pool.Unpin(pg.ID, true)
	return clrLSN, err
}

// restoreAt puts data back at slot, whichever state the slot is
// currently in: tombstoned (the forward operation relocated or deleted
// the row) or still live (an in-place update being rolled back).
func restoreAt(pg *page.Page, slot uint16, data []byte) error {
	if slot < SlotCount(pg) && IsSlotLive(pg, slot) {
		_, err := UpdateRecord(pg, slot, data)
		return err
	}
	return InsertRecordAtSlot(pg, slot, data)
}

func (h *Heap) writeCLR(txnID, undoneLSN, undoNextLSN uint64, table string, rid page.Rid, data []byte, pg *page.Page) (uint64, error) {
	payload := wal.EncodeCLR(wal.CLRPayload{UndoneLSN: undoneLSN, UndoNextLSN: undoNextLSN, Table: table, Rid: rid, Data: data})
	lsn, err := h.log.Append(wal.RecCLR, txnID, undoneLSN, payload)
	if err != nil {
		return wal.InvalidLSN, err
	}
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	return lsn, nil
}

// RedoCLR idempotently reapplies a CLR's physical effect during crash
// recovery's redo pass — a second crash mid-undo must be able to resume
// exactly where the first one left off (spec.md §4.5).
func (h *Heap) RedoCLR(p wal.CLRPayload, lsn uint64) error {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return err
	}
	pg.Lock()
	defer pg.Unlock()
	if pg.LSN >= lsn {
		h.pool.Unpin(pg.ID, false)
		return nil
	}
	if len(p.Data) == 0 {
		if IsSlotLive(pg, p.Rid.Slot) {
			if err := DeleteRecord(pg, p.Rid.Slot); err != nil {
				h.pool.Unpin(pg.ID, false)
				return err
			}
		}
	} else if err := restoreAt(pg, p.Rid.Slot, p.Data); err != nil {
		h.pool.Unpin(pg.ID, false)
		return err
	}
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	h.pool.Unpin(pg.ID, true)
	return nil
}

// RedoInsert/RedoDelete/RedoUpdate idempotently reapply one DML record's
// physical effect during crash recovery's redo pass, gated on the page's
// own LSN (spec.md §4.5: "redo... only if the page's LSN is older than
// the record's").
func (h *Heap) RedoInsert(p wal.DMLPayload, lsn uint64) error {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return err
	}
	pg.Lock()
	defer pg.Unlock()
	if pg.LSN >= lsn {
		h.pool.Unpin(pg.ID, false)
		return nil
	}
	if err := InsertRecordAtSlot(pg, p.Rid.Slot, p.After); err != nil {
		h.pool.Unpin(pg.ID, false)
		return err
	}
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	h.pool.Unpin(pg.ID, true)
	return nil
}

func (h *Heap) RedoDelete(p wal.DMLPayload, lsn uint64) error {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return err
	}
	pg.Lock()
	defer pg.Unlock()
	if pg.LSN >= lsn {
		h.pool.Unpin(pg.ID, false)
		return nil
	}
	if IsSlotLive(pg, p.Rid.Slot) {
		if err := DeleteRecord(pg, p.Rid.Slot); err != nil {
			h.pool.Unpin(pg.ID, false)
			return err
		}
	}
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	h.pool.Unpin(pg.ID, true)
	return nil
}

func (h *Heap) RedoUpdate(p wal.DMLPayload, lsn uint64) error {
	pg, err := h.pool.Fetch(page.MakeID(h.fileID, p.Rid.PageNo))
	if err != nil {
		return err
	}
	pg.Lock()
	defer pg.Unlock()
	if pg.LSN >= lsn {
		h.pool.Unpin(pg.ID, false)
		return nil
	}
	if err := restoreAt(pg, p.Rid.Slot, p.After); err != nil {
		h.pool.Unpin(pg.ID, false)
		return err
	}
	pg.LSN = lsn
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], lsn)
	pg.IsDirty = true
	h.pool.Unpin(pg.ID, true)
	return nil
}
