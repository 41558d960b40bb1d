// Package engine is the portal layer: it accepts an operator tree plus a
// transaction handle and drives it to completion, and owns the wiring
// every lower package is built to avoid knowing about — disk manager,
// buffer pool, WAL, lock manager, transaction manager, catalog, per-table
// heaps and indexes, and the recovery/checkpoint lifecycle around them.
//
// Exposes Begin/Commit/Abort, DDL, and operator factories; parsing and
// planning a query into an operator tree happens above this package, not
// inside it.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"strictdb/bplustree"
	"strictdb/buffer"
	"strictdb/catalog"
	"strictdb/config"
	"strictdb/dberr"
	"strictdb/diskmgr"
	"strictdb/exec"
	"strictdb/heap"
	"strictdb/lockmgr"
	"strictdb/recovery"
	"strictdb/txn"
	"strictdb/wal"
)

// Engine is one open database: every shared subsystem plus the per-table
// heap/index handles opened from the catalog.
type Engine struct {
	dataDir string
	cfg     *config.Config
	logger  *logrus.Entry

	lock  *diskmgr.DBLock
	disk  *diskmgr.Manager
	wal   *wal.Manager
	pool  *buffer.Pool
	locks *lockmgr.Manager
	txns  *txn.Manager
	cat   *catalog.Manager
	undo  *tableUndoer

	mu      sync.RWMutex
	heaps   map[string]*heap.Heap
	indexes map[string]map[string]*bplustree.Tree // table -> column -> tree

	checkpointStop chan struct{}
	checkpointDone chan struct{}
}

// Open opens (or creates) a database rooted at dataDir: acquires the
// directory lock, opens the WAL and buffer pool, loads the catalog,
// re-opens every existing table/index's data file, runs crash recovery,
// and starts the periodic checkpoint loop. cfg may be nil, in which case
// config.Default() is used.
func Open(dataDir string, cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "engine")

	for _, dir := range []string{dataDir, filepath.Join(dataDir, "tables"), filepath.Join(dataDir, "indexes")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("engine: create data dir: %w", err)
		}
	}
	dblock, err := diskmgr.AcquireDBLock(dataDir)
	if err != nil {
		return nil, err
	}

	disk := diskmgr.New(logger)
	walMgr, err := wal.Open(filepath.Join(dataDir, "wal.log"), cfg.LogBufferBytes, logger)
	if err != nil {
		dblock.Release()
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	pool := buffer.NewPool(cfg.BufferPoolFrames, disk, logger)
	pool.SetWAL(walMgr)
	locks := lockmgr.NewManager(cfg.LockWaitTimeout(), logger)

	catMgr, err := catalog.New(dataDir)
	if err != nil {
		walMgr.Close()
		dblock.Release()
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	undo := &tableUndoer{heaps: make(map[string]*heap.Heap)}
	txns := txn.NewManager(locks, walMgr, undo, logger)

	e := &Engine{
		dataDir:        dataDir,
		cfg:            cfg,
		logger:         log,
		lock:           dblock,
		disk:           disk,
		wal:            walMgr,
		pool:           pool,
		locks:          locks,
		txns:           txns,
		cat:            catMgr,
		undo:           undo,
		heaps:          make(map[string]*heap.Heap),
		indexes:        make(map[string]map[string]*bplustree.Tree),
		checkpointStop: make(chan struct{}),
		checkpointDone: make(chan struct{}),
	}

	if err := e.reopenExistingTables(); err != nil {
		walMgr.Close()
		dblock.Release()
		return nil, err
	}

	log.WithField("tables", len(catMgr.AllTables())).Info("recovering")
	rm := recovery.NewManager(walMgr, e.tableHandlers(), logger)
	if err := rm.Run(); err != nil {
		walMgr.Close()
		dblock.Release()
		return nil, fmt.Errorf("engine: recovery: %w", err)
	}

	go e.checkpointLoop()

	log.WithField("data_dir", dataDir).Info("engine open")
	return e, nil
}

// reopenExistingTables walks the catalog loaded from disk and re-opens
// every table's heap file and every index's B+ tree file, so a restarted
// process can resume where it left off without replaying DDL.
func (e *Engine) reopenExistingTables() error {
	for _, def := range e.cat.AllTables() {
		if err := e.disk.OpenFileWithID(e.heapPath(def.Name), def.HeapFileID); err != nil {
			return fmt.Errorf("engine: reopen heap %s: %w", def.Name, err)
		}
		h := heap.New(def.Name, def.HeapFileID, e.pool, e.wal, e.locks, nil)
		e.heaps[def.Name] = h
		e.undo.register(def.Name, h)

		for _, idx := range def.Indexes {
			if err := e.disk.OpenFileWithID(e.indexPath(def.Name, idx.Column), idx.FileID); err != nil {
				return fmt.Errorf("engine: reopen index %s.%s: %w", def.Name, idx.Column, err)
			}
			tree, err := bplustree.Open(e.indexPath(def.Name, idx.Column), idx.FileID, idx.Unique, e.pool, e.disk)
			if err != nil {
				return fmt.Errorf("engine: open index %s.%s: %w", def.Name, idx.Column, err)
			}
			if e.indexes[def.Name] == nil {
				e.indexes[def.Name] = make(map[string]*bplustree.Tree)
			}
			e.indexes[def.Name][idx.Column] = tree
		}
	}
	return nil
}

func (e *Engine) tableHandlers() map[string]recovery.TableHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]recovery.TableHandler, len(e.heaps))
	for name, h := range e.heaps {
		out[name] = h
	}
	return out
}

func (e *Engine) heapPath(table string) string {
	return filepath.Join(e.dataDir, "tables", table+".heap")
}

func (e *Engine) indexPath(table, column string) string {
	return filepath.Join(e.dataDir, "indexes", table+"_"+column+".idx")
}

// Begin starts a new transaction.
func (e *Engine) Begin() (*txn.Transaction, error) { return e.txns.Begin() }

// Commit commits t.
func (e *Engine) Commit(t *txn.Transaction) error { return e.txns.Commit(t) }

// Abort rolls t back.
func (e *Engine) Abort(t *txn.Transaction) error { return e.txns.Abort(t) }

// Execute drives op to completion under t, returning every row it
// produces. If op's error is a concurrency error (lock timeout or
// deadlock victim), Execute aborts t before returning, unless t is nil
// or already aborted — callers never need to remember to do that
// themselves on the execution path a portal drives.
func (e *Engine) Execute(t *txn.Transaction, op exec.Operator) ([]exec.Row, error) {
	if err := op.Open(); err != nil {
		e.abortOnConcurrencyError(t, err)
		return nil, err
	}
	defer op.Close()

	var rows []exec.Row
	for {
		row, err := op.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.abortOnConcurrencyError(t, err)
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) abortOnConcurrencyError(t *txn.Transaction, err error) {
	if t == nil || t.IsAborted() {
		return
	}
	var classified *dberr.Classified
	if errors.As(err, &classified) && classified.Kind == dberr.KindConcurrency {
		e.txns.Abort(t)
	}
}

// Close stops the checkpoint loop, persists the catalog, and releases
// every held file handle and the directory lock.
func (e *Engine) Close() error {
	close(e.checkpointStop)
	<-e.checkpointDone

	if err := e.cat.Persist(); err != nil {
		e.logger.WithError(err).Error("persist catalog on close")
	}
	if err := e.wal.Flush(e.wal.NextLSNPeek()); err != nil {
		e.logger.WithError(err).Error("flush wal on close")
	}
	if err := e.pool.FlushAll(); err != nil {
		e.logger.WithError(err).Error("flush buffer pool on close")
	}
	if err := e.wal.Close(); err != nil {
		e.logger.WithError(err).Error("close wal")
	}
	if err := e.disk.CloseAll(); err != nil {
		e.logger.WithError(err).Error("close data files")
	}
	return e.lock.Release()
}

func (e *Engine) checkpointLoop() {
	defer close(e.checkpointDone)
	interval := e.cfg.CheckpointInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.checkpointStop:
			return
		case <-ticker.C:
			cp := recovery.NewCheckpointer(e.wal, e.pool, txnLister{e.txns}, nil)
			if err := cp.Checkpoint(); err != nil {
				e.logger.WithError(err).Warn("checkpoint failed")
			}
		}
	}
}

// txnLister adapts txn.Manager to recovery.ActiveTxnLister so package
// recovery never imports package txn (see recovery.ActiveTxnLister).
type txnLister struct{ m *txn.Manager }

func (l txnLister) ActiveTransactions() []recovery.ActiveTxn {
	active := l.m.ActiveTransactions()
	out := make([]recovery.ActiveTxn, len(active))
	for i, t := range active {
		out[i] = recovery.ActiveTxn{ID: t.ID, LastLSN: t.LastLSN}
	}
	return out
}
