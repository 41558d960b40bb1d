// Package diskmgr owns the engine's page-store file descriptors: one data
// file per table/index, plus the LogFile type the WAL layer opens through
// OpenLogFile. It knows nothing about tuple layout or log record formats —
// it reads and writes whole pages by (file_id, page_no), and raw byte
// ranges for the log — leaving interpretation to the heap, B+ tree, and
// WAL layers above it.
//
// Grounded on the original storage_engine/disk_manager package: the same
// global-page-id encoding (fileID<<32 | localPageNo, deterministic across
// restarts with no counter to recover), the same per-file RWMutex, and
// OpenFileWithID for catalog-assigned, stable ids for data files.
package diskmgr

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"strictdb/dberr"
	"strictdb/page"
)

// fileDescriptor is one open data file.
type fileDescriptor struct {
	fileID   uint32
	path     string
	file     *os.File
	nextPage uint32 // next unallocated local page number
	free     *btree.BTree // free-page set (ordered uint32 items), lowest reused first
	mu       sync.RWMutex
}

type freePageItem uint32

func (a freePageItem) Less(b btree.Item) bool { return a < b.(freePageItem) }

// Manager is the disk manager: it owns the data-file table and is the
// only component that calls into the os package for page-store I/O. Its
// log field is not set by anything in this package; the WAL keeps its
// own *LogFile from OpenLogFile.
type Manager struct {
	mu    sync.RWMutex
	files map[uint32]*fileDescriptor

	log *LogFile

	log_ *logrus.Entry
}

func New(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		files: make(map[uint32]*fileDescriptor),
		log_:  logger.WithField("component", "diskmgr"),
	}
}

// OpenFileWithID opens (or creates) a data file under a catalog-assigned,
// stable file id. Used for heap and index files so their id survives
// restarts regardless of open order.
func (m *Manager) OpenFileWithID(path string, fileID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[fileID]; exists {
		return nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("diskmgr: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}

	fd := &fileDescriptor{
		fileID:   fileID,
		path:     path,
		file:     f,
		nextPage: uint32(stat.Size() / page.Size),
		free:     btree.New(2),
	}
	m.files[fileID] = fd
	m.log_.WithFields(logrus.Fields{"file_id": fileID, "path": path, "pages": fd.nextPage}).Info("opened data file")
	return nil
}

// DeleteFile closes and removes a data file from disk (DROP TABLE/INDEX).
func (m *Manager) DeleteFile(fileID uint32) error {
	m.mu.Lock()
	fd, exists := m.files[fileID]
	if exists {
		delete(m.files, fileID)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	path := fd.path
	if fd.file != nil {
		fd.file.Close()
		fd.file = nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diskmgr: delete %s: %w", path, err)
	}
	return nil
}

// ReadPage reads one page by (file_id, page_no) directly from disk. Callers
// above the buffer pool never call this themselves in steady state; it
// exists for the buffer pool's fetch-on-miss path.
func (m *Manager) ReadPage(fileID uint32, pageNo uint32) (*page.Page, error) {
	fd, err := m.descriptor(fileID)
	if err != nil {
		return nil, err
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.file == nil {
		return nil, fmt.Errorf("diskmgr: file %d is closed", fileID)
	}

	pg := page.New(page.MakeID(fileID, pageNo), page.TypeUnknown)
	offset := int64(pageNo) * page.Size
	n, err := fd.file.ReadAt(pg.Data[:], offset)
	if err != nil && n == 0 {
		return nil, dberr.Wrap(dberr.KindStorage, "ReadPage", fmt.Errorf("%w: %v", dberr.ErrIoError, err))
	}
	pg.Type = page.Type(pg.Data[page.TypeOffset])
	pg.LSN = binary.LittleEndian.Uint64(pg.Data[page.LSNOffset:])
	return pg, nil
}

// WritePage writes a page's full contents at its (file_id, page_no)
// offset. Caller (the buffer pool) is responsible for having already
// flushed the log up through pg.LSN.
func (m *Manager) WritePage(pg *page.Page) error {
	fd, err := m.descriptor(pg.ID.FileID())
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.file == nil {
		return fmt.Errorf("diskmgr: file %d is closed", pg.ID.FileID())
	}

	pg.Data[page.TypeOffset] = byte(pg.Type)
	offset := int64(pg.ID.PageNo()) * page.Size
	if _, err := fd.file.WriteAt(pg.Data[:], offset); err != nil {
		return dberr.Wrap(dberr.KindStorage, "WritePage", fmt.Errorf("%w: %v", dberr.ErrIoError, err))
	}
	if pg.ID.PageNo() >= fd.nextPage {
		fd.nextPage = pg.ID.PageNo() + 1
	}
	return nil
}

// AllocatePage hands out the next page number for a file: reused from the
// free-page set first (the file header's free-page-list invariant, spec.md
// §3), extending the file only once the free set is empty. It does not
// write anything — the buffer pool's NewPage flushes it lazily like any
// other dirty page.
func (m *Manager) AllocatePage(fileID uint32) (page.ID, error) {
	fd, err := m.descriptor(fileID)
	if err != nil {
		return 0, err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if item := fd.free.Min(); item != nil {
		fd.free.Delete(item)
		return page.MakeID(fileID, uint32(item.(freePageItem))), nil
	}

	pageNo := fd.nextPage
	fd.nextPage++
	return page.MakeID(fileID, pageNo), nil
}

// FreePage returns a page number to the file's free-page list. Callers
// must only do this after the transaction that vacated the page has
// committed (spec.md §3's Rid-reuse rule).
func (m *Manager) FreePage(fileID uint32, pageNo uint32) error {
	fd, err := m.descriptor(fileID)
	if err != nil {
		return err
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.free.ReplaceOrInsert(freePageItem(pageNo))
	return nil
}

func (m *Manager) descriptor(fileID uint32) (*fileDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fd, exists := m.files[fileID]
	if !exists {
		return nil, fmt.Errorf("diskmgr: file %d not open", fileID)
	}
	return fd, nil
}

// Sync forces every open data file's OS buffers to disk (checkpoint path).
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fd := range m.files {
		fd.mu.Lock()
		if fd.file != nil {
			if err := fd.file.Sync(); err != nil {
				fd.mu.Unlock()
				return err
			}
		}
		fd.mu.Unlock()
	}
	return nil
}

// CloseAll closes every open data file (clean shutdown).
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lastErr error
	for id, fd := range m.files {
		fd.mu.Lock()
		if fd.file != nil {
			fd.file.Sync()
			if err := fd.file.Close(); err != nil {
				lastErr = err
			}
			fd.file = nil
		}
		fd.mu.Unlock()
		delete(m.files, id)
	}
	return lastErr
}
