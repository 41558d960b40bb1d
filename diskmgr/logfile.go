package diskmgr

import (
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
)

// LogFile is the append-only log file the disk manager hands to the WAL
// layer. It only knows about raw bytes and offsets — record framing lives
// in package wal. Grounded on the original WALSegment.Append/Sync split:
// Append writes to the OS page cache only, Sync is the durability point.
type LogFile struct {
	path string
	file *os.File
	size int64
	mu   sync.Mutex
}

func OpenLogFile(path string) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open log %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &LogFile{path: path, file: f, size: stat.Size()}, nil
}

// Append writes data at the current end of file and returns the byte
// offset it was written at. No fsync — durable only after Sync.
func (lf *LogFile) Append(data []byte) (int64, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	offset := lf.size
	n, err := lf.file.WriteAt(data, offset)
	if err != nil {
		return 0, fmt.Errorf("diskmgr: log append: %w", err)
	}
	lf.size += int64(n)
	return offset, nil
}

// ReadAt reads raw bytes from the log file (recovery's sequential scan
// uses its own *os.File opened read-only; this is for in-process reads
// against the live append handle, e.g. re-reading a just-written header).
func (lf *LogFile) ReadAt(buf []byte, offset int64) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.file.ReadAt(buf, offset)
}

// WriteAt overwrites bytes at a fixed offset — used only for the log
// header's high-watermark/checkpoint-pointer fields, which are rewritten
// in place rather than appended.
func (lf *LogFile) WriteAt(data []byte, offset int64) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	_, err := lf.file.WriteAt(data, offset)
	return err
}

// Sync forces the OS buffer to disk. After this call every byte appended
// so far is durable.
func (lf *LogFile) Sync() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.file.Sync()
}

func (lf *LogFile) Size() int64 {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.size
}

func (lf *LogFile) Path() string { return lf.path }

func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.file == nil {
		return nil
	}
	err := lf.file.Close()
	lf.file = nil
	return err
}

// HumanSize renders the log file's current size for lifecycle log lines
// (checkpoint, startup recovery) the way a human reads it rather than a
// raw byte count.
func (lf *LogFile) HumanSize() string {
	return humanize.Bytes(uint64(lf.Size()))
}
