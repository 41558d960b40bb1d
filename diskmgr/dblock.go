package diskmgr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DBLock is an advisory exclusive lock on the database directory, held for
// the lifetime of the process. It prevents a second strictdb process from
// opening the same data/log files concurrently, which would silently
// corrupt the buffer pool's WAL-ordering invariant (two independent log
// tails racing to describe the same pages).
type DBLock struct {
	f *os.File
}

// AcquireDBLock takes an exclusive, non-blocking flock on a sentinel file
// inside dir. Returns an error immediately if another process holds it,
// rather than blocking — a second instance pointed at the same directory
// is a misconfiguration, not something to wait out.
func AcquireDBLock(dir string) (*DBLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diskmgr: mkdir %s: %w", dir, err)
	}
	path := dir + "/.strictdb.lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskmgr: database %s is already open by another process: %w", dir, err)
	}
	return &DBLock{f: f}, nil
}

// Release drops the flock and closes the sentinel file.
func (l *DBLock) Release() error {
	if l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
