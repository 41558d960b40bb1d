package wal

import (
	"errors"
	"io"
	"os"
)

// Reader sequentially scans log records starting at a byte offset,
// independent of the live append handle — used by recovery, which reads
// the log file from the start (or from the last checkpoint) while the
// Manager may simultaneously be appending new records past where the
// reader currently is.
type Reader struct {
	f      *os.File
	offset int64
}

func NewReader(path string, startOffset int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, offset: startOffset}, nil
}

// ErrTruncated is returned by Next when the remaining bytes don't form a
// complete, checksum-valid record — spec.md §4.5: "corrupted records...
// truncate the log at that point; recovery treats the tail as lost."
var ErrTruncated = errors.New("wal: truncated or corrupt tail")

// Next returns the next record and its file offset, or ErrTruncated /
// io.EOF when there is nothing more to read.
func (r *Reader) Next() (Record, int64, error) {
	startOffset := r.offset
	header := make([]byte, HeaderSize)
	n, err := r.f.ReadAt(header, r.offset)
	if err == io.EOF && n == 0 {
		return Record{}, 0, io.EOF
	}
	if n < HeaderSize {
		return Record{}, 0, ErrTruncated
	}
	h := decodeHeader(header)
	if int(h.TotalLen) < HeaderSize+trailerSize {
		return Record{}, 0, ErrTruncated
	}

	full := make([]byte, h.TotalLen)
	n, err = r.f.ReadAt(full, r.offset)
	if err != nil && n < int(h.TotalLen) {
		return Record{}, 0, ErrTruncated
	}

	rec, consumed, derr := Decode(full)
	if derr != nil {
		return Record{}, 0, ErrTruncated
	}

	r.offset += int64(consumed)
	return rec, startOffset, nil
}

func (r *Reader) Close() error { return r.f.Close() }
