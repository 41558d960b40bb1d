// Package wal implements the write-ahead log: record serialization, a
// bounded in-memory append buffer, LSN allocation, and flush-on-commit /
// flush-on-full discipline (spec.md §4.5).
//
// Record-kind polymorphism (design note in spec.md §9) is modeled as a
// tagged variant: every record carries the same fixed Header, and
// Encode/Decode dispatch on Header.Type — the same shape the original
// WAL record header (lsn/len/crc) plus JSON-encoded Operation payload
// takes, reworked here into a typed variant set with a binary payload
// instead of a JSON blob, per spec.md §6's exact field layout.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"strictdb/page"
)

type RecordType uint8

const (
	RecBegin RecordType = iota + 1
	RecCommit
	RecAbort
	RecInsert
	RecDelete
	RecUpdate
	RecCheckpoint
	RecHeader
	RecCLR // compensation log record, written during undo
)

func (t RecordType) String() string {
	switch t {
	case RecBegin:
		return "BEGIN"
	case RecCommit:
		return "COMMIT"
	case RecAbort:
		return "ABORT"
	case RecInsert:
		return "INSERT"
	case RecDelete:
		return "DELETE"
	case RecUpdate:
		return "UPDATE"
	case RecCheckpoint:
		return "CHECKPOINT"
	case RecHeader:
		return "HEADER"
	case RecCLR:
		return "CLR"
	default:
		return "UNKNOWN"
	}
}

// InvalidLSN marks an absent LSN/txn id (the log file header's txn_id and
// prev_lsn fields, and a transaction's first record's prev_lsn).
const InvalidLSN uint64 = ^uint64(0)

// HeaderSize is the byte size of the fixed header prepended to every
// record: type(1) + lsn(8) + total_len(4) + txn_id(8) + prev_lsn(8).
const HeaderSize = 1 + 8 + 4 + 8 + 8

// Header is the common prefix of every log record (spec.md §3, §6).
type Header struct {
	Type     RecordType
	LSN      uint64
	TotalLen uint32
	TxnID    uint64
	PrevLSN  uint64
}

func (h Header) encode(buf []byte) {
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint64(buf[1:], h.LSN)
	binary.LittleEndian.PutUint32(buf[9:], h.TotalLen)
	binary.LittleEndian.PutUint64(buf[13:], h.TxnID)
	binary.LittleEndian.PutUint64(buf[21:], h.PrevLSN)
}

func decodeHeader(buf []byte) Header {
	return Header{
		Type:     RecordType(buf[0]),
		LSN:      binary.LittleEndian.Uint64(buf[1:]),
		TotalLen: binary.LittleEndian.Uint32(buf[9:]),
		TxnID:    binary.LittleEndian.Uint64(buf[13:]),
		PrevLSN:  binary.LittleEndian.Uint64(buf[21:]),
	}
}

// Record is the decoded form of any log record: the shared header plus an
// opaque payload that the Decode* helpers below interpret according to
// Header.Type.
type Record struct {
	Header
	Payload []byte
	CRC     uint32
}

// trailerSize is 4 bytes of CRC32 appended after the payload, used by
// recovery to detect a torn write at the log's tail (spec.md §4.5's
// "corrupted records... truncate the log at that point").
const trailerSize = 4

// Encode serializes a record to {header}{payload}{crc32}, ready to Append
// to the log file.
func Encode(h Header, payload []byte) []byte {
	h.TotalLen = uint32(HeaderSize + len(payload) + trailerSize)
	buf := make([]byte, h.TotalLen)
	h.encode(buf)
	copy(buf[HeaderSize:], payload)
	crc := crc32.ChecksumIEEE(buf[:HeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(buf[HeaderSize+len(payload):], crc)
	return buf
}

// Decode parses one record starting at buf[0], returning the record and
// the number of bytes consumed. Returns an error (checksum or length
// mismatch) if the record is corrupt — recovery treats that as the
// truncated tail.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < HeaderSize {
		return Record{}, 0, fmt.Errorf("wal: short header (%d bytes)", len(buf))
	}
	h := decodeHeader(buf)
	if int(h.TotalLen) < HeaderSize+trailerSize || int(h.TotalLen) > len(buf) {
		return Record{}, 0, fmt.Errorf("wal: invalid total_len %d", h.TotalLen)
	}
	payloadEnd := int(h.TotalLen) - trailerSize
	payload := buf[HeaderSize:payloadEnd]
	wantCRC := binary.LittleEndian.Uint32(buf[payloadEnd:h.TotalLen])
	gotCRC := crc32.ChecksumIEEE(buf[:payloadEnd])
	if wantCRC != gotCRC {
		return Record{}, 0, fmt.Errorf("wal: crc mismatch at lsn %d", h.LSN)
	}
	return Record{Header: h, Payload: append([]byte(nil), payload...), CRC: gotCRC}, int(h.TotalLen), nil
}

// --- payload encodings for INSERT/DELETE/UPDATE ---

// DMLPayload carries a table name, a Rid, and one or two tuple images.
// INSERT/DELETE use Before xor After; UPDATE uses both.
type DMLPayload struct {
	Table  string
	Rid    page.Rid
	Before []byte // DELETE: old image. UPDATE: old image. INSERT: unused.
	After  []byte // INSERT: new image. UPDATE: new image. DELETE: unused.
}

func encodeTuple(buf []byte, tuple []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(tuple)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, tuple...)
	return buf
}

func decodeTuple(buf []byte) (tuple []byte, rest []byte) {
	n := binary.LittleEndian.Uint32(buf)
	return buf[4 : 4+n], buf[4+n:]
}

func EncodeInsert(p DMLPayload) []byte {
	return encodeDML(p, true, false)
}

func EncodeDelete(p DMLPayload) []byte {
	return encodeDML(p, false, true)
}

func EncodeUpdate(p DMLPayload) []byte {
	return encodeDML(p, true, true)
}

func encodeDML(p DMLPayload, hasAfter, hasBefore bool) []byte {
	var buf []byte
	rid := p.Rid.Bytes()
	buf = append(buf, rid[:]...)

	var tnLen [2]byte
	binary.LittleEndian.PutUint16(tnLen[:], uint16(len(p.Table)))
	buf = append(buf, tnLen[:]...)
	buf = append(buf, p.Table...)

	if hasBefore {
		buf = encodeTuple(buf, p.Before)
	}
	if hasAfter {
		buf = encodeTuple(buf, p.After)
	}
	return buf
}

func DecodeInsert(payload []byte) DMLPayload {
	rid := page.RidFromBytes(payload[:6])
	rest := payload[6:]
	tnLen := binary.LittleEndian.Uint16(rest)
	table := string(rest[2 : 2+tnLen])
	rest = rest[2+tnLen:]
	after, _ := decodeTuple(rest)
	return DMLPayload{Table: table, Rid: rid, After: after}
}

func DecodeDelete(payload []byte) DMLPayload {
	rid := page.RidFromBytes(payload[:6])
	rest := payload[6:]
	tnLen := binary.LittleEndian.Uint16(rest)
	table := string(rest[2 : 2+tnLen])
	rest = rest[2+tnLen:]
	before, _ := decodeTuple(rest)
	return DMLPayload{Table: table, Rid: rid, Before: before}
}

func DecodeUpdate(payload []byte) DMLPayload {
	rid := page.RidFromBytes(payload[:6])
	rest := payload[6:]
	tnLen := binary.LittleEndian.Uint16(rest)
	table := string(rest[2 : 2+tnLen])
	rest = rest[2+tnLen:]
	before, rest2 := decodeTuple(rest)
	after, _ := decodeTuple(rest2)
	return DMLPayload{Table: table, Rid: rid, Before: before, After: after}
}

// CLRPayload records which LSN was undone and where undo should resume
// next — spec.md §4.5: "a new log record whose prev_lsn points past the
// undone one, so a crash mid-undo is resumable." It also carries the
// physical result of the compensating write (the table/Rid touched and
// the image left in place, empty for a tombstone) so a second crash
// during rollback can redo the CLR itself instead of re-deriving it.
type CLRPayload struct {
	UndoneLSN   uint64
	UndoNextLSN uint64
	Table       string
	Rid         page.Rid
	Data        []byte // empty means the compensating write tombstoned the slot
}

func EncodeCLR(p CLRPayload) []byte {
	var buf []byte
	var b16 [16]byte
	binary.LittleEndian.PutUint64(b16[0:], p.UndoneLSN)
	binary.LittleEndian.PutUint64(b16[8:], p.UndoNextLSN)
	buf = append(buf, b16[:]...)

	rid := p.Rid.Bytes()
	buf = append(buf, rid[:]...)

	var tnLen [2]byte
	binary.LittleEndian.PutUint16(tnLen[:], uint16(len(p.Table)))
	buf = append(buf, tnLen[:]...)
	buf = append(buf, p.Table...)

	buf = encodeTuple(buf, p.Data)
	return buf
}

func DecodeCLR(payload []byte) CLRPayload {
	undoneLSN := binary.LittleEndian.Uint64(payload[0:])
	undoNextLSN := binary.LittleEndian.Uint64(payload[8:])
	rest := payload[16:]

	rid := page.RidFromBytes(rest[:6])
	rest = rest[6:]

	tnLen := binary.LittleEndian.Uint16(rest)
	table := string(rest[2 : 2+tnLen])
	rest = rest[2+tnLen:]

	data, _ := decodeTuple(rest)
	return CLRPayload{UndoneLSN: undoneLSN, UndoNextLSN: undoNextLSN, Table: table, Rid: rid, Data: data}
}

// ATTEntry/DPTEntry/CheckpointPayload encode the fuzzy checkpoint's active
// transaction table and dirty page table (spec.md §4.5).
type ATTEntry struct {
	TxnID   uint64
	LastLSN uint64
}

type DPTEntry struct {
	FileID      uint32
	PageNo      uint32
	RecoveryLSN uint64
}

type CheckpointPayload struct {
	ATT []ATTEntry
	DPT []DPTEntry
}

func EncodeCheckpoint(cp CheckpointPayload) []byte {
	var buf []byte
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(cp.ATT)))
	buf = append(buf, n[:]...)
	for _, e := range cp.ATT {
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:], e.TxnID)
		binary.LittleEndian.PutUint64(b[8:], e.LastLSN)
		buf = append(buf, b[:]...)
	}
	binary.LittleEndian.PutUint32(n[:], uint32(len(cp.DPT)))
	buf = append(buf, n[:]...)
	for _, e := range cp.DPT {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:], e.FileID)
		binary.LittleEndian.PutUint32(b[4:], e.PageNo)
		binary.LittleEndian.PutUint64(b[8:], e.RecoveryLSN)
		buf = append(buf, b[:]...)
	}
	return buf
}

func DecodeCheckpoint(buf []byte) CheckpointPayload {
	var cp CheckpointPayload
	nAtt := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	for i := uint32(0); i < nAtt; i++ {
		cp.ATT = append(cp.ATT, ATTEntry{
			TxnID:   binary.LittleEndian.Uint64(buf[0:]),
			LastLSN: binary.LittleEndian.Uint64(buf[8:]),
		})
		buf = buf[16:]
	}
	nDpt := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	for i := uint32(0); i < nDpt; i++ {
		cp.DPT = append(cp.DPT, DPTEntry{
			FileID:      binary.LittleEndian.Uint32(buf[0:]),
			PageNo:      binary.LittleEndian.Uint32(buf[4:]),
			RecoveryLSN: binary.LittleEndian.Uint64(buf[8:]),
		})
		buf = buf[16:]
	}
	return cp
}
