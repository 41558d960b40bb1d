// Package heap implements the record heap: fixed-layout slotted pages,
// Rid-stable insert/delete/update/get, and a forward-scan cursor
// (spec.md §3).
//
// Grounded byte-for-byte on the original storage_engine/access/
// heapfile_manager package (heap_page.go's slotted layout: header, then
// records growing forward, then a slot directory growing backward from
// the page end) adapted to this module's page.Page type and Rid.
package heap

import (
	"encoding/binary"
	"fmt"

	"strictdb/page"
)

// Heap page binary layout (little-endian), header occupies the first
// HeaderSize bytes and is shared with the index page layout's LSN/type
// convention at offsets 0 and 8:
//
//	Offset  Size  Field
//	0       8     LSN            (page.Page.LSN mirror)
//	8       1     PageType       (stamped by page.New / diskmgr)
//	9       4     FileID
//	13      4     PageNo
//	17      2     RecordEndPtr   first free byte after the last record
//	19      2     SlotRegionStart first byte of the slot directory
//	21      2     NumRows        live records
//	23      2     NumRowsFree    tombstoned slots
//	25      2     IsPageFull
//	27      2     SlotCount
//	29            HeaderSize
const (
	offLSN             = 0
	offPageType        = 8
	offFileID          = 9
	offPageNo          = 13
	offRecordEndPtr    = 17
	offSlotRegionStart = 19
	offNumRows         = 21
	offNumRowsFree     = 23
	offIsPageFull      = 25
	offSlotCount       = 27

	HeaderSize = 29
	SlotSize   = 4
)

// Init stamps a fresh heap-page header into pg.Data. Caller holds pg's
// write lock.
func Init(pg *page.Page, fileID, pageNo uint32) {
	for i := 1; i < page.Size; i++ {
		pg.Data[i] = 0
	}
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], 0)
	pg.Data[offPageType] = byte(page.TypeHeapData)
	binary.LittleEndian.PutUint32(pg.Data[offFileID:], fileID)
	binary.LittleEndian.PutUint32(pg.Data[offPageNo:], pageNo)
	binary.LittleEndian.PutUint16(pg.Data[offRecordEndPtr:], HeaderSize)
	binary.LittleEndian.PutUint16(pg.Data[offSlotRegionStart:], page.Size)
	binary.LittleEndian.PutUint16(pg.Data[offNumRows:], 0)
	binary.LittleEndian.PutUint16(pg.Data[offNumRowsFree:], 0)
	binary.LittleEndian.PutUint16(pg.Data[offIsPageFull:], 0)
	binary.LittleEndian.PutUint16(pg.Data[offSlotCount:], 0)
	pg.LSN = 0
	pg.IsDirty = true
}

func RecordEndPtr(pg *page.Page) uint16 { return binary.LittleEndian.Uint16(pg.Data[offRecordEndPtr:]) }
func setRecordEndPtr(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offRecordEndPtr:], v)
}

func SlotRegionStart(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offSlotRegionStart:])
}
func setSlotRegionStart(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offSlotRegionStart:], v)
}

func NumRows(pg *page.Page) uint16 { return binary.LittleEndian.Uint16(pg.Data[offNumRows:]) }
func setNumRows(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offNumRows:], v)
}

func NumRowsFree(pg *page.Page) uint16 { return binary.LittleEndian.Uint16(pg.Data[offNumRowsFree:]) }
func setNumRowsFree(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offNumRowsFree:], v)
}

func IsPageFull(pg *page.Page) bool {
	return binary.LittleEndian.Uint16(pg.Data[offIsPageFull:]) == 1
}
func setIsPageFull(pg *page.Page, full bool) {
	v := uint16(0)
	if full {
		v = 1
	}
	binary.LittleEndian.PutUint16(pg.Data[offIsPageFull:], v)
}

func SlotCount(pg *page.Page) uint16 { return binary.LittleEndian.Uint16(pg.Data[offSlotCount:]) }
func setSlotCount(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offSlotCount:], v)
}

// FreeSpace returns the bytes available for a new record, slot entry
// included.
func FreeSpace(pg *page.Page) int {
	avail := int(SlotRegionStart(pg)) - int(RecordEndPtr(pg)) - SlotSize
	if avail < 0 {
		return 0
	}
	return avail
}

func slotByteOffset(i uint16) int { return page.Size - (int(i)+1)*SlotSize }

func readSlot(pg *page.Page, i uint16) (offset, length uint16) {
	base := slotByteOffset(i)
	return binary.LittleEndian.Uint16(pg.Data[base:]), binary.LittleEndian.Uint16(pg.Data[base+2:])
}

func writeSlot(pg *page.Page, i uint16, offset, length uint16) {
	base := slotByteOffset(i)
	binary.LittleEndian.PutUint16(pg.Data[base:], offset)
	binary.LittleEndian.PutUint16(pg.Data[base+2:], length)
}

func IsSlotLive(pg *page.Page, i uint16) bool {
	if i >= SlotCount(pg) {
		return false
	}
	offset, length := readSlot(pg, i)
	return offset != 0 || length != 0
}

// MaxRecordSize is the largest record this page format can ever hold.
const MaxRecordSize = page.Size - HeaderSize - SlotSize

// InsertRecord writes data into the page, reusing a tombstoned slot when
// one is free, and returns the slot index.
func InsertRecord(pg *page.Page, data []byte) (uint16, error) {
	recordLen := uint16(len(data))
	if recordLen == 0 {
		return 0, fmt.Errorf("heap: record data must not be empty")
	}
	if FreeSpace(pg) < int(recordLen) {
		return 0, fmt.Errorf("heap: need %d bytes, only %d available", recordLen, FreeSpace(pg))
	}

	slotIdx := SlotCount(pg)
	for i := uint16(0); i < SlotCount(pg); i++ {
		if _, l := readSlot(pg, i); l == 0 {
			if off, _ := readSlot(pg, i); off == 0 {
				slotIdx = i
				break
			}
		}
	}

	recordOffset := RecordEndPtr(pg)
	copy(pg.Data[recordOffset:], data)
	setRecordEndPtr(pg, recordOffset+recordLen)
	writeSlot(pg, slotIdx, recordOffset, recordLen)

	if slotIdx == SlotCount(pg) {
		setSlotRegionStart(pg, SlotRegionStart(pg)-SlotSize)
		setSlotCount(pg, SlotCount(pg)+1)
	} else {
		setNumRowsFree(pg, NumRowsFree(pg)-1)
	}
	setNumRows(pg, NumRows(pg)+1)
	if FreeSpace(pg) <= 0 {
		setIsPageFull(pg, true)
	}
	pg.IsDirty = true
	return slotIdx, nil
}

// InsertRecordAtSlot writes data at a caller-chosen slot index, extending
// the slot directory if needed. Idempotent if the slot is already live —
// used to replay INSERT during redo.
func InsertRecordAtSlot(pg *page.Page, slotIdx uint16, data []byte) error {
	if slotIdx < SlotCount(pg) && IsSlotLive(pg, slotIdx) {
		return nil
	}
	recordLen := uint16(len(data))
	if FreeSpace(pg) < int(recordLen) {
		return fmt.Errorf("heap: insufficient space for redo insert at slot %d", slotIdx)
	}
	recordOffset := RecordEndPtr(pg)
	copy(pg.Data[recordOffset:], data)
	setRecordEndPtr(pg, recordOffset+recordLen)
	writeSlot(pg, slotIdx, recordOffset, recordLen)
	if slotIdx >= SlotCount(pg) {
		setSlotCount(pg, slotIdx+1)
		setSlotRegionStart(pg, SlotRegionStart(pg)-SlotSize)
	}
	setNumRows(pg, NumRows(pg)+1)
	pg.IsDirty = true
	return nil
}

func GetRecord(pg *page.Page, slotIdx uint16) ([]byte, error) {
	if slotIdx >= SlotCount(pg) {
		return nil, fmt.Errorf("heap: slot %d out of range (count=%d)", slotIdx, SlotCount(pg))
	}
	offset, length := readSlot(pg, slotIdx)
	if length == 0 && offset == 0 {
		return nil, fmt.Errorf("heap: slot %d is a tombstone", slotIdx)
	}
	out := make([]byte, length)
	copy(out, pg.Data[offset:offset+length])
	return out, nil
}

// DeleteRecord tombstones a slot; the space is not reclaimed until the
// page is compacted.
func DeleteRecord(pg *page.Page, slotIdx uint16) error {
	if slotIdx >= SlotCount(pg) {
		return fmt.Errorf("heap: slot %d out of range (count=%d)", slotIdx, SlotCount(pg))
	}
	if _, length := readSlot(pg, slotIdx); length == 0 {
		return fmt.Errorf("heap: slot %d already deleted", slotIdx)
	}
	writeSlot(pg, slotIdx, 0, 0)
	setNumRows(pg, NumRows(pg)-1)
	setNumRowsFree(pg, NumRowsFree(pg)+1)
	setIsPageFull(pg, false)
	pg.IsDirty = true
	return nil
}

// UpdateRecord overwrites in place when newData fits the original
// allocation; otherwise it tombstones the slot and reports false so the
// caller re-inserts elsewhere and updates the Rid it hands back to
// indexes.
func UpdateRecord(pg *page.Page, slotIdx uint16, newData []byte) (bool, error) {
	if slotIdx >= SlotCount(pg) {
		return false, fmt.Errorf("heap: slot %d out of range (count=%d)", slotIdx, SlotCount(pg))
	}
	offset, length := readSlot(pg, slotIdx)
	if length == 0 {
		return false, fmt.Errorf("heap: slot %d is a tombstone", slotIdx)
	}
	newLen := uint16(len(newData))
	if newLen <= length {
		copy(pg.Data[offset:], newData)
		writeSlot(pg, slotIdx, offset, newLen)
		pg.IsDirty = true
		return true, nil
	}
	if err := DeleteRecord(pg, slotIdx); err != nil {
		return false, err
	}
	return false, nil
}
