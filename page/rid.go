package page

import "fmt"

// Rid is a record identifier: (page_no, slot_no) within a table's heap
// file. Stable for a tuple's lifetime — on delete the slot is tombstoned
// and only reused after the owning transaction commits (spec.md §3).
type Rid struct {
	PageNo uint32
	Slot   uint16
}

func (r Rid) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNo, r.Slot)
}

// Bytes is a fixed 6-byte encoding used as the trailing tie-break component
// of a B+ tree index key (spec.md §4.3: "the effective key is
// (user_key, rid)") and inside WAL record payloads.
func (r Rid) Bytes() [6]byte {
	var b [6]byte
	b[0] = byte(r.PageNo >> 24)
	b[1] = byte(r.PageNo >> 16)
	b[2] = byte(r.PageNo >> 8)
	b[3] = byte(r.PageNo)
	b[4] = byte(r.Slot >> 8)
	b[5] = byte(r.Slot)
	return b
}

func RidFromBytes(b []byte) Rid {
	return Rid{
		PageNo: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Slot:   uint16(b[4])<<8 | uint16(b[5]),
	}
}
