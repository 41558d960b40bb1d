package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeTuple packs values into the fixed column-major layout Layout()
// describes — one slot per column, no length prefixes, since every
// column's width is known from the schema (spec.md §3).
//
// Grounded on the original storage_engine/serialization.go ValueToBytes/
// SerializeRow, generalized from VARCHAR's length-prefixed variable width
// to the fixed, NUL-padded width this catalog's Column.Width carries, so a
// tuple's total size is exactly TableDef.TupleSize() and can be recovered
// without re-scanning.
func EncodeTuple(layout []ColumnLayout, values []any) ([]byte, error) {
	if len(values) != len(layout) {
		return nil, fmt.Errorf("catalog: column count %d != value count %d", len(layout), len(values))
	}
	size := 0
	for _, c := range layout {
		size += c.Size
	}
	buf := make([]byte, size)

	for i, c := range layout {
		dst := buf[c.Offset : c.Offset+c.Size]
		switch c.Type {
		case TypeInt32:
			v, err := toInt32(values[i])
			if err != nil {
				return nil, fmt.Errorf("catalog: column %s: %w", c.Name, err)
			}
			binary.LittleEndian.PutUint32(dst, uint32(v))
		case TypeFloat32:
			v, err := toFloat32(values[i])
			if err != nil {
				return nil, fmt.Errorf("catalog: column %s: %w", c.Name, err)
			}
			binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
		case TypeString:
			s, err := toString(values[i])
			if err != nil {
				return nil, fmt.Errorf("catalog: column %s: %w", c.Name, err)
			}
			if len(s) > c.Size {
				return nil, fmt.Errorf("catalog: column %s: value %q exceeds width %d", c.Name, s, c.Size)
			}
			copy(dst, s) // remaining bytes stay zero — the NUL pad
		default:
			return nil, fmt.Errorf("catalog: column %s: unknown type", c.Name)
		}
	}
	return buf, nil
}

// DecodeTuple is EncodeTuple's inverse, returning one Go value per column
// in schema order.
func DecodeTuple(layout []ColumnLayout, data []byte) ([]any, error) {
	out := make([]any, len(layout))
	for i, c := range layout {
		if c.Offset+c.Size > len(data) {
			return nil, fmt.Errorf("catalog: column %s: tuple too short", c.Name)
		}
		src := data[c.Offset : c.Offset+c.Size]
		switch c.Type {
		case TypeInt32:
			out[i] = int32(binary.LittleEndian.Uint32(src))
		case TypeFloat32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src))
		case TypeString:
			out[i] = string(bytes.TrimRight(src, "\x00"))
		default:
			return nil, fmt.Errorf("catalog: column %s: unknown type", c.Name)
		}
	}
	return out, nil
}

func toInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int32:
		return n, nil
	case int:
		return int32(n), nil
	case int64:
		return int32(n), nil
	case float64:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int32", v)
	}
}

func toFloat32(v any) (float32, error) {
	switch n := v.(type) {
	case float32:
		return n, nil
	case float64:
		return float32(n), nil
	case int:
		return float32(n), nil
	case int32:
		return float32(n), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float32", v)
	}
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// CompareValues orders two column values of the same underlying type,
// used by sort-merge join's key matching and by grouped aggregation's
// group-boundary and MIN/MAX comparisons. The B+ tree does not call it:
// index keys order by the bytes EncodeKey produces.
//
// Grounded on the original types.CompareValues, used identically by
// storage_engine/joins.go's merge-sort join to find key-equal runs.
func CompareValues(a, b any) int {
	switch x := a.(type) {
	case int32:
		y, _ := b.(int32)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case float32:
		y, _ := b.(float32)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		y, _ := b.(string)
		return bytes.Compare([]byte(x), []byte(y))
	default:
		return 0
	}
}

// EncodeKey renders a single value as the sortable byte key the B+ tree
// indexes on: fixed-width and big-endian for numeric types so byte-wise
// comparison matches numeric order, raw bytes for strings.
func EncodeKey(c ColumnLayout, v any) ([]byte, error) {
	switch c.Type {
	case TypeInt32:
		n, err := toInt32(v)
		if err != nil {
			return nil, err
		}
		var b [4]byte
		// Flip the sign bit so two's-complement negatives sort before
		// positives under an unsigned big-endian byte comparison.
		binary.BigEndian.PutUint32(b[:], uint32(n)^0x80000000)
		return b[:], nil
	case TypeFloat32:
		f, err := toFloat32(v)
		if err != nil {
			return nil, err
		}
		bits := math.Float32bits(f)
		if bits&0x80000000 != 0 {
			bits = ^bits
		} else {
			bits |= 0x80000000
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], bits)
		return b[:], nil
	case TypeString:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("catalog: unknown column type for key encoding")
	}
}
