package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strictdb/catalog"
)

func testTable() *catalog.TableDef {
	return &catalog.TableDef{
		Name: "accounts",
		Columns: []catalog.Column{
			{Name: "id", Type: catalog.TypeInt32},
			{Name: "balance", Type: catalog.TypeFloat32},
			{Name: "name", Type: catalog.TypeString, Width: 8},
		},
	}
}

func TestEncodeDecodeTupleRoundTrips(t *testing.T) {
	layout := testTable().Layout()
	values := []any{int32(42), float32(3.5), "alice"}

	data, err := catalog.EncodeTuple(layout, values)
	require.NoError(t, err)
	require.Len(t, data, testTable().TupleSize())

	out, err := catalog.DecodeTuple(layout, data)
	require.NoError(t, err)
	require.Equal(t, []any{int32(42), float32(3.5), "alice"}, out)
}

func TestEncodeTupleNulPadsShortStrings(t *testing.T) {
	layout := testTable().Layout()
	data, err := catalog.EncodeTuple(layout, []any{int32(1), float32(0), "hi"})
	require.NoError(t, err)

	out, err := catalog.DecodeTuple(layout, data)
	require.NoError(t, err)
	require.Equal(t, "hi", out[2])
}

func TestEncodeTupleRejectsOversizeString(t *testing.T) {
	layout := testTable().Layout()
	_, err := catalog.EncodeTuple(layout, []any{int32(1), float32(0), "way too long for 8 bytes"})
	require.Error(t, err)
}

func TestEncodeTupleRejectsWrongColumnCount(t *testing.T) {
	layout := testTable().Layout()
	_, err := catalog.EncodeTuple(layout, []any{int32(1)})
	require.Error(t, err)
}

func TestDecodeTupleRejectsShortBuffer(t *testing.T) {
	layout := testTable().Layout()
	_, err := catalog.DecodeTuple(layout, []byte{0, 1, 2})
	require.Error(t, err)
}

func TestCompareValuesOrdersInt32(t *testing.T) {
	require.Equal(t, -1, catalog.CompareValues(int32(1), int32(2)))
	require.Equal(t, 1, catalog.CompareValues(int32(2), int32(1)))
	require.Equal(t, 0, catalog.CompareValues(int32(5), int32(5)))
}

func TestCompareValuesOrdersFloat32(t *testing.T) {
	require.Equal(t, -1, catalog.CompareValues(float32(1.5), float32(2.5)))
	require.Equal(t, 1, catalog.CompareValues(float32(-1), float32(-2)))
}

func TestCompareValuesOrdersString(t *testing.T) {
	require.Equal(t, -1, catalog.CompareValues("alice", "bob"))
	require.Equal(t, 0, catalog.CompareValues("carol", "carol"))
}

func TestEncodeKeyInt32PreservesNumericOrder(t *testing.T) {
	col := catalog.ColumnLayout{Column: catalog.Column{Type: catalog.TypeInt32}}
	values := []int32{-100, -1, 0, 1, 100}
	var keys [][]byte
	for _, v := range values {
		k, err := catalog.EncodeKey(col, v)
		require.NoError(t, err)
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		require.Negative(t, bytesCompare(keys[i-1], keys[i]),
			"key for %d should sort before key for %d", values[i-1], values[i])
	}
}

func TestEncodeKeyFloat32PreservesNumericOrder(t *testing.T) {
	col := catalog.ColumnLayout{Column: catalog.Column{Type: catalog.TypeFloat32}}
	values := []float32{-3.5, -0.5, 0, 0.5, 3.5}
	var keys [][]byte
	for _, v := range values {
		k, err := catalog.EncodeKey(col, v)
		require.NoError(t, err)
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		require.Negative(t, bytesCompare(keys[i-1], keys[i]),
			"key for %v should sort before key for %v", values[i-1], values[i])
	}
}

func TestEncodeKeyStringIsRawBytes(t *testing.T) {
	col := catalog.ColumnLayout{Column: catalog.Column{Type: catalog.TypeString, Width: 8}}
	k, err := catalog.EncodeKey(col, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), k)
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
