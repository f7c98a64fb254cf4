// Package helpers builds and inspects Arrow arrays and chunks in tests.
package helpers

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

// NewTestAllocator creates a CheckedAllocator and verifies at the end of
// the test that all Arrow memory has been released.
func NewTestAllocator(t testing.TB) *memory.CheckedAllocator {
	t.Helper()
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	t.Cleanup(func() { alloc.AssertSize(t, 0) })
	return alloc
}

// Int64s builds an Int64 array.
func Int64s(alloc memory.Allocator, vals ...int64) arrow.Array {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

// NullableInt64s builds an Int64 array; valid[i] false makes row i NULL.
func NullableInt64s(alloc memory.Allocator, vals []int64, valid []bool) arrow.Array {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, valid)
	return bldr.NewArray()
}

// Strings builds a String array.
func Strings(alloc memory.Allocator, vals ...string) arrow.Array {
	bldr := array.NewStringBuilder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

// Float64s builds a Float64 array.
func Float64s(alloc memory.Allocator, vals ...float64) arrow.Array {
	bldr := array.NewFloat64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

// Header builds a header naming the columns of cols in order.
func Header(names []string, cols ...arrow.Array) *chunk.Header {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: cols[i].DataType(), Nullable: true}
	}
	return chunk.NewHeader(arrow.NewSchema(fields, nil))
}

// Int64Schema builds a schema of int64 columns.
func Int64Schema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// NewChunk wraps cols, which must have equal length, in a chunk. The chunk
// takes over the references to cols.
func NewChunk(cols ...arrow.Array) *chunk.Chunk {
	columns := make([]chunk.Column, len(cols))
	for i, c := range cols {
		columns[i] = chunk.NewArrowColumn(c)
	}
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}
	return chunk.New(columns, rows)
}

// Int64Chunk builds a chunk of int64 columns from rows.
func Int64Chunk(alloc memory.Allocator, numCols int, rows ...[]int64) *chunk.Chunk {
	cols := make([]arrow.Array, numCols)
	for c := range cols {
		vals := make([]int64, len(rows))
		for r, row := range rows {
			vals[r] = row[c]
		}
		cols[c] = Int64s(alloc, vals...)
	}
	return NewChunk(cols...)
}

// Rows returns the values of c row by row. NULL becomes nil.
func Rows(c *chunk.Chunk) [][]any {
	out := make([][]any, c.NumRows())
	for r := range out {
		row := make([]any, c.NumColumns())
		for i, col := range c.Columns() {
			row[i] = Value(col.Values(), col.ValueIndex(r))
		}
		out[r] = row
	}
	return out
}

// RecordRows returns the values of recs row by row.
func RecordRows(recs ...arrow.Record) [][]any {
	var out [][]any
	for _, rec := range recs {
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make([]any, rec.NumCols())
			for i := range row {
				row[i] = Value(rec.Column(i), r)
			}
			out = append(out, row)
		}
	}
	return out
}

// Value returns element i of arr as a Go value.
func Value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Uint64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	default:
		return arr.ValueStr(i)
	}
}
