package chunk

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func int64Array(alloc memory.Allocator, vals []int64, valid []bool) arrow.Array {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, valid)
	return bldr.NewArray()
}

func stringArray(alloc memory.Allocator, vals ...string) arrow.Array {
	bldr := array.NewStringBuilder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

func boolMask(alloc memory.Allocator, vals ...bool) *array.Boolean {
	bldr := array.NewBooleanBuilder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewBooleanArray()
}

func int64Values(col Column) []any {
	out := make([]any, col.Len())
	for i := range out {
		if col.IsNull(i) {
			continue
		}
		out[i] = col.Values().(*array.Int64).Value(col.ValueIndex(i))
	}
	return out
}

func TestHeader(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)
	h := NewHeader(schema, "b", "missing")

	require.Equal(t, 2, h.NumColumns())
	require.Equal(t, []string{"a", "b"}, h.Names())
	require.False(t, h.IsConst(0))
	require.True(t, h.IsConst(1))

	pos, err := h.Position("b")
	require.NoError(t, err)
	require.Equal(t, 1, pos)
	_, err = h.Position("c")
	require.Error(t, err)
}

func TestCompareAtNullsDirection(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	col := NewArrowColumn(int64Array(alloc, []int64{1, 0, 2}, []bool{true, false, true}))
	defer col.Release()

	require.Equal(t, -1, col.CompareAt(0, col, 2, 1))
	require.Equal(t, 1, col.CompareAt(2, col, 0, 1))
	require.Equal(t, 0, col.CompareAt(0, col, 0, 1))

	// NULL against a value yields nullsDirection, the reverse its negation.
	require.Equal(t, 1, col.CompareAt(1, col, 0, 1))
	require.Equal(t, -1, col.CompareAt(1, col, 0, -1))
	require.Equal(t, -1, col.CompareAt(0, col, 1, 1))
	require.Equal(t, 0, col.CompareAt(1, col, 1, 1))
}

func TestCompareAcrossConstAndStrings(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	strs := NewArrowColumn(stringArray(alloc, "a", "b"))
	defer strs.Release()
	c := NewConstColumn(stringArray(alloc, "b"), 5)
	defer c.Release()

	require.Equal(t, 1, c.CompareAt(3, strs, 0, 1))
	require.Equal(t, 0, c.CompareAt(4, strs, 1, 1))
	require.Equal(t, -1, strs.CompareAt(0, c, 2, 1))
}

func TestSortDescriptionCompareRows(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	a := NewArrowColumn(int64Array(alloc, []int64{1, 1, 2}, nil))
	defer a.Release()
	b := NewArrowColumn(int64Array(alloc, []int64{5, 7, 0}, nil))
	defer b.Release()
	cols := []Column{a, b}

	asc := SortDescription{Asc("a"), Asc("b")}
	require.Negative(t, asc.CompareRows(cols, 0, cols, 1))
	require.Negative(t, asc.CompareRows(cols, 1, cols, 2))
	require.Zero(t, asc.CompareRows(cols, 2, cols, 2))

	mixed := SortDescription{Asc("a"), Desc("b")}
	require.Positive(t, mixed.CompareRows(cols, 0, cols, 1))
	require.Negative(t, mixed.CompareRows(cols, 1, cols, 2))
}

func TestSortDescriptionPositions(t *testing.T) {
	h := NewHeader(arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Int64},
		{Name: "y", Type: arrow.PrimitiveTypes.Int64},
	}, nil))
	pos, err := SortDescription{Asc("y"), Asc("x")}.Positions(h)
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, pos)

	_, err = SortDescription{Asc("z")}.Positions(h)
	require.Error(t, err)
}

func TestDescPlacesNullsFirst(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	col := NewArrowColumn(int64Array(alloc, []int64{0, 3}, []bool{false, true}))
	defer col.Release()
	cols := []Column{col}
	require.Negative(t, SortDescription{Desc("k")}.CompareRows(cols, 0, cols, 1))
	require.Positive(t, SortDescription{Asc("k")}.CompareRows(cols, 0, cols, 1))
}

func TestFilter(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := compute.WithAllocator(context.Background(), alloc)

	mask := boolMask(alloc, true, false, true)
	defer mask.Release()

	col := NewArrowColumn(int64Array(alloc, []int64{1, 2, 3}, nil))
	defer col.Release()
	f, err := col.Filter(ctx, mask, 2)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(3)}, int64Values(f))
	f.Release()

	c := NewConstColumn(int64Array(alloc, []int64{9}, nil), 3)
	defer c.Release()
	fc, err := c.Filter(ctx, mask, 2)
	require.NoError(t, err)
	require.True(t, fc.IsConst())
	require.Equal(t, 2, fc.Len())
	fc.Release()
}

func TestMutableColumn(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	src := NewArrowColumn(int64Array(alloc, []int64{1, 2, 3, 0}, []bool{true, true, true, false}))
	defer src.Release()
	c := NewConstColumn(int64Array(alloc, []int64{7}, nil), 10)
	defer c.Release()

	m := src.CloneEmpty()
	m.InsertRangeFrom(src, 1, 2)
	m.InsertFrom(c, 4)
	m.InsertFrom(src, 3)
	m.InsertRangeFrom(src, 0, 0)
	require.Equal(t, 4, m.Len())

	out, err := m.Finish(alloc)
	require.NoError(t, err)
	defer out.Release()
	require.False(t, out.IsConst())
	require.Equal(t, []any{int64(2), int64(3), int64(7), nil}, int64Values(out))
	require.Zero(t, m.Len())

	empty, err := NewMutableColumn(arrow.PrimitiveTypes.Int64).Finish(alloc)
	require.NoError(t, err)
	require.Zero(t, empty.Len())
	empty.Release()
}

func TestConstMaterialize(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	c := NewConstColumn(stringArray(alloc, "eu"), 3)
	defer c.Release()
	arr, err := c.Materialize(alloc)
	require.NoError(t, err)
	defer arr.Release()

	require.Equal(t, 3, arr.Len())
	for i := 0; i < 3; i++ {
		require.Equal(t, "eu", arr.(*array.String).Value(i))
	}
}

func TestRecordRoundTrip(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tag", Type: arrow.BinaryTypes.String},
	}, nil)
	h := NewHeader(schema, "tag")
	c := New([]Column{
		NewArrowColumn(int64Array(alloc, []int64{1, 2}, nil)),
		NewConstColumn(stringArray(alloc, "x"), 2),
	}, 2)
	defer c.Release()

	rec, err := ToRecord(alloc, h, c)
	require.NoError(t, err)
	defer rec.Release()
	require.EqualValues(t, 2, rec.NumRows())
	require.Equal(t, "x", rec.Column(1).(*array.String).Value(1))

	back := FromRecord(rec)
	defer back.Release()
	require.Equal(t, 2, back.NumRows())
	require.Equal(t, []any{int64(1), int64(2)}, int64Values(back.Column(0)))

	_, err = ToRecord(alloc, NewHeader(arrow.NewSchema(schema.Fields()[:1], nil)), c)
	require.Error(t, err)
}

func TestChunkDetachAndNil(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	var nilChunk *Chunk
	require.Zero(t, nilChunk.NumRows())
	require.False(t, nilChunk.HasInfo())
	nilChunk.Release()

	c := New([]Column{NewArrowColumn(int64Array(alloc, []int64{1}, nil))}, 1)
	c.SetInfo("side")
	require.True(t, c.HasInfo())
	cols := c.DetachColumns()
	require.Zero(t, c.NumRows())
	require.Zero(t, c.NumColumns())
	c.SetColumns(cols, 1)
	require.True(t, c.HasRows())
	c.Release()
}
