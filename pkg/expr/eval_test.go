package expr

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

func makeChunk(names []string, cols []arrow.Array) (*chunk.Header, *chunk.Chunk) {
	fields := make([]arrow.Field, len(names))
	columns := make([]chunk.Column, len(cols))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: cols[i].DataType(), Nullable: true}
		columns[i] = chunk.NewArrowColumn(cols[i])
	}
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}
	return chunk.NewHeader(arrow.NewSchema(fields, nil)), chunk.New(columns, rows)
}

func makeInt64(alloc memory.Allocator, vals []int64) arrow.Array {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

func makeNullableInt64(alloc memory.Allocator, vals []int64, valid []bool) arrow.Array {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, valid)
	return bldr.NewArray()
}

func makeStringArr(alloc memory.Allocator, vals []string) arrow.Array {
	bldr := array.NewStringBuilder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return bldr.NewArray()
}

func TestComparisons(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"amount", "country"}, []arrow.Array{
		makeInt64(alloc, []int64{50, 150, 100, 200}),
		makeStringArr(alloc, []string{"US", "UK", "US", "CA"}),
	})
	defer c.Release()

	cases := []struct {
		expr string
		want []bool
	}{
		{"amount > 100", []bool{false, true, false, true}},
		{"country = 'US'", []bool{true, false, true, false}},
		{"amount > 100 AND country = 'US'", []bool{false, false, false, false}},
		{"amount >= 150 OR country = 'US'", []bool{true, true, true, true}},
		{"NOT (amount < 100)", []bool{false, true, true, true}},
	}
	for _, tc := range cases {
		col, err := ev.EvalSQL(ctx, h, c, tc.expr)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if col.IsConst() {
			t.Errorf("%s: expected a full column", tc.expr)
		}
		got := col.Values().(*array.Boolean)
		for i, exp := range tc.want {
			if got.Value(i) != exp {
				t.Errorf("%s [%d]: got %v, want %v", tc.expr, i, got.Value(i), exp)
			}
		}
		col.Release()
	}
}

func TestArithmeticWithCoercion(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"amount"}, []arrow.Array{
		makeInt64(alloc, []int64{1, 2, 3}),
	})
	defer c.Release()

	col, err := ev.EvalSQL(ctx, h, c, "amount * 2 + 1")
	if err != nil {
		t.Fatal(err)
	}
	defer col.Release()
	ints := col.Values().(*array.Int64)
	for i, exp := range []int64{3, 5, 7} {
		if ints.Value(i) != exp {
			t.Errorf("amount * 2 + 1 [%d]: got %d, want %d", i, ints.Value(i), exp)
		}
	}

	col2, err := ev.EvalSQL(ctx, h, c, "amount * 15e-1")
	if err != nil {
		t.Fatal(err)
	}
	defer col2.Release()
	floats, ok := col2.Values().(*array.Float64)
	if !ok {
		t.Fatalf("amount * 15e-1: got %s, want float64", col2.DataType())
	}
	if floats.Value(1) != 3.0 {
		t.Errorf("amount * 15e-1 [1]: got %v, want 3", floats.Value(1))
	}
}

func TestLiteralIsConstant(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"amount"}, []arrow.Array{
		makeInt64(alloc, []int64{1, 2, 3, 4}),
	})
	defer c.Release()

	for _, e := range []string{"42", "'tag'", "1 + 2", "UPPER('x')", "CONCAT('a', 'b')"} {
		col, err := ev.EvalSQL(ctx, h, c, e)
		if err != nil {
			t.Fatalf("%s: %v", e, err)
		}
		if !col.IsConst() {
			t.Errorf("%s: expected a constant column", e)
		}
		if col.Len() != 4 {
			t.Errorf("%s: len %d, want 4", e, col.Len())
		}
		col.Release()
	}
}

func TestStringFunctions(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"name"}, []arrow.Array{
		makeStringArr(alloc, []string{"alice", "Bob", " carol "}),
	})
	defer c.Release()

	cases := []struct {
		expr string
		want []string
	}{
		{"UPPER(name)", []string{"ALICE", "BOB", " CAROL "}},
		{"LOWER(name)", []string{"alice", "bob", " carol "}},
		{"TRIM(name)", []string{"alice", "Bob", "carol"}},
		{"CONCAT(name, '!')", []string{"alice!", "Bob!", " carol !"}},
	}
	for _, tc := range cases {
		col, err := ev.EvalSQL(ctx, h, c, tc.expr)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		got := col.Values().(*array.String)
		for i, exp := range tc.want {
			if got.Value(i) != exp {
				t.Errorf("%s [%d]: got %q, want %q", tc.expr, i, got.Value(i), exp)
			}
		}
		col.Release()
	}
}

func TestNullHandling(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"v", "w"}, []arrow.Array{
		makeNullableInt64(alloc, []int64{10, 0, 30}, []bool{true, false, true}),
		makeInt64(alloc, []int64{7, 8, 9}),
	})
	defer c.Release()

	col, err := ev.EvalSQL(ctx, h, c, "v IS NULL")
	if err != nil {
		t.Fatal(err)
	}
	isNull := col.Values().(*array.Boolean)
	for i, exp := range []bool{false, true, false} {
		if isNull.Value(i) != exp {
			t.Errorf("v IS NULL [%d]: got %v, want %v", i, isNull.Value(i), exp)
		}
	}
	col.Release()

	col, err = ev.EvalSQL(ctx, h, c, "COALESCE(v, w)")
	if err != nil {
		t.Fatal(err)
	}
	defer col.Release()
	ints := col.Values().(*array.Int64)
	for i, exp := range []int64{10, 8, 30} {
		if ints.Value(i) != exp {
			t.Errorf("COALESCE(v, w) [%d]: got %d, want %d", i, ints.Value(i), exp)
		}
	}
}

func TestConstantColumnInput(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	tag := chunk.NewConstColumn(makeInt64(alloc, []int64{5}), 3)
	amount := chunk.NewArrowColumn(makeInt64(alloc, []int64{1, 2, 3}))
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "tag", Type: arrow.PrimitiveTypes.Int64},
		{Name: "amount", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	h := chunk.NewHeader(schema, "tag")
	c := chunk.New([]chunk.Column{tag, amount}, 3)
	defer c.Release()

	col, err := ev.EvalSQL(ctx, h, c, "tag * 2")
	if err != nil {
		t.Fatal(err)
	}
	if !col.IsConst() {
		t.Error("tag * 2: expected a constant column")
	}
	col.Release()

	col, err = ev.EvalSQL(ctx, h, c, "tag + amount")
	if err != nil {
		t.Fatal(err)
	}
	defer col.Release()
	ints := col.Values().(*array.Int64)
	for i, exp := range []int64{6, 7, 8} {
		if ints.Value(i) != exp {
			t.Errorf("tag + amount [%d]: got %d, want %d", i, ints.Value(i), exp)
		}
	}
}

func TestErrors(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	ctx := context.Background()
	ev := NewEvaluator(alloc)

	h, c := makeChunk([]string{"amount"}, []arrow.Array{
		makeInt64(alloc, []int64{1}),
	})
	defer c.Release()

	for _, e := range []string{"missing + 1", "REGEXP_EXTRACT(amount, 'x')", "amount >", "UPPER(amount, amount)"} {
		if col, err := ev.EvalSQL(ctx, h, c, e); err == nil {
			col.Release()
			t.Errorf("%s: expected an error", e)
		}
	}
}
