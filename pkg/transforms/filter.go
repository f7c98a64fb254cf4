package transforms

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/expr"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Filter keeps the rows for which a SQL condition is true. NULL counts as
// false. The header passes through unchanged.
type Filter struct {
	*Simple

	condition string
	node      ast.ExprNode
	header    *chunk.Header
	ev        *expr.Evaluator
	alloc     memory.Allocator
}

// NewFilter parses condition and checks that it yields a boolean over h.
func NewFilter(h *chunk.Header, condition string) (*Filter, error) {
	ev := expr.NewEvaluator(memory.DefaultAllocator)
	node, err := ev.Parse(condition)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	dt, err := resultType(ev, h, node)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", condition, err)
	}
	if dt.ID() != arrow.BOOL {
		return nil, fmt.Errorf("filter %q: condition is %s, not boolean", condition, dt)
	}

	f := &Filter{condition: condition, node: node, header: h, ev: ev, alloc: memory.DefaultAllocator}
	f.Simple = NewSimple("FilterTransform", h, h, f, true)
	return f, nil
}

func resultType(ev *expr.Evaluator, h *chunk.Header, node ast.ExprNode) (arrow.DataType, error) {
	cols := make([]chunk.Column, h.NumColumns())
	for i := range cols {
		cols[i] = chunk.NewArrowColumn(array.MakeArrayOfNull(memory.DefaultAllocator, h.Field(i).Type, 0))
	}
	empty := chunk.New(cols, 0)
	defer empty.Release()

	col, err := ev.Eval(context.Background(), h, empty, node)
	if err != nil {
		return nil, err
	}
	defer col.Release()
	return col.DataType(), nil
}

func (f *Filter) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		f.alloc = ctx.Alloc
		f.ev = expr.NewEvaluator(ctx.Alloc)
	}
	return f.Simple.Open(ctx)
}

// Transform drops the rows of c failing the condition.
func (f *Filter) Transform(c *chunk.Chunk) error {
	ctx := context.Background()
	if pc := f.Context(); pc != nil && pc.Ctx != nil {
		ctx = pc.Ctx
	}

	cond, err := f.ev.Eval(ctx, f.header, c, f.node)
	if err != nil {
		return fmt.Errorf("filter %q: %w", f.condition, err)
	}
	defer cond.Release()

	rows := c.NumRows()
	bldr := array.NewBooleanBuilder(f.alloc)
	defer bldr.Release()
	bldr.Reserve(rows)
	values := cond.Values().(*array.Boolean)
	kept := 0
	for i := 0; i < rows; i++ {
		keep := !cond.IsNull(i) && values.Value(cond.ValueIndex(i))
		if keep {
			kept++
		}
		bldr.UnsafeAppend(keep)
	}
	if kept == rows {
		return nil
	}
	mask := bldr.NewBooleanArray()
	defer mask.Release()

	cctx := compute.WithAllocator(ctx, f.alloc)
	cols := c.DetachColumns()
	out := make([]chunk.Column, 0, len(cols))
	for _, col := range cols {
		filtered, err := col.Filter(cctx, mask, kept)
		if err != nil {
			for _, o := range out {
				o.Release()
			}
			c.SetColumns(cols, rows)
			return fmt.Errorf("filter: %w", err)
		}
		out = append(out, filtered)
	}
	for _, col := range cols {
		col.Release()
	}
	c.SetColumns(out, kept)
	return nil
}
