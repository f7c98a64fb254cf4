package transforms

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/expr"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Projection is one output column of an Expression transform.
type Projection struct {
	Expr string
	Name string
}

// Expression computes a list of projections over every chunk. Projections
// that do not depend on any row become constant columns and are flagged
// constant in the output header.
type Expression struct {
	*Simple

	inHeader *chunk.Header
	nodes    []ast.ExprNode
	ev       *expr.Evaluator
}

// NewExpression parses projections and derives the output header by
// evaluating them over an empty chunk of inHeader.
func NewExpression(inHeader *chunk.Header, projections []Projection) (*Expression, error) {
	if len(projections) == 0 {
		return nil, fmt.Errorf("expression: no projections")
	}
	ev := expr.NewEvaluator(memory.DefaultAllocator)
	nodes := make([]ast.ExprNode, len(projections))
	for i, p := range projections {
		node, err := ev.Parse(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("expression: %w", err)
		}
		nodes[i] = node
	}

	outHeader, err := inferHeader(ev, inHeader, projections, nodes)
	if err != nil {
		return nil, err
	}
	t := &Expression{inHeader: inHeader, nodes: nodes, ev: ev}
	t.Simple = NewSimple("ExpressionTransform", inHeader, outHeader, t, false)
	return t, nil
}

func inferHeader(ev *expr.Evaluator, inHeader *chunk.Header, projections []Projection, nodes []ast.ExprNode) (*chunk.Header, error) {
	cols := make([]chunk.Column, inHeader.NumColumns())
	for i := range cols {
		cols[i] = chunk.NewArrowColumn(array.MakeArrayOfNull(memory.DefaultAllocator, inHeader.Field(i).Type, 0))
	}
	empty := chunk.New(cols, 0)
	defer empty.Release()

	fields := make([]arrow.Field, len(nodes))
	var consts []string
	for i, node := range nodes {
		col, err := ev.Eval(context.Background(), inHeader, empty, node)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", projections[i].Expr, err)
		}
		name := projections[i].Name
		if name == "" {
			name = projections[i].Expr
		}
		fields[i] = arrow.Field{Name: name, Type: col.DataType(), Nullable: true}
		if col.IsConst() {
			consts = append(consts, name)
		}
		col.Release()
	}
	return chunk.NewHeader(arrow.NewSchema(fields, nil), consts...), nil
}

func (t *Expression) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		t.ev = expr.NewEvaluator(ctx.Alloc)
	}
	return t.Simple.Open(ctx)
}

// Transform replaces the columns of c with the projected ones.
func (t *Expression) Transform(c *chunk.Chunk) error {
	ctx := context.Background()
	if pc := t.Context(); pc != nil && pc.Ctx != nil {
		ctx = pc.Ctx
	}

	out := make([]chunk.Column, 0, len(t.nodes))
	for _, node := range t.nodes {
		col, err := t.ev.Eval(ctx, t.inHeader, c, node)
		if err != nil {
			for _, o := range out {
				o.Release()
			}
			return fmt.Errorf("expression: %w", err)
		}
		out = append(out, col)
	}

	rows := c.NumRows()
	for _, col := range c.DetachColumns() {
		col.Release()
	}
	c.SetColumns(out, rows)
	return nil
}
