// Package expr evaluates SQL projection expressions over chunks.
// It uses TiDB's SQL parser to parse expressions and dispatches to Arrow
// compute kernels where available. Expressions without column references
// are folded into constant columns.
package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	"github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

// Evaluator evaluates SQL expressions against chunks.
type Evaluator struct {
	alloc  memory.Allocator
	parser *parser.Parser
}

// NewEvaluator creates a new expression evaluator.
func NewEvaluator(alloc memory.Allocator) *Evaluator {
	return &Evaluator{
		alloc:  alloc,
		parser: parser.New(),
	}
}

// Parse parses a standalone SQL expression by wrapping it in a SELECT statement.
func (ev *Evaluator) Parse(exprSQL string) (ast.ExprNode, error) {
	stmt, err := ev.parser.ParseOneStmt("SELECT "+exprSQL, "", "")
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", exprSQL, err)
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || len(sel.Fields.Fields) == 0 {
		return nil, fmt.Errorf("parse expression %q: unexpected statement type", exprSQL)
	}
	return sel.Fields.Fields[0].Expr, nil
}

// value is an intermediate result. A constant value holds one element.
type value struct {
	arr      arrow.Array
	constant bool
}

func (v value) release() { v.arr.Release() }

// Eval evaluates node against c, whose columns are described by h. The
// result is a constant column when node references no column or only
// constant columns. The caller must release the returned column.
func (ev *Evaluator) Eval(ctx context.Context, h *chunk.Header, c *chunk.Chunk, node ast.ExprNode) (chunk.Column, error) {
	ctx = compute.WithAllocator(ctx, ev.alloc)
	v, err := ev.evalExpr(ctx, h, c, node)
	if err != nil {
		return nil, err
	}
	if v.constant {
		return chunk.NewConstColumn(v.arr, c.NumRows()), nil
	}
	return chunk.NewArrowColumn(v.arr), nil
}

// EvalSQL parses and evaluates exprSQL against c.
func (ev *Evaluator) EvalSQL(ctx context.Context, h *chunk.Header, c *chunk.Chunk, exprSQL string) (chunk.Column, error) {
	node, err := ev.Parse(exprSQL)
	if err != nil {
		return nil, err
	}
	return ev.Eval(ctx, h, c, node)
}

// evalExpr dispatches AST nodes to the appropriate evaluation function.
func (ev *Evaluator) evalExpr(ctx context.Context, h *chunk.Header, c *chunk.Chunk, node ast.ExprNode) (value, error) {
	switch e := node.(type) {
	case *ast.ColumnNameExpr:
		return ev.evalColumnRef(h, c, e)
	case *test_driver.ValueExpr:
		return ev.evalLiteral(e)
	case *ast.BinaryOperationExpr:
		return ev.evalBinaryOp(ctx, h, c, e)
	case *ast.UnaryOperationExpr:
		return ev.evalUnaryOp(ctx, h, c, e)
	case *ast.IsNullExpr:
		return ev.evalIsNull(ctx, h, c, e)
	case *ast.ParenthesesExpr:
		return ev.evalExpr(ctx, h, c, e.Expr)
	case *ast.FuncCallExpr:
		return ev.evalFuncCall(ctx, h, c, e)
	default:
		return value{}, fmt.Errorf("unsupported expression type: %T", node)
	}
}

// ── Column references ───────────────────────────────────────────────

func (ev *Evaluator) evalColumnRef(h *chunk.Header, c *chunk.Chunk, col *ast.ColumnNameExpr) (value, error) {
	pos, err := h.Position(col.Name.Name.O)
	if err != nil {
		return value{}, err
	}
	src := c.Column(pos)
	arr := src.Values()
	arr.Retain()
	return value{arr: arr, constant: src.IsConst()}, nil
}

// ── Literals ────────────────────────────────────────────────────────

func (ev *Evaluator) evalLiteral(val *test_driver.ValueExpr) (value, error) {
	d := val.Datum

	var sc scalar.Scalar
	switch d.Kind() {
	case test_driver.KindInt64:
		sc = scalar.NewInt64Scalar(d.GetInt64())
	case test_driver.KindUint64:
		sc = scalar.NewUint64Scalar(d.GetUint64())
	case test_driver.KindFloat64:
		sc = scalar.NewFloat64Scalar(d.GetFloat64())
	case test_driver.KindFloat32:
		sc = scalar.NewFloat64Scalar(float64(d.GetFloat32()))
	case test_driver.KindMysqlDecimal:
		f, err := strconv.ParseFloat(fmt.Sprint(d.GetValue()), 64)
		if err != nil {
			return value{}, fmt.Errorf("decimal literal: %w", err)
		}
		sc = scalar.NewFloat64Scalar(f)
	case test_driver.KindString:
		sc = scalar.NewStringScalar(d.GetString())
	case test_driver.KindNull:
		sc = scalar.MakeNullScalar(arrow.Null)
	default:
		return value{}, fmt.Errorf("unsupported literal kind: %v", d.Kind())
	}

	arr, err := scalar.MakeArrayFromScalar(sc, 1, ev.alloc)
	if err != nil {
		return value{}, fmt.Errorf("literal: %w", err)
	}
	return value{arr: arr, constant: true}, nil
}

// ── Binary operations (comparisons, arithmetic, logical) ────────────

var binaryKernels = map[opcode.Op]string{
	opcode.EQ:       "equal",
	opcode.NE:       "not_equal",
	opcode.GT:       "greater",
	opcode.LT:       "less",
	opcode.GE:       "greater_equal",
	opcode.LE:       "less_equal",
	opcode.Plus:     "add",
	opcode.Minus:    "subtract",
	opcode.Mul:      "multiply",
	opcode.Div:      "divide",
	opcode.LogicAnd: "and_kleene",
	opcode.LogicOr:  "or_kleene",
}

func (ev *Evaluator) evalBinaryOp(ctx context.Context, h *chunk.Header, c *chunk.Chunk, e *ast.BinaryOperationExpr) (value, error) {
	kernel, ok := binaryKernels[e.Op]
	if !ok {
		return value{}, fmt.Errorf("unsupported binary operator: %v", e.Op)
	}

	left, err := ev.evalExpr(ctx, h, c, e.L)
	if err != nil {
		return value{}, err
	}
	defer left.release()

	right, err := ev.evalExpr(ctx, h, c, e.R)
	if err != nil {
		return value{}, err
	}
	defer right.release()

	constant := left.constant && right.constant
	l, r, err := ev.broadcast(left, right, c.NumRows())
	if err != nil {
		return value{}, err
	}
	defer l.Release()
	defer r.Release()

	cl, cr, err := coerceTypes(ctx, l, r)
	if err != nil {
		return value{}, err
	}
	defer cl.Release()
	defer cr.Release()

	result, err := compute.CallFunction(ctx, kernel, nil,
		compute.NewDatumWithoutOwning(cl), compute.NewDatumWithoutOwning(cr))
	if err != nil {
		return value{}, fmt.Errorf("%s: %w", kernel, err)
	}
	arr, err := extractArray(result)
	if err != nil {
		return value{}, err
	}
	return value{arr: arr, constant: constant}, nil
}

// broadcast returns arrays of matching length for a binary operation. When
// exactly one side is constant it is expanded to n rows.
func (ev *Evaluator) broadcast(left, right value, n int) (arrow.Array, arrow.Array, error) {
	if left.constant == right.constant {
		left.arr.Retain()
		right.arr.Retain()
		return left.arr, right.arr, nil
	}
	l, err := ev.expand(left, n)
	if err != nil {
		return nil, nil, err
	}
	r, err := ev.expand(right, n)
	if err != nil {
		l.Release()
		return nil, nil, err
	}
	return l, r, nil
}

func (ev *Evaluator) expand(v value, n int) (arrow.Array, error) {
	if !v.constant {
		v.arr.Retain()
		return v.arr, nil
	}
	v.arr.Retain()
	cc := chunk.NewConstColumn(v.arr, n)
	defer cc.Release()
	return cc.Materialize(ev.alloc)
}

// ── Unary operations ────────────────────────────────────────────────

func (ev *Evaluator) evalUnaryOp(ctx context.Context, h *chunk.Header, c *chunk.Chunk, e *ast.UnaryOperationExpr) (value, error) {
	inner, err := ev.evalExpr(ctx, h, c, e.V)
	if err != nil {
		return value{}, err
	}
	defer inner.release()

	switch e.Op {
	case opcode.Not, opcode.Not2:
		boolArr, ok := inner.arr.(*array.Boolean)
		if !ok {
			return value{}, fmt.Errorf("NOT requires boolean input, got %s", inner.arr.DataType())
		}
		return value{arr: mapBool(ev.alloc, boolArr, func(b bool) bool { return !b }), constant: inner.constant}, nil
	case opcode.Minus:
		result, err := compute.Negate(ctx, compute.ArithmeticOptions{}, compute.NewDatumWithoutOwning(inner.arr))
		if err != nil {
			return value{}, fmt.Errorf("unary minus: %w", err)
		}
		arr, err := extractArray(result)
		if err != nil {
			return value{}, err
		}
		return value{arr: arr, constant: inner.constant}, nil
	default:
		return value{}, fmt.Errorf("unsupported unary operator: %v", e.Op)
	}
}

// ── IS NULL / IS NOT NULL ───────────────────────────────────────────

func (ev *Evaluator) evalIsNull(ctx context.Context, h *chunk.Header, c *chunk.Chunk, e *ast.IsNullExpr) (value, error) {
	inner, err := ev.evalExpr(ctx, h, c, e.Expr)
	if err != nil {
		return value{}, err
	}
	defer inner.release()

	bldr := array.NewBooleanBuilder(ev.alloc)
	defer bldr.Release()
	for i := 0; i < inner.arr.Len(); i++ {
		bldr.Append(inner.arr.IsNull(i) != e.Not)
	}
	return value{arr: bldr.NewArray(), constant: inner.constant}, nil
}

// ── Function calls ──────────────────────────────────────────────────

func (ev *Evaluator) evalFuncCall(ctx context.Context, h *chunk.Header, c *chunk.Chunk, e *ast.FuncCallExpr) (value, error) {
	args := make([]value, 0, len(e.Args))
	defer func() {
		for _, a := range args {
			a.release()
		}
	}()
	for _, argExpr := range e.Args {
		arg, err := ev.evalExpr(ctx, h, c, argExpr)
		if err != nil {
			return value{}, err
		}
		args = append(args, arg)
	}

	switch e.FnName.L {
	case "upper":
		return ev.stringMap(e.FnName.O, args, strings.ToUpper)
	case "lower":
		return ev.stringMap(e.FnName.O, args, strings.ToLower)
	case "trim":
		return ev.stringMap(e.FnName.O, args, strings.TrimSpace)
	case "concat":
		return ev.concat(args, c.NumRows())
	case "coalesce":
		return ev.coalesce(args, c.NumRows())
	default:
		return value{}, fmt.Errorf("unsupported function: %s", e.FnName.L)
	}
}

// stringMap applies fn to each element of a single string argument.
func (ev *Evaluator) stringMap(name string, args []value, fn func(string) string) (value, error) {
	if len(args) != 1 {
		return value{}, fmt.Errorf("%s requires 1 argument, got %d", name, len(args))
	}
	arg := args[0]
	bldr := array.NewStringBuilder(ev.alloc)
	defer bldr.Release()
	for i := 0; i < arg.arr.Len(); i++ {
		if arg.arr.IsNull(i) {
			bldr.AppendNull()
		} else {
			bldr.Append(fn(stringValue(arg.arr, i)))
		}
	}
	return value{arr: bldr.NewArray(), constant: arg.constant}, nil
}

func allConstant(args []value) bool {
	for _, a := range args {
		if !a.constant {
			return false
		}
	}
	return true
}

// rowOf maps a logical row onto an argument that may be constant.
func rowOf(v value, row int) int {
	if v.constant {
		return 0
	}
	return row
}

func (ev *Evaluator) concat(args []value, numRows int) (value, error) {
	if len(args) < 2 {
		return value{}, fmt.Errorf("CONCAT requires at least 2 arguments")
	}
	constant := allConstant(args)
	if constant {
		numRows = 1
	}

	bldr := array.NewStringBuilder(ev.alloc)
	defer bldr.Release()
	for row := 0; row < numRows; row++ {
		var sb strings.Builder
		null := false
		for _, a := range args {
			i := rowOf(a, row)
			if a.arr.IsNull(i) {
				null = true
				break
			}
			sb.WriteString(stringValue(a.arr, i))
		}
		if null {
			bldr.AppendNull()
		} else {
			bldr.Append(sb.String())
		}
	}
	return value{arr: bldr.NewArray(), constant: constant}, nil
}

func (ev *Evaluator) coalesce(args []value, numRows int) (value, error) {
	if len(args) < 1 {
		return value{}, fmt.Errorf("COALESCE requires at least 1 argument")
	}
	constant := allConstant(args)
	if constant {
		numRows = 1
	}

	mc := chunk.NewMutableColumn(args[0].arr.DataType())
	for row := 0; row < numRows; row++ {
		picked := args[len(args)-1]
		for _, a := range args {
			if !a.arr.IsNull(rowOf(a, row)) {
				picked = a
				break
			}
		}
		if !arrow.TypeEqual(picked.arr.DataType(), args[0].arr.DataType()) {
			mc.Release()
			return value{}, fmt.Errorf("COALESCE arguments must share one type, got %s and %s",
				args[0].arr.DataType(), picked.arr.DataType())
		}
		mc.InsertFrom(chunk.NewArrowColumn(picked.arr), rowOf(picked, row))
	}
	col, err := mc.Finish(ev.alloc)
	if err != nil {
		return value{}, err
	}
	arr := col.Values()
	return value{arr: arr, constant: constant}, nil
}

// ── Utility functions ───────────────────────────────────────────────

func extractArray(d compute.Datum) (arrow.Array, error) {
	defer d.Release()
	switch v := d.(type) {
	case *compute.ArrayDatum:
		return v.MakeArray(), nil
	default:
		return nil, fmt.Errorf("unexpected datum type: %T", d)
	}
}

func mapBool(alloc memory.Allocator, arr *array.Boolean, fn func(bool) bool) arrow.Array {
	bldr := array.NewBooleanBuilder(alloc)
	defer bldr.Release()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			bldr.AppendNull()
		} else {
			bldr.Append(fn(arr.Value(i)))
		}
	}
	return bldr.NewArray()
}

func stringValue(arr arrow.Array, row int) string {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(row)
	case *array.LargeString:
		return a.Value(row)
	default:
		return arr.ValueStr(row)
	}
}
