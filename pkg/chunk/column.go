package chunk

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
)

// Column is a vector of one field's values. Columns are immutable and
// reference counted: Retain and Release follow the Arrow conventions.
type Column interface {
	// Len returns the logical number of rows.
	Len() int
	DataType() arrow.DataType
	// IsConst reports whether every row holds the same value.
	IsConst() bool
	IsNull(row int) bool

	// Values returns the physical backing array and ValueIndex maps a
	// logical row onto it. For constant columns every row maps to 0.
	Values() arrow.Array
	ValueIndex(row int) int

	// CloneEmpty returns an empty mutable column of the same type.
	CloneEmpty() *MutableColumn

	// CompareAt compares row of this column with otherRow of other and
	// returns -1, 0 or 1. nullsDirection is the result when only this side
	// is NULL.
	CompareAt(row int, other Column, otherRow int, nullsDirection int) int

	// Filter keeps the rows selected by mask. resultSize is the number of
	// set bits in mask. The allocator is taken from ctx (compute.WithAllocator).
	Filter(ctx context.Context, mask *array.Boolean, resultSize int) (Column, error)

	Retain()
	Release()
}

// ArrowColumn is a Column backed by a plain Arrow array.
type ArrowColumn struct {
	arr arrow.Array
}

// NewArrowColumn wraps arr. The column takes over the caller's reference.
func NewArrowColumn(arr arrow.Array) *ArrowColumn {
	return &ArrowColumn{arr: arr}
}

func (c *ArrowColumn) Len() int                 { return c.arr.Len() }
func (c *ArrowColumn) DataType() arrow.DataType { return c.arr.DataType() }
func (c *ArrowColumn) IsConst() bool            { return false }
func (c *ArrowColumn) IsNull(row int) bool      { return c.arr.IsNull(row) }
func (c *ArrowColumn) Values() arrow.Array      { return c.arr }
func (c *ArrowColumn) ValueIndex(row int) int   { return row }
func (c *ArrowColumn) Retain()                  { c.arr.Retain() }
func (c *ArrowColumn) Release()                 { c.arr.Release() }

func (c *ArrowColumn) CloneEmpty() *MutableColumn {
	return NewMutableColumn(c.arr.DataType())
}

func (c *ArrowColumn) CompareAt(row int, other Column, otherRow int, nullsDirection int) int {
	return compareValues(c.arr, row, other.Values(), other.ValueIndex(otherRow), nullsDirection)
}

func (c *ArrowColumn) Filter(ctx context.Context, mask *array.Boolean, resultSize int) (Column, error) {
	if resultSize == c.arr.Len() {
		c.arr.Retain()
		return NewArrowColumn(c.arr), nil
	}
	out, err := compute.FilterArray(ctx, c.arr, mask, *compute.DefaultFilterOptions())
	if err != nil {
		return nil, fmt.Errorf("filter %s column: %w", c.arr.DataType(), err)
	}
	return NewArrowColumn(out), nil
}

// ConstColumn is a Column holding a single value repeated n times.
type ConstColumn struct {
	value arrow.Array
	n     int
}

// NewConstColumn creates a constant column from the first element of value,
// which must hold exactly one element. The column takes over the caller's
// reference to value.
func NewConstColumn(value arrow.Array, n int) *ConstColumn {
	return &ConstColumn{value: value, n: n}
}

// NewConstFromScalar builds a constant column of length n from sc.
func NewConstFromScalar(alloc memory.Allocator, sc scalar.Scalar, n int) (*ConstColumn, error) {
	value, err := scalar.MakeArrayFromScalar(sc, 1, alloc)
	if err != nil {
		return nil, fmt.Errorf("constant column: %w", err)
	}
	return NewConstColumn(value, n), nil
}

func (c *ConstColumn) Len() int                 { return c.n }
func (c *ConstColumn) DataType() arrow.DataType { return c.value.DataType() }
func (c *ConstColumn) IsConst() bool            { return true }
func (c *ConstColumn) IsNull(int) bool          { return c.value.IsNull(0) }
func (c *ConstColumn) Values() arrow.Array      { return c.value }
func (c *ConstColumn) ValueIndex(int) int       { return 0 }
func (c *ConstColumn) Retain()                  { c.value.Retain() }
func (c *ConstColumn) Release()                 { c.value.Release() }

func (c *ConstColumn) CloneEmpty() *MutableColumn {
	return NewMutableColumn(c.value.DataType())
}

func (c *ConstColumn) CompareAt(_ int, other Column, otherRow int, nullsDirection int) int {
	return compareValues(c.value, 0, other.Values(), other.ValueIndex(otherRow), nullsDirection)
}

func (c *ConstColumn) Filter(_ context.Context, _ *array.Boolean, resultSize int) (Column, error) {
	c.value.Retain()
	return NewConstColumn(c.value, resultSize), nil
}

// Materialize expands the constant into a full Arrow array of Len rows.
// The caller must release the result.
func (c *ConstColumn) Materialize(alloc memory.Allocator) (arrow.Array, error) {
	sc, err := scalar.GetScalar(c.value, 0)
	if err != nil {
		return nil, fmt.Errorf("materialize constant: %w", err)
	}
	if r, ok := sc.(scalar.Releasable); ok {
		defer r.Release()
	}
	arr, err := scalar.MakeArrayFromScalar(sc, c.n, alloc)
	if err != nil {
		return nil, fmt.Errorf("materialize constant: %w", err)
	}
	return arr, nil
}
