package expr

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
)

// coerceTypes promotes two arrays to a common numeric type following SQL
// widening rules: narrower integers widen to the wider one, unsigned values
// meet signed ones at Int64, and any float makes the result Float64.
// Non-numeric pairs are returned unchanged. Both results are new references.
func coerceTypes(ctx context.Context, left, right arrow.Array) (arrow.Array, arrow.Array, error) {
	target, ok := promoteType(left.DataType(), right.DataType())
	if !ok {
		left.Retain()
		right.Retain()
		return left, right, nil
	}

	newLeft, err := castTo(ctx, left, target)
	if err != nil {
		return nil, nil, fmt.Errorf("coerce left to %s: %w", target, err)
	}
	newRight, err := castTo(ctx, right, target)
	if err != nil {
		newLeft.Release()
		return nil, nil, fmt.Errorf("coerce right to %s: %w", target, err)
	}
	return newLeft, newRight, nil
}

// numericRank orders the numeric types by width. Unsigned types share a
// rank with the next wider signed type so mixing them yields a signed type.
var numericRank = map[arrow.Type]int{
	arrow.INT8:    1,
	arrow.UINT8:   2,
	arrow.INT16:   2,
	arrow.UINT16:  3,
	arrow.INT32:   3,
	arrow.UINT32:  4,
	arrow.INT64:   4,
	arrow.UINT64:  4,
	arrow.FLOAT32: 5,
	arrow.FLOAT64: 6,
}

var rankType = map[int]arrow.DataType{
	1: arrow.PrimitiveTypes.Int8,
	2: arrow.PrimitiveTypes.Int16,
	3: arrow.PrimitiveTypes.Int32,
	4: arrow.PrimitiveTypes.Int64,
	5: arrow.PrimitiveTypes.Float64,
	6: arrow.PrimitiveTypes.Float64,
}

// promoteType returns the common type of a and b, or false when no numeric
// promotion applies.
func promoteType(a, b arrow.DataType) (arrow.DataType, bool) {
	if arrow.TypeEqual(a, b) {
		return nil, false
	}
	if a.ID() == arrow.NULL {
		return b, true
	}
	if b.ID() == arrow.NULL {
		return a, true
	}
	ra, okA := numericRank[a.ID()]
	rb, okB := numericRank[b.ID()]
	if !okA || !okB {
		return nil, false
	}
	return rankType[max(ra, rb)], true
}

func castTo(ctx context.Context, arr arrow.Array, target arrow.DataType) (arrow.Array, error) {
	if arrow.TypeEqual(arr.DataType(), target) {
		arr.Retain()
		return arr, nil
	}
	return compute.CastArray(ctx, arr, compute.SafeCastOptions(target))
}
