package chunk

import (
	"bytes"
	"cmp"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

type valuer[T cmp.Ordered] interface {
	Value(int) T
}

func compareTyped[T cmp.Ordered, A valuer[T]](x A, i int, other arrow.Array, j int) (int, bool) {
	y, ok := other.(A)
	if !ok {
		return 0, false
	}
	return cmp.Compare(x.Value(i), y.Value(j)), true
}

// compareValues orders a[i] against b[j]. Arrays of different physical types
// fall back to comparing their string renderings.
func compareValues(a arrow.Array, i int, b arrow.Array, j int, nullsDirection int) int {
	aNull, bNull := a.IsNull(i), b.IsNull(j)
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return nullsDirection
	case bNull:
		return -nullsDirection
	}

	var (
		res int
		ok  bool
	)
	switch x := a.(type) {
	case *array.Int8:
		res, ok = compareTyped[int8](x, i, b, j)
	case *array.Int16:
		res, ok = compareTyped[int16](x, i, b, j)
	case *array.Int32:
		res, ok = compareTyped[int32](x, i, b, j)
	case *array.Int64:
		res, ok = compareTyped[int64](x, i, b, j)
	case *array.Uint8:
		res, ok = compareTyped[uint8](x, i, b, j)
	case *array.Uint16:
		res, ok = compareTyped[uint16](x, i, b, j)
	case *array.Uint32:
		res, ok = compareTyped[uint32](x, i, b, j)
	case *array.Uint64:
		res, ok = compareTyped[uint64](x, i, b, j)
	case *array.Float32:
		res, ok = compareTyped[float32](x, i, b, j)
	case *array.Float64:
		res, ok = compareTyped[float64](x, i, b, j)
	case *array.String:
		res, ok = compareTyped[string](x, i, b, j)
	case *array.LargeString:
		res, ok = compareTyped[string](x, i, b, j)
	case *array.Date32:
		res, ok = compareTyped[arrow.Date32](x, i, b, j)
	case *array.Date64:
		res, ok = compareTyped[arrow.Date64](x, i, b, j)
	case *array.Time32:
		res, ok = compareTyped[arrow.Time32](x, i, b, j)
	case *array.Time64:
		res, ok = compareTyped[arrow.Time64](x, i, b, j)
	case *array.Timestamp:
		res, ok = compareTyped[arrow.Timestamp](x, i, b, j)
	case *array.Duration:
		res, ok = compareTyped[arrow.Duration](x, i, b, j)
	case *array.Boolean:
		if y, isBool := b.(*array.Boolean); isBool {
			res, ok = compareBool(x.Value(i), y.Value(j)), true
		}
	case *array.Binary:
		if y, isBin := b.(*array.Binary); isBin {
			res, ok = bytes.Compare(x.Value(i), y.Value(j)), true
		}
	case *array.LargeBinary:
		if y, isBin := b.(*array.LargeBinary); isBin {
			res, ok = bytes.Compare(x.Value(i), y.Value(j)), true
		}
	}
	if ok {
		return res
	}
	return strings.Compare(a.ValueStr(i), b.ValueStr(j))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
