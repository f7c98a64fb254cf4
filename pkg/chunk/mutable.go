package chunk

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MutableColumn accumulates row ranges taken from other columns and turns
// them into a fresh Column. Ranges are held as zero-copy slices until
// Finish copies them into newly allocated buffers.
type MutableColumn struct {
	dt     arrow.DataType
	pieces []arrow.Array
	n      int
}

// NewMutableColumn returns an empty mutable column of type dt.
func NewMutableColumn(dt arrow.DataType) *MutableColumn {
	return &MutableColumn{dt: dt}
}

// Len returns the number of rows inserted so far.
func (m *MutableColumn) Len() int { return m.n }

// InsertFrom appends row of src.
func (m *MutableColumn) InsertFrom(src Column, row int) {
	m.InsertRangeFrom(src, row, 1)
}

// InsertRangeFrom appends n rows of src starting at start.
func (m *MutableColumn) InsertRangeFrom(src Column, start, n int) {
	if n <= 0 {
		return
	}
	values := src.Values()
	if src.IsConst() {
		idx := int64(src.ValueIndex(start))
		for i := 0; i < n; i++ {
			m.pieces = append(m.pieces, array.NewSlice(values, idx, idx+1))
		}
	} else {
		m.pieces = append(m.pieces, array.NewSlice(values, int64(start), int64(start+n)))
	}
	m.n += n
}

// Finish copies the accumulated rows into a new column and resets m.
func (m *MutableColumn) Finish(alloc memory.Allocator) (Column, error) {
	defer m.Release()
	if len(m.pieces) == 0 {
		return NewArrowColumn(array.MakeArrayOfNull(alloc, m.dt, 0)), nil
	}
	arr, err := array.Concatenate(m.pieces, alloc)
	if err != nil {
		return nil, fmt.Errorf("finish %s column: %w", m.dt, err)
	}
	return NewArrowColumn(arr), nil
}

// Release drops every accumulated range.
func (m *MutableColumn) Release() {
	for _, p := range m.pieces {
		p.Release()
	}
	m.pieces = nil
	m.n = 0
}
