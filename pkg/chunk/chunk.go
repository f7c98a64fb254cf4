package chunk

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Info is an opaque side payload that travels with a chunk independently of
// its column data.
type Info any

// Chunk is a batch of columns sharing one row count. Once pushed into a port
// a chunk belongs to whichever side currently holds it; that side must
// Release it or hand it on.
type Chunk struct {
	columns []Column
	numRows int
	info    Info
}

// New creates a chunk over columns. The chunk takes over the callers'
// references to the columns.
func New(columns []Column, numRows int) *Chunk {
	return &Chunk{columns: columns, numRows: numRows}
}

// NumRows returns the row count. A nil chunk has zero rows.
func (c *Chunk) NumRows() int {
	if c == nil {
		return 0
	}
	return c.numRows
}

// HasRows reports whether the chunk holds at least one row.
func (c *Chunk) HasRows() bool { return c.NumRows() > 0 }

// NumColumns returns the number of columns.
func (c *Chunk) NumColumns() int { return len(c.columns) }

// Columns returns the columns without transferring ownership.
func (c *Chunk) Columns() []Column { return c.columns }

// Column returns the i-th column without transferring ownership.
func (c *Chunk) Column(i int) Column { return c.columns[i] }

// DetachColumns removes and returns the columns; the chunk is left empty and
// the caller owns the returned references.
func (c *Chunk) DetachColumns() []Column {
	cols := c.columns
	c.columns = nil
	c.numRows = 0
	return cols
}

// SetColumns replaces the columns and row count. The chunk takes over the
// references in cols.
func (c *Chunk) SetColumns(cols []Column, numRows int) {
	c.columns = cols
	c.numRows = numRows
}

// Info returns the side payload, or nil.
func (c *Chunk) Info() Info {
	if c == nil {
		return nil
	}
	return c.info
}

// SetInfo attaches a side payload.
func (c *Chunk) SetInfo(info Info) { c.info = info }

// HasInfo reports whether a side payload is attached.
func (c *Chunk) HasInfo() bool { return c.Info() != nil }

// Release drops the chunk's references to its columns.
func (c *Chunk) Release() {
	if c == nil {
		return
	}
	for _, col := range c.columns {
		col.Release()
	}
	c.columns = nil
	c.numRows = 0
}

// FromRecord wraps the columns of rec in a chunk. Each column is retained, so
// the caller keeps its own reference to rec.
func FromRecord(rec arrow.Record) *Chunk {
	cols := make([]Column, rec.NumCols())
	for i := range cols {
		arr := rec.Column(i)
		arr.Retain()
		cols[i] = NewArrowColumn(arr)
	}
	return New(cols, int(rec.NumRows()))
}

// ToRecord builds an Arrow record from the chunk using the schema of h.
// Constant columns are materialised. The caller must release the result.
func ToRecord(alloc memory.Allocator, h *Header, c *Chunk) (arrow.Record, error) {
	if c.NumColumns() != h.NumColumns() {
		return nil, fmt.Errorf("chunk has %d columns, header %d", c.NumColumns(), h.NumColumns())
	}
	arrays := make([]arrow.Array, c.NumColumns())
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()
	for i, col := range c.columns {
		if cc, ok := col.(*ConstColumn); ok {
			arr, err := cc.Materialize(alloc)
			if err != nil {
				return nil, err
			}
			arrays[i] = arr
			continue
		}
		arr := col.Values()
		arr.Retain()
		arrays[i] = arr
	}
	return array.NewRecord(h.Schema(), arrays, int64(c.numRows)), nil
}
