// Package chunk defines the columnar batch that flows between processors:
// a Header describing the columns, the Column vectors themselves and the
// Chunk that groups them with a shared row count.
package chunk

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Header describes the columns of every chunk crossing a port. Besides the
// Arrow schema it records which columns are known to be constant for the
// whole stream.
type Header struct {
	schema *arrow.Schema
	consts []bool
}

// NewHeader creates a header over schema. Columns named in constColumns are
// flagged constant; unknown names are ignored.
func NewHeader(schema *arrow.Schema, constColumns ...string) *Header {
	h := &Header{schema: schema, consts: make([]bool, schema.NumFields())}
	for _, name := range constColumns {
		for _, idx := range schema.FieldIndices(name) {
			h.consts[idx] = true
		}
	}
	return h
}

// Schema returns the Arrow schema of the header.
func (h *Header) Schema() *arrow.Schema { return h.schema }

// NumColumns returns the number of columns.
func (h *Header) NumColumns() int { return h.schema.NumFields() }

// Field returns the i-th field.
func (h *Header) Field(i int) arrow.Field { return h.schema.Field(i) }

// IsConst reports whether column i is constant for the whole stream.
func (h *Header) IsConst(i int) bool { return h.consts[i] }

// Position returns the index of the named column.
func (h *Header) Position(name string) (int, error) {
	indices := h.schema.FieldIndices(name)
	if len(indices) == 0 {
		return -1, fmt.Errorf("column %q not found in header", name)
	}
	return indices[0], nil
}

// Names returns the column names in order.
func (h *Header) Names() []string {
	names := make([]string, h.schema.NumFields())
	for i := range names {
		names[i] = h.schema.Field(i).Name
	}
	return names
}
