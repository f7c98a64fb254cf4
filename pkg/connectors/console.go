package connectors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

// Console prints chunks as formatted tables.
type Console struct {
	maxRows int
	writer  io.Writer
	count   int64
}

// NewConsole creates a Console consumer printing at most maxRows rows per
// chunk; zero prints every row.
func NewConsole(maxRows int) *Console {
	return &Console{maxRows: maxRows, writer: os.Stdout}
}

// SetWriter overrides the output writer (default: os.Stdout).
func (c *Console) SetWriter(w io.Writer) { c.writer = w }

// Count returns the number of rows seen.
func (c *Console) Count() int64 { return c.count }

func (c *Console) Consume(h *chunk.Header, ch *chunk.Chunk) error {
	numCols := h.NumColumns()
	total := ch.NumRows()
	numRows := total
	if c.maxRows > 0 && numRows > c.maxRows {
		numRows = c.maxRows
	}

	cells := make([][]string, numRows)
	widths := make([]int, numCols)
	for i := 0; i < numCols; i++ {
		widths[i] = len(h.Field(i).Name)
	}
	for row := 0; row < numRows; row++ {
		cells[row] = make([]string, numCols)
		for col := 0; col < numCols; col++ {
			column := ch.Column(col)
			val := formatValue(column.Values(), column.ValueIndex(row))
			cells[row][col] = val
			widths[col] = max(widths[col], len(val))
		}
	}

	c.printRow(h.Names(), widths)
	c.printSeparator(widths)
	for _, row := range cells {
		c.printRow(row, widths)
	}
	if total > numRows {
		fmt.Fprintf(c.writer, "... (%d more rows)\n", total-numRows)
	}
	fmt.Fprintln(c.writer)

	c.count += int64(total)
	return nil
}

func (c *Console) Flush() error {
	fmt.Fprintf(c.writer, "(%d rows)\n", c.count)
	return nil
}

func (c *Console) printRow(vals []string, widths []int) {
	var sb strings.Builder
	sb.WriteString("| ")
	for i, v := range vals {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(padRight(v, widths[i]))
	}
	sb.WriteString(" |")
	fmt.Fprintln(c.writer, sb.String())
}

func (c *Console) printSeparator(widths []int) {
	var sb strings.Builder
	sb.WriteString("|-")
	for i, w := range widths {
		if i > 0 {
			sb.WriteString("-|-")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("-|")
	fmt.Fprintln(c.writer, sb.String())
}

func formatValue(arr arrow.Array, row int) string {
	if arr.IsNull(row) {
		return "NULL"
	}
	switch a := arr.(type) {
	case *array.Float64:
		return fmt.Sprintf("%.4f", a.Value(row))
	case *array.Float32:
		return fmt.Sprintf("%.4f", a.Value(row))
	case *array.String:
		return a.Value(row)
	default:
		return arr.ValueStr(row)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// NewConsoleSink creates a sink printing to w.
func NewConsoleSink(name string, header *chunk.Header, maxRows int, w io.Writer) *Sink {
	c := NewConsole(maxRows)
	if w != nil {
		c.SetWriter(w)
	}
	return NewSink(name, header, c)
}
