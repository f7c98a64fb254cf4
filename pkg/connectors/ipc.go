package connectors

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// IPCWriter writes chunks to w in the Arrow IPC stream format.
type IPCWriter struct {
	w      io.Writer
	header *chunk.Header
	alloc  memory.Allocator
	writer *ipc.Writer
	rows   int64
}

// NewIPCWriter creates a writer for chunks of header. The stream is
// written even when no chunk arrives.
func NewIPCWriter(w io.Writer, header *chunk.Header) *IPCWriter {
	return &IPCWriter{w: w, header: header, alloc: memory.DefaultAllocator}
}

func (iw *IPCWriter) ensureWriter() {
	if iw.writer == nil {
		iw.writer = ipc.NewWriter(iw.w, ipc.WithSchema(iw.header.Schema()), ipc.WithAllocator(iw.alloc))
	}
}

func (iw *IPCWriter) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		iw.alloc = ctx.Alloc
	}
	return nil
}

func (iw *IPCWriter) Consume(h *chunk.Header, c *chunk.Chunk) error {
	iw.ensureWriter()
	rec, err := chunk.ToRecord(iw.alloc, h, c)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := iw.writer.Write(rec); err != nil {
		return fmt.Errorf("ipc write: %w", err)
	}
	iw.rows += rec.NumRows()
	return nil
}

// Flush writes the end-of-stream marker.
func (iw *IPCWriter) Flush() error {
	iw.ensureWriter()
	err := iw.writer.Close()
	iw.writer = nil
	return err
}

// Rows returns the number of rows written.
func (iw *IPCWriter) Rows() int64 { return iw.rows }

// NewIPCSink creates a sink writing an Arrow IPC stream to w.
func NewIPCSink(name string, header *chunk.Header, w io.Writer) *Sink {
	return NewSink(name, header, NewIPCWriter(w, header))
}

// NewIPCSource creates a source reading an Arrow IPC stream from r.
func NewIPCSource(name string, r io.Reader, alloc memory.Allocator) (*Source, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(alloc))
	if err != nil {
		return nil, fmt.Errorf("ipc reader: %w", err)
	}
	return NewRecordSource(name, rdr), nil
}
