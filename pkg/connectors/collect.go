package connectors

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Collector keeps every chunk it receives as an Arrow record. It is mostly
// useful in tests.
type Collector struct {
	mu      sync.Mutex
	alloc   memory.Allocator
	records []arrow.Record
	rows    int64
	flushed bool
}

func NewCollector() *Collector {
	return &Collector{alloc: memory.DefaultAllocator}
}

func (c *Collector) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		c.alloc = ctx.Alloc
	}
	return nil
}

func (c *Collector) Consume(h *chunk.Header, ch *chunk.Chunk) error {
	rec, err := chunk.ToRecord(c.alloc, h, ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	c.rows += rec.NumRows()
	return nil
}

func (c *Collector) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = true
	return nil
}

// Records returns the collected records. They stay owned by the collector.
func (c *Collector) Records() []arrow.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records
}

// Rows returns the number of collected rows.
func (c *Collector) Rows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Flushed reports whether the end of the stream was reached.
func (c *Collector) Flushed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushed
}

// Release drops the collected records.
func (c *Collector) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		r.Release()
	}
	c.records = nil
	c.rows = 0
}

// NewCollectSink creates a sink that collects into col.
func NewCollectSink(name string, header *chunk.Header, col *Collector) *Sink {
	return NewSink(name, header, col)
}
