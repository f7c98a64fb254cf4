package processor

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Metrics tracks per-instance processor counters. Each processor instance
// owns its own Metrics; parallel copies of one processor never share one.
type Metrics struct {
	ChunksIn  atomic.Int64
	ChunksOut atomic.Int64
	RowsIn    atomic.Int64
	RowsOut   atomic.Int64
	Errors    atomic.Int64
}

// Context provides the execution environment for a processor.
type Context struct {
	// Go context of the enclosing query.
	Ctx context.Context

	// Logger scoped to this processor.
	Logger *slog.Logger

	// Metrics for this processor instance.
	Metrics *Metrics

	// Alloc is the Arrow memory allocator to use for output chunks.
	Alloc memory.Allocator

	// ProcessorID is the unique identifier of this processor in the pipeline.
	ProcessorID string

	// ProcessorName is the human-readable name of this processor.
	ProcessorName string

	// Parallelism is the total number of parallel copies of this processor.
	Parallelism int

	// InstanceIndex is the index of this copy (0-based).
	InstanceIndex int
}

// NewContext creates a new processor context with defaults.
func NewContext(ctx context.Context, alloc memory.Allocator, processorID, processorName string) *Context {
	return &Context{
		Ctx:           ctx,
		Logger:        slog.Default().With("processor", processorID, "name", processorName),
		Metrics:       &Metrics{},
		Alloc:         alloc,
		ProcessorID:   processorID,
		ProcessorName: processorName,
		Parallelism:   1,
	}
}

// Done returns the context's Done channel for shutdown signaling.
func (c *Context) Done() <-chan struct{} {
	return c.Ctx.Done()
}
