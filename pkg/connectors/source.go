// Package connectors implements source and sink processors that move data
// between Arrow record streams and chunk pipelines.
package connectors

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Producer yields the chunks of a source. Next returns a nil chunk once the
// source is exhausted.
type Producer interface {
	Next(ctx context.Context) (*chunk.Chunk, error)
}

// Source is a processor with one output that pushes whatever its Producer
// yields, one chunk per Work call.
type Source struct {
	name     string
	output   *port.OutputPort
	producer Producer

	current    *chunk.Chunk
	hasCurrent bool
	exhausted  bool

	ctx *processor.Context
}

// NewSource creates a source processor emitting chunks of header.
func NewSource(name string, header *chunk.Header, producer Producer) *Source {
	s := &Source{name: name, producer: producer}
	s.output = port.NewOutputPort(header, s)
	return s
}

func (s *Source) Name() string                { return s.name }
func (s *Source) Output() *port.OutputPort    { return s.output }
func (s *Source) Inputs() []*port.InputPort   { return nil }
func (s *Source) Outputs() []*port.OutputPort { return []*port.OutputPort{s.output} }

func (s *Source) Open(ctx *processor.Context) error {
	s.ctx = ctx
	if o, ok := s.producer.(interface{ Open(*processor.Context) error }); ok {
		return o.Open(ctx)
	}
	return nil
}

func (s *Source) Prepare() processor.Status {
	if s.output.IsFinished() {
		return processor.Finished
	}
	if s.hasCurrent {
		if !s.output.CanPush() {
			return processor.PortFull
		}
		s.output.Push(s.current)
		s.current, s.hasCurrent = nil, false
		return processor.PortFull
	}
	if s.exhausted {
		s.output.Finish()
		return processor.Finished
	}
	if !s.output.CanPush() {
		return processor.PortFull
	}
	return processor.Ready
}

func (s *Source) Work() error {
	ctx := context.Background()
	if s.ctx != nil && s.ctx.Ctx != nil {
		ctx = s.ctx.Ctx
	}
	c, err := s.producer.Next(ctx)
	if err != nil {
		if s.ctx != nil {
			s.ctx.Metrics.Errors.Add(1)
		}
		return fmt.Errorf("%s: %w", s.name, err)
	}
	if c == nil {
		s.exhausted = true
		return nil
	}
	if s.ctx != nil {
		s.ctx.Metrics.ChunksOut.Add(1)
		s.ctx.Metrics.RowsOut.Add(int64(c.NumRows()))
	}
	s.current, s.hasCurrent = c, true
	return nil
}

func (s *Source) Close() error {
	s.current.Release()
	s.current, s.hasCurrent = nil, false
	if cl, ok := s.producer.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

// RecordProducer adapts an Arrow record reader.
type RecordProducer struct {
	rdr array.RecordReader
}

// NewRecordProducer wraps rdr. The producer releases rdr on Close.
func NewRecordProducer(rdr array.RecordReader) *RecordProducer {
	return &RecordProducer{rdr: rdr}
}

func (p *RecordProducer) Next(ctx context.Context) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.rdr.Next() {
		return nil, p.rdr.Err()
	}
	return chunk.FromRecord(p.rdr.Record()), nil
}

func (p *RecordProducer) Close() error {
	p.rdr.Release()
	return nil
}

// NewRecordSource creates a source reading every record of rdr.
func NewRecordSource(name string, rdr array.RecordReader) *Source {
	return NewSource(name, chunk.NewHeader(rdr.Schema()), NewRecordProducer(rdr))
}

// ChunkProducer replays a fixed list of chunks. Ownership of the chunks
// passes to the producer.
type ChunkProducer struct {
	chunks []*chunk.Chunk
}

func NewChunkProducer(chunks ...*chunk.Chunk) *ChunkProducer {
	return &ChunkProducer{chunks: chunks}
}

func (p *ChunkProducer) Next(context.Context) (*chunk.Chunk, error) {
	if len(p.chunks) == 0 {
		return nil, nil
	}
	c := p.chunks[0]
	p.chunks[0] = nil
	p.chunks = p.chunks[1:]
	return c, nil
}

// Close releases the chunks that were never emitted.
func (p *ChunkProducer) Close() error {
	for _, c := range p.chunks {
		c.Release()
	}
	p.chunks = nil
	return nil
}

// NewChunkSource creates a source emitting chunks in order.
func NewChunkSource(name string, header *chunk.Header, chunks ...*chunk.Chunk) *Source {
	return NewSource(name, header, NewChunkProducer(chunks...))
}
