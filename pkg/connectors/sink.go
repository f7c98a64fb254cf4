package connectors

import (
	"fmt"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Consumer receives the chunks arriving at a Sink. Flush is called once
// after the last chunk.
type Consumer interface {
	Consume(h *chunk.Header, c *chunk.Chunk) error
	Flush() error
}

// Sink is a processor with one input that hands every chunk to a Consumer.
// The consumer borrows each chunk; the sink releases it afterwards.
type Sink struct {
	name     string
	input    *port.InputPort
	consumer Consumer

	current  *chunk.Chunk
	hasInput bool
	flushed  bool

	ctx *processor.Context
}

// NewSink creates a sink reading chunks of header.
func NewSink(name string, header *chunk.Header, consumer Consumer) *Sink {
	s := &Sink{name: name, consumer: consumer}
	s.input = port.NewInputPort(header, s)
	return s
}

func (s *Sink) Name() string                { return s.name }
func (s *Sink) Input() *port.InputPort      { return s.input }
func (s *Sink) Inputs() []*port.InputPort   { return []*port.InputPort{s.input} }
func (s *Sink) Outputs() []*port.OutputPort { return nil }

func (s *Sink) Open(ctx *processor.Context) error {
	s.ctx = ctx
	if o, ok := s.consumer.(interface{ Open(*processor.Context) error }); ok {
		return o.Open(ctx)
	}
	return nil
}

func (s *Sink) Prepare() processor.Status {
	if s.hasInput {
		return processor.Ready
	}
	if s.input.IsFinished() {
		if !s.flushed {
			return processor.Ready
		}
		return processor.Finished
	}
	s.input.SetNeeded()
	if !s.input.HasData() {
		return processor.NeedData
	}
	s.current = s.input.Pull(false)
	s.hasInput = true
	return processor.Ready
}

func (s *Sink) Work() error {
	if !s.hasInput {
		s.flushed = true
		if err := s.consumer.Flush(); err != nil {
			return fmt.Errorf("%s: flush: %w", s.name, err)
		}
		return nil
	}

	c := s.current
	s.current, s.hasInput = nil, false
	defer c.Release()

	if s.ctx != nil {
		s.ctx.Metrics.ChunksIn.Add(1)
		s.ctx.Metrics.RowsIn.Add(int64(c.NumRows()))
	}
	if err := s.consumer.Consume(s.input.Header(), c); err != nil {
		if s.ctx != nil {
			s.ctx.Metrics.Errors.Add(1)
		}
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.current.Release()
	s.current, s.hasInput = nil, false
	if cl, ok := s.consumer.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
