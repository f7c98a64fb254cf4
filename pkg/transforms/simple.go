// Package transforms implements single-input, single-output processors:
// the Simple shell that moves one chunk at a time through a Transformer,
// sorted DISTINCT and expression projection.
package transforms

import (
	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// Transformer rewrites one chunk in place.
type Transformer interface {
	Transform(c *chunk.Chunk) error
}

// Simple is the Prepare/Work shell of a one-in, one-out processor. It pulls
// one chunk, lets the Transformer rewrite it and pushes the result.
type Simple struct {
	name   string
	input  *port.InputPort
	output *port.OutputPort
	impl   Transformer

	inputData  *chunk.Chunk
	outputData *chunk.Chunk
	hasInput   bool
	hasOutput  bool

	noMoreDataNeeded bool
	skipEmptyChunks  bool
	// setInputNotNeededAfterRead withdraws the pull permission after every
	// pulled chunk, so upstream does not prepare data ahead of time.
	setInputNotNeededAfterRead bool

	ctx *processor.Context
}

// NewSimple creates the shell. With skipEmptyChunks, transformed chunks
// without rows are dropped instead of pushed.
func NewSimple(name string, inputHeader, outputHeader *chunk.Header, impl Transformer, skipEmptyChunks bool) *Simple {
	s := &Simple{name: name, impl: impl, skipEmptyChunks: skipEmptyChunks}
	s.input = port.NewInputPort(inputHeader, s)
	s.output = port.NewOutputPort(outputHeader, s)
	return s
}

func (s *Simple) Name() string                { return s.name }
func (s *Simple) Input() *port.InputPort      { return s.input }
func (s *Simple) Output() *port.OutputPort    { return s.output }
func (s *Simple) Inputs() []*port.InputPort   { return []*port.InputPort{s.input} }
func (s *Simple) Outputs() []*port.OutputPort { return []*port.OutputPort{s.output} }

// Context returns the context passed to Open, or nil before Open.
func (s *Simple) Context() *processor.Context { return s.ctx }

func (s *Simple) Open(ctx *processor.Context) error {
	s.ctx = ctx
	return nil
}

// StopReading tells the shell that no more input is needed. The buffered
// output is still delivered, then the processor finishes.
func (s *Simple) StopReading() { s.noMoreDataNeeded = true }

// Stopped reports whether StopReading was called.
func (s *Simple) Stopped() bool { return s.noMoreDataNeeded }

func (s *Simple) Prepare() processor.Status {
	if s.output.IsFinished() {
		s.input.Close()
		return processor.Finished
	}

	if !s.output.CanPush() {
		s.input.SetNotNeeded()
		return processor.PortFull
	}

	if s.hasOutput {
		s.output.Push(s.outputData)
		s.outputData = nil
		s.hasOutput = false
		if !s.noMoreDataNeeded {
			return processor.PortFull
		}
	}

	if s.hasInput {
		return processor.Ready
	}

	if s.noMoreDataNeeded {
		s.output.Finish()
		s.input.Close()
		return processor.Finished
	}

	if s.input.IsFinished() {
		s.output.Finish()
		return processor.Finished
	}

	s.input.SetNeeded()
	if !s.input.HasData() {
		return processor.NeedData
	}

	s.inputData = s.input.Pull(s.setInputNotNeededAfterRead)
	if s.inputData == nil {
		return processor.NeedData
	}
	s.hasInput = true
	return processor.Ready
}

func (s *Simple) Work() error {
	c := s.inputData
	s.inputData = nil
	s.hasInput = false

	if s.ctx != nil {
		s.ctx.Metrics.ChunksIn.Add(1)
		s.ctx.Metrics.RowsIn.Add(int64(c.NumRows()))
	}

	if err := s.impl.Transform(c); err != nil {
		c.Release()
		if s.ctx != nil {
			s.ctx.Metrics.Errors.Add(1)
		}
		return err
	}

	if s.skipEmptyChunks && !c.HasRows() && !c.HasInfo() {
		c.Release()
		return nil
	}

	if s.ctx != nil {
		s.ctx.Metrics.ChunksOut.Add(1)
		s.ctx.Metrics.RowsOut.Add(int64(c.NumRows()))
	}
	s.outputData = c
	s.hasOutput = true
	return nil
}

// Close releases chunks still buffered by the shell.
func (s *Simple) Close() error {
	s.inputData.Release()
	s.inputData = nil
	s.outputData.Release()
	s.outputData = nil
	s.hasInput, s.hasOutput = false, false
	return nil
}
