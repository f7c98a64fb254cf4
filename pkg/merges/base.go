// Package merges implements processors that multiplex several sorted input
// streams into one output stream. Base is the shared non-blocking state
// machine; Transform couples it with an Algorithm that does the row merging.
package merges

import (
	"fmt"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// State is the bookkeeping shared between Base.Prepare and the merge step.
type State struct {
	// OutputChunk is pushed as soon as the output port accepts it.
	OutputChunk *chunk.Chunk

	// InitChunks holds the first chunk of every input, nil for inputs that
	// finished without data. Consumed by the first merge step.
	InitChunks []*chunk.Chunk

	// InputChunk is the chunk pulled for NextInputToRead.
	InputChunk *chunk.Chunk
	HasInput   bool

	// IsFinished is set by the merge step once the merged stream is complete.
	IsFinished bool

	// NeedData asks Prepare to pull from NextInputToRead.
	NeedData        bool
	NextInputToRead int
}

type inputState struct {
	port        *port.InputPort
	initialized bool
}

// Base owns N input ports and one output port and implements Prepare for a
// merging processor.
type Base struct {
	name   string
	header *chunk.Header
	inputs []*port.InputPort
	output *port.OutputPort

	inputStates   []inputState
	haveAllInputs bool
	isInitialized bool
	limitHint     uint64

	state State

	// OnNewInput is called after AddInput registered a port. A nil hook
	// means the processor does not support inputs added after construction.
	OnNewInput func(in *port.InputPort) error

	// OnFinish is called once when Prepare reports Finished.
	OnFinish func()
}

// NewBase creates the state machine with numInputs inputs of inputHeader and
// one output of outputHeader. With haveAllInputs false more inputs may be
// registered with AddInput until SetHaveAllInputs is called. A nonzero
// limitHint tells the state machine that only that many rows are likely to
// be needed from each input.
func NewBase(name string, numInputs int, inputHeader, outputHeader *chunk.Header, haveAllInputs bool, limitHint uint64) *Base {
	b := &Base{
		name:          name,
		header:        inputHeader,
		haveAllInputs: haveAllInputs,
		limitHint:     limitHint,
	}
	b.inputs = make([]*port.InputPort, numInputs)
	for i := range b.inputs {
		b.inputs[i] = port.NewInputPort(inputHeader, b)
	}
	b.output = port.NewOutputPort(outputHeader, b)
	return b
}

func (b *Base) Name() string                   { return b.name }
func (b *Base) Inputs() []*port.InputPort      { return b.inputs }
func (b *Base) Outputs() []*port.OutputPort    { return []*port.OutputPort{b.output} }
func (b *Base) Output() *port.OutputPort       { return b.output }
func (b *Base) State() *State                  { return &b.state }
func (b *Base) LimitHint() uint64              { return b.limitHint }
func (b *Base) InputHeader() *chunk.Header     { return b.header }
func (b *Base) Input(i int) *port.InputPort    { return b.inputs[i] }
func (b *Base) NumInputs() int                 { return len(b.inputs) }
func (b *Base) IsInitialized() bool            { return b.isInitialized }
func (b *Base) HaveAllInputs() bool            { return b.haveAllInputs }

// AddInput registers one more input port. It fails with ErrLogical once the
// input set is complete and with ErrNotImplemented when OnNewInput is nil.
func (b *Base) AddInput() (*port.InputPort, error) {
	if b.haveAllInputs {
		return nil, fmt.Errorf("%s: %w: merging transform already has all inputs", b.name, processor.ErrLogical)
	}
	if b.OnNewInput == nil {
		return nil, fmt.Errorf("%s: %w: adding inputs after construction", b.name, processor.ErrNotImplemented)
	}
	in := port.NewInputPort(b.header, b)
	b.inputs = append(b.inputs, in)
	if err := b.OnNewInput(in); err != nil {
		b.inputs = b.inputs[:len(b.inputs)-1]
		return nil, err
	}
	return in, nil
}

// SetHaveAllInputs declares the input set complete.
func (b *Base) SetHaveAllInputs() error {
	if b.haveAllInputs {
		return fmt.Errorf("%s: %w: merging transform already has all inputs", b.name, processor.ErrLogical)
	}
	b.haveAllInputs = true
	return nil
}

func (b *Base) finish() {
	if b.OnFinish != nil {
		b.OnFinish()
	}
}

func (b *Base) closeInputs() {
	for _, in := range b.inputs {
		in.Close()
	}
}

// Prepare implements processor.Processor.
func (b *Base) Prepare() processor.Status {
	if !b.haveAllInputs {
		return processor.NeedData
	}

	if len(b.inputs) == 0 {
		b.output.Finish()
		b.finish()
		return processor.Finished
	}

	if b.output.IsFinished() {
		b.closeInputs()
		b.finish()
		return processor.Finished
	}

	// Inputs stay enabled while the output is full so that upstream
	// processors keep running in parallel.
	isPortFull := !b.output.CanPush()

	if out := b.state.OutputChunk; out != nil && !isPortFull {
		b.state.OutputChunk = nil
		if out.HasRows() || out.HasInfo() {
			b.output.Push(out)
		} else {
			out.Release()
		}
	}

	if !b.isInitialized {
		return b.prepareInitializeInputs()
	}

	if b.state.IsFinished {
		if isPortFull {
			return processor.PortFull
		}
		b.closeInputs()
		b.output.Finish()
		b.finish()
		return processor.Finished
	}

	if b.state.NeedData {
		in := b.inputs[b.state.NextInputToRead]
		if !in.IsFinished() {
			in.SetNeeded()
			if !in.HasData() {
				return processor.NeedData
			}
			c := in.Pull(false)
			if !c.HasRows() && !in.IsFinished() {
				c.Release()
				return processor.NeedData
			}
			b.state.InputChunk = c
			b.state.HasInput = true
		}
		b.state.NeedData = false
	}

	if isPortFull {
		return processor.PortFull
	}
	return processor.Ready
}

func (b *Base) prepareInitializeInputs() processor.Status {
	if b.inputStates == nil {
		b.inputStates = make([]inputState, len(b.inputs))
		for i, in := range b.inputs {
			b.inputStates[i].port = in
		}
		b.state.InitChunks = make([]*chunk.Chunk, len(b.inputs))
	}

	allInputsHaveData := true
	for i, in := range b.inputs {
		if in.IsFinished() || b.inputStates[i].initialized {
			continue
		}

		in.SetNeeded()
		if !in.HasData() {
			allInputsHaveData = false
			continue
		}

		// With a limit hint the first chunk may already be enough, so the
		// input is not asked for more unless it came up short.
		c := in.Pull(b.limitHint != 0)
		if b.limitHint != 0 && uint64(c.NumRows()) < b.limitHint {
			in.SetNeeded()
		}

		if !c.HasRows() {
			c.Release()
			if !in.IsFinished() {
				in.SetNeeded()
				allInputsHaveData = false
			}
			continue
		}

		b.state.InitChunks[i] = c
		b.inputStates[i].initialized = true
	}

	if !allInputsHaveData {
		return processor.NeedData
	}

	b.isInitialized = true
	return processor.Ready
}

// Close releases chunks still buffered by the state machine.
func (b *Base) Close() error {
	b.state.OutputChunk.Release()
	b.state.OutputChunk = nil
	b.state.InputChunk.Release()
	b.state.InputChunk = nil
	for i, c := range b.state.InitChunks {
		c.Release()
		b.state.InitChunks[i] = nil
	}
	return nil
}
