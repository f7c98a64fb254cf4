// Package processor defines the contract between dataflow processors and the
// executor that drives them. A processor never blocks: Prepare inspects its
// ports and returns a Status telling the executor what to do next, and Work
// performs the synchronous computation once Prepare has returned Ready.
package processor

import (
	"github.com/sandboxws/isotope/execcore/pkg/port"
)

// Status is the result of Prepare.
type Status int

const (
	// NeedData means an input lacks a ready chunk. Call Prepare again after
	// an upstream push.
	NeedData Status = iota
	// PortFull means the output cannot accept a push. Call Prepare again
	// after the downstream pulled.
	PortFull
	// Ready means Work should run next.
	Ready
	// Finished is terminal: the processor will produce nothing more.
	Finished
)

func (s Status) String() string {
	switch s {
	case NeedData:
		return "NeedData"
	case PortFull:
		return "PortFull"
	case Ready:
		return "Ready"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Processor is a dataflow actor.
// The lifecycle is: Open -> (Prepare [Work])* -> Close.
type Processor interface {
	// Name is a human-readable processor name used in logs and metrics.
	Name() string

	// Open initializes the processor. Called once before the first Prepare.
	Open(ctx *Context) error

	// Prepare moves data across the ports and reports what should happen
	// next. It must not block or perform I/O.
	Prepare() Status

	// Work runs the synchronous step. Called only after Prepare returned
	// Ready. An error aborts the whole pipeline.
	Work() error

	// Close releases resources. Called once during teardown.
	Close() error

	Inputs() []*port.InputPort
	Outputs() []*port.OutputPort
}
