// Package port implements the single-slot directed link between two
// processors. The producer owns an OutputPort, the consumer an InputPort;
// both share one state holding at most one undelivered chunk.
//
// Ports carry no locks: the executor serialises visits so that a producer
// push and a consumer pull never run concurrently on the same pair.
package port

import (
	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

type state struct {
	data     *chunk.Chunk
	hasData  bool
	needed   bool
	finished bool
	closed   bool
	version  uint64
}

func (s *state) touch() { s.version++ }

// InputPort is the consumer side of a link.
type InputPort struct {
	header *chunk.Header
	st     *state
	owner  any
}

// OutputPort is the producer side of a link.
type OutputPort struct {
	header *chunk.Header
	st     *state
	owner  any
}

// NewInputPort creates an unconnected input port. owner identifies the
// processor the port belongs to and is used only for diagnostics.
func NewInputPort(header *chunk.Header, owner any) *InputPort {
	return &InputPort{header: header, owner: owner}
}

// NewOutputPort creates an unconnected output port.
func NewOutputPort(header *chunk.Header, owner any) *OutputPort {
	return &OutputPort{header: header, owner: owner}
}

// Connect links out to in. Both ports must be unconnected.
func Connect(out *OutputPort, in *InputPort) {
	if out.st != nil || in.st != nil {
		panic("port: already connected")
	}
	st := &state{}
	out.st = st
	in.st = st
}

// Header returns the header of the chunks carried by the port.
func (p *InputPort) Header() *chunk.Header { return p.header }

// Owner returns the processor that owns the port.
func (p *InputPort) Owner() any { return p.owner }

// IsConnected reports whether Connect was called.
func (p *InputPort) IsConnected() bool { return p.st != nil }

// Version changes every time the shared state is mutated.
func (p *InputPort) Version() uint64 { return p.st.version }

// HasData reports whether a chunk is waiting in the slot.
func (p *InputPort) HasData() bool { return p.st.hasData }

// IsFinished reports whether no chunk will ever be delivered again: the
// producer finished and the slot is drained, or the consumer closed.
func (p *InputPort) IsFinished() bool {
	return p.st.closed || (p.st.finished && !p.st.hasData)
}

// SetNeeded grants the producer permission to push.
func (p *InputPort) SetNeeded() {
	if p.st.closed || p.st.needed {
		return
	}
	p.st.needed = true
	p.st.touch()
}

// SetNotNeeded withdraws the permission to push.
func (p *InputPort) SetNotNeeded() {
	if !p.st.needed {
		return
	}
	p.st.needed = false
	p.st.touch()
}

// IsNeeded reports whether the consumer currently asks for data.
func (p *InputPort) IsNeeded() bool { return p.st.needed }

// Pull takes the waiting chunk out of the slot. With setNotNeeded the
// consumer also withdraws its pull permission, so the producer will not
// prepare more data until SetNeeded is called again. The result may be nil
// when the producer pushed an empty chunk.
func (p *InputPort) Pull(setNotNeeded bool) *chunk.Chunk {
	if !p.st.hasData {
		panic("port: pull from empty port")
	}
	c := p.st.data
	p.st.data = nil
	p.st.hasData = false
	if setNotNeeded {
		p.st.needed = false
	}
	p.st.touch()
	return c
}

// Close tells the producer that nothing more will be read. A chunk still in
// the slot is released.
func (p *InputPort) Close() {
	if p.st.closed {
		return
	}
	if p.st.hasData {
		p.st.data.Release()
		p.st.data = nil
		p.st.hasData = false
	}
	p.st.closed = true
	p.st.needed = false
	p.st.touch()
}

// Header returns the header of the chunks carried by the port.
func (p *OutputPort) Header() *chunk.Header { return p.header }

// Owner returns the processor that owns the port.
func (p *OutputPort) Owner() any { return p.owner }

// IsConnected reports whether Connect was called.
func (p *OutputPort) IsConnected() bool { return p.st != nil }

// Version changes every time the shared state is mutated.
func (p *OutputPort) Version() uint64 { return p.st.version }

// CanPush reports whether the consumer wants data and the slot is free.
func (p *OutputPort) CanPush() bool {
	return p.st.needed && !p.st.hasData && !p.st.finished && !p.st.closed
}

// IsNeeded reports whether the consumer currently asks for data.
func (p *OutputPort) IsNeeded() bool { return p.st.needed }

// IsFinished reports whether the producer finished or the consumer closed.
func (p *OutputPort) IsFinished() bool { return p.st.finished || p.st.closed }

// HasData reports whether a pushed chunk has not been pulled yet.
func (p *OutputPort) HasData() bool { return p.st.hasData }

// Push places c into the slot. Pushing into an occupied slot is a contract
// violation by the producer. A push after the consumer closed releases c.
func (p *OutputPort) Push(c *chunk.Chunk) {
	if p.st.hasData {
		panic("port: push into occupied port")
	}
	if p.st.closed {
		c.Release()
		return
	}
	p.st.data = c
	p.st.hasData = true
	p.st.touch()
}

// Finish marks that no further chunk will be pushed. A chunk already in the
// slot is still delivered.
func (p *OutputPort) Finish() {
	if p.st.finished {
		return
	}
	p.st.finished = true
	p.st.touch()
}
