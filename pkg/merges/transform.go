package merges

import (
	"fmt"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// MergeStatus is the result of one Algorithm.Merge call.
type MergeStatus struct {
	// Chunk is a merged output chunk, or nil.
	Chunk *chunk.Chunk
	// RequiredSource is the input that must deliver its next chunk before
	// merging can continue, or -1.
	RequiredSource int
	// Finished reports that the merged stream is complete.
	Finished bool
}

// NeedSource returns a status asking for the next chunk of source.
func NeedSource(source int) MergeStatus {
	return MergeStatus{RequiredSource: source}
}

// Emit returns a status carrying c.
func Emit(c *chunk.Chunk, finished bool) MergeStatus {
	return MergeStatus{Chunk: c, RequiredSource: -1, Finished: finished}
}

// Algorithm is the row-merging logic plugged into Transform.
type Algorithm interface {
	// Initialize receives the first chunk of every input; nil marks an
	// input that finished without data. The algorithm owns the chunks.
	Initialize(inputs []*chunk.Chunk) error
	// Consume receives the next chunk of source. c may be nil or empty
	// when the source finished.
	Consume(c *chunk.Chunk, source int) error
	Merge() (MergeStatus, error)
	// Release drops every chunk the algorithm still holds.
	Release()
}

// Transform is a merging processor driven by an Algorithm.
type Transform struct {
	*Base
	algorithm Algorithm
	ctx       *processor.Context
}

// NewTransform creates a merging processor around algorithm.
func NewTransform(base *Base, algorithm Algorithm) *Transform {
	return &Transform{Base: base, algorithm: algorithm}
}

// Algorithm returns the wrapped algorithm.
func (t *Transform) Algorithm() Algorithm { return t.algorithm }

func (t *Transform) Open(ctx *processor.Context) error {
	t.ctx = ctx
	return nil
}

// Work feeds pending chunks to the algorithm and runs one merge step.
func (t *Transform) Work() error {
	st := t.State()

	if st.InitChunks != nil {
		chunks := st.InitChunks
		st.InitChunks = nil
		for _, c := range chunks {
			t.countIn(c)
		}
		if err := t.algorithm.Initialize(chunks); err != nil {
			return fmt.Errorf("%s: initialize: %w", t.Name(), err)
		}
	}

	if st.HasInput {
		c, source := st.InputChunk, st.NextInputToRead
		st.InputChunk = nil
		st.HasInput = false
		t.countIn(c)
		if err := t.algorithm.Consume(c, source); err != nil {
			return fmt.Errorf("%s: consume input %d: %w", t.Name(), source, err)
		}
	}

	status, err := t.algorithm.Merge()
	if err != nil {
		return fmt.Errorf("%s: merge: %w", t.Name(), err)
	}

	if status.Chunk != nil {
		st.OutputChunk.Release()
		st.OutputChunk = status.Chunk
		if t.ctx != nil {
			t.ctx.Metrics.ChunksOut.Add(1)
			t.ctx.Metrics.RowsOut.Add(int64(status.Chunk.NumRows()))
		}
	}

	if status.RequiredSource >= 0 {
		st.NeedData = true
		st.NextInputToRead = status.RequiredSource
	}

	if status.Finished {
		st.IsFinished = true
	}
	return nil
}

func (t *Transform) countIn(c *chunk.Chunk) {
	if t.ctx == nil || c == nil {
		return
	}
	t.ctx.Metrics.ChunksIn.Add(1)
	t.ctx.Metrics.RowsIn.Add(int64(c.NumRows()))
}

// Close releases everything buffered by the state machine and the algorithm.
func (t *Transform) Close() error {
	t.algorithm.Release()
	return t.Base.Close()
}
