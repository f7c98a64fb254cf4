package merges

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxws/isotope/execcore/pkg/arrow/helpers"
	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

func kHeader() *chunk.Header {
	return chunk.NewHeader(helpers.Int64Schema("k"))
}

// wire connects every input of b to a fresh upstream port and its output to
// a fresh downstream port.
func wire(b *Base) ([]*port.OutputPort, *port.InputPort) {
	ups := make([]*port.OutputPort, b.NumInputs())
	for i, in := range b.Inputs() {
		ups[i] = port.NewOutputPort(b.InputHeader(), nil)
		port.Connect(ups[i], in)
	}
	down := port.NewInputPort(b.Output().Header(), nil)
	port.Connect(b.Output(), down)
	return ups, down
}

func TestBaseZeroInputsFinishImmediately(t *testing.T) {
	b := NewBase("Merge", 0, kHeader(), kHeader(), true, 0)
	finished := 0
	b.OnFinish = func() { finished++ }
	_, down := wire(b)

	require.Equal(t, processor.Finished, b.Prepare())
	require.True(t, down.IsFinished())
	require.Equal(t, 1, finished)
}

func TestBaseWaitsForAllInputs(t *testing.T) {
	b := NewBase("Merge", 1, kHeader(), kHeader(), false, 0)
	wire(b)
	require.Equal(t, processor.NeedData, b.Prepare())

	_, err := b.AddInput()
	require.ErrorIs(t, err, processor.ErrNotImplemented)
	require.Equal(t, 1, b.NumInputs())

	var added []*port.InputPort
	b.OnNewInput = func(in *port.InputPort) error {
		added = append(added, in)
		return nil
	}
	in, err := b.AddInput()
	require.NoError(t, err)
	require.Equal(t, []*port.InputPort{in}, added)
	require.Equal(t, 2, b.NumInputs())

	require.NoError(t, b.SetHaveAllInputs())
	require.ErrorIs(t, b.SetHaveAllInputs(), processor.ErrLogical)
	_, err = b.AddInput()
	require.ErrorIs(t, err, processor.ErrLogical)
}

func TestBaseInitializationNeedsEveryInput(t *testing.T) {
	alloc := helpers.NewTestAllocator(t)
	b := NewBase("Merge", 3, kHeader(), kHeader(), true, 0)
	defer b.Close()
	ups, down := wire(b)
	down.SetNeeded()

	require.Equal(t, processor.NeedData, b.Prepare())
	for _, up := range ups {
		require.True(t, up.CanPush(), "initialization asks every input")
	}

	ups[0].Push(helpers.Int64Chunk(alloc, 1, []int64{1}))
	require.Equal(t, processor.NeedData, b.Prepare())

	// An empty chunk does not initialize the input.
	ups[1].Push(helpers.Int64Chunk(alloc, 1))
	require.Equal(t, processor.NeedData, b.Prepare())
	require.False(t, b.IsInitialized())

	ups[1].Push(helpers.Int64Chunk(alloc, 1, []int64{2}))
	ups[2].Finish()
	require.Equal(t, processor.Ready, b.Prepare())
	require.True(t, b.IsInitialized())

	init := b.State().InitChunks
	require.Len(t, init, 3)
	require.NotNil(t, init[0])
	require.NotNil(t, init[1])
	require.Nil(t, init[2])
}

func TestBaseLimitHintWithdrawsPullPermission(t *testing.T) {
	alloc := helpers.NewTestAllocator(t)
	b := NewBase("Merge", 2, kHeader(), kHeader(), true, 2)
	defer b.Close()
	ups, down := wire(b)
	down.SetNeeded()

	require.Equal(t, processor.NeedData, b.Prepare())
	ups[0].Push(helpers.Int64Chunk(alloc, 1, []int64{1}, []int64{2}))
	ups[1].Push(helpers.Int64Chunk(alloc, 1, []int64{1}))
	require.Equal(t, processor.Ready, b.Prepare())

	require.False(t, ups[0].CanPush(), "a chunk covering the hint is enough")
	require.True(t, ups[1].CanPush(), "a short chunk asks for more")
}

func TestBasePushesOutputAndFinishes(t *testing.T) {
	alloc := helpers.NewTestAllocator(t)
	b := NewBase("Merge", 1, kHeader(), kHeader(), true, 0)
	defer b.Close()
	finished := 0
	b.OnFinish = func() { finished++ }
	ups, down := wire(b)

	require.Equal(t, processor.NeedData, b.Prepare())
	ups[0].Push(helpers.Int64Chunk(alloc, 1, []int64{1}))
	require.Equal(t, processor.Ready, b.Prepare())

	st := b.State()
	for _, c := range st.InitChunks {
		c.Release()
	}
	st.InitChunks = nil
	st.OutputChunk = helpers.Int64Chunk(alloc, 1, []int64{1})
	st.IsFinished = true

	// The downstream has not asked for data, so the chunk waits.
	require.Equal(t, processor.PortFull, b.Prepare())
	require.NotNil(t, st.OutputChunk)

	// The last chunk is pushed and the output finished in the same step;
	// the downstream still receives the chunk.
	down.SetNeeded()
	require.Equal(t, processor.Finished, b.Prepare())
	require.Nil(t, st.OutputChunk)
	require.Equal(t, 1, finished)
	require.False(t, down.IsFinished())

	out := down.Pull(false)
	require.Equal(t, [][]any{{int64(1)}}, helpers.Rows(out))
	out.Release()
	require.True(t, down.IsFinished())
}

func TestBaseDropsEmptyOutput(t *testing.T) {
	alloc := helpers.NewTestAllocator(t)
	b := NewBase("Merge", 1, kHeader(), kHeader(), true, 0)
	defer b.Close()
	ups, down := wire(b)
	down.SetNeeded()

	require.Equal(t, processor.NeedData, b.Prepare())
	ups[0].Push(helpers.Int64Chunk(alloc, 1, []int64{1}))
	require.Equal(t, processor.Ready, b.Prepare())

	b.State().OutputChunk = helpers.Int64Chunk(alloc, 1)
	require.Equal(t, processor.Ready, b.Prepare())
	require.False(t, down.HasData())
}

func TestBasePullsRequestedInput(t *testing.T) {
	alloc := helpers.NewTestAllocator(t)
	b := NewBase("Merge", 2, kHeader(), kHeader(), true, 0)
	defer b.Close()
	ups, down := wire(b)
	down.SetNeeded()

	require.Equal(t, processor.NeedData, b.Prepare())
	ups[0].Push(helpers.Int64Chunk(alloc, 1, []int64{1}))
	ups[1].Push(helpers.Int64Chunk(alloc, 1, []int64{2}))
	require.Equal(t, processor.Ready, b.Prepare())

	st := b.State()
	st.NeedData = true
	st.NextInputToRead = 1
	require.Equal(t, processor.NeedData, b.Prepare())

	ups[1].Push(helpers.Int64Chunk(alloc, 1, []int64{3}))
	require.Equal(t, processor.Ready, b.Prepare())
	require.True(t, st.HasInput)
	require.False(t, st.NeedData)
	require.Equal(t, [][]any{{int64(3)}}, helpers.Rows(st.InputChunk))

	// A finished input clears the request without a chunk.
	st.InputChunk.Release()
	st.InputChunk, st.HasInput = nil, false
	st.NeedData = true
	st.NextInputToRead = 0
	ups[0].Finish()
	require.Equal(t, processor.Ready, b.Prepare())
	require.False(t, st.HasInput)
}

func TestBaseOutputFinishedClosesInputs(t *testing.T) {
	b := NewBase("Merge", 2, kHeader(), kHeader(), true, 0)
	ups, down := wire(b)

	down.Close()
	require.Equal(t, processor.Finished, b.Prepare())
	for _, up := range ups {
		require.True(t, up.IsFinished())
	}
}
