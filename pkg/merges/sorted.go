package merges

import (
	"container/heap"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

const defaultMaxBlockSize = 8192

type cursor struct {
	source int
	chunk  *chunk.Chunk
	keys   []chunk.Column
	row    int
}

func (c *cursor) isLast() bool { return c.row+1 >= c.chunk.NumRows() }

type cursorQueue struct {
	items []*cursor
	descr chunk.SortDescription
}

func (q *cursorQueue) Len() int { return len(q.items) }

func (q *cursorQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if res := q.descr.CompareRows(a.keys, a.row, b.keys, b.row); res != 0 {
		return res < 0
	}
	return a.source < b.source
}

func (q *cursorQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *cursorQueue) Push(x any) { q.items = append(q.items, x.(*cursor)) }

func (q *cursorQueue) Pop() any {
	n := len(q.items)
	c := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return c
}

type pendingRange struct {
	cur   *cursor
	start int
	n     int
}

// SortedAlgorithm merges inputs that are each sorted by one description
// into a single sorted stream. Rows with equal keys keep input order.
type SortedAlgorithm struct {
	header       *chunk.Header
	alloc        memory.Allocator
	descr        chunk.SortDescription
	keyPos       []int
	maxBlockSize int
	limit        uint64

	cursors    []*cursor
	queue      cursorQueue
	merged     []*chunk.MutableColumn
	mergedRows int
	totalRows  uint64
	pending    pendingRange
}

// NewSortedAlgorithm creates a k-way merge over numInputs inputs. Output
// chunks hold at most maxBlockSize rows; a nonzero limit stops the merge
// after that many rows.
func NewSortedAlgorithm(header *chunk.Header, numInputs int, descr chunk.SortDescription, maxBlockSize int, limit uint64) (*SortedAlgorithm, error) {
	keyPos, err := descr.Positions(header)
	if err != nil {
		return nil, err
	}
	if maxBlockSize <= 0 {
		maxBlockSize = defaultMaxBlockSize
	}
	m := &SortedAlgorithm{
		header:       header,
		alloc:        memory.DefaultAllocator,
		descr:        descr,
		keyPos:       keyPos,
		maxBlockSize: maxBlockSize,
		limit:        limit,
		cursors:      make([]*cursor, numInputs),
		queue:        cursorQueue{descr: descr},
		merged:       make([]*chunk.MutableColumn, header.NumColumns()),
	}
	for i := range m.merged {
		m.merged[i] = chunk.NewMutableColumn(header.Field(i).Type)
	}
	return m, nil
}

// SetAllocator sets the allocator used for merged output chunks.
func (m *SortedAlgorithm) SetAllocator(alloc memory.Allocator) { m.alloc = alloc }

func (m *SortedAlgorithm) newCursor(c *chunk.Chunk, source int) *cursor {
	keys := make([]chunk.Column, len(m.keyPos))
	for i, pos := range m.keyPos {
		keys[i] = c.Column(pos)
	}
	return &cursor{source: source, chunk: c, keys: keys}
}

func (m *SortedAlgorithm) Initialize(inputs []*chunk.Chunk) error {
	for source, c := range inputs {
		if !c.HasRows() {
			c.Release()
			continue
		}
		cur := m.newCursor(c, source)
		m.cursors[source] = cur
		m.queue.items = append(m.queue.items, cur)
	}
	heap.Init(&m.queue)
	return nil
}

func (m *SortedAlgorithm) Consume(c *chunk.Chunk, source int) error {
	if source < 0 || source >= len(m.cursors) {
		c.Release()
		return fmt.Errorf("%w: unknown merge source %d", processor.ErrLogical, source)
	}
	if old := m.cursors[source]; old != nil {
		old.chunk.Release()
		m.cursors[source] = nil
	}
	if !c.HasRows() {
		c.Release()
		return nil
	}
	cur := m.newCursor(c, source)
	m.cursors[source] = cur
	heap.Push(&m.queue, cur)
	return nil
}

func (m *SortedAlgorithm) Merge() (MergeStatus, error) {
	for m.queue.Len() > 0 {
		if m.limit != 0 && m.totalRows >= m.limit {
			out, err := m.flush()
			return Emit(out, true), err
		}
		if m.mergedRows >= m.maxBlockSize {
			out, err := m.flush()
			return Emit(out, false), err
		}

		cur := m.queue.items[0]
		m.appendRow(cur)
		if !cur.isLast() {
			cur.row++
			heap.Fix(&m.queue, 0)
			continue
		}

		// The cursor is exhausted; its next chunk is needed before any
		// further row can be ordered. Pending rows are sliced out of the
		// chunk first, so the cursor can let go of it now.
		heap.Pop(&m.queue)
		m.flushPending()
		cur.chunk.Release()
		m.cursors[cur.source] = nil
		return NeedSource(cur.source), nil
	}

	out, err := m.flush()
	return Emit(out, true), err
}

func (m *SortedAlgorithm) appendRow(cur *cursor) {
	p := &m.pending
	if p.cur == cur && p.start+p.n == cur.row {
		p.n++
	} else {
		m.flushPending()
		*p = pendingRange{cur: cur, start: cur.row, n: 1}
	}
	m.mergedRows++
	m.totalRows++
}

func (m *SortedAlgorithm) flushPending() {
	p := m.pending
	if p.cur == nil {
		return
	}
	for i, col := range p.cur.chunk.Columns() {
		m.merged[i].InsertRangeFrom(col, p.start, p.n)
	}
	m.pending = pendingRange{}
}

func (m *SortedAlgorithm) flush() (*chunk.Chunk, error) {
	m.flushPending()
	if m.mergedRows == 0 {
		return nil, nil
	}
	cols := make([]chunk.Column, len(m.merged))
	for i, mc := range m.merged {
		col, err := mc.Finish(m.alloc)
		if err != nil {
			for _, c := range cols[:i] {
				c.Release()
			}
			return nil, err
		}
		cols[i] = col
	}
	rows := m.mergedRows
	m.mergedRows = 0
	return chunk.New(cols, rows), nil
}

func (m *SortedAlgorithm) Release() {
	m.pending = pendingRange{}
	for _, mc := range m.merged {
		mc.Release()
	}
	m.mergedRows = 0
	for i, cur := range m.cursors {
		if cur != nil {
			cur.chunk.Release()
			m.cursors[i] = nil
		}
	}
	m.queue.items = nil
}

// MergingSorted is a merging processor producing one sorted stream out of
// several sorted inputs.
type MergingSorted struct {
	*Transform
	algorithm *SortedAlgorithm
}

// NewMergingSorted creates a sorted merge over numInputs inputs of header.
func NewMergingSorted(header *chunk.Header, numInputs int, descr chunk.SortDescription, maxBlockSize int, limit uint64) (*MergingSorted, error) {
	alg, err := NewSortedAlgorithm(header, numInputs, descr, maxBlockSize, limit)
	if err != nil {
		return nil, err
	}
	base := NewBase("MergingSortedTransform", numInputs, header, header, true, limit)
	return &MergingSorted{Transform: NewTransform(base, alg), algorithm: alg}, nil
}

func (m *MergingSorted) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		m.algorithm.SetAllocator(ctx.Alloc)
	}
	return m.Transform.Open(ctx)
}
