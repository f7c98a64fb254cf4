package transforms

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// linearProbeThreshold is how many rows of a run are compared one by one
// before the end of the run is located by bisection.
const linearProbeThreshold = 16

// currentKey is the key of the run being processed. Within a chunk it points
// at a row of the chunk's own key columns; at the end of the chunk it is
// copied into single-row columns so it survives the chunk.
type currentKey struct {
	cols  []chunk.Column
	row   int
	owned bool
}

// DistinctSorted removes duplicate rows from a stream sorted by the columns
// of its sort description. Rows are compared on the key columns and on the
// remaining non-constant "other" columns. Only one run of equal keys is
// kept in memory at a time, so the dedup set is bounded by the cardinality
// of the longest run rather than of the whole stream.
//
// The input must really be sorted by the description; unsorted input yields
// wrong results and is not detected.
type DistinctSorted struct {
	*Simple

	limitHint uint64
	limits    processor.SizeLimits
	descr     chunk.SortDescription
	sortedPos []int
	otherPos  []int
	alloc     memory.Allocator

	sortedCols []chunk.Column
	otherCols  []chunk.Column

	key           currentKey
	hasCurrentKey bool
	set           distinctSet

	totalOutputRows uint64
	stopSignals     int
}

// NewDistinctSorted creates the transform. columns lists the columns that
// take part in distinctness; nil means every column of header. Key columns
// and columns flagged constant in header are not used as other columns.
func NewDistinctSorted(header *chunk.Header, limits processor.SizeLimits, limitHint uint64, descr chunk.SortDescription, columns []string) (*DistinctSorted, error) {
	sortedPos, err := descr.Positions(header)
	if err != nil {
		return nil, fmt.Errorf("distinct sorted: %w", err)
	}
	if columns == nil {
		columns = header.Names()
	}

	otherPos := make([]int, 0, len(columns))
	for _, name := range columns {
		pos, err := header.Position(name)
		if err != nil {
			return nil, fmt.Errorf("distinct sorted: %w", err)
		}
		if slices.Contains(sortedPos, pos) || slices.Contains(otherPos, pos) || header.IsConst(pos) {
			continue
		}
		otherPos = append(otherPos, pos)
	}

	t := &DistinctSorted{
		limitHint: limitHint,
		limits:    limits,
		descr:     descr,
		sortedPos: sortedPos,
		otherPos:  otherPos,
		alloc:     memory.DefaultAllocator,
	}
	t.Simple = NewSimple("DistinctSortedChunkTransform", header, header, t, true)
	return t, nil
}

func (t *DistinctSorted) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		t.alloc = ctx.Alloc
	}
	return t.Simple.Open(ctx)
}

// TotalOutputRows returns the number of rows emitted so far.
func (t *DistinctSorted) TotalOutputRows() uint64 { return t.totalOutputRows }

// Transform filters c down to rows not seen before.
func (t *DistinctSorted) Transform(c *chunk.Chunk) error {
	rows := c.NumRows()
	if rows == 0 {
		return nil
	}

	cols := c.DetachColumns()
	t.initChunkProcessing(cols)

	// (1) find the run [rangeBegin, rangeEnd) sharing one key
	// (2) without other columns keep the first row of the run, otherwise
	//     dedup the run on the other columns
	// (3) repeat until the chunk is processed
	filter := make([]bool, rows)
	rangeBegin, outputRows := t.continueWithPrevRange(rows, filter)
	for rangeBegin < rows {
		t.setCurrentKey(rangeBegin)
		rangeEnd := t.rangeEnd(rangeBegin, rows)
		if len(t.otherCols) == 0 {
			filter[rangeBegin] = true
			outputRows++
		} else {
			outputRows += t.distinctOnRange(filter, rangeBegin, rangeEnd, true)
		}
		rangeBegin = rangeEnd
	}
	outputRows = t.applyLimitHint(filter, outputRows)

	// The key must be copied out before the chunk's columns go away.
	if err := t.detachCurrentKey(); err != nil {
		c.SetColumns(cols, rows)
		return err
	}

	filtered, err := t.filterColumns(cols, filter, outputRows)
	if err != nil {
		c.SetColumns(cols, rows)
		return err
	}
	c.SetColumns(filtered, outputRows)
	t.sortedCols, t.otherCols = nil, nil

	t.totalOutputRows += uint64(outputRows)
	if t.limitHint != 0 && t.totalOutputRows >= t.limitHint {
		t.stop("limit hint reached")
		return nil
	}
	var setBytes uint64
	if t.set != nil {
		setBytes = t.set.byteSize()
	}
	ok, err := t.limits.Check(t.totalOutputRows, setBytes, "DISTINCT")
	if err != nil {
		return err
	}
	if !ok {
		t.stop("size limits exceeded")
	}
	return nil
}

func (t *DistinctSorted) initChunkProcessing(cols []chunk.Column) {
	t.sortedCols = t.sortedCols[:0]
	for _, pos := range t.sortedPos {
		t.sortedCols = append(t.sortedCols, cols[pos])
	}
	t.otherCols = t.otherCols[:0]
	for _, pos := range t.otherPos {
		t.otherCols = append(t.otherCols, cols[pos])
	}

	if len(t.otherCols) == 0 {
		return
	}
	m := chooseSetMethod(t.otherCols)
	if t.set == nil || t.set.method() != m {
		t.set = newDistinctSet(m)
	}
	t.set.bind(t.otherCols)
}

// continueWithPrevRange handles the rows at the head of the chunk that
// belong to the run carried over from the previous chunk. It returns where
// the first new run starts and how many carried-run rows survived.
func (t *DistinctSorted) continueWithPrevRange(rows int, filter []bool) (int, int) {
	if !t.hasCurrentKey || !t.isCurrentKey(0) {
		return 0, 0
	}
	rangeEnd := t.rangeEnd(0, rows)
	if len(t.otherCols) == 0 {
		// Already emitted with the previous chunk; filter stays false.
		return rangeEnd, 0
	}
	return rangeEnd, t.distinctOnRange(filter, 0, rangeEnd, false)
}

func (t *DistinctSorted) distinctOnRange(filter []bool, begin, end int, clearData bool) int {
	if clearData {
		t.set.clear()
	}
	count := 0
	for i := begin; i < end; i++ {
		if t.set.insert(i) {
			filter[i] = true
			count++
		}
	}
	return count
}

func (t *DistinctSorted) setCurrentKey(row int) {
	t.releaseKey()
	t.key = currentKey{cols: slices.Clone(t.sortedCols), row: row}
	t.hasCurrentKey = true
}

func (t *DistinctSorted) isCurrentKey(row int) bool {
	for i, col := range t.sortedCols {
		if t.key.cols[i].CompareAt(t.key.row, col, row, t.descr[i].NullsDirection) != 0 {
			return false
		}
	}
	return true
}

// rangeEnd returns the first row in [begin, end) whose key differs from the
// current key, or end. Short runs are found by a linear probe; longer ones
// by bisection, which is valid because rows matching the current key form a
// prefix of the sorted range. Bounds are half-open ints, so a run starting
// at the last row cannot underflow.
func (t *DistinctSorted) rangeEnd(begin, end int) int {
	probeEnd := min(begin+linearProbeThreshold, end)
	for pos := begin; pos < probeEnd; pos++ {
		if !t.isCurrentKey(pos) {
			return pos
		}
	}
	return probeEnd + sort.Search(end-probeEnd, func(i int) bool {
		return !t.isCurrentKey(probeEnd + i)
	})
}

// applyLimitHint drops the rows of this chunk past limitHint.
func (t *DistinctSorted) applyLimitHint(filter []bool, outputRows int) int {
	if t.limitHint == 0 || t.totalOutputRows+uint64(outputRows) <= t.limitHint {
		return outputRows
	}
	remaining := int(t.limitHint - t.totalOutputRows)
	kept := 0
	for i, keep := range filter {
		if !keep {
			continue
		}
		if kept == remaining {
			filter[i] = false
			continue
		}
		kept++
	}
	return remaining
}

func (t *DistinctSorted) detachCurrentKey() error {
	if !t.hasCurrentKey || t.key.owned {
		return nil
	}
	owned := make([]chunk.Column, 0, len(t.key.cols))
	for _, col := range t.key.cols {
		m := col.CloneEmpty()
		m.InsertFrom(col, t.key.row)
		k, err := m.Finish(t.alloc)
		if err != nil {
			for _, o := range owned {
				o.Release()
			}
			return fmt.Errorf("distinct sorted: copy key: %w", err)
		}
		owned = append(owned, k)
	}
	t.key = currentKey{cols: owned, owned: true}
	return nil
}

func (t *DistinctSorted) releaseKey() {
	if t.key.owned {
		for _, col := range t.key.cols {
			col.Release()
		}
	}
	t.key = currentKey{}
}

func (t *DistinctSorted) filterColumns(cols []chunk.Column, filter []bool, outputRows int) ([]chunk.Column, error) {
	if outputRows == len(filter) {
		return cols, nil
	}

	bldr := array.NewBooleanBuilder(t.alloc)
	defer bldr.Release()
	bldr.AppendValues(filter, nil)
	mask := bldr.NewBooleanArray()
	defer mask.Release()

	ctx := compute.WithAllocator(context.Background(), t.alloc)
	out := make([]chunk.Column, 0, len(cols))
	for _, col := range cols {
		f, err := col.Filter(ctx, mask, outputRows)
		if err != nil {
			for _, o := range out {
				o.Release()
			}
			return nil, fmt.Errorf("distinct sorted: %w", err)
		}
		out = append(out, f)
	}
	for _, col := range cols {
		col.Release()
	}
	return out, nil
}

func (t *DistinctSorted) stop(reason string) {
	if t.Stopped() {
		return
	}
	t.stopSignals++
	if ctx := t.Context(); ctx != nil {
		ctx.Logger.Debug("distinct stops reading", "reason", reason, "rows", t.totalOutputRows)
	}
	t.StopReading()
}

// Close releases the carried key and any buffered chunk.
func (t *DistinctSorted) Close() error {
	t.releaseKey()
	t.hasCurrentKey = false
	return t.Simple.Close()
}
