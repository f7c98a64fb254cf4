package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

const defaultBatchSize = 1024

// GeneratorConfig describes a synthetic stream. Columns listed in Sorted
// carry a non-decreasing key that changes every RunLength rows; the others
// draw values uniformly from Cardinality distinct values, so runs contain
// duplicates.
type GeneratorConfig struct {
	Schema        *arrow.Schema
	Sorted        []string
	Rows          int64
	BatchSize     int
	RunLength     int
	Cardinality   int
	Seed          uint64
	RowsPerSecond int64
}

// Generator produces synthetic Arrow records, sorted by the configured
// columns. It implements array.RecordReader and Producer.
type Generator struct {
	cfg   GeneratorConfig
	alloc memory.Allocator
	rng   *rand.Rand

	emitted int64
	rec     arrow.Record
	err     error
	refs    int64
	last    time.Time
}

// NewGenerator validates cfg and creates a generator.
func NewGenerator(alloc memory.Allocator, cfg GeneratorConfig) (*Generator, error) {
	if cfg.Schema == nil {
		return nil, fmt.Errorf("generator: nil schema")
	}
	for _, name := range cfg.Sorted {
		if len(cfg.Schema.FieldIndices(name)) == 0 {
			return nil, fmt.Errorf("generator: unknown sorted column %q", name)
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RunLength <= 0 {
		cfg.RunLength = 1
	}
	if cfg.Cardinality <= 0 {
		cfg.Cardinality = 1
	}
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	return &Generator{
		cfg:   cfg,
		alloc: alloc,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		refs:  1,
	}, nil
}

func (g *Generator) Schema() *arrow.Schema { return g.cfg.Schema }

func (g *Generator) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		g.alloc = ctx.Alloc
	}
	return nil
}

// Next implements array.RecordReader.
func (g *Generator) Next() bool {
	if g.rec != nil {
		g.rec.Release()
		g.rec = nil
	}
	remaining := int64(g.cfg.BatchSize)
	if g.cfg.Rows > 0 {
		left := g.cfg.Rows - g.emitted
		if left <= 0 {
			return false
		}
		remaining = min(remaining, left)
	}
	g.throttle(remaining)
	g.rec = g.generateBatch(g.emitted, int(remaining))
	g.emitted += remaining
	return true
}

func (g *Generator) Record() arrow.Record      { return g.rec }
func (g *Generator) RecordBatch() arrow.Record { return g.rec }
func (g *Generator) Err() error                { return g.err }
func (g *Generator) Retain()                   { g.refs++ }

func (g *Generator) Release() {
	g.refs--
	if g.refs == 0 && g.rec != nil {
		g.rec.Release()
		g.rec = nil
	}
}

// Emitted returns the number of rows generated so far.
func (g *Generator) Emitted() int64 { return g.emitted }

func (g *Generator) nextChunk(ctx context.Context) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.Next() {
		return nil, nil
	}
	return chunk.FromRecord(g.rec), nil
}

type generatorProducer struct{ g *Generator }

func (p generatorProducer) Next(ctx context.Context) (*chunk.Chunk, error) { return p.g.nextChunk(ctx) }
func (p generatorProducer) Open(ctx *processor.Context) error              { return p.g.Open(ctx) }

func (p generatorProducer) Close() error {
	p.g.Release()
	return nil
}

// NewGeneratorSource creates a source processor backed by g.
func NewGeneratorSource(name string, g *Generator) *Source {
	return NewSource(name, chunk.NewHeader(g.Schema()), generatorProducer{g: g})
}

// throttle sleeps so that emitted rows do not exceed RowsPerSecond.
func (g *Generator) throttle(rows int64) {
	if g.cfg.RowsPerSecond <= 0 {
		return
	}
	interval := time.Duration(float64(time.Second) * float64(rows) / float64(g.cfg.RowsPerSecond))
	if !g.last.IsZero() {
		if wait := interval - time.Since(g.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	g.last = time.Now()
}

func (g *Generator) generateBatch(startSeq int64, numRows int) arrow.Record {
	schema := g.cfg.Schema
	builders := make([]array.Builder, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		builders[i] = array.NewBuilder(g.alloc, schema.Field(i).Type)
	}

	for row := 0; row < numRows; row++ {
		seq := startSeq + int64(row)
		for i := 0; i < schema.NumFields(); i++ {
			f := schema.Field(i)
			var v int64
			if slices.Contains(g.cfg.Sorted, f.Name) {
				v = seq / int64(g.cfg.RunLength)
			} else {
				v = int64(g.rng.IntN(g.cfg.Cardinality))
			}
			appendValue(builders[i], f, v)
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
		b.Release()
	}

	rec := array.NewRecord(schema, arrays, int64(numRows))
	for _, a := range arrays {
		a.Release()
	}
	return rec
}

// appendValue appends a value derived from v. Derived values keep the order
// of v, so sorted columns stay sorted whatever their type.
func appendValue(b array.Builder, f arrow.Field, v int64) {
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(v)
	case *array.Int32Builder:
		bb.Append(int32(v))
	case *array.Uint64Builder:
		bb.Append(uint64(v))
	case *array.Float64Builder:
		bb.Append(float64(v) * 1.1)
	case *array.StringBuilder:
		bb.Append(fmt.Sprintf("%s_%012d", f.Name, v))
	case *array.BooleanBuilder:
		bb.Append(v > 0)
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v))
	default:
		b.AppendNull()
	}
}
