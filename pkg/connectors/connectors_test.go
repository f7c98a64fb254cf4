package connectors

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

func testContext(alloc memory.Allocator) *processor.Context {
	return processor.NewContext(context.Background(), alloc, "test", "test")
}

// drain runs src into a collector by hand, without an executor.
func drain(t *testing.T, alloc memory.Allocator, src *Source) *Collector {
	t.Helper()
	col := NewCollector()
	sink := NewCollectSink("sink", src.Output().Header(), col)
	port.Connect(src.Output(), sink.Input())

	ctx := testContext(alloc)
	if err := src.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	defer sink.Close()

	for i := 0; i < 100000; i++ {
		srcStatus := src.Prepare()
		if srcStatus == processor.Ready {
			if err := src.Work(); err != nil {
				t.Fatal(err)
			}
		}
		sinkStatus := sink.Prepare()
		if sinkStatus == processor.Ready {
			if err := sink.Work(); err != nil {
				t.Fatal(err)
			}
		}
		if srcStatus == processor.Finished && sinkStatus == processor.Finished {
			return col
		}
	}
	t.Fatal("pipeline did not finish")
	return nil
}

func TestGeneratorRowsAndSortedness(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "label", Type: arrow.BinaryTypes.String},
		{Name: "v", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	gen, err := NewGenerator(alloc, GeneratorConfig{
		Schema:      schema,
		Sorted:      []string{"k", "label"},
		Rows:        250,
		BatchSize:   64,
		RunLength:   7,
		Cardinality: 3,
		Seed:        1,
	})
	if err != nil {
		t.Fatal(err)
	}

	col := drain(t, alloc, NewGeneratorSource("gen", gen))
	defer col.Release()

	if col.Rows() != 250 {
		t.Fatalf("expected 250 rows, got %d", col.Rows())
	}
	if gen.Emitted() != 250 {
		t.Errorf("expected 250 emitted, got %d", gen.Emitted())
	}
	if !col.Flushed() {
		t.Error("expected flush at end of stream")
	}

	prevKey, prevLabel := int64(-1), ""
	for _, rec := range col.Records() {
		if rec.NumRows() > 64 {
			t.Errorf("batch of %d rows exceeds batch size", rec.NumRows())
		}
		keys := rec.Column(0).(*array.Int64)
		labels := rec.Column(1).(*array.String)
		values := rec.Column(2).(*array.Int64)
		for i := 0; i < keys.Len(); i++ {
			if keys.Value(i) < prevKey || labels.Value(i) < prevLabel {
				t.Fatalf("row %d breaks the sort order", i)
			}
			prevKey, prevLabel = keys.Value(i), labels.Value(i)
			if v := values.Value(i); v < 0 || v >= 3 {
				t.Fatalf("value %d outside cardinality", v)
			}
		}
	}
	if prevKey != 249/7 {
		t.Errorf("expected last key %d, got %d", 249/7, prevKey)
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	cfg := GeneratorConfig{Schema: schema, Rows: 20, Cardinality: 1000, Seed: 42}

	read := func() []int64 {
		gen, err := NewGenerator(memory.DefaultAllocator, cfg)
		if err != nil {
			t.Fatal(err)
		}
		defer gen.Release()
		var out []int64
		for gen.Next() {
			out = append(out, gen.Record().Column(0).(*array.Int64).Int64Values()...)
		}
		return out
	}
	a, b := read(), read()
	if len(a) != 20 || len(b) != 20 {
		t.Fatalf("expected 20 values, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("value %d differs between runs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestGeneratorRejectsBadConfig(t *testing.T) {
	if _, err := NewGenerator(nil, GeneratorConfig{}); err == nil {
		t.Error("expected error for nil schema")
	}
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	if _, err := NewGenerator(nil, GeneratorConfig{Schema: schema, Sorted: []string{"nope"}}); err == nil {
		t.Error("expected error for unknown sorted column")
	}
}

func TestIPCRoundTrip(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tag", Type: arrow.BinaryTypes.String},
	}, nil)
	gen, err := NewGenerator(alloc, GeneratorConfig{Schema: schema, Sorted: []string{"k"}, Rows: 10, BatchSize: 4})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	src := NewGeneratorSource("gen", gen)
	sink := NewIPCSink("ipc", src.Output().Header(), &buf)
	port.Connect(src.Output(), sink.Input())
	ctx := testContext(alloc)
	if err := src.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatal(err)
	}
	for done := false; !done; {
		s1 := src.Prepare()
		if s1 == processor.Ready {
			if err := src.Work(); err != nil {
				t.Fatal(err)
			}
		}
		s2 := sink.Prepare()
		if s2 == processor.Ready {
			if err := sink.Work(); err != nil {
				t.Fatal(err)
			}
		}
		done = s1 == processor.Finished && s2 == processor.Finished
	}
	src.Close()
	sink.Close()

	back, err := NewIPCSource("read", &buf, alloc)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Output().Header().Schema().Equal(schema) {
		t.Fatalf("schema mismatch: %s", back.Output().Header().Schema())
	}
	col := drain(t, alloc, back)
	defer col.Release()
	if col.Rows() != 10 {
		t.Fatalf("expected 10 rows, got %d", col.Rows())
	}
}

func TestIPCWriterEmptyStream(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "k", Type: arrow.PrimitiveTypes.Int64}}, nil)
	var buf bytes.Buffer
	w := NewIPCWriter(&buf, chunk.NewHeader(schema))
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)
	src, err := NewIPCSource("read", &buf, alloc)
	if err != nil {
		t.Fatal(err)
	}
	col := drain(t, alloc, src)
	defer col.Release()
	if col.Rows() != 0 {
		t.Errorf("expected empty stream, got %d rows", col.Rows())
	}
}

func int64Chunk(alloc memory.Allocator, vals ...int64) *chunk.Chunk {
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(vals, nil)
	return chunk.New([]chunk.Column{chunk.NewArrowColumn(bldr.NewArray())}, len(vals))
}

func TestConsoleOutput(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := chunk.NewHeader(arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil))
	var buf bytes.Buffer
	console := NewConsole(2)
	console.SetWriter(&buf)

	c := int64Chunk(alloc, 1, 22, 333)
	defer c.Release()
	if err := console.Consume(h, c); err != nil {
		t.Fatal(err)
	}
	if err := console.Flush(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"| id |", "| 1  |", "| 22 |", "... (1 more rows)", "(3 rows)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "333") {
		t.Errorf("row beyond maxRows printed:\n%s", out)
	}
	if console.Count() != 3 {
		t.Errorf("expected count 3, got %d", console.Count())
	}
}

func TestChunkProducerReleasesUnread(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	p := NewChunkProducer(int64Chunk(alloc, 1), int64Chunk(alloc, 2))
	c, err := p.Next(context.Background())
	if err != nil || c == nil {
		t.Fatalf("expected a chunk, got %v, %v", c, err)
	}
	c.Release()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestChunkToKafkaRecords(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "region", Type: arrow.BinaryTypes.String},
	}, nil)
	h := chunk.NewHeader(schema, "region")

	ids := array.NewInt64Builder(alloc)
	ids.AppendValues([]int64{7, 0}, []bool{true, false})
	region := array.NewStringBuilder(alloc)
	region.Append("eu")
	c := chunk.New([]chunk.Column{
		chunk.NewArrowColumn(ids.NewArray()),
		chunk.NewConstColumn(region.NewArray(), 2),
	}, 2)
	ids.Release()
	region.Release()
	defer c.Release()

	records, err := chunkToKafkaRecords(h, c, []string{"region"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if got := string(records[0].Value); got != `{"id":7,"region":"eu"}` {
		t.Errorf("unexpected value %s", got)
	}
	if got := string(records[1].Value); got != `{"id":null,"region":"eu"}` {
		t.Errorf("unexpected value %s", got)
	}
	if got := string(records[0].Key); got != `{"region":"eu"}` {
		t.Errorf("unexpected key %s", got)
	}
}

func TestJSONRowsToRecord(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "ok", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)

	var rows []map[string]any
	for _, msg := range []string{`{"id":1,"name":"a","ok":true}`, `{"id":"x","name":2}`} {
		row, err := decodeJSONRow([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}

	rec := jsonRowsToRecord(alloc, schema, rows)
	defer rec.Release()
	if rec.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", rec.NumRows())
	}
	ids := rec.Column(0).(*array.Int64)
	if ids.Value(0) != 1 || !ids.IsNull(1) {
		t.Errorf("unexpected ids %s", ids)
	}
	if name := rec.Column(1).(*array.String).Value(1); name != "2" {
		t.Errorf("expected stringified name, got %q", name)
	}
	if !rec.Column(2).IsNull(1) {
		t.Error("missing field should be NULL")
	}
}

func TestJSONRowsToRecordKeepsInt64Precision(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "small", Type: arrow.PrimitiveTypes.Int32},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	row, err := decodeJSONRow([]byte(`{"k": 9007199254740993, "small": 7, "f": 1.5}`))
	if err != nil {
		t.Fatal(err)
	}
	rec := jsonRowsToRecord(alloc, schema, []map[string]any{row})
	defer rec.Release()

	if got := rec.Column(0).(*array.Int64).Value(0); got != 9007199254740993 {
		t.Errorf("int64 key changed: got %d", got)
	}
	if got := rec.Column(1).(*array.Int32).Value(0); got != 7 {
		t.Errorf("unexpected int32 %d", got)
	}
	if got := rec.Column(2).(*array.Float64).Value(0); got != 1.5 {
		t.Errorf("unexpected float %v", got)
	}
}

func TestKafkaJSONRoundTripKeepsLargeKeys(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{{Name: "k", Type: arrow.PrimitiveTypes.Int64}}, nil)
	bldr := array.NewInt64Builder(alloc)
	bldr.AppendValues([]int64{math.MaxInt64, -9007199254740993}, nil)
	arr := bldr.NewArray()
	bldr.Release()
	c := chunk.New([]chunk.Column{chunk.NewArrowColumn(arr)}, 2)
	defer c.Release()

	records, err := chunkToKafkaRecords(chunk.NewHeader(schema), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row, err := decodeJSONRow(r.Value)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
	rec := jsonRowsToRecord(alloc, schema, rows)
	defer rec.Release()

	ks := rec.Column(0).(*array.Int64)
	if ks.Value(0) != math.MaxInt64 || ks.Value(1) != -9007199254740993 {
		t.Errorf("keys changed in round trip: %s", ks)
	}
}
