package connectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// KafkaConfig configures a Kafka source or sink. Messages are JSON objects
// keyed by column name.
type KafkaConfig struct {
	Topic            string
	BootstrapServers []string
	ConsumerGroup    string
	StartupMode      string
	BatchSize        int
	// MaxRecords bounds a source; zero reads until IdleTimeout passes
	// without a record.
	MaxRecords  int64
	IdleTimeout time.Duration
	KeyBy       []string
}

// KafkaProducer polls a topic and turns JSON messages into chunks.
type KafkaProducer struct {
	cfg    KafkaConfig
	schema *arrow.Schema
	alloc  memory.Allocator
	client *kgo.Client
	logger *slog.Logger

	buffer []map[string]any
	read   int64
	done   bool
}

func NewKafkaProducer(cfg KafkaConfig, schema *arrow.Schema) *KafkaProducer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	return &KafkaProducer{cfg: cfg, schema: schema, alloc: memory.DefaultAllocator}
}

func (k *KafkaProducer) Open(ctx *processor.Context) error {
	if ctx.Alloc != nil {
		k.alloc = ctx.Alloc
	}
	k.logger = ctx.Logger

	opts := []kgo.Opt{
		kgo.SeedBrokers(k.cfg.BootstrapServers...),
		kgo.ConsumeTopics(k.cfg.Topic),
	}
	if k.cfg.ConsumerGroup != "" {
		opts = append(opts, kgo.ConsumerGroup(k.cfg.ConsumerGroup))
	}
	switch k.cfg.StartupMode {
	case "latest-offset", "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka source: create client: %w", err)
	}
	k.client = client
	return nil
}

// Next returns the next batch of up to BatchSize rows.
func (k *KafkaProducer) Next(ctx context.Context) (*chunk.Chunk, error) {
	for !k.done && len(k.buffer) < k.cfg.BatchSize {
		if k.cfg.MaxRecords > 0 && k.read >= k.cfg.MaxRecords {
			k.done = true
			break
		}
		pollCtx, cancel := context.WithTimeout(ctx, k.cfg.IdleTimeout)
		fetches := k.client.PollFetches(pollCtx)
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := 0
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if k.logger != nil {
				k.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
			}
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			n++
			k.read++
			row, err := decodeJSONRow(rec.Value)
			if err != nil {
				if k.logger != nil {
					k.logger.Error("kafka json decode error", "error", err)
				}
				return
			}
			k.buffer = append(k.buffer, row)
		})
		if n == 0 {
			k.done = true
		}
	}

	if len(k.buffer) == 0 {
		return nil, nil
	}
	take := min(len(k.buffer), k.cfg.BatchSize)
	rows := k.buffer[:take]
	k.buffer = k.buffer[take:]
	rec := jsonRowsToRecord(k.alloc, k.schema, rows)
	defer rec.Release()
	return chunk.FromRecord(rec), nil
}

func (k *KafkaProducer) Close() error {
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
	return nil
}

// NewKafkaSource creates a source reading JSON messages of schema.
func NewKafkaSource(name string, cfg KafkaConfig, schema *arrow.Schema) *Source {
	return NewSource(name, chunk.NewHeader(schema), NewKafkaProducer(cfg, schema))
}

// decodeJSONRow decodes one message, keeping numbers as json.Number so
// int64 values survive beyond 2^53.
func decodeJSONRow(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// jsonRowsToRecord converts JSON row maps to an Arrow record. Missing or
// mistyped values become NULL.
func jsonRowsToRecord(alloc memory.Allocator, schema *arrow.Schema, rows []map[string]any) arrow.Record {
	numCols := schema.NumFields()
	builders := make([]array.Builder, numCols)
	for i := 0; i < numCols; i++ {
		builders[i] = array.NewBuilder(alloc, schema.Field(i).Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for _, row := range rows {
		for i := 0; i < numCols; i++ {
			val, exists := row[schema.Field(i).Name]
			if !exists || val == nil {
				builders[i].AppendNull()
				continue
			}
			appendJSONValue(builders[i], val)
		}
	}

	arrays := make([]arrow.Array, numCols)
	for i, b := range builders {
		arrays[i] = b.NewArray()
	}
	rec := array.NewRecord(schema, arrays, int64(len(rows)))
	for _, a := range arrays {
		a.Release()
	}
	return rec
}

func appendJSONValue(bldr array.Builder, val any) {
	switch b := bldr.(type) {
	case *array.Int64Builder:
		switch v := val.(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				b.Append(n)
			} else {
				b.AppendNull()
			}
		case float64:
			b.Append(int64(v))
		default:
			b.AppendNull()
		}
	case *array.Int32Builder:
		switch v := val.(type) {
		case json.Number:
			if n, err := strconv.ParseInt(v.String(), 10, 32); err == nil {
				b.Append(int32(n))
			} else {
				b.AppendNull()
			}
		case float64:
			b.Append(int32(v))
		default:
			b.AppendNull()
		}
	case *array.Float64Builder:
		switch v := val.(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				b.Append(f)
			} else {
				b.AppendNull()
			}
		case float64:
			b.Append(v)
		default:
			b.AppendNull()
		}
	case *array.StringBuilder:
		if s, ok := val.(string); ok {
			b.Append(s)
		} else {
			b.Append(fmt.Sprintf("%v", val))
		}
	case *array.BooleanBuilder:
		if v, ok := val.(bool); ok {
			b.Append(v)
		} else {
			b.AppendNull()
		}
	default:
		bldr.AppendNull()
	}
}

// KafkaWriter produces every row it consumes as a JSON message.
type KafkaWriter struct {
	cfg    KafkaConfig
	client *kgo.Client
}

func NewKafkaWriter(cfg KafkaConfig) *KafkaWriter {
	return &KafkaWriter{cfg: cfg}
}

func (k *KafkaWriter) Open(_ *processor.Context) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.cfg.BootstrapServers...),
		kgo.DefaultProduceTopic(k.cfg.Topic),
	)
	if err != nil {
		return fmt.Errorf("kafka sink: create client: %w", err)
	}
	k.client = client
	return nil
}

func (k *KafkaWriter) Consume(h *chunk.Header, c *chunk.Chunk) error {
	records, err := chunkToKafkaRecords(h, c, k.cfg.KeyBy)
	if err != nil {
		return err
	}
	for _, rec := range records {
		k.client.Produce(context.Background(), rec, nil)
	}
	return nil
}

// Flush waits until every produced record is delivered.
func (k *KafkaWriter) Flush() error {
	if err := k.client.Flush(context.Background()); err != nil {
		return fmt.Errorf("kafka sink: flush: %w", err)
	}
	return nil
}

func (k *KafkaWriter) Close() error {
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
	return nil
}

// NewKafkaSink creates a sink producing rows of header to a topic.
func NewKafkaSink(name string, header *chunk.Header, cfg KafkaConfig) *Sink {
	return NewSink(name, header, NewKafkaWriter(cfg))
}

func chunkToKafkaRecords(h *chunk.Header, c *chunk.Chunk, keyBy []string) ([]*kgo.Record, error) {
	out := make([]*kgo.Record, 0, c.NumRows())
	for row := 0; row < c.NumRows(); row++ {
		record := make(map[string]any, h.NumColumns())
		for i := 0; i < h.NumColumns(); i++ {
			col := c.Column(i)
			record[h.Field(i).Name] = jsonValue(col.Values(), col.ValueIndex(row))
		}
		value, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: marshal row %d: %w", row, err)
		}
		rec := &kgo.Record{Value: value}
		if len(keyBy) > 0 {
			keyParts := make(map[string]any, len(keyBy))
			for _, keyCol := range keyBy {
				if v, ok := record[keyCol]; ok {
					keyParts[keyCol] = v
				}
			}
			if rec.Key, err = json.Marshal(keyParts); err != nil {
				return nil, fmt.Errorf("kafka sink: marshal key %d: %w", row, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func jsonValue(arr arrow.Array, row int) any {
	if arr.IsNull(row) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(row)
	case *array.Int32:
		return a.Value(row)
	case *array.Float64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.Boolean:
		return a.Value(row)
	default:
		return arr.ValueStr(row)
	}
}
