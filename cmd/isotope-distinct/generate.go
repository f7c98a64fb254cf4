package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/connectors"
	"github.com/sandboxws/isotope/execcore/pkg/executor"
)

func generate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	out, _ := flags.GetString("out")
	partitions, _ := flags.GetInt("partitions")
	workers, _ := flags.GetInt("workers")
	rows, _ := flags.GetInt64("rows")
	batchSize, _ := flags.GetInt("batch-size")
	runLength, _ := flags.GetInt("run-length")
	cardinality, _ := flags.GetInt("cardinality")
	seed, _ := flags.GetUint64("seed")
	schemaSpec, _ := flags.GetString("schema")
	sorted, _ := flags.GetStringSlice("sorted")
	rate, _ := flags.GetInt64("rate")
	brokers, _ := flags.GetString("kafka-brokers")
	topic, _ := flags.GetString("kafka-topic")

	schema, err := parseSchema(schemaSpec)
	if err != nil {
		return fmt.Errorf("--schema: %w", err)
	}
	if partitions < 1 {
		return fmt.Errorf("--partitions must be positive")
	}
	if partitions > 1 && topic == "" && !strings.Contains(out, "%d") {
		return fmt.Errorf("--out must contain %%d when --partitions > 1")
	}

	alloc := memory.DefaultAllocator
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	pipelines := make([]*executor.Pipeline, 0, partitions)
	for i := 0; i < partitions; i++ {
		g, err := connectors.NewGenerator(alloc, connectors.GeneratorConfig{
			Schema:        schema,
			Sorted:        sorted,
			Rows:          rows,
			BatchSize:     batchSize,
			RunLength:     runLength,
			Cardinality:   cardinality,
			Seed:          seed + uint64(i),
			RowsPerSecond: rate,
		})
		if err != nil {
			return err
		}
		src := connectors.NewGeneratorSource(fmt.Sprintf("generator-%d", i), g)
		h := chunk.NewHeader(schema)

		var sink *connectors.Sink
		if topic != "" {
			sink = connectors.NewKafkaSink(fmt.Sprintf("kafka-sink-%d", i), h, connectors.KafkaConfig{
				Topic:            topic,
				BootstrapServers: strings.Split(brokers, ","),
				KeyBy:            sorted,
			})
		} else {
			path := out
			if partitions > 1 {
				path = fmt.Sprintf(out, i)
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			files = append(files, f)
			sink = connectors.NewIPCSink(fmt.Sprintf("ipc-sink-%d", i), h, f)
		}

		pl := executor.NewPipeline(fmt.Sprintf("generate-%d", i), alloc)
		if err := pl.Chain(src, sink); err != nil {
			return err
		}
		pipelines = append(pipelines, pl)
	}

	start := time.Now()
	if err := executor.RunParallel(context.Background(), workers, pipelines...); err != nil {
		return err
	}
	slog.Info("generated data",
		"partitions", partitions,
		"rows_per_partition", rows,
		"elapsed", time.Since(start),
	)
	return nil
}
