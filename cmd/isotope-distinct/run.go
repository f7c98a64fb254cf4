package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/connectors"
	"github.com/sandboxws/isotope/execcore/pkg/executor"
	"github.com/sandboxws/isotope/execcore/pkg/metrics"
	"github.com/sandboxws/isotope/execcore/pkg/plan"
)

func runPlan(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	planPath, _ := flags.GetString("plan")
	inputs, _ := flags.GetStringArray("input")
	output, _ := flags.GetString("output")
	consoleRows, _ := flags.GetInt("console-rows")
	metricsAddr, _ := flags.GetString("metrics-addr")
	shutdownTimeout, _ := flags.GetDuration("shutdown-timeout")
	kafkaTopic, _ := flags.GetString("kafka-topic")

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	slog.Info("loaded plan", "pipeline", p.Name, "sort_keys", len(p.SortKeys), "limit_hint", p.LimitHint)

	if metricsAddr != "" {
		srv := metrics.ServeMetrics(metricsAddr)
		defer srv.Close()
	}

	alloc := memory.DefaultAllocator
	var (
		sources []*connectors.Source
		closers []io.Closer
	)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	switch {
	case kafkaTopic != "":
		src, err := kafkaSource(cmd, kafkaTopic)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	case len(inputs) == 0:
		return fmt.Errorf("no input: pass --input or --kafka-topic")
	default:
		for i, path := range inputs {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			closers = append(closers, f)
			src, err := connectors.NewIPCSource(fmt.Sprintf("ipc-source-%d", i), f, alloc)
			if err != nil {
				return fmt.Errorf("input %s: %w", path, err)
			}
			sources = append(sources, src)
		}
	}

	var out io.Writer
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		closers = append(closers, f)
		out = f
	}
	newSink := func(h *chunk.Header) *connectors.Sink {
		if out != nil {
			return connectors.NewIPCSink("ipc-sink", h, out)
		}
		return connectors.NewConsoleSink("console-sink", h, consoleRows, cmd.OutOrStdout())
	}

	pl := executor.NewPipeline(p.Name, alloc)
	distinct, err := plan.Build(pl, p, sources, newSink)
	if err != nil {
		for _, s := range sources {
			s.Close()
		}
		return err
	}

	if err := executor.RunWithGracefulShutdown(context.Background(), pl, shutdownTimeout); err != nil {
		return fmt.Errorf("pipeline %s: %w", p.Name, err)
	}
	slog.Info("pipeline done", "pipeline", p.Name, "query_id", pl.QueryID(), "rows", distinct.TotalOutputRows())
	return nil
}

func kafkaSource(cmd *cobra.Command, topic string) (*connectors.Source, error) {
	flags := cmd.Flags()
	brokers, _ := flags.GetString("kafka-brokers")
	schemaSpec, _ := flags.GetString("kafka-schema")
	maxRecords, _ := flags.GetInt64("kafka-max-records")

	schema, err := parseSchema(schemaSpec)
	if err != nil {
		return nil, fmt.Errorf("--kafka-schema: %w", err)
	}
	cfg := connectors.KafkaConfig{
		Topic:            topic,
		BootstrapServers: strings.Split(brokers, ","),
		MaxRecords:       maxRecords,
	}
	return connectors.NewKafkaSource("kafka-source", cfg, schema), nil
}

func encodePlan(_ *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	slog.Info("encoded plan", "pipeline", p.Name, "bytes", len(data), "path", args[1])
	return nil
}

func showPlan(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	data, err := p.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
