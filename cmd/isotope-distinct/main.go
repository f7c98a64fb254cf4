// Command isotope-distinct runs sorted-DISTINCT pipelines over Arrow IPC
// streams or Kafka topics, and generates sorted synthetic input for them.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "isotope-distinct",
		Short:         "Run DISTINCT over pre-sorted Arrow streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return setupLogging(level)
		},
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	addCommands(root)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func addCommands(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a DISTINCT plan",
		Args:  cobra.NoArgs,
		RunE:  runPlan}
	cmd.Flags().String("plan", "", "plan file (.yaml or binary)")
	cmd.Flags().StringArray("input", nil, "Arrow IPC stream input, repeatable; several inputs are merged")
	cmd.Flags().String("output", "", "Arrow IPC stream output (default: print tables)")
	cmd.Flags().Int("console-rows", 20, "rows printed per chunk when printing tables")
	cmd.Flags().String("kafka-brokers", "localhost:9092", "Kafka bootstrap servers, comma separated")
	cmd.Flags().String("kafka-topic", "", "read JSON rows from this Kafka topic instead of --input")
	cmd.Flags().String("kafka-schema", "", "schema of Kafka rows, e.g. key:int64,value:string")
	cmd.Flags().Int64("kafka-max-records", 0, "stop after this many Kafka records (0: until idle)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().Duration("shutdown-timeout", 0, "grace period after SIGINT/SIGTERM")
	_ = cmd.MarkFlagRequired("plan")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate sorted synthetic data",
		Args:  cobra.NoArgs,
		RunE:  generate}
	cmd.Flags().String("out", "data.arrow", "output file; with --partitions > 1 it must contain %d")
	cmd.Flags().Int("partitions", 1, "number of independent sorted files")
	cmd.Flags().Int("workers", 0, "parallel generators (default: one per partition)")
	cmd.Flags().Int64("rows", 100_000, "rows per partition")
	cmd.Flags().Int("batch-size", 1024, "rows per record batch")
	cmd.Flags().Int("run-length", 16, "rows sharing one sort key")
	cmd.Flags().Int("cardinality", 8, "distinct values of unsorted columns")
	cmd.Flags().Uint64("seed", 1, "random seed")
	cmd.Flags().String("schema", "key:int64,value:int64,tag:string", "column list name:type")
	cmd.Flags().StringSlice("sorted", []string{"key"}, "columns the data is sorted by")
	cmd.Flags().Int64("rate", 0, "rows per second per partition (0: unlimited)")
	cmd.Flags().String("kafka-brokers", "localhost:9092", "Kafka bootstrap servers, comma separated")
	cmd.Flags().String("kafka-topic", "", "produce rows as JSON to this topic instead of files")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "encode-plan plan.yaml plan.pb",
		Short: "Convert a YAML plan to the binary plan format",
		Args:  cobra.ExactArgs(2),
		RunE:  encodePlan}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "show-plan plan",
		Short: "Print a plan as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  showPlan}
	root.AddCommand(cmd)
}

func setupLogging(level string) error {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info", "":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}
