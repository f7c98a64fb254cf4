// Package metrics provides Prometheus instrumentation for pipelines of
// processors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RowsOut counts rows emitted by each processor.
	RowsOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isotope_processor_rows_out_total",
		Help: "Total number of rows emitted by processor",
	}, []string{"pipeline", "processor"})

	// ChunksOut counts chunks emitted by each processor.
	ChunksOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isotope_processor_chunks_out_total",
		Help: "Total number of chunks emitted by processor",
	}, []string{"pipeline", "processor"})

	// PrepareStatus counts Prepare results by status.
	PrepareStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isotope_processor_prepare_total",
		Help: "Prepare calls by processor and returned status",
	}, []string{"pipeline", "processor", "status"})

	// WorkLatency tracks per-call Work latency.
	WorkLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "isotope_processor_work_seconds",
		Help:    "Latency of processor Work calls in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"pipeline", "processor"})

	// Errors counts Work failures by processor.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isotope_processor_errors_total",
		Help: "Total number of errors by processor",
	}, []string{"pipeline", "processor"})

	// PipelinesStalled counts pipelines aborted because no processor could
	// make progress.
	PipelinesStalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isotope_pipelines_stalled_total",
		Help: "Pipelines aborted as stalled",
	})
)

// ServeMetrics starts an HTTP server on the given address to serve
// Prometheus metrics at /metrics.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go server.ListenAndServe()
	return server
}
