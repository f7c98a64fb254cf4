// Package executor drives a pipeline of processors connected by ports. It
// repeatedly visits every unfinished processor, calls Prepare and runs Work
// for those that are Ready, until all of them are finished.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/sandboxws/isotope/execcore/pkg/metrics"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
)

// ErrStalled is returned when a full sweep over the pipeline neither ran
// work nor changed any port, so no processor can ever progress.
var ErrStalled = errors.New("pipeline stalled")

type node struct {
	id       string
	proc     processor.Processor
	ctx      *processor.Context
	status   processor.Status
	finished bool
}

// Pipeline is a set of connected processors run by one goroutine.
type Pipeline struct {
	name   string
	alloc  memory.Allocator
	nodes  []*node
	cancel context.CancelFunc
	logger *slog.Logger

	queryID string
}

// NewPipeline creates an empty pipeline.
func NewPipeline(name string, alloc memory.Allocator) *Pipeline {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	return &Pipeline{
		name:    name,
		alloc:   alloc,
		queryID: uuid.NewString(),
	}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// QueryID identifies one pipeline instance in logs.
func (p *Pipeline) QueryID() string { return p.queryID }

// Add registers processors. Their ports must be connected before Run.
func (p *Pipeline) Add(procs ...processor.Processor) {
	for _, proc := range procs {
		id := fmt.Sprintf("%s-%d", strings.ToLower(proc.Name()), len(p.nodes))
		p.nodes = append(p.nodes, &node{id: id, proc: proc})
	}
}

// Chain adds procs and connects the first output of each to the first
// input of the next one.
func (p *Pipeline) Chain(procs ...processor.Processor) error {
	for i := 0; i+1 < len(procs); i++ {
		outs, ins := procs[i].Outputs(), procs[i+1].Inputs()
		if len(outs) == 0 || len(ins) == 0 {
			return fmt.Errorf("%w: cannot chain %s into %s", processor.ErrLogical, procs[i].Name(), procs[i+1].Name())
		}
		port.Connect(outs[0], ins[0])
	}
	p.Add(procs...)
	return nil
}

// Processors returns the registered processors in order.
func (p *Pipeline) Processors() []processor.Processor {
	out := make([]processor.Processor, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = n.proc
	}
	return out
}

// Metrics returns the per-instance counters of the i-th processor. It is
// valid after Run has started.
func (p *Pipeline) Metrics(i int) *processor.Metrics {
	if p.nodes[i].ctx == nil {
		return nil
	}
	return p.nodes[i].ctx.Metrics
}

// Stop cancels a running pipeline.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) validate() error {
	for _, n := range p.nodes {
		for _, in := range n.proc.Inputs() {
			if !in.IsConnected() {
				return fmt.Errorf("%w: %s has an unconnected input", processor.ErrLogical, n.id)
			}
		}
		for _, out := range n.proc.Outputs() {
			if !out.IsConnected() {
				return fmt.Errorf("%w: %s has an unconnected output", processor.ErrLogical, n.id)
			}
		}
	}
	return nil
}

// Run opens every processor and drives the pipeline to completion. It
// returns nil when every processor finished, the first Work error, the
// context error on cancellation or ErrStalled. Processors are closed in
// every case.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	ctx, p.cancel = context.WithCancel(ctx)
	defer p.cancel()

	p.logger = slog.Default().With("pipeline", p.name, "query_id", p.queryID)
	if err := p.validate(); err != nil {
		return err
	}

	defer func() {
		if cerr := p.teardown(); err == nil {
			err = cerr
		}
	}()

	for _, n := range p.nodes {
		n.ctx = processor.NewContext(ctx, p.alloc, n.id, n.proc.Name())
		n.ctx.Logger = p.logger.With("processor", n.id, "name", n.proc.Name())
		if err := n.proc.Open(n.ctx); err != nil {
			return fmt.Errorf("open %s: %w", n.id, err)
		}
	}

	start := time.Now()
	p.logger.Info("pipeline started", "processors", len(p.nodes))

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled", "error", err)
			return err
		}

		progressed, done, err := p.sweep()
		if err != nil {
			return err
		}
		if done {
			p.logger.Info("pipeline finished", "elapsed", time.Since(start))
			return nil
		}
		if !progressed {
			metrics.PipelinesStalled.Inc()
			stalled := p.stalledSummary()
			p.logger.Error("pipeline stalled", "processors", stalled)
			return fmt.Errorf("%w: %s", ErrStalled, stalled)
		}
	}
}

// sweep visits every unfinished processor once.
func (p *Pipeline) sweep() (progressed, done bool, err error) {
	done = true
	for _, n := range p.nodes {
		if n.finished {
			continue
		}
		before := p.portVersions(n)

		n.status = n.proc.Prepare()
		metrics.PrepareStatus.WithLabelValues(p.name, n.id, n.status.String()).Inc()

		switch n.status {
		case processor.Finished:
			n.finished = true
			progressed = true
			n.ctx.Logger.Debug("processor finished")
		case processor.Ready:
			if err := p.work(n); err != nil {
				return false, false, err
			}
			progressed = true
		}

		if p.portVersions(n) != before {
			progressed = true
		}
		if !n.finished {
			done = false
		}
	}
	return progressed, done, nil
}

func (p *Pipeline) work(n *node) error {
	rowsBefore := n.ctx.Metrics.RowsOut.Load()
	chunksBefore := n.ctx.Metrics.ChunksOut.Load()

	start := time.Now()
	err := n.proc.Work()
	metrics.WorkLatency.WithLabelValues(p.name, n.id).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Errors.WithLabelValues(p.name, n.id).Inc()
		n.ctx.Logger.Error("work failed", "error", err)
		return fmt.Errorf("%s: %w", n.id, err)
	}
	metrics.RowsOut.WithLabelValues(p.name, n.id).Add(float64(n.ctx.Metrics.RowsOut.Load() - rowsBefore))
	metrics.ChunksOut.WithLabelValues(p.name, n.id).Add(float64(n.ctx.Metrics.ChunksOut.Load() - chunksBefore))
	return nil
}

func (p *Pipeline) portVersions(n *node) uint64 {
	var v uint64
	for _, in := range n.proc.Inputs() {
		v += in.Version()
	}
	for _, out := range n.proc.Outputs() {
		v += out.Version()
	}
	return v
}

func (p *Pipeline) stalledSummary() string {
	var parts []string
	for _, n := range p.nodes {
		if !n.finished {
			parts = append(parts, fmt.Sprintf("%s=%s", n.id, n.status))
		}
	}
	return strings.Join(parts, ", ")
}

// teardown closes every input port, releasing chunks still in flight, then
// closes every processor.
func (p *Pipeline) teardown() error {
	for _, n := range p.nodes {
		for _, in := range n.proc.Inputs() {
			if in.IsConnected() {
				in.Close()
			}
		}
	}
	var errs []error
	for _, n := range p.nodes {
		if err := n.proc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n.id, err))
		}
	}
	return errors.Join(errs...)
}
