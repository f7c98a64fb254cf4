package plan

import (
	"fmt"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/connectors"
	"github.com/sandboxws/isotope/execcore/pkg/executor"
	"github.com/sandboxws/isotope/execcore/pkg/merges"
	"github.com/sandboxws/isotope/execcore/pkg/port"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
	"github.com/sandboxws/isotope/execcore/pkg/transforms"
)

// SinkFactory creates the sink for the DISTINCT output header.
type SinkFactory func(h *chunk.Header) *connectors.Sink

// Build wires the plan into pl:
//
//	source ─┐
//	source ─┼─ MergingSorted ─ [Filter] ─ [Expression] ─ DistinctSorted ─ sink
//	source ─┘
//
// A single source is connected directly. Every source must emit rows sorted
// by the plan's sort keys under the same schema.
func Build(pl *executor.Pipeline, p *DistinctPlan, sources []*connectors.Source, newSink SinkFactory) (*transforms.DistinctSorted, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidPlan)
	}
	header := sources[0].Output().Header()
	for _, s := range sources[1:] {
		if !s.Output().Header().Schema().Equal(header.Schema()) {
			return nil, fmt.Errorf("%w: source %s schema differs from %s", ErrInvalidPlan, s.Name(), sources[0].Name())
		}
	}

	descr := p.SortDescription()
	for _, s := range sources {
		pl.Add(s)
	}

	var upstream *port.OutputPort
	if len(sources) == 1 {
		upstream = sources[0].Output()
	} else {
		merge, err := merges.NewMergingSorted(header, len(sources), descr, p.ChunkSize, 0)
		if err != nil {
			return nil, fmt.Errorf("build merge: %w", err)
		}
		for i, s := range sources {
			port.Connect(s.Output(), merge.Input(i))
		}
		pl.Add(merge)
		upstream = merge.Output()
	}

	var chain []processor.Processor
	if p.Where != "" {
		filter, err := transforms.NewFilter(upstream.Header(), p.Where)
		if err != nil {
			return nil, fmt.Errorf("build where: %w", err)
		}
		port.Connect(upstream, filter.Input())
		chain = append(chain, filter)
		upstream = filter.Output()
	}
	if len(p.Projections) > 0 {
		expression, err := transforms.NewExpression(upstream.Header(), p.TransformProjections())
		if err != nil {
			return nil, fmt.Errorf("build projections: %w", err)
		}
		port.Connect(upstream, expression.Input())
		chain = append(chain, expression)
		upstream = expression.Output()
	}

	limits, err := p.SizeLimits()
	if err != nil {
		return nil, err
	}
	distinct, err := transforms.NewDistinctSorted(upstream.Header(), limits, p.LimitHint, descr, p.DistinctColumns())
	if err != nil {
		return nil, fmt.Errorf("build distinct: %w", err)
	}
	port.Connect(upstream, distinct.Input())
	chain = append(chain, distinct)

	sink := newSink(distinct.Output().Header())
	port.Connect(distinct.Output(), sink.Input())
	chain = append(chain, sink)

	pl.Add(chain...)
	return distinct, nil
}
