// Package plan describes a sorted-DISTINCT pipeline declaratively and builds
// it out of processors. Plans are written as YAML or as protobuf wire
// encoded binary.
package plan

import (
	"errors"
	"fmt"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
	"github.com/sandboxws/isotope/execcore/pkg/processor"
	"github.com/sandboxws/isotope/execcore/pkg/transforms"
)

// ErrInvalidPlan wraps every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// SortKey is one column of the order the input is sorted by.
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
	NullsFirst bool   `json:"nulls_first,omitempty"`
}

// Projection computes one output column before DISTINCT.
type Projection struct {
	Expr string `json:"expr"`
	Name string `json:"name,omitempty"`
}

// DistinctPlan is a pipeline: sources merged by SortKeys, an optional
// Where condition, optional projections, then DISTINCT over Columns.
type DistinctPlan struct {
	Name        string       `json:"name"`
	SortKeys    []SortKey    `json:"sort_keys,omitempty"`
	Where       string       `json:"where,omitempty"`
	Projections []Projection `json:"projections,omitempty"`
	// Columns taking part in distinctness; empty means all.
	Columns   []string `json:"columns,omitempty"`
	LimitHint uint64   `json:"limit_hint,omitempty"`
	MaxRows   uint64   `json:"max_rows,omitempty"`
	MaxBytes  uint64   `json:"max_bytes,omitempty"`
	Overflow  string   `json:"overflow,omitempty"`
	ChunkSize int      `json:"chunk_size,omitempty"`
}

// Validate checks the plan for structural errors. Column names are
// resolved later against the input header.
func (p *DistinctPlan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPlan)
	}
	seen := make(map[string]bool, len(p.SortKeys))
	for _, k := range p.SortKeys {
		if k.Column == "" {
			return fmt.Errorf("%w: sort key without column", ErrInvalidPlan)
		}
		if seen[k.Column] {
			return fmt.Errorf("%w: duplicate sort key %q", ErrInvalidPlan, k.Column)
		}
		seen[k.Column] = true
	}
	names := make(map[string]bool, len(p.Projections))
	for _, pr := range p.Projections {
		if pr.Expr == "" {
			return fmt.Errorf("%w: empty projection", ErrInvalidPlan)
		}
		name := pr.Name
		if name == "" {
			name = pr.Expr
		}
		if names[name] {
			return fmt.Errorf("%w: duplicate projection %q", ErrInvalidPlan, name)
		}
		names[name] = true
	}
	cols := make(map[string]bool, len(p.Columns))
	for _, c := range p.Columns {
		if cols[c] {
			return fmt.Errorf("%w: duplicate distinct column %q", ErrInvalidPlan, c)
		}
		cols[c] = true
	}
	if _, err := processor.ParseOverflowMode(p.Overflow); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if p.ChunkSize < 0 {
		return fmt.Errorf("%w: negative chunk size", ErrInvalidPlan)
	}
	return nil
}

// SortDescription converts the sort keys. NULLs sort last unless
// NullsFirst is set.
func (p *DistinctPlan) SortDescription() chunk.SortDescription {
	d := make(chunk.SortDescription, len(p.SortKeys))
	for i, k := range p.SortKeys {
		dir := 1
		if k.Descending {
			dir = -1
		}
		nulls := dir
		if k.NullsFirst {
			nulls = -dir
		}
		d[i] = chunk.SortColumn{Name: k.Column, Direction: dir, NullsDirection: nulls}
	}
	return d
}

// SizeLimits returns the DISTINCT set limits of the plan.
func (p *DistinctPlan) SizeLimits() (processor.SizeLimits, error) {
	mode, err := processor.ParseOverflowMode(p.Overflow)
	if err != nil {
		return processor.SizeLimits{}, err
	}
	return processor.SizeLimits{MaxRows: p.MaxRows, MaxBytes: p.MaxBytes, Overflow: mode}, nil
}

// DistinctColumns returns the columns taking part in distinctness, or nil
// for all of them.
func (p *DistinctPlan) DistinctColumns() []string {
	if len(p.Columns) == 0 {
		return nil
	}
	return p.Columns
}

// TransformProjections converts the projections for transforms.NewExpression.
func (p *DistinctPlan) TransformProjections() []transforms.Projection {
	out := make([]transforms.Projection, len(p.Projections))
	for i, pr := range p.Projections {
		out[i] = transforms.Projection{Expr: pr.Expr, Name: pr.Name}
	}
	return out
}
