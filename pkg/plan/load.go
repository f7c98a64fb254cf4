package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// Load reads a plan from path. Files ending in .yaml, .yml or .json are
// parsed as YAML; anything else is decoded as binary.
func Load(path string) (*DistinctPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p := &DistinctPlan{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		if err := yaml.UnmarshalStrict(data, p); err != nil {
			return nil, fmt.Errorf("parse plan %s: %w", path, err)
		}
	default:
		if err := p.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", path, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// YAML renders the plan as YAML.
func (p *DistinctPlan) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// ParseYAML parses and validates a YAML plan.
func ParseYAML(data []byte) (*DistinctPlan, error) {
	p := &DistinctPlan{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
