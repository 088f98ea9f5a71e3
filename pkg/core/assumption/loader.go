package assumption

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dcf_valuation/pkg/core/utils"

	"gopkg.in/yaml.v2"
)

// File is the on-disk shape of an assumption set.
//
//	assumptions:
//	  base_revenue: 1000000
//	  ...
//	scenarios:
//	  - name: optimistic
//	    overrides:
//	      revenue_growth_rate: {mode: add, value: 0.02}
//
// When scenarios is empty the optimistic / pessimistic pair is derived from
// spread (or DefaultSpread).
type File struct {
	Assumptions Assumptions     `json:"assumptions" yaml:"assumptions"`
	Scenarios   []ScenarioDelta `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Spread      *Spread         `json:"spread,omitempty" yaml:"spread,omitempty"`
}

// Deltas returns the explicit scenarios, or the default pair built from Spread.
func (f *File) Deltas() []ScenarioDelta {
	if len(f.Scenarios) > 0 {
		return f.Scenarios
	}
	if f.Spread != nil {
		return DefaultDeltas(*f.Spread)
	}
	return DefaultDeltas(DefaultSpread)
}

// LoadFile reads an assumption file. YAML is chosen by .yaml/.yml; anything
// else is decoded as lenient JSON (Hjson, trailing commas, comments).
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assumptions file: %w", err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes an assumption file body in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*File, error) {
	var f File
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	case "json":
		if err := utils.DecodeLenient(data, &f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported assumptions format %q", format)
	}
	return &f, nil
}
