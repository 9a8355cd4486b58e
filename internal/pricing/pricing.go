// Package pricing computes monetary cost from usage units against configured
// per-unit rates. All functions are pure; a pricing gap never fails a run,
// it just contributes zero.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const perMillion = 1_000_000

// ModelRate holds the per-million-token rates for one analysis model, plus an
// optional flat per-image charge.
type ModelRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	PerImage      float64 `yaml:"per_image"`
}

// Table maps model identifiers to rates.
type Table struct {
	Models map[string]ModelRate `yaml:"models"`
}

// TokenCost prices two-sided token usage. Costs are additive: pricing usage
// in parts equals pricing the combined usage in one call.
func TokenCost(inputTokens, outputTokens int64, perMInputRate, perMOutputRate float64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)/perMillion*perMInputRate +
		float64(outputTokens)/perMillion*perMOutputRate
}

// UnitCost prices single-rate usage such as embeddings.
func UnitCost(units int64, perMRate float64) float64 {
	if units < 0 {
		units = 0
	}
	return float64(units) / perMillion * perMRate
}

// Cost prices one analyzer call (token usage plus one image) under the rates
// configured for model. Unknown models cost zero.
func (t Table) Cost(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := t.Models[model]
	if !ok {
		return 0
	}
	return TokenCost(inputTokens, outputTokens, rate.InputPerMTok, rate.OutputPerMTok) + rate.PerImage
}

// Default returns the built-in rate table used when no pricing file is
// configured.
func Default() Table {
	return Table{Models: map[string]ModelRate{
		"google/gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50},
		"openai/gpt-4o-mini":      {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	}}
}

// Load reads a rate table from a YAML file. Models present in the file extend
// or override the defaults.
func Load(path string) (Table, error) {
	table := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("read pricing file: %w", err)
	}
	var loaded Table
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return table, fmt.Errorf("parse pricing file: %w", err)
	}
	for name, rate := range loaded.Models {
		table.Models[name] = rate
	}
	return table, nil
}
