// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pricing maps model names to per-token rates and turns token
// counts into currency.
//
// Tables are authored as JSONC (JSON with comments and trailing
// commas) so the operations team can annotate rate changes in place.
// A built-in table ships for development; production points
// service.pricing_table at its own file.
//
// The guard uses EstimateMax for its pre-call check: the worst-case
// cost assuming the response runs to the output-token ceiling. Actual
// costs are computed from real token counts after the call.
package pricing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bursar-io/bursar/lib/money"
)

//go:embed default.jsonc
var defaultTable []byte

// fallbackMaxOutputTokens caps the worst-case output estimate for
// models whose table entry does not declare a ceiling.
const fallbackMaxOutputTokens = 128_000

// Model holds the per-token USD rates for one model.
type Model struct {
	// InputCostPerToken is the USD price of one input token.
	InputCostPerToken float64 `json:"input_cost_per_token"`

	// OutputCostPerToken is the USD price of one output token.
	OutputCostPerToken float64 `json:"output_cost_per_token"`

	// MaxOutputTokens is the model's output ceiling. Zero means
	// unknown; estimates fall back to fallbackMaxOutputTokens.
	MaxOutputTokens int64 `json:"max_output_tokens,omitempty"`
}

// Table is an immutable pricing table. Build one with Parse, LoadFile,
// or Builtin; lookups are safe for concurrent use.
type Table struct {
	models map[string]Model
}

// tableFile is the on-disk shape.
type tableFile struct {
	Models map[string]Model `json:"models"`
}

// Parse reads a JSONC pricing table. Entries with a negative rate or
// no positive rate at all are dropped: a model the table cannot price
// must fail Lookup rather than estimate to zero.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("parsing pricing table: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("pricing table has no models")
	}

	models := make(map[string]Model, len(file.Models))
	for name, model := range file.Models {
		if model.InputCostPerToken < 0 || model.OutputCostPerToken < 0 {
			continue
		}
		if model.InputCostPerToken == 0 && model.OutputCostPerToken == 0 {
			continue
		}
		models[name] = model
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("pricing table has no usable models")
	}
	return &Table{models: models}, nil
}

// LoadFile reads a JSONC pricing table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Builtin returns the embedded default table. Panics if the embedded
// data is malformed, which a test pins down.
func Builtin() *Table {
	table, err := Parse(defaultTable)
	if err != nil {
		panic("pricing: embedded default table is invalid: " + err.Error())
	}
	return table
}

// Lookup returns the pricing entry for a model.
func (t *Table) Lookup(model string) (Model, bool) {
	entry, ok := t.models[model]
	return entry, ok
}

// Models returns the table's model names.
func (t *Table) Models() []string {
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	return names
}

// Cost prices a completed call from its actual token counts.
func (t *Table) Cost(model string, inputTokens, outputTokens int64) (money.Micros, error) {
	entry, ok := t.models[model]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown model %q", model)
	}
	usd := float64(inputTokens)*entry.InputCostPerToken +
		float64(outputTokens)*entry.OutputCostPerToken
	return money.FromUnits(usd), nil
}

// EstimateMax prices the worst case for a call about to be made: all
// input tokens plus output running to the lowest applicable ceiling
// (the request's max_tokens, the model's ceiling, or the fallback).
// requestMaxOutput <= 0 means the request sets no limit.
func (t *Table) EstimateMax(model string, inputTokens, requestMaxOutput int64) (money.Micros, error) {
	entry, ok := t.models[model]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown model %q", model)
	}

	outputCeiling := int64(fallbackMaxOutputTokens)
	if entry.MaxOutputTokens > 0 && entry.MaxOutputTokens < outputCeiling {
		outputCeiling = entry.MaxOutputTokens
	}
	if requestMaxOutput > 0 && requestMaxOutput < outputCeiling {
		outputCeiling = requestMaxOutput
	}

	usd := float64(inputTokens)*entry.InputCostPerToken +
		float64(outputCeiling)*entry.OutputCostPerToken
	return money.FromUnits(usd), nil
}
