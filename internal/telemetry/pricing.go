package telemetry

import (
	"encoding/json"
	"fmt"
)

// ModelPrice is the USD price per 1k tokens for one model.
type ModelPrice struct {
	Prompt     float64 `json:"prompt" yaml:"prompt"`
	Completion float64 `json:"completion" yaml:"completion"`
}

// PriceTable maps model names to per-1k token prices. It is injectable:
// the aggregator takes whatever table the caller provides and only sums
// token-cost fields with it.
type PriceTable map[string]ModelPrice

// DefaultPriceTable covers a handful of common models so summaries are
// useful out of the box. Callers with real billing needs inject their own.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"claude-3-opus":     {Prompt: 0.015, Completion: 0.075},
		"claude-3-5-sonnet": {Prompt: 0.003, Completion: 0.015},
		"claude-3-haiku":    {Prompt: 0.00025, Completion: 0.00125},
		"gpt-4o":            {Prompt: 0.0025, Completion: 0.01},
		"gpt-4o-mini":       {Prompt: 0.00015, Completion: 0.0006},
	}
}

// ParsePriceTable parses the JSON pricing map from configuration. Each
// model maps either to a {prompt, completion} object or to a flat
// per-1k rate applied to both sides.
func ParsePriceTable(raw string) (PriceTable, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty price table")
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	table := make(PriceTable, len(entries))
	for model, entry := range entries {
		var flat float64
		if err := json.Unmarshal(entry, &flat); err == nil {
			table[model] = ModelPrice{Prompt: flat, Completion: flat}
			continue
		}
		var price ModelPrice
		if err := json.Unmarshal(entry, &price); err != nil {
			return nil, fmt.Errorf("parse price for model %s: %w", model, err)
		}
		table[model] = price
	}
	return table, nil
}

// Estimate returns the USD cost for the given token counts. When only a
// total is known the average of the prompt and completion rates applies.
// Unknown models cost zero.
func (t PriceTable) Estimate(model string, promptTokens, completionTokens, totalTokens int64) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	if promptTokens == 0 && completionTokens == 0 && totalTokens > 0 {
		avg := (price.Prompt + price.Completion) / 2
		return float64(totalTokens) / 1000 * avg
	}
	return float64(promptTokens)/1000*price.Prompt + float64(completionTokens)/1000*price.Completion
}
