// Package pricing maps reported token usage to integer-cent costs.
package pricing

import (
	"encoding/json"

	"bursar/pkg/config"
	"bursar/pkg/logging"
)

// Price holds per-model rates in cents per million tokens. Integer rates keep
// all cost math exact.
type Price struct {
	InputCentsPerMTok  int64 `json:"input_cents_per_mtok"`
	OutputCentsPerMTok int64 `json:"output_cents_per_mtok"`
}

// Table resolves model identifiers to prices. Unknown models fall back to the
// default rate so that usage is never metered for free by accident.
type Table struct {
	prices   map[string]Price
	fallback Price
	logger   logging.Logger
}

// defaultPrices covers the models the platform routes to out of the box.
// Overridable per deployment via MODEL_PRICES_JSON.
var defaultPrices = map[string]Price{
	"gpt-4o":            {InputCentsPerMTok: 250, OutputCentsPerMTok: 1000},
	"gpt-4o-mini":       {InputCentsPerMTok: 15, OutputCentsPerMTok: 60},
	"claude-3-5-sonnet": {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
	"claude-3-5-haiku":  {InputCentsPerMTok: 100, OutputCentsPerMTok: 500},
	"gemini-1.5-pro":    {InputCentsPerMTok: 125, OutputCentsPerMTok: 500},
	"gemini-1.5-flash":  {InputCentsPerMTok: 8, OutputCentsPerMTok: 30},
}

// defaultFallback prices unknown models at the most expensive routed tier.
var defaultFallback = Price{InputCentsPerMTok: 300, OutputCentsPerMTok: 1500}

// NewTable builds the pricing table from the built-in defaults merged with
// the MODEL_PRICES_JSON environment override, if set.
func NewTable(logger logging.Logger) *Table {
	prices := make(map[string]Price, len(defaultPrices))
	for id, p := range defaultPrices {
		prices[id] = p
	}

	if raw := config.GetEnv("MODEL_PRICES_JSON", ""); raw != "" {
		var overrides map[string]Price
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			logger.WithError(err).Warn("Invalid MODEL_PRICES_JSON, using built-in prices")
		} else {
			for id, p := range overrides {
				prices[id] = p
			}
			logger.WithField("models", len(overrides)).Info("Loaded model price overrides")
		}
	}

	return &Table{prices: prices, fallback: defaultFallback, logger: logger}
}

// Lookup returns the price for a model and whether it was explicitly listed.
func (t *Table) Lookup(modelID string) (Price, bool) {
	p, ok := t.prices[modelID]
	if !ok {
		return t.fallback, false
	}
	return p, true
}

// Cost computes the cost in cents of a single model invocation, rounding up
// so fractional cents are never given away.
func (t *Table) Cost(modelID string, inputTokens, outputTokens int64) int64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	price, known := t.Lookup(modelID)
	if !known {
		t.logger.WithField("model_id", modelID).Debug("Unknown model, using fallback price")
	}

	raw := inputTokens*price.InputCentsPerMTok + outputTokens*price.OutputCentsPerMTok
	return ceilDiv(raw, 1_000_000)
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
