package llm

import "strings"

// Price is the USD cost per one million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// PriceTable maps model names to prices.
type PriceTable map[string]Price

// DefaultPrices returns list prices for the models the tool ships
// defaults for.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4.1":          {Input: 2.00, Output: 8.00},
		"gpt-4.1-mini":     {Input: 0.40, Output: 1.60},
		"gpt-4o":           {Input: 2.50, Output: 10.00},
		"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
	}
}

// Lookup returns the price for model. A dated or suffixed model name such
// as "gpt-4.1-2025-04-14" matches the longest priced prefix.
func (t PriceTable) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}

	var (
		best    Price
		bestLen int
	)
	for name, p := range t {
		if len(name) > bestLen && strings.HasPrefix(model, name+"-") {
			best, bestLen = p, len(name)
		}
	}
	return best, bestLen > 0
}

// Cost returns the USD cost of u on model. The second result is false when
// the model has no price.
func (t PriceTable) Cost(model string, u Usage) (float64, bool) {
	p, ok := t.Lookup(model)
	if !ok {
		return 0, false
	}
	return (float64(u.PromptTokens)*p.Input + float64(u.CompletionTokens)*p.Output) / 1_000_000, true
}
