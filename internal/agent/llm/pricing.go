package llm

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	in  float64
	out float64
}

// Substring-matched price table. Unknown models cost 0; the estimate is for
// usage reporting, not billing.
var modelPrices = []struct {
	match string
	price modelPrice
}{
	{"claude-opus-4", modelPrice{15.0, 75.0}},
	{"claude-sonnet-4", modelPrice{3.0, 15.0}},
	{"claude-haiku-4", modelPrice{0.8, 4.0}},
	{"claude-3-5-haiku", modelPrice{0.8, 4.0}},
	{"gpt-4o-mini", modelPrice{0.15, 0.6}},
	{"gpt-4o", modelPrice{2.5, 10.0}},
	{"gpt-4.1-mini", modelPrice{0.4, 1.6}},
	{"gpt-4.1", modelPrice{2.0, 8.0}},
	{"o3-mini", modelPrice{1.1, 4.4}},
	{"gemini-2.5-pro", modelPrice{1.25, 10.0}},
	{"gemini-2.5-flash", modelPrice{0.3, 2.5}},
	{"gemini-2.0-flash", modelPrice{0.1, 0.4}},
}

// estimateCost returns the USD cost of a call, 0 for unknown models.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	for _, entry := range modelPrices {
		if strings.Contains(model, entry.match) {
			return float64(promptTokens)*entry.price.in/1e6 +
				float64(completionTokens)*entry.price.out/1e6
		}
	}
	return 0
}
