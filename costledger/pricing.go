package costledger

// ModelPricing holds per-million-token prices in USD for one model.
type ModelPricing struct {
	InputPerMillion  float64 `json:"input_per_million" mapstructure:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" mapstructure:"output_per_million"`
}

// DefaultPricing covers the models the platform invokes out of the box.
// Overridable via configuration; unknown models fall back to the configured
// default model's pricing so a missing entry can never make calls free.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gpt-4o": {
			InputPerMillion:  2.50,
			OutputPerMillion: 10.00,
		},
		"gpt-4o-mini": {
			InputPerMillion:  0.15,
			OutputPerMillion: 0.60,
		},
		"claude-sonnet": {
			InputPerMillion:  3.00,
			OutputPerMillion: 15.00,
		},
		"claude-haiku": {
			InputPerMillion:  0.80,
			OutputPerMillion: 4.00,
		},
	}
}

// cost returns the USD cost of a call under this pricing.
func (p ModelPricing) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
