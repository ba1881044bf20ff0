package observer

import (
	"context"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains sensible defaults for common models.
// Users can override or extend via [observer.pricing] in aikit.toml.
var DefaultPricing = map[string]ModelPricing{
	// Gemini
	"gemini-2.0-flash":      {0.10, 0.40},
	"gemini-2.0-flash-lite": {0.0, 0.0},
	"gemini-2.5-flash":      {0.15, 0.60},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	"gemini-2.5-pro":        {1.25, 10.00},

	// OpenAI
	"gpt-4o":       {2.50, 10.00},
	"gpt-4o-mini":  {0.15, 0.60},
	"gpt-4.1":      {2.00, 8.00},
	"gpt-4.1-mini": {0.40, 1.60},
	"gpt-4.1-nano": {0.10, 0.40},
	"o3-mini":      {1.10, 4.40},

	// Anthropic
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-3-5":  {0.80, 4.00},
	"claude-opus-4":     {15.00, 75.00},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// CostHook fills in a run result's usage costs from token counts when the
// model adapter did not report them. Register it on an agent's hook chain.
type CostHook struct {
	calc  *CostCalculator
	model string
}

// NewCostHook creates a cost hook pricing usage for the given model name.
// An empty model prices each run by the model its result reports.
func NewCostHook(model string, overrides map[string]ModelPricing) *CostHook {
	return &CostHook{calc: NewCostCalculator(overrides), model: model}
}

// AfterRun computes costs from the accumulated token usage. Costs already
// reported by the adapter are left untouched.
func (h *CostHook) AfterRun(ctx context.Context, c *aikit.AgentContext, result *aikit.AgentResult) (aikit.RunDecision, error) {
	model := h.model
	if model == "" {
		model = result.Model
	}
	u := &result.Usage
	if u.TotalCost == 0 && (u.InputTokens > 0 || u.OutputTokens > 0) {
		u.InputCost = h.calc.Calculate(model, u.InputTokens, 0)
		u.OutputCost = h.calc.Calculate(model, 0, u.OutputTokens)
		u.TotalCost = u.InputCost + u.OutputCost
	}
	return aikit.DecisionDone, nil
}

var _ aikit.AfterRunHook = (*CostHook)(nil)
