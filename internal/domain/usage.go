package domain

import "time"

// Usage tracks token consumption for a single provider call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.EstimatedCost += other.EstimatedCost
}

// UsageRecord is one persisted usage event.
type UsageRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	User      string    `json:"user,omitempty"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider,omitempty"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageGroupBy selects the aggregation dimension for usage queries.
type UsageGroupBy string

const (
	GroupByNone  UsageGroupBy = ""
	GroupByModel UsageGroupBy = "model"
	GroupByUser  UsageGroupBy = "user"
	GroupByDay   UsageGroupBy = "day"
)

// UsageFilter narrows an aggregation query. Fields compose by logical AND;
// zero values mean "no constraint".
type UsageFilter struct {
	Model   string
	User    string
	RunID   string
	Since   time.Time
	Until   time.Time
	GroupBy UsageGroupBy
}

// GroupUsage is the aggregate for one group key.
type GroupUsage struct {
	TotalTokens      int     `json:"total_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
	Requests         int     `json:"requests"`
}

// AggregatedUsage is the answer to a usage query.
type AggregatedUsage struct {
	GroupUsage
	Groups map[string]GroupUsage `json:"groups,omitempty"`
}

// ModelPricing holds pricing per 1K tokens.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// modelPricing maps model identifiers to per-1K-token prices. Unknown
// models fall back to defaultPricing.
var modelPricing = map[string]ModelPricing{
	"gpt-4":                      {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-4-turbo":                {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4o":                     {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-3.5-turbo":              {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"deepseek-chat":              {InputPer1K: 0.00014, OutputPer1K: 0.00028},
}

var defaultPricing = ModelPricing{InputPer1K: 0.001, OutputPer1K: 0.002}

// PricingFor returns the price table entry for a model.
func PricingFor(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return defaultPricing
}

// EstimateCost computes the dollar cost of a usage under a model's pricing.
func EstimateCost(model string, u Usage) float64 {
	p := PricingFor(model)
	return float64(u.PromptTokens)/1000.0*p.InputPer1K +
		float64(u.CompletionTokens)/1000.0*p.OutputPer1K
}
