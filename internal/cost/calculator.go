// Package cost holds the deterministic deal money math and the estimated
// external-service spend of one evaluation.
package cost

import "github.com/sells-group/deal-report/internal/model"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaRate             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	Firecrawl  FirecrawlRate        `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaRate holds Jina pricing. Search requests bill a flat token count.
type JinaRate struct {
	PerMTok      float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
	SearchTokens int     `yaml:"search_tokens" mapstructure:"search_tokens"`
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// FirecrawlRate holds Firecrawl pricing.
type FirecrawlRate struct {
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// Usage is the external consumption of one evaluation.
type Usage struct {
	Model             string
	Batch             bool
	Tokens            model.TokenUsage
	JinaSearches      int
	PerplexityQueries int
	FirecrawlScrapes  int
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of the generation job's token usage.
func (c *Calculator) Claude(modelName string, isBatch bool, u model.TokenUsage) float64 {
	rate, ok := c.rates.Anthropic[modelName]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input * batchMul
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output * batchMul
	cwCost := (float64(u.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(u.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// Jina computes the cost of n search requests.
func (c *Calculator) Jina(searches int) float64 {
	return float64(searches*c.rates.Jina.SearchTokens) / 1e6 * c.rates.Jina.PerMTok
}

// Perplexity returns the cost of n Perplexity queries.
func (c *Calculator) Perplexity(queries int) float64 {
	return float64(queries) * c.rates.Perplexity.PerQuery
}

// Firecrawl returns the amortized plan cost of n single-page scrapes.
func (c *Calculator) Firecrawl(scrapes int) float64 {
	if c.rates.Firecrawl.CreditsIncluded <= 0 {
		return 0
	}
	return float64(scrapes) * c.rates.Firecrawl.PlanMonthly / c.rates.Firecrawl.CreditsIncluded
}

// Evaluation sums the estimated spend of one evaluation.
func (c *Calculator) Evaluation(u Usage) float64 {
	return c.Claude(u.Model, u.Batch, u.Tokens) +
		c.Jina(u.JinaSearches) +
		c.Perplexity(u.PerplexityQueries) +
		c.Firecrawl(u.FirecrawlScrapes)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				BatchDiscount: 0.5, CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
		},
		Jina:       JinaRate{PerMTok: 0.02, SearchTokens: 10000},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		Firecrawl:  FirecrawlRate{PlanMonthly: 19.00, CreditsIncluded: 3000},
	}
}
