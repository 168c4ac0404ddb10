package cost

import (
	"context"
	"sync/atomic"
)

type meterKey struct{}

// Meter counts billable external calls made on behalf of one evaluation.
// It is safe for concurrent use by enrichment branches.
type Meter struct {
	jina       atomic.Int64
	perplexity atomic.Int64
	firecrawl  atomic.Int64
}

// WithMeter returns a context carrying a fresh Meter.
func WithMeter(ctx context.Context) (context.Context, *Meter) {
	m := &Meter{}
	return context.WithValue(ctx, meterKey{}, m), m
}

// MeterFrom returns the Meter carried by ctx, or nil.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// CountJina records one Jina search request against the context's meter.
func CountJina(ctx context.Context) {
	if m := MeterFrom(ctx); m != nil {
		m.jina.Add(1)
	}
}

// CountPerplexity records one Perplexity query.
func CountPerplexity(ctx context.Context) {
	if m := MeterFrom(ctx); m != nil {
		m.perplexity.Add(1)
	}
}

// CountFirecrawl records one Firecrawl scrape.
func CountFirecrawl(ctx context.Context) {
	if m := MeterFrom(ctx); m != nil {
		m.firecrawl.Add(1)
	}
}

// Usage folds the counters into u. A nil meter leaves u unchanged.
func (m *Meter) Usage(u Usage) Usage {
	if m == nil {
		return u
	}
	u.JinaSearches = int(m.jina.Load())
	u.PerplexityQueries = int(m.perplexity.Load())
	u.FirecrawlScrapes = int(m.firecrawl.Load())
	return u
}
