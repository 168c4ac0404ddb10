package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/resilience"
)

// Query is what every enrichment source sees.
type Query struct {
	Identity   model.VehicleIdentity
	VIN        string
	Zip        string
	ListingURL string
}

// Fragment is one source's contribution to the bundle.
type Fragment struct {
	Recalls *model.RecallSummary
	Retail  []model.Snippet
	Auction []model.Snippet
	VIN     []model.Snippet
	Listing *model.Listing
}

// Empty reports whether the fragment carries no usable data.
func (f Fragment) Empty() bool {
	return (f.Recalls == nil || f.Recalls.Count == 0) &&
		len(f.Retail) == 0 && len(f.Auction) == 0 && len(f.VIN) == 0 &&
		f.Listing == nil
}

func (f Fragment) apply(b *model.EnrichmentBundle) {
	if f.Recalls != nil {
		b.Recalls = *f.Recalls
	}
	b.Retail = model.CapSnippets(append(b.Retail, f.Retail...))
	b.Auction = model.CapSnippets(append(b.Auction, f.Auction...))
	b.VIN = model.CapSnippets(append(b.VIN, f.VIN...))
	if f.Listing != nil {
		b.Listing = f.Listing
	}
}

// Source is one independent enrichment branch.
type Source interface {
	// Name keys the source in the bundle's status ledger.
	Name() string
	// Applies reports whether the source has enough input to run.
	Applies(q Query) bool
	// Fetch performs the lookup. The context carries the branch deadline.
	Fetch(ctx context.Context, q Query) (Fragment, error)
}

// Enricher runs every applicable source concurrently and joins the results.
type Enricher struct {
	sources []Source
	timeout time.Duration
}

// NewEnricher creates an Enricher. Each branch gets its own timeout.
func NewEnricher(timeout time.Duration, sources ...Source) *Enricher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Enricher{sources: sources, timeout: timeout}
}

type branchOutcome struct {
	fragment Fragment
	report   model.SourceReport
	err      error
}

// Enrich fans out to every source and waits for all of them to settle. A
// failed or timed-out branch leaves its category empty; Enrich never fails.
func (e *Enricher) Enrich(ctx context.Context, q Query) *model.EnrichmentBundle {
	bundle := model.NewEnrichmentBundle()
	outcomes := make([]branchOutcome, len(e.sources))

	// A plain group: no branch error may cancel its siblings.
	var g errgroup.Group
	for i, src := range e.sources {
		if !src.Applies(q) {
			outcomes[i] = branchOutcome{report: model.SourceReport{Status: model.SourceSkipped}}
			continue
		}
		g.Go(func() error {
			outcomes[i] = e.runBranch(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()

	// Apply in source order so the bundle does not depend on timing.
	for i, src := range e.sources {
		out := outcomes[i]
		bundle.Sources[src.Name()] = out.report
		if out.err != nil {
			bundle.Warnings = append(bundle.Warnings,
				fmt.Sprintf("%s: no data (%s)", src.Name(), out.report.Status))
			continue
		}
		out.fragment.apply(bundle)
	}
	return bundle
}

func (e *Enricher) runBranch(ctx context.Context, src Source, q Query) (out branchOutcome) {
	log := zap.L().With(zap.String("source", src.Name()))
	bctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = branchOutcome{err: eris.Errorf("enrich: %s panicked: %v", src.Name(), r)}
			out.report.Status = model.SourceFailed
			out.report.Error = out.err.Error()
		}
		out.report.DurationMs = time.Since(start).Milliseconds()
		if out.err != nil {
			log.Warn("enrich: branch degraded",
				zap.String("status", string(out.report.Status)),
				zap.Int64("duration_ms", out.report.DurationMs),
				zap.Error(out.err),
			)
		}
	}()

	frag, err := src.Fetch(bctx, q)
	if err != nil {
		out.err = err
		out.report = model.SourceReport{Status: branchStatus(ctx, bctx, err), Error: err.Error()}
		return out
	}

	out.fragment = frag
	out.report.Status = model.SourceOK
	if frag.Empty() {
		out.report.Status = model.SourceEmpty
	}
	log.Debug("enrich: branch complete", zap.String("status", string(out.report.Status)))
	return out
}

func branchStatus(parent, branch context.Context, err error) model.SourceStatus {
	switch {
	case errors.Is(err, resilience.ErrBreakerOpen):
		return model.SourceSkipped
	case parent.Err() == nil && errors.Is(branch.Err(), context.DeadlineExceeded):
		return model.SourceTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return model.SourceTimeout
	}
	return model.SourceFailed
}
