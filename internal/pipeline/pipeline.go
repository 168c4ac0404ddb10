package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/generation"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/report"
	"github.com/sells-group/deal-report/internal/scrape"
)

// Generator runs one generation job for an assembled payload and the
// assets that loaded for it.
type Generator interface {
	Run(ctx context.Context, payload *generation.Payload, assets []generation.Asset) (*generation.Output, *model.GenerationJob, error)
}

// AuditRecorder receives one record per invocation. It must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry model.AuditLogEntry)
}

// Pipeline runs one evaluation end to end: identity, enrichment, prompt,
// generation, post-processing and audit.
type Pipeline struct {
	resolver       *IdentityResolver
	enricher       *Enricher
	assembler      *Assembler
	generator      Generator
	processor      *report.Processor
	matcher        *scrape.MarketplaceMatcher
	listings       ListingScraper
	listingTimeout time.Duration
	maxPhotoBytes  int64
	audit          AuditRecorder
	costCalc       *cost.Calculator
	model          string
	batch          bool
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Resolver       *IdentityResolver
	Enricher       *Enricher
	Assembler      *Assembler
	Generator      Generator
	Processor      *report.Processor
	Matcher        *scrape.MarketplaceMatcher
	Listings       ListingScraper
	ListingTimeout time.Duration
	MaxPhotoBytes  int64 // 0 means no per-photo limit
	Audit          AuditRecorder
	CostCalc       *cost.Calculator
	Model          string
	Batch          bool
}

// New creates a Pipeline. A nil Audit disables auditing; a nil Matcher uses
// the default marketplace table.
func New(d Deps) *Pipeline {
	if d.Matcher == nil {
		d.Matcher = scrape.NewMarketplaceMatcher(nil)
	}
	if d.CostCalc == nil {
		d.CostCalc = cost.NewCalculator(cost.DefaultRates())
	}
	if d.ListingTimeout <= 0 {
		d.ListingTimeout = 5 * time.Second
	}
	return &Pipeline{
		resolver:       d.Resolver,
		enricher:       d.Enricher,
		assembler:      d.Assembler,
		generator:      d.Generator,
		processor:      d.Processor,
		matcher:        d.Matcher,
		listings:       d.Listings,
		listingTimeout: d.ListingTimeout,
		maxPhotoBytes:  d.MaxPhotoBytes,
		audit:          d.Audit,
		costCalc:       d.CostCalc,
		model:          d.Model,
		batch:          d.Batch,
	}
}

// StatusCode maps a pipeline error onto the caller-visible HTTP status.
func StatusCode(err error) int {
	var malformed *report.MalformedOutputError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrJobTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, generation.ErrJobFailed), errors.As(err, &malformed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Evaluate produces the report for req. Only invalid input, a failed or
// timed-out generation job and malformed generated output are errors;
// enrichment problems degrade into report content.
func (p *Pipeline) Evaluate(ctx context.Context, req *model.EvaluationRequest) (*model.EvaluationReport, error) {
	ctx, meter := cost.WithMeter(ctx)
	log := zap.L().With(zap.String("role", string(req.Role)), zap.String("vin", req.VIN))
	start := time.Now()

	snap := map[string]any{}
	rep, err := p.evaluate(ctx, req, snap)

	usage := meter.Usage(cost.Usage{Model: p.model, Batch: p.batch})
	if job, ok := snap["job"].(*model.GenerationJob); ok && job != nil {
		usage.Tokens = job.Usage
	}
	spend := p.costCalc.Evaluation(usage)
	snap["estimated_cost_usd"] = spend
	snap["duration_ms"] = time.Since(start).Milliseconds()

	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Float64("estimated_cost_usd", spend),
		zap.Int("jina_searches", usage.JinaSearches),
		zap.Int("perplexity_queries", usage.PerplexityQueries),
		zap.Int("firecrawl_scrapes", usage.FirecrawlScrapes),
	}
	if err != nil {
		snap["error"] = err.Error()
		log.Error("pipeline: evaluation failed", append(fields, zap.Error(err))...)
	} else {
		snap["report"] = rep
		log.Info("pipeline: evaluation complete", append(fields,
			zap.String("mode", string(rep.Mode)),
			zap.String("verdict", string(rep.Verdict)),
			zap.Int("warnings", len(rep.Warnings)),
		)...)
	}

	p.record(ctx, req, StatusCode(err), snap)
	return rep, err
}

func (p *Pipeline) evaluate(ctx context.Context, req *model.EvaluationRequest, snap map[string]any) (*model.EvaluationReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	candidates := p.listingCandidates(req)
	if len(candidates) == 1 && !req.HasVehicleFields() && p.listings != nil {
		return p.listingOnly(ctx, req, candidates[0]), nil
	}

	id := p.resolver.Resolve(ctx, req)
	q := Query{Identity: id, VIN: req.VIN, Zip: req.Zip}
	if len(candidates) == 1 {
		q.ListingURL = candidates[0]
	}
	bundle := p.enricher.Enrich(ctx, q)
	snap["enrichment"] = bundle.Sources

	// Photos are read once here so the prompt, the attachments and the
	// section rules all agree on what was sent.
	assets := generation.LoadAssets(req.Photos, p.maxPhotoBytes)
	hasPhotos := len(assets) > 0
	payload, err := p.assembler.Assemble(req, id, bundle, assets)
	if err != nil {
		return nil, err
	}

	out, job, err := p.generator.Run(ctx, payload, assets)
	if job != nil {
		snap["job"] = job
	}
	if err != nil {
		return nil, err
	}

	rep, err := p.processor.Process(out.Text, p.assembler.Mode(), req, hasPhotos)
	if err != nil {
		return nil, err
	}
	rep.Vehicle = &id
	if bundle.Listing != nil {
		rep.Listing = bundle.Listing
	}
	for _, w := range bundle.Warnings {
		rep.Warn(w)
	}
	return rep, nil
}

// listingCandidates returns the distinct recognized listing URLs from the
// listing field and the notes.
func (p *Pipeline) listingCandidates(req *model.EvaluationRequest) []string {
	var out []string
	if u := strings.TrimSpace(req.ListingURL); u != "" {
		if _, ok := p.matcher.Match(u); ok {
			out = append(out, u)
		}
	}
	for _, u := range p.matcher.FindListingURLs(req.ConditionNotes) {
		if len(out) > 0 && out[0] == u {
			continue
		}
		out = append(out, u)
	}
	return out
}

// listingOnly scrapes a single listing and skips the rest of the pipeline.
// A failed scrape still yields a report carrying a warning.
func (p *Pipeline) listingOnly(ctx context.Context, req *model.EvaluationRequest, listingURL string) *model.EvaluationReport {
	rep := &model.EvaluationReport{Mode: model.ReportModeListing, Role: req.Role}

	lctx, cancel := context.WithTimeout(ctx, p.listingTimeout)
	defer cancel()

	l, err := p.listings.Listing(lctx, listingURL)
	if err != nil {
		zap.L().Warn("pipeline: listing scrape failed",
			zap.String("url", listingURL),
			zap.Error(err),
		)
		rep.Listing = &model.Listing{URL: listingURL}
		rep.Warn("listing: no data (" + string(branchStatus(ctx, lctx, err)) + ")")
		return rep
	}
	rep.Listing = l
	return rep
}

func (p *Pipeline) record(ctx context.Context, req *model.EvaluationRequest, status int, snap map[string]any) {
	if p.audit == nil {
		return
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "evaluate"
	}
	method := req.Method
	if method == "" {
		method = "CLI"
	}
	p.audit.Record(ctx, model.AuditLogEntry{
		Endpoint:         endpoint,
		Method:           method,
		StatusCode:       status,
		RequestSnapshot:  req.Snapshot(),
		ResponseSnapshot: snap,
		SessionID:        req.SessionID,
		UserAgent:        req.UserAgent,
		IP:               req.IP,
	})
}
