package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/resilience"
	"github.com/sells-group/deal-report/pkg/nhtsa"
)

// maxRecallSummaries bounds how many recall campaigns go into the prompt.
const maxRecallSummaries = 8

// call runs op with retries under policy, guarded by b when set.
func call[T any](ctx context.Context, b *resilience.Breaker, policy resilience.Policy, op func(context.Context) (T, error)) (T, error) {
	retried := func(ctx context.Context) (T, error) {
		return resilience.Do(ctx, policy, op)
	}
	if b == nil {
		return retried(ctx)
	}
	return resilience.Guard(ctx, b, retried)
}

// upstreamTransient extends resilience.IsTransient with registry status codes.
func upstreamTransient(err error) bool {
	var se *nhtsa.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransientHTTPStatus(se.StatusCode)
	}
	return resilience.IsTransient(err)
}

// RecallSource looks up recall campaigns for the resolved make/model/year.
type RecallSource struct {
	client  nhtsa.Client
	policy  resilience.Policy
	breaker *resilience.Breaker
}

// NewRecallSource creates the recall branch. breaker may be nil.
func NewRecallSource(client nhtsa.Client, policy resilience.Policy, breaker *resilience.Breaker) *RecallSource {
	if policy.Retryable == nil {
		policy.Retryable = upstreamTransient
	}
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("recalls", "recalls_by_vehicle")
	}
	return &RecallSource{client: client, policy: policy, breaker: breaker}
}

// Name implements Source.
func (s *RecallSource) Name() string { return "recalls" }

// Applies needs a full year/make/model.
func (s *RecallSource) Applies(q Query) bool {
	return s.client != nil && q.Identity.Year != "" && !q.Identity.Degraded()
}

// Fetch implements Source.
func (s *RecallSource) Fetch(ctx context.Context, q Query) (Fragment, error) {
	id := q.Identity
	resp, err := call(ctx, s.breaker, s.policy, func(ctx context.Context) (*nhtsa.RecallsResponse, error) {
		return s.client.RecallsByVehicle(ctx, id.Make, id.Model, id.Year)
	})
	if err != nil {
		return Fragment{}, eris.Wrap(err, "recalls: lookup")
	}

	summary := &model.RecallSummary{Available: true, Count: resp.Count}
	for _, r := range resp.Results {
		if len(summary.Summaries) == maxRecallSummaries {
			break
		}
		summary.Summaries = append(summary.Summaries, formatRecall(r))
	}
	return Fragment{Recalls: summary}, nil
}

func formatRecall(r nhtsa.Recall) string {
	var b strings.Builder
	if r.ParkIt {
		b.WriteString("[PARK IT] ")
	}
	if r.NHTSACampaignNumber != "" {
		b.WriteString(r.NHTSACampaignNumber)
		b.WriteString(" ")
	}
	if r.Component != "" {
		fmt.Fprintf(&b, "(%s) ", r.Component)
	}
	b.WriteString(strings.TrimSpace(r.Summary))
	if r.Remedy != "" {
		b.WriteString(" Remedy: ")
		b.WriteString(strings.TrimSpace(r.Remedy))
	}
	return strings.TrimSpace(b.String())
}

// Searcher runs one free-text web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.Snippet, error)
}

type searchKind int

const (
	searchRetail searchKind = iota
	searchAuction
	searchVIN
)

// SearchSource is a web-search branch for one snippet category.
type SearchSource struct {
	kind     searchKind
	searcher Searcher
}

// NewRetailSearch searches retail listings near the caller's zip.
func NewRetailSearch(s Searcher) *SearchSource { return &SearchSource{kind: searchRetail, searcher: s} }

// NewAuctionSearch searches recent auction results.
func NewAuctionSearch(s Searcher) *SearchSource { return &SearchSource{kind: searchAuction, searcher: s} }

// NewVINSearch searches the VIN itself (listing history, auction records).
func NewVINSearch(s Searcher) *SearchSource { return &SearchSource{kind: searchVIN, searcher: s} }

// Name implements Source.
func (s *SearchSource) Name() string {
	switch s.kind {
	case searchAuction:
		return "auction_search"
	case searchVIN:
		return "vin_search"
	}
	return "retail_search"
}

// Applies implements Source.
func (s *SearchSource) Applies(q Query) bool {
	if s.searcher == nil {
		return false
	}
	if s.kind == searchVIN {
		return strings.TrimSpace(q.VIN) != ""
	}
	return q.Identity.Make != "" || q.Identity.Model != ""
}

// SearchQuery renders the query string for q.
func (s *SearchSource) SearchQuery(q Query) string {
	label := q.Identity.Label()
	switch s.kind {
	case searchAuction:
		return label + " auction results sold price"
	case searchVIN:
		return strings.ToUpper(strings.TrimSpace(q.VIN))
	}
	if zip := strings.TrimSpace(q.Zip); zip != "" {
		return label + " for sale price near " + zip
	}
	return label + " for sale price"
}

// Fetch implements Source.
func (s *SearchSource) Fetch(ctx context.Context, q Query) (Fragment, error) {
	hits, err := s.searcher.Search(ctx, s.SearchQuery(q))
	if err != nil {
		return Fragment{}, eris.Wrap(err, s.Name())
	}
	hits = model.CapSnippets(hits)

	var f Fragment
	switch s.kind {
	case searchAuction:
		f.Auction = hits
	case searchVIN:
		f.VIN = hits
	default:
		f.Retail = hits
	}
	return f, nil
}

// ListingScraper fetches best-effort listing details for a URL.
type ListingScraper interface {
	Listing(ctx context.Context, url string) (*model.Listing, error)
}

// ListingSource scrapes the marketplace listing the caller linked.
type ListingSource struct {
	scraper ListingScraper
}

// NewListingSource creates the listing branch.
func NewListingSource(scraper ListingScraper) *ListingSource {
	return &ListingSource{scraper: scraper}
}

// Name implements Source.
func (s *ListingSource) Name() string { return "listing" }

// Applies implements Source.
func (s *ListingSource) Applies(q Query) bool {
	return s.scraper != nil && q.ListingURL != ""
}

// Fetch implements Source.
func (s *ListingSource) Fetch(ctx context.Context, q Query) (Fragment, error) {
	l, err := s.scraper.Listing(ctx, q.ListingURL)
	if err != nil {
		return Fragment{}, err
	}
	if l.Title == "" && l.Price == "" && l.Mileage == "" && l.Condition == "" {
		return Fragment{}, nil
	}
	return Fragment{Listing: l}, nil
}
