package model

// MaxSnippetsPerCategory caps search snippets kept per category.
const MaxSnippetsPerCategory = 3

// NoRecallData is the placeholder summary used when the recall branch
// produced nothing usable.
const NoRecallData = "No recall data available"

// SourceStatus is the outcome of one enrichment branch.
type SourceStatus string

const (
	SourceOK      SourceStatus = "ok"
	SourceEmpty   SourceStatus = "empty"
	SourceFailed  SourceStatus = "failed"
	SourceTimeout SourceStatus = "timeout"
	SourceSkipped SourceStatus = "skipped"
)

// SourceReport is the per-branch ledger entry kept on the bundle.
type SourceReport struct {
	Status     SourceStatus `json:"status"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

// Snippet is one ranked web search hit.
type Snippet struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// RecallSummary holds recall registry results for the resolved identity.
type RecallSummary struct {
	Available bool     `json:"available"`
	Count     int      `json:"count"`
	Summaries []string `json:"summaries"`
}

// Listing is best-effort data scraped from a marketplace listing page.
type Listing struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Price     string `json:"price,omitempty"`
	Mileage   string `json:"mileage,omitempty"`
	Condition string `json:"condition,omitempty"`
	Source    string `json:"source,omitempty"`
}

// EnrichmentBundle aggregates every enrichment branch. A failed branch leaves
// its category empty and is recorded in Sources.
type EnrichmentBundle struct {
	Recalls  RecallSummary           `json:"recalls"`
	Retail   []Snippet               `json:"retail"`
	Auction  []Snippet               `json:"auction"`
	VIN      []Snippet               `json:"vin"`
	Listing  *Listing                `json:"listing,omitempty"`
	Sources  map[string]SourceReport `json:"sources"`
	Warnings []string                `json:"warnings,omitempty"`
}

// NewEnrichmentBundle returns a bundle with the recall placeholder in place.
func NewEnrichmentBundle() *EnrichmentBundle {
	return &EnrichmentBundle{
		Recalls: RecallSummary{Summaries: []string{NoRecallData}},
		Sources: make(map[string]SourceReport),
	}
}

// CapSnippets truncates s to MaxSnippetsPerCategory entries.
func CapSnippets(s []Snippet) []Snippet {
	if len(s) > MaxSnippetsPerCategory {
		return s[:MaxSnippetsPerCategory]
	}
	return s
}
