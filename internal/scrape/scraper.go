// Package scrape fetches marketplace listing pages through a chain of
// scrapers and extracts best-effort listing fields from them.
package scrape

import (
	"context"
)

// Page is the normalized content of one fetched listing page.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	StatusCode int
	// Fields holds listing fields a scraper extracted structurally
	// (title, price, mileage, condition). Empty values are dropped.
	Fields map[string]string
}

// Result holds a scraped page with its source.
type Result struct {
	Page   Page
	Source string // e.g. "local_http", "jina", "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
