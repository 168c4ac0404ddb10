package scrape

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/pkg/firecrawl"
)

var listingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":     map[string]any{"type": "string", "description": "Listing headline, usually year make model trim"},
		"price":     map[string]any{"type": "string", "description": "Asking price or current bid as shown"},
		"mileage":   map[string]any{"type": "string", "description": "Odometer reading as shown"},
		"condition": map[string]any{"type": "string", "description": "Condition or title status as shown"},
	},
}

const listingPrompt = "Extract the vehicle listing headline, asking price, mileage and condition exactly as shown. Leave a field empty when the page does not state it."

// FirecrawlAdapter wraps a Firecrawl client as a Scraper. It asks Firecrawl
// for both markdown and a structured extraction of the listing fields.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports returns true; Firecrawl is the last resort for any URL.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	cost.CountFirecrawl(ctx)
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown", "json"},
		OnlyMainContent: true,
		JSONOptions: &firecrawl.JSONOptions{
			Schema: listingSchema,
			Prompt: listingPrompt,
		},
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Data.Markdown) == "" && len(resp.Data.JSON) == 0 {
		return nil, eris.New("firecrawl: empty page")
	}

	pageURL := resp.Data.Metadata.SourceURL
	if pageURL == "" {
		pageURL = targetURL
	}
	return &Result{
		Page: Page{
			URL:        pageURL,
			Title:      resp.Data.Metadata.Title,
			Markdown:   resp.Data.Markdown,
			StatusCode: resp.Data.Metadata.StatusCode,
			Fields:     decodeFields(resp.Data.JSON),
		},
		Source: "firecrawl",
	}, nil
}

// decodeFields reads the extraction object leniently: numbers are kept as
// text and other values are dropped rather than failing the scrape.
func decodeFields(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			continue
		}
		if s != "" {
			fields[strings.ToLower(k)] = s
		}
	}
	return fields
}
