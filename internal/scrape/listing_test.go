package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/deal-report/internal/model"
)

func TestExtractListing(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		want model.Listing
	}{
		{
			name: "structured fields win",
			res: &Result{
				Page: Page{
					URL:      f150URL,
					Title:    "Autotrader",
					Markdown: "$1 down! 12 miles from you",
					Fields:   map[string]string{"title": "2014 Ford F-150 XLT", "price": "$18,995", "mileage": "98,412 mi", "condition": "Used"},
				},
				Source: "firecrawl",
			},
			want: model.Listing{URL: f150URL, Title: "2014 Ford F-150 XLT", Price: "$18,995", Mileage: "98,412 mi", Condition: "Used", Source: "firecrawl"},
		},
		{
			name: "text fallback",
			res: &Result{
				Page: Page{
					URL:      "https://www.copart.com/lot/45678901",
					Markdown: "# 2014 FORD F150 SUPERCREW\n\nCurrent bid: $ 4200\n\nOdometer: 142k mi (actual)\n\nTitle Status: Salvage Certificate (GA)",
				},
				Source: "jina",
			},
			want: model.Listing{URL: "https://www.copart.com/lot/45678901", Title: "2014 FORD F150 SUPERCREW", Price: "$4200", Mileage: "142k miles", Condition: "Salvage Certificate (GA)", Source: "jina"},
		},
		{
			name: "condition keyword",
			res: &Result{
				Page:   Page{URL: f150URL, Title: "F-150", Markdown: "Runs and drives. Rebuilt title after hail."},
				Source: "local_http",
			},
			want: model.Listing{URL: f150URL, Title: "F-150", Condition: "rebuilt title", Source: "local_http"},
		},
		{
			name: "nothing found",
			res:  &Result{Page: Page{URL: f150URL, Markdown: "Sign in to see this listing"}, Source: "jina"},
			want: model.Listing{URL: f150URL, Source: "jina"},
		},
		{
			name: "nil result",
			res:  nil,
			want: model.Listing{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractListing(tt.res))
		})
	}
}

func TestExtractListing_BoldConditionLabel(t *testing.T) {
	res := &Result{Page: Page{Markdown: "**Condition:** Excellent | **Mileage:** 61,200 miles"}}
	l := ExtractListing(res)
	assert.Equal(t, "Excellent", l.Condition)
	assert.Equal(t, "61,200 miles", l.Mileage)
}
