package scrape

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/model"
)

var (
	priceRe     = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d{3,7})(?:\.\d{2})?`)
	mileageRe   = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d{1,7}|\d{1,3}(?:\.\d)?k)\s*(?:miles|mi\b\.?)`)
	conditionRe = regexp.MustCompile(`(?im)^\s*(?:\*\*)?(?:condition|title status)(?:\*\*)?\s*[:\-]\s*(?:\*\*)?([^\n|]{2,60})`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,2}\s+(.+)$`)
)

// conditionKeywords are checked in order when the page has no labelled
// condition line.
var conditionKeywords = []string{
	"salvage title",
	"rebuilt title",
	"flood damage",
	"clean title",
	"certified pre-owned",
	"runs and drives",
	"does not run",
	"parts only",
}

// Listing scrapes targetURL through the chain and extracts listing fields.
// Missing fields are left empty; only a failed scrape is an error.
func (c *Chain) Listing(ctx context.Context, targetURL string) (*model.Listing, error) {
	res, err := c.Scrape(ctx, targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: listing")
	}
	l := ExtractListing(res)
	if l.URL == "" {
		l.URL = targetURL
	}
	return &l, nil
}

// ExtractListing reads title, price, mileage and condition from a scraped
// page. Structured fields win over text matches.
func ExtractListing(res *Result) model.Listing {
	if res == nil {
		return model.Listing{}
	}
	page := res.Page
	l := model.Listing{
		URL:       page.URL,
		Title:     page.Fields["title"],
		Price:     page.Fields["price"],
		Mileage:   page.Fields["mileage"],
		Condition: page.Fields["condition"],
		Source:    res.Source,
	}

	text := page.Markdown
	if l.Title == "" {
		l.Title = strings.TrimSpace(page.Title)
	}
	if l.Title == "" {
		if m := headingRe.FindStringSubmatch(text); m != nil {
			l.Title = strings.TrimSpace(m[1])
		}
	}
	if l.Price == "" {
		if m := priceRe.FindString(text); m != "" {
			l.Price = strings.ReplaceAll(m, " ", "")
		}
	}
	if l.Mileage == "" {
		if m := mileageRe.FindStringSubmatch(text); m != nil {
			l.Mileage = m[1] + " miles"
		}
	}
	if l.Condition == "" {
		l.Condition = findCondition(text)
	}
	return l
}

func findCondition(text string) string {
	if m := conditionRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.Trim(m[1], "* "))
	}
	lower := strings.ToLower(text)
	for _, kw := range conditionKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
