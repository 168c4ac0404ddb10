package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/resilience"
	"github.com/sells-group/deal-report/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper guarded by a circuit
// breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewJinaAdapter creates a JinaAdapter. When breaker is nil a private one
// is created that opens after 3 consecutive failures for 60s, causing
// immediate fallback to the next scraper.
func NewJinaAdapter(client jina.Client, breaker *resilience.Breaker) *JinaAdapter {
	if breaker == nil {
		breaker = resilience.NewBreaker("jina_reader", resilience.BreakerFromConfig(3, 60))
	}
	return &JinaAdapter{client: client, breaker: breaker}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.StateOpen
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.Guard(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.New("jina: response needs fallback")
		}
		return &Result{
			Page: Page{
				URL:        resp.Data.URL,
				Title:      resp.Data.Title,
				Markdown:   resp.Data.Content,
				StatusCode: resp.Code,
			},
			Source: "jina",
		}, nil
	})
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
	"pardon our interruption",
	"press & hold",
	"access to this page has been denied",
}

// needsFallback reports whether a Jina response is blocked, empty or a
// challenge page and should be retried with a different scraper.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
