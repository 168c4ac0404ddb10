package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/resilience"
	"github.com/sells-group/deal-report/pkg/jina"
	"github.com/sells-group/deal-report/pkg/perplexity"
)

const maxSnippetChars = 300

// WebSearch searches with Jina and falls back to Perplexity search results
// when Jina errors.
type WebSearch struct {
	jina       jina.Client
	perplexity perplexity.Client
	policy     resilience.Policy
	breakers   *resilience.Breakers
}

// NewWebSearch creates a searcher. Either client may be nil; breakers may be
// nil to disable circuit breaking.
func NewWebSearch(jinaClient jina.Client, pplxClient perplexity.Client, policy resilience.Policy, breakers *resilience.Breakers) *WebSearch {
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("jina_search", "search")
	}
	return &WebSearch{jina: jinaClient, perplexity: pplxClient, policy: policy, breakers: breakers}
}

func (w *WebSearch) breaker(name string) *resilience.Breaker {
	if w.breakers == nil {
		return nil
	}
	return w.breakers.Get(name)
}

// Search implements Searcher. Only the top results are returned.
func (w *WebSearch) Search(ctx context.Context, query string) ([]model.Snippet, error) {
	var jinaErr error
	if w.jina != nil {
		hits, err := call(ctx, w.breaker("jina_search"), w.policy, func(ctx context.Context) ([]model.Snippet, error) {
			cost.CountJina(ctx)
			resp, err := w.jina.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			return fromJina(resp), nil
		})
		if err == nil {
			return hits, nil
		}
		jinaErr = err
	}

	if w.perplexity == nil || ctx.Err() != nil {
		if jinaErr == nil {
			jinaErr = eris.New("search: no search client configured")
		}
		return nil, jinaErr
	}
	if jinaErr != nil {
		zap.L().Debug("search: jina failed, falling back to perplexity",
			zap.String("query", query),
			zap.Error(jinaErr),
		)
	}

	// The perplexity client retries on its own.
	once := resilience.Policy{Attempts: 1}
	hits, err := call(ctx, w.breaker("perplexity_search"), once, func(ctx context.Context) ([]model.Snippet, error) {
		temp := 0.0
		cost.CountPerplexity(ctx)
		resp, err := w.perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages:    []perplexity.Message{{Role: "user", Content: query}},
			Temperature: &temp,
		})
		if err != nil {
			return nil, err
		}
		return fromPerplexity(resp), nil
	})
	if err != nil {
		if jinaErr != nil {
			return nil, eris.Wrapf(err, "search: perplexity fallback (jina: %v)", jinaErr)
		}
		return nil, eris.Wrap(err, "search: perplexity")
	}
	return hits, nil
}

func fromJina(resp *jina.SearchResponse) []model.Snippet {
	if resp == nil {
		return nil
	}
	out := make([]model.Snippet, 0, model.MaxSnippetsPerCategory)
	for _, r := range resp.Data {
		if len(out) == model.MaxSnippetsPerCategory {
			break
		}
		if r.URL == "" && r.Title == "" {
			continue
		}
		text := r.Description
		if text == "" {
			text = r.Content
		}
		out = append(out, model.Snippet{Title: r.Title, Snippet: clip(text), Link: r.URL})
	}
	return out
}

func fromPerplexity(resp *perplexity.ChatCompletionResponse) []model.Snippet {
	if resp == nil {
		return nil
	}
	out := make([]model.Snippet, 0, model.MaxSnippetsPerCategory)
	for _, r := range resp.SearchResults {
		if len(out) == model.MaxSnippetsPerCategory {
			break
		}
		out = append(out, model.Snippet{Title: r.Title, Snippet: clip(r.Snippet), Link: r.URL})
	}
	if len(out) > 0 {
		return out
	}
	// Older responses carry bare citation URLs only.
	for _, c := range resp.Citations {
		if len(out) == model.MaxSnippetsPerCategory {
			break
		}
		title := c
		if u, err := url.Parse(c); err == nil && u.Host != "" {
			title = strings.TrimPrefix(u.Host, "www.")
		}
		out = append(out, model.Snippet{Title: title, Link: c})
	}
	return out
}

// clip shortens s to maxSnippetChars on a rune boundary.
func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSnippetChars {
		return s
	}
	return strings.TrimSpace(string(r[:maxSnippetChars])) + "..."
}
