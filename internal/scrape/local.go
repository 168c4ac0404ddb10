package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LocalScraper fetches HTML via net/http, detects blocks, and converts to
// plaintext. Free, no API calls. Falls through to Jina/Firecrawl when blocked,
// which most large marketplaces do.
type LocalScraper struct {
	client *http.Client
}

// NewLocalScraper creates a LocalScraper with short timeouts so a blocked
// marketplace falls through quickly.
func NewLocalScraper() *LocalScraper {
	return &LocalScraper{
		client: &http.Client{
			Timeout: 8 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 4 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 4 * time.Second,
			},
		},
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks, strips HTML to plaintext and reads
// listing fields from Open Graph / product meta tags when present.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DealReportBot/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	if len(body) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      extractTitle(body),
			Markdown:   stripHTML(string(body)),
			StatusCode: resp.StatusCode,
			Fields:     extractMeta(body),
		},
		Source: "local_http",
	}, nil
}

var (
	titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	metaRe  = regexp.MustCompile(`(?i)<meta\s+[^>]*(?:property|name)\s*=\s*["']([^"']+)["'][^>]*content\s*=\s*["']([^"']*)["']`)

	blockRes = func() []*regexp.Regexp {
		var out []*regexp.Regexp
		for _, tag := range []string{"script", "style", "nav", "footer", "header", "noscript"} {
			out = append(out, regexp.MustCompile(`(?is)<`+tag+`[^>]*>.*?</`+tag+`>`))
		}
		return out
	}()
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	spaceRe = regexp.MustCompile(`[ \t]+`)
	nlRe    = regexp.MustCompile(`\n{3,}`)

	entities = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#36;", "$",
		"&nbsp;", " ",
	)
)

// metaFields maps meta tag names onto listing field keys.
var metaFields = map[string]string{
	"og:title":               "title",
	"twitter:title":          "title",
	"product:price:amount":   "price",
	"og:price:amount":        "price",
	"vehicle:mileage":        "mileage",
	"product:condition":      "condition",
}

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(entities.Replace(string(m[1])))
	}
	return ""
}

// extractMeta reads listing fields from meta tags. The first tag for a
// field wins.
func extractMeta(body []byte) map[string]string {
	fields := make(map[string]string)
	for _, m := range metaRe.FindAllSubmatch(body, -1) {
		key := metaFields[strings.ToLower(string(m[1]))]
		if key == "" {
			continue
		}
		if _, ok := fields[key]; ok {
			continue
		}
		if v := strings.TrimSpace(entities.Replace(string(m[2]))); v != "" {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// stripHTML removes page chrome, strips tags, decodes entities and
// collapses whitespace.
func stripHTML(html string) string {
	for _, re := range blockRes {
		html = re.ReplaceAllString(html, "")
	}
	html = tagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = nlRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
