package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://www.autotrader.com/cars-for-sale/vehicle/712345"

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-api-key", WithBaseURL(srv.URL))
	return srv, c
}

func TestScrape(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantTitle  string
		wantErr    string
		wantStatus int
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/scrape", r.URL.Path)
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

				var req ScrapeRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, listingURL, req.URL)

				_ = json.NewEncoder(w).Encode(ScrapeResponse{
					Success: true,
					Data: PageData{
						Markdown: "# Used 2014 Ford F-150 XLT\n\n$18,995 | 98,412 miles",
						Metadata: PageMetadata{Title: "Used 2014 Ford F-150 XLT", SourceURL: listingURL, StatusCode: 200},
					},
				})
			},
			wantTitle: "Used 2014 Ford F-150 XLT",
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limited"}`))
			},
			wantErr:    "HTTP 429",
			wantStatus: 429,
		},
		{
			name: "unsuccessful",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success":false}`))
			},
			wantErr: "unsuccessful",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
			wantErr: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, tt.handler)
			resp, err := c.Scrape(context.Background(), ScrapeRequest{URL: listingURL})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.wantStatus != 0 {
					var apiErr *APIError
					require.ErrorAs(t, err, &apiErr)
					assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, resp.Data.Metadata.Title)
		})
	}
}

func TestScrape_JSONExtraction(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"markdown", "json"}, req.Formats)
		assert.True(t, req.OnlyMainContent)
		require.NotNil(t, req.JSONOptions)
		assert.Contains(t, req.JSONOptions.Schema, "properties")

		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"x","json":{"title":"2014 Ford F-150","price":"$18,995","mileage":"98,412 mi"},"metadata":{"title":"t"}}}`))
	})

	resp, err := c.Scrape(context.Background(), ScrapeRequest{
		URL:             listingURL,
		Formats:         []string{"markdown", "json"},
		OnlyMainContent: true,
		JSONOptions: &JSONOptions{
			Schema: map[string]any{"type": "object", "properties": map[string]any{"price": map[string]any{"type": "string"}}},
			Prompt: "Extract the vehicle listing fields.",
		},
	})
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(resp.Data.JSON, &fields))
	assert.Equal(t, "$18,995", fields["price"])
}

func TestContextCancellation(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been cancelled")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scrape(ctx, ScrapeRequest{URL: listingURL})
	require.Error(t, err)
}

func TestAPIError_Error(t *testing.T) {
	t.Parallel()
	e := &APIError{StatusCode: 429, Body: `{"error":"rate limited"}`}
	assert.Equal(t, `firecrawl: HTTP 429: {"error":"rate limited"}`, e.Error())
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	customClient := &http.Client{}
	c := NewClient("key", WithHTTPClient(customClient))
	hc := c.(*httpClient)
	assert.Equal(t, customClient, hc.http)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
}
