// Package nhtsa provides a client for the NHTSA vPIC VIN decoder and the
// NHTSA recalls API.
package nhtsa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultVPICBaseURL    = "https://vpic.nhtsa.dot.gov/api"
	defaultRecallsBaseURL = "https://api.nhtsa.gov"
	defaultRateLimit      = 5
)

// ErrNotDecoded is returned when vPIC answers but yields no make, model or year.
var ErrNotDecoded = eris.New("nhtsa: vin not decoded")

// Client defines the NHTSA operations used by the pipeline.
type Client interface {
	// DecodeVIN decodes a VIN via vPIC DecodeVinValues.
	DecodeVIN(ctx context.Context, vin string) (*DecodeResult, error)
	// RecallsByVehicle lists recall campaigns for a make/model/year.
	RecallsByVehicle(ctx context.Context, vehicleMake, vehicleModel, year string) (*RecallsResponse, error)
}

// DecodeResult is the flattened first row of a DecodeVinValues response.
type DecodeResult struct {
	VIN       string
	Make      string
	Model     string
	ModelYear string
	ErrorCode string
	ErrorText string
	// Attributes holds every non-empty field vPIC returned.
	Attributes map[string]string
}

// Clean reports whether vPIC decoded the VIN without errors.
func (d *DecodeResult) Clean() bool {
	return d.ErrorCode == "" || d.ErrorCode == "0"
}

type decodeEnvelope struct {
	Count          int                 `json:"Count"`
	Message        string              `json:"Message"`
	SearchCriteria string              `json:"SearchCriteria"`
	Results        []map[string]string `json:"Results"`
}

// RecallsResponse is the response from /recalls/recallsByVehicle.
type RecallsResponse struct {
	Count   int      `json:"Count"`
	Message string   `json:"Message"`
	Results []Recall `json:"results"`
}

// Recall is a single recall campaign.
type Recall struct {
	Manufacturer        string `json:"Manufacturer"`
	NHTSACampaignNumber string `json:"NHTSACampaignNumber"`
	ReportReceivedDate  string `json:"ReportReceivedDate"`
	Component           string `json:"Component"`
	Summary             string `json:"Summary"`
	Consequence         string `json:"Consequence"`
	Remedy              string `json:"Remedy"`
	ParkIt              bool   `json:"parkIt"`
}

// StatusError is returned for any non-2xx response so callers can classify
// the status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nhtsa: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the NHTSA client.
type Option func(*httpClient)

// WithVPICBaseURL overrides the vPIC base URL (for testing).
func WithVPICBaseURL(u string) Option {
	return func(c *httpClient) {
		c.vpicBaseURL = strings.TrimRight(u, "/")
	}
}

// WithRecallsBaseURL overrides the recalls API base URL (for testing).
func WithRecallsBaseURL(u string) Option {
	return func(c *httpClient) {
		c.recallsBaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the shared request rate across both endpoints.
// A value <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	vpicBaseURL    string
	recallsBaseURL string
	http           *http.Client
	limiter        *rate.Limiter
}

// NewClient creates a new NHTSA client. Both APIs are public and keyless.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		vpicBaseURL:    defaultVPICBaseURL,
		recallsBaseURL: defaultRecallsBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) DecodeVIN(ctx context.Context, vin string) (*DecodeResult, error) {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if vin == "" {
		return nil, eris.New("nhtsa: empty vin")
	}

	reqURL := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", c.vpicBaseURL, url.PathEscape(vin))

	var env decodeEnvelope
	if err := c.getJSON(ctx, reqURL, &env); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("nhtsa: decode vin %s", vin))
	}
	if len(env.Results) == 0 {
		return nil, eris.Wrapf(ErrNotDecoded, "vin %s: empty results", vin)
	}

	row := env.Results[0]
	res := &DecodeResult{
		VIN:        vin,
		Make:       strings.TrimSpace(row["Make"]),
		Model:      strings.TrimSpace(row["Model"]),
		ModelYear:  strings.TrimSpace(row["ModelYear"]),
		ErrorCode:  strings.TrimSpace(row["ErrorCode"]),
		ErrorText:  strings.TrimSpace(row["ErrorText"]),
		Attributes: make(map[string]string, len(row)),
	}
	for k, v := range row {
		if v = strings.TrimSpace(v); v != "" {
			res.Attributes[k] = v
		}
	}

	if res.Make == "" && res.Model == "" && res.ModelYear == "" {
		return nil, eris.Wrapf(ErrNotDecoded, "vin %s: %s", vin, res.ErrorText)
	}
	return res, nil
}

func (c *httpClient) RecallsByVehicle(ctx context.Context, vehicleMake, vehicleModel, year string) (*RecallsResponse, error) {
	q := url.Values{}
	q.Set("make", vehicleMake)
	q.Set("model", vehicleModel)
	q.Set("modelYear", year)
	reqURL := c.recallsBaseURL + "/recalls/recallsByVehicle?" + q.Encode()

	var out RecallsResponse
	if err := c.getJSON(ctx, reqURL, &out); err != nil {
		// The recalls API answers 404 for vehicles it has never seen.
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return &RecallsResponse{}, nil
		}
		return nil, eris.Wrap(err, fmt.Sprintf("nhtsa: recalls %s %s %s", year, vehicleMake, vehicleModel))
	}
	if out.Count < len(out.Results) {
		out.Count = len(out.Results)
	}
	return &out, nil
}

func (c *httpClient) getJSON(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "nhtsa: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "nhtsa: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "nhtsa: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "nhtsa: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "nhtsa: unmarshal response")
	}
	return nil
}
