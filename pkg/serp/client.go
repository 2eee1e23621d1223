// Package serp is a thin client for a metered web-search API. Every call
// costs quota, so callers are expected to gate requests behind their own
// budget and rate limiting; the client itself only retries transient
// failures.
package serp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ukleads-cli/internal/resilience"
)

const defaultBaseURL = "https://serpapi.com/search"

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Client performs web searches.
type Client interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithLocale sets the country/language pair, e.g. "gb" / "en".
func WithLocale(country, language string) Option {
	return func(c *httpClient) {
		c.country = country
		c.language = language
	}
}

// WithResultCount sets how many organic results to request per call.
func WithResultCount(n int) Option {
	return func(c *httpClient) { c.resultCount = n }
}

type httpClient struct {
	apiKey      string
	baseURL     string
	country     string
	language    string
	resultCount int
	http        *http.Client
	retry       resilience.Policy
}

// NewClient creates a search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		country:     "gb",
		language:    "en",
		resultCount: 10,
		http:        &http.Client{Timeout: 30 * time.Second},
		retry:       resilience.DefaultPolicy(2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{
		"engine":  {"google"},
		"q":       {query},
		"gl":      {c.country},
		"hl":      {c.language},
		"num":     {strconv.Itoa(c.resultCount)},
		"api_key": {c.apiKey},
	}

	return resilience.Do(ctx, c.retry, "serp: search", func(ctx context.Context) ([]Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "serp: create request")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "serp: search")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "serp: read response")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("serp: search returned %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("serp: search returned %d: %s", resp.StatusCode, string(body))
		}

		var parsed struct {
			OrganicResults []Result `json:"organic_results"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, eris.Wrap(err, "serp: unmarshal response")
		}
		return parsed.OrganicResults, nil
	})
}
