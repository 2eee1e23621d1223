// Package companieshouse is a client for the Companies House public data
// API. Not-found responses are returned as empty results, never as errors;
// transient upstream failures are retried at this boundary only.
package companieshouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ukleads-cli/internal/resilience"
)

const defaultBaseURL = "https://api.company-information.service.gov.uk"

// Client performs Companies House API operations.
type Client interface {
	SearchCompanies(ctx context.Context, query string, perPage int) ([]SearchResult, error)
	CompanyProfile(ctx context.Context, companyNumber string) (*Profile, error)
	Officers(ctx context.Context, companyNumber string) ([]Officer, error)
	PersonsWithSignificantControl(ctx context.Context, companyNumber string) ([]PSC, error)
	AdvancedIncorporated(ctx context.Context, from, to string, pageSize, maxTotal int) ([]Profile, error)
}

// Address is a registered office or correspondence address.
type Address struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// SearchResult is one row from the company search endpoint.
type SearchResult struct {
	Title          string `json:"title"`
	CompanyNumber  string `json:"company_number"`
	CompanyStatus  string `json:"company_status"`
	AddressSnippet string `json:"address_snippet"`
}

// Profile is a company profile (also the row shape of advanced search).
type Profile struct {
	CompanyName      string   `json:"company_name"`
	CompanyNumber    string   `json:"company_number"`
	CompanyStatus    string   `json:"company_status"`
	DateOfCreation   string   `json:"date_of_creation"`
	SICCodes         []string `json:"sic_codes"`
	RegisteredOffice Address  `json:"registered_office_address"`
}

// Officer is a company officer appointment.
type Officer struct {
	Name               string  `json:"name"`
	Address            Address `json:"address"`
	CountryOfResidence string  `json:"country_of_residence"`
	Nationality        string  `json:"nationality"`
}

// PSC is a person (or entity) with significant control.
type PSC struct {
	Kind    string  `json:"kind"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
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

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) { c.retry = p }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.Policy
}

// NewClient creates a Companies House API client authenticated via basic
// auth with the API key as username.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 25 * time.Second},
		retry:   resilience.DefaultPolicy(3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchCompanies(ctx context.Context, query string, perPage int) ([]SearchResult, error) {
	if perPage <= 0 {
		perPage = 10
	}
	q := url.Values{
		"q":              {query},
		"items_per_page": {strconv.Itoa(perPage)},
	}
	var body struct {
		Items []SearchResult `json:"items"`
	}
	if err := c.getJSON(ctx, "/search/companies?"+q.Encode(), "search companies", &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

func (c *httpClient) CompanyProfile(ctx context.Context, companyNumber string) (*Profile, error) {
	var p Profile
	err := c.getJSON(ctx, "/company/"+url.PathEscape(companyNumber), "company profile", &p)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (c *httpClient) Officers(ctx context.Context, companyNumber string) ([]Officer, error) {
	var body struct {
		Items []Officer `json:"items"`
	}
	path := "/company/" + url.PathEscape(companyNumber) + "/officers?items_per_page=100"
	if err := c.getJSON(ctx, path, "officers", &body); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return body.Items, nil
}

func (c *httpClient) PersonsWithSignificantControl(ctx context.Context, companyNumber string) ([]PSC, error) {
	var body struct {
		Items []PSC `json:"items"`
	}
	path := "/company/" + url.PathEscape(companyNumber) + "/persons-with-significant-control?items_per_page=100"
	if err := c.getJSON(ctx, path, "psc", &body); err != nil {
		// The PSC register legitimately has no entry for many companies.
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return body.Items, nil
}

// AdvancedIncorporated pages through the advanced search endpoint for
// companies incorporated in [from, to] (ISO dates), up to maxTotal rows.
func (c *httpClient) AdvancedIncorporated(ctx context.Context, from, to string, pageSize, maxTotal int) ([]Profile, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var out []Profile
	for startIndex := 0; ; startIndex += pageSize {
		q := url.Values{
			"incorporated_from": {from},
			"incorporated_to":   {to},
			"size":              {strconv.Itoa(pageSize)},
			"start_index":       {strconv.Itoa(startIndex)},
		}
		var body struct {
			Items []Profile `json:"items"`
		}
		if err := c.getJSON(ctx, "/advanced-search/companies?"+q.Encode(), "advanced search", &body); err != nil {
			return out, err
		}
		out = append(out, body.Items...)
		if len(body.Items) < pageSize {
			break
		}
		if maxTotal > 0 && startIndex+pageSize >= maxTotal {
			break
		}
	}
	return out, nil
}

// notFoundError distinguishes a legitimate 404 from other HTTP failures.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return fmt.Sprintf("companieshouse: not found: %s", e.path) }

func isNotFound(err error) bool {
	var nf *notFoundError
	return eris.As(err, &nf)
}

func (c *httpClient) getJSON(ctx context.Context, path, operation string, out any) error {
	_, err := resilience.Do(ctx, c.retry, "companieshouse: "+operation, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return struct{}{}, eris.Wrapf(err, "companieshouse: create request %s", operation)
		}
		req.SetBasicAuth(c.apiKey, "")

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, eris.Wrapf(err, "companieshouse: %s", operation)
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, eris.Wrapf(err, "companieshouse: read %s response", operation)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return struct{}{}, &notFoundError{path: path}
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return struct{}{}, resilience.NewTransientError(
				eris.Errorf("companieshouse: %s returned %d", operation, resp.StatusCode), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return struct{}{}, eris.Errorf("companieshouse: %s returned %d: %s", operation, resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return struct{}{}, eris.Wrapf(err, "companieshouse: unmarshal %s response", operation)
		}
		return struct{}{}, nil
	})
	return err
}
