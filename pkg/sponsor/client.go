// Package sponsor downloads and parses the published register of licensed
// sponsors. The register is a CSV asset linked from a rolling publication
// page, so the client first scrapes the page for the newest CSV link and
// then streams the file.
package sponsor

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/internal/resilience"
)

const defaultPageURL = "https://www.gov.uk/government/publications/register-of-licensed-sponsors-workers"

// Row is one organisation entry from the register.
type Row struct {
	Name       string
	Town       string
	County     string
	TypeRating string
	Route      string
}

// Key derives the stable dedup key for a register row. The same organisation
// appears once per licensed route, so the route pair is part of identity.
// Punctuation and case are normalized but legal suffixes are kept: sibling
// legal entities sharing a trading name must not collapse to one key.
func (r Row) Key() string {
	return fmt.Sprintf("SPONSOR::%s::%s::%s::%s",
		normalize.ForKey(r.Name),
		normalize.CleanUpper(r.Town),
		normalize.CleanUpper(r.Route),
		normalize.CleanUpper(r.TypeRating),
	)
}

// Client fetches the current register.
type Client interface {
	// LatestRegister resolves the newest CSV asset and parses it. The
	// returned URL identifies which asset was fetched.
	LatestRegister(ctx context.Context) ([]Row, string, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithPageURL overrides the publication page URL.
func WithPageURL(u string) Option {
	return func(c *httpClient) { c.pageURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	pageURL string
	http    *http.Client
	retry   resilience.Policy
}

// NewClient creates a register client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		pageURL: defaultPageURL,
		http:    &http.Client{Timeout: 90 * time.Second},
		retry:   resilience.DefaultPolicy(3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var csvLinkRe = regexp.MustCompile(`href="([^"]+\.csv)"`)

func (c *httpClient) LatestRegister(ctx context.Context) ([]Row, string, error) {
	page, err := c.get(ctx, c.pageURL, "publication page")
	if err != nil {
		return nil, "", err
	}

	csvURL := findCSVLink(string(page), c.pageURL)
	if csvURL == "" {
		return nil, "", eris.New("sponsor: no csv asset link on publication page")
	}

	body, err := c.get(ctx, csvURL, "register csv")
	if err != nil {
		return nil, "", err
	}

	rows, err := parseRegister(strings.NewReader(string(body)))
	if err != nil {
		return nil, "", err
	}
	return rows, csvURL, nil
}

// findCSVLink returns the first CSV href on the page, resolved against the
// page origin when relative. The publication lists the current register
// first.
func findCSVLink(page, pageURL string) string {
	m := csvLinkRe.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	link := m[1]
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	origin := pageURL
	if i := strings.Index(origin, "://"); i >= 0 {
		if j := strings.Index(origin[i+3:], "/"); j >= 0 {
			origin = origin[:i+3+j]
		}
	}
	return origin + link
}

// parseRegister reads the CSV, locating columns by header name so that
// header re-ordering or added columns across publications do not break the
// parse. Rows shorter than the located columns are skipped.
func parseRegister(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "sponsor: read csv header")
	}

	idx := func(fragments ...string) int {
		for i, h := range header {
			h = strings.ToLower(strings.TrimSpace(h))
			for _, f := range fragments {
				if strings.Contains(h, f) {
					return i
				}
			}
		}
		return -1
	}

	nameIdx := idx("organisation name", "organization name")
	townIdx := idx("town", "city")
	countyIdx := idx("county")
	ratingIdx := idx("type & rating", "type and rating", "rating")
	routeIdx := idx("route")

	if nameIdx < 0 {
		return nil, eris.New("sponsor: csv missing organisation name column")
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "sponsor: read csv row")
		}

		field := func(i int) string {
			if i < 0 || i >= len(rec) {
				return ""
			}
			return normalize.Clean(rec[i])
		}

		row := Row{
			Name:       field(nameIdx),
			Town:       field(townIdx),
			County:     field(countyIdx),
			TypeRating: field(ratingIdx),
			Route:      field(routeIdx),
		}
		if row.Name == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *httpClient) get(ctx context.Context, url, operation string) ([]byte, error) {
	return resilience.Do(ctx, c.retry, "sponsor: "+operation, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "sponsor: create request %s", operation)
		}
		req.Header.Set("User-Agent", "ukleads-cli/1.0")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "sponsor: fetch %s", operation)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("sponsor: %s returned %d", operation, resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("sponsor: %s returned %d", operation, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "sponsor: read %s body", operation)
		}
		return body, nil
	})
}
