// Package webpage fetches candidate company websites and reduces them to
// plain text plus same-host links for verification and contact extraction.
// It deliberately avoids a full HTML parser: the downstream checks are
// substring matches over visible text, so tag stripping is sufficient.
package webpage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ukleads-cli/internal/resilience"
)

// maxBodyBytes caps how much of a page is read. Verification only needs the
// head of the document.
const maxBodyBytes = 2 << 20

// Page is a fetched document reduced to text and same-host links.
type Page struct {
	URL        string
	StatusCode int
	Text       string
	Links      []string
}

// Fetcher retrieves pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// Option configures the fetcher.
type Option func(*httpFetcher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *httpFetcher) { f.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *httpFetcher) { f.http.Timeout = d }
}

type httpFetcher struct {
	http *http.Client
}

// NewFetcher creates a page fetcher.
func NewFetcher(opts ...Option) Fetcher {
	f := &httpFetcher{
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *httpFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "webpage: parse url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, eris.Wrap(err, "webpage: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ukleads-cli/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.http.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "webpage: fetch"), 0)
		}
		return nil, eris.Wrap(err, "webpage: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "webpage: read body")
	}

	page := &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return page, nil
	}

	html := string(body)
	page.Text = collapseSpace(stripHTMLTags(dropInvisible(html)))
	page.Links = parseLinks(html, resp.Request.URL)
	return page, nil
}

// ContactLinks filters page links down to likely contact/company pages, in
// discovery order, deduplicated, capped at max.
func ContactLinks(page *Page, max int) []string {
	if page == nil || max <= 0 {
		return nil
	}
	markers := []string{"contact", "about", "about-us", "aboutus", "company", "team", "careers", "legal", "privacy", "imprint", "impressum"}

	var out []string
	seen := map[string]bool{page.URL: true}
	for _, link := range page.Links {
		if seen[link] {
			continue
		}
		lower := strings.ToLower(link)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				seen[link] = true
				out = append(out, link)
				break
			}
		}
		if len(out) >= max {
			break
		}
	}
	return out
}

// dropInvisible removes script and style blocks whose contents would
// otherwise leak into the visible text.
func dropInvisible(html string) string {
	for _, tag := range []string{"script", "style", "noscript"} {
		for {
			lower := strings.ToLower(html)
			start := strings.Index(lower, "<"+tag)
			if start == -1 {
				break
			}
			end := strings.Index(lower[start:], "</"+tag+">")
			if end == -1 {
				html = html[:start]
				break
			}
			html = html[:start] + html[start+end+len(tag)+3:]
		}
	}
	return html
}

func stripHTMLTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseLinks(html string, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	idx := 0
	for {
		// Find href="
		pos := strings.Index(html[idx:], "href=\"")
		if pos == -1 {
			break
		}
		idx += pos + 6

		// Find closing quote.
		end := strings.Index(html[idx:], "\"")
		if end == -1 {
			break
		}

		href := html[idx : idx+end]
		idx += end + 1

		// Skip anchors, javascript, mailto.
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			continue
		}

		// Resolve relative URLs.
		resolved, err := url.Parse(href)
		if err != nil {
			continue
		}
		absolute := base.ResolveReference(resolved)

		// Only keep same-host links.
		if absolute.Host != base.Host {
			continue
		}

		absolute.Fragment = ""
		if absolute.Path == "" {
			absolute.Path = "/"
		}
		link := absolute.String()

		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}
	return links
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", eris.New("webpage: empty host")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
