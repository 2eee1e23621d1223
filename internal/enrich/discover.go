package enrich

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/pkg/serp"
)

// candidate is a Stage A website candidate ranked by heuristics.
type candidate struct {
	url   string
	host  string
	score int
}

// genericResultPhrases mark aggregator-style results that describe a company
// rather than belong to it.
var genericResultPhrases = []string{
	"company profile", "company information", "director", "filings",
	"company check", "credit report", "overview of",
}

// searchQuery builds the one discovery query for a lead, biased toward the
// official site: quoted name plus postcode when known, otherwise name,
// locality and "contact".
func searchQuery(lead *model.Lead) string {
	name := normalize.DisplayName(lead.Name)
	if pc := strings.TrimSpace(lead.Address.Postcode); pc != "" {
		return fmt.Sprintf("%q %q", name, pc)
	}
	if loc := strings.TrimSpace(lead.Locality); loc != "" {
		return fmt.Sprintf("%q %s contact", name, loc)
	}
	return fmt.Sprintf("%q official website contact", name)
}

// rankCandidates filters search results against the deny-list and ranks the
// rest, deduplicating by host and keeping the top maxCandidates.
func (e *Enricher) rankCandidates(lead *model.Lead, results []serp.Result) []candidate {
	nameTokens := strings.Fields(normalize.ForMatch(lead.Name))

	byHost := make(map[string]candidate)
	var hosts []string

	for pos, res := range results {
		host := normalize.Domain(res.Link)
		if host == "" || e.denied(host) {
			continue
		}

		score := e.scoreCandidate(res, nameTokens)
		// Earlier results get a small position edge.
		score += len(results) - pos

		if prev, ok := byHost[host]; !ok {
			byHost[host] = candidate{url: res.Link, host: host, score: score}
			hosts = append(hosts, host)
		} else if score > prev.score {
			byHost[host] = candidate{url: res.Link, host: host, score: score}
		}
	}

	out := make([]candidate, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, byHost[h])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	max := e.cfg.MaxCandidates
	if max <= 0 {
		max = 3
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func (e *Enricher) scoreCandidate(res serp.Result, nameTokens []string) int {
	score := 0
	titleSnippet := normalize.CleanUpper(res.Title + " " + res.Snippet)
	link := strings.ToLower(res.Link)

	// Brand tokens appearing in title or snippet.
	matched := 0
	for _, tok := range nameTokens {
		if strings.Contains(titleSnippet, tok) {
			matched++
		}
	}
	if len(nameTokens) > 0 && matched == len(nameTokens) {
		score += 3
	} else if matched > 0 {
		score += 1
	}

	for _, seg := range []string{"/contact", "/about", "/careers"} {
		if strings.Contains(link, seg) {
			score += 2
			break
		}
	}

	for _, phrase := range genericResultPhrases {
		if strings.Contains(strings.ToLower(res.Title+" "+res.Snippet), phrase) {
			score -= 3
			break
		}
	}

	if strings.HasSuffix(normalize.Domain(res.Link), ".uk") {
		score += 1
	}
	return score
}

// denied reports whether a host matches the deny-list by exact host or
// domain suffix.
func (e *Enricher) denied(host string) bool {
	host = strings.ToLower(host)
	for _, d := range e.cfg.DenyDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
