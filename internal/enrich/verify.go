package enrich

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/pkg/webpage"
)

// Hard-verification points per independent check. The registry number is the
// strongest possible signal: it never appears on unrelated company sites.
const (
	pointsRegistryNumber = 6
	pointsPostcode       = 3
	pointsNameStrong     = 2
	pointsNameModerate   = 1
	maxVerifyScore       = 10

	nameStrongRatio   = 75
	nameModerateRatio = 60
)

// Plausibility points. Most small-company sites never print their company
// number, so the PLAUSIBLE tier rides on this softer scale instead of the
// hard one.
const (
	plausNameFull         = 5
	plausNamePartial      = 3
	plausLegalFooter      = 2
	plausLegalForm        = 1
	plausNameFullRatio    = 70
	plausNamePartialRatio = 55
)

var (
	legalFooterMarkers = []string{"REGISTERED IN ENGLAND", "COMPANY NUMBER", "REGISTERED OFFICE"}
	legalFormRe        = regexp.MustCompile(`\b(LIMITED|LTD|LLP|PLC)\b`)
)

// verifyOutcome is the result of verifying one candidate site. text
// accumulates the fetched page texts so contacts can be extracted without
// re-fetching once the site is VERIFIED.
type verifyOutcome struct {
	score     int
	plausible int
	evidence  []string
	text      string
}

// verifyCandidate fetches a candidate homepage, hard-verifies it against the
// lead's registry facts, and if it clears the VERIFIED threshold follows
// contact-style links taking the best score seen and merging evidence.
func (e *Enricher) verifyCandidate(ctx context.Context, lead *model.Lead, cand candidate) (verifyOutcome, error) {
	page, err := e.fetcher.Fetch(ctx, cand.url)
	if err != nil {
		return verifyOutcome{}, err
	}
	if page.StatusCode != http.StatusOK {
		return verifyOutcome{}, nil
	}

	score, evidence := verifyPage(lead, page)
	texts := []string{page.Text}

	if score < e.cfg.VerifyMinScore {
		plausible, plausEvidence := plausibilityScore(lead.Name, normalize.CleanUpper(page.Text))
		return verifyOutcome{
			score:     score,
			plausible: plausible,
			evidence:  mergeEvidence(evidence, plausEvidence),
			text:      pageText(texts),
		}, nil
	}

	links := webpage.ContactLinks(page, e.cfg.MaxContactLinks)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	for _, link := range links {
		g.Go(func() error {
			sub, err := e.fetcher.Fetch(gctx, link)
			if err != nil || sub.StatusCode != http.StatusOK {
				// A broken subpage never invalidates the homepage result.
				return nil
			}
			subScore, subEvidence := verifyPage(lead, sub)

			mu.Lock()
			defer mu.Unlock()
			texts = append(texts, sub.Text)
			if subScore > score {
				score = subScore
			}
			evidence = mergeEvidence(evidence, subEvidence)
			if strings.Contains(strings.ToLower(link), "careers") {
				evidence = mergeEvidence(evidence, []string{"careers page found"})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Warn("contact page fetch failed", zap.String("host", cand.host), zap.Error(err))
	}
	return verifyOutcome{score: score, evidence: evidence, text: pageText(texts)}, nil
}

// verifyPage computes the 0..10 hard-verification score for one page.
func verifyPage(lead *model.Lead, page *webpage.Page) (int, []string) {
	text := normalize.CleanUpper(page.Text)
	if text == "" {
		return 0, nil
	}

	score := 0
	var evidence []string

	if num := strings.TrimSpace(lead.RegistryNumber); num != "" && strings.Contains(text, strings.ToUpper(num)) {
		score += pointsRegistryNumber
		evidence = append(evidence, fmt.Sprintf("registry number %s on page", num))
	}

	if pc := normalize.CleanUpper(lead.Address.Postcode); pc != "" {
		compact := strings.ReplaceAll(text, " ", "")
		if strings.Contains(text, pc) || strings.Contains(compact, strings.ReplaceAll(pc, " ", "")) {
			score += pointsPostcode
			evidence = append(evidence, fmt.Sprintf("registered postcode %s on page", pc))
		}
	}

	if points, label := nameSimilarity(lead.Name, text); points > 0 {
		score += points
		evidence = append(evidence, label)
	}

	if score > maxVerifyScore {
		score = maxVerifyScore
	}
	return score, evidence
}

// nameSimilarity awards points from the token-set ratio between the entity
// name and the page text.
func nameSimilarity(name, upperText string) (int, string) {
	ratio := normalize.TokenSetRatio(name, capText(upperText))
	switch {
	case ratio >= nameStrongRatio:
		return pointsNameStrong, fmt.Sprintf("name similarity strong (%d)", ratio)
	case ratio >= nameModerateRatio:
		return pointsNameModerate, fmt.Sprintf("name similarity moderate (%d)", ratio)
	}
	return 0, ""
}

// plausibilityScore is the soft 0..10 ownership estimate for a page,
// computed only when hard verification falls short.
func plausibilityScore(name, upperText string) (int, []string) {
	if upperText == "" {
		return 0, nil
	}

	score := 0
	var evidence []string

	switch ratio := normalize.TokenSetRatio(name, capText(upperText)); {
	case ratio >= plausNameFullRatio:
		score += plausNameFull
		evidence = append(evidence, fmt.Sprintf("name appears on site (%d)", ratio))
	case ratio >= plausNamePartialRatio:
		score += plausNamePartial
		evidence = append(evidence, fmt.Sprintf("name partially matches (%d)", ratio))
	}

	for _, marker := range legalFooterMarkers {
		if strings.Contains(upperText, marker) {
			score += plausLegalFooter
			evidence = append(evidence, "UK legal footer on page")
			break
		}
	}
	if legalFormRe.MatchString(upperText) {
		score += plausLegalForm
	}

	if score > maxVerifyScore {
		score = maxVerifyScore
	}
	return score, evidence
}

// capText bounds similarity input; pages can be arbitrarily large.
const maxSimilarityText = 20000

func capText(s string) string {
	if len(s) > maxSimilarityText {
		return s[:maxSimilarityText]
	}
	return s
}

func mergeEvidence(existing, extra []string) []string {
	for _, ev := range extra {
		dup := false
		for _, have := range existing {
			if have == ev {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, ev)
		}
	}
	return existing
}
