// Package resolve matches free-text organisation names against the company
// registry. Matching is conservative: a candidate below the similarity
// threshold resolves to nothing rather than to a weak guess.
package resolve

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/pkg/companieshouse"
)

// Match is a resolved registry identity. Score is the blended similarity
// plus bonuses, capped at 100.
type Match struct {
	RegistryNumber string
	Name           string
	Status         string
	Score          int
}

// Resolver maps organisation names to registry numbers.
type Resolver struct {
	registry companieshouse.Client
	cfg      config.MatchConfig
}

// NewResolver creates a Resolver.
func NewResolver(registry companieshouse.Client, cfg config.MatchConfig) *Resolver {
	return &Resolver{registry: registry, cfg: cfg}
}

// Resolve searches the registry with up to four name variants, scores every
// distinct candidate, and returns the best match at or above the configured
// threshold. A nil result with nil error means no confident match exists.
func (r *Resolver) Resolve(ctx context.Context, name, locality string) (*Match, error) {
	variants := normalize.NameVariants(name)
	if len(variants) == 0 {
		return nil, nil
	}
	// A town-assisted query widens recall for generic names whose bare-name
	// searches miss; it rides at the end of the list under the same
	// four-query cap.
	if locality != "" {
		variants = append(variants, variants[0]+" "+normalize.Clean(locality))
	}
	if len(variants) > 4 {
		variants = variants[:4]
	}

	// Candidates dedupe by registry number across variants; the first
	// variant that surfaces a company wins no special treatment, only the
	// score matters.
	seen := make(map[string]bool)
	var best *Match

	for _, variant := range variants {
		results, err := r.registry.SearchCompanies(ctx, variant, r.cfg.PageSize)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: search %q", variant)
		}

		for _, cand := range results {
			if cand.CompanyNumber == "" || seen[cand.CompanyNumber] {
				continue
			}
			seen[cand.CompanyNumber] = true

			score := r.scoreCandidate(name, locality, cand)
			if best == nil || score > best.Score {
				best = &Match{
					RegistryNumber: cand.CompanyNumber,
					Name:           normalize.DisplayName(cand.Title),
					Status:         cand.CompanyStatus,
					Score:          score,
				}
			}
		}
	}

	if best == nil || best.Score < r.cfg.MinScore {
		if best != nil {
			zap.L().Debug("best candidate below threshold",
				zap.String("name", name),
				zap.String("candidate", best.Name),
				zap.Int("score", best.Score),
			)
		}
		return nil, nil
	}
	return best, nil
}

// scoreCandidate blends name similarity with locality and status bonuses.
func (r *Resolver) scoreCandidate(name, locality string, cand companieshouse.SearchResult) int {
	score := normalize.TokenSetRatio(name, cand.Title)

	if locality != "" && cand.AddressSnippet != "" &&
		strings.Contains(normalize.CleanUpper(cand.AddressSnippet), normalize.CleanUpper(locality)) {
		score += r.cfg.LocalityBonus
	}
	if strings.EqualFold(cand.CompanyStatus, "active") {
		score += r.cfg.ActiveBonus
	}
	if score > 100 {
		score = 100
	}
	return score
}
