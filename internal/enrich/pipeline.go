// Package enrich discovers and verifies official websites for the strongest
// leads under a hard external-search budget, and extracts public contact
// details only from sites that verified against registry facts.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/pkg/serp"
	"github.com/sells-group/ukleads-cli/pkg/webpage"
)

// Enrichment statuses surfaced on leads.
const (
	StatusSkippedBudget = "Skipped (budget cap)"
	StatusCached        = "Used cached enrichment"
	StatusNoWebsite     = "No website found"
	StatusLowConfidence = "Low confidence"
	StatusManualVerify  = "Manual verify needed"
	StatusVerified      = "Verified & scraped"
)

// Cache persists enrichment results across runs so fresh results are reused
// instead of re-spending budget.
type Cache interface {
	Enrichment(ctx context.Context, entityID string) (*model.EnrichmentResult, error)
	SaveEnrichment(ctx context.Context, entityID string, res *model.EnrichmentResult) error
}

// Enricher runs the two-stage discovery/verification pipeline.
type Enricher struct {
	search  serp.Client
	fetcher webpage.Fetcher
	cache   Cache
	budget  *Budget
	limiter *rate.Limiter
	cfg     config.EnrichConfig
	now     func() time.Time
}

// NewEnricher creates an Enricher with a fresh budget for this run.
func NewEnricher(search serp.Client, fetcher webpage.Fetcher, cache Cache, cfg config.EnrichConfig) *Enricher {
	interval := cfg.SearchIntervalSecs
	if interval <= 0 {
		interval = 1.0
	}
	return &Enricher{
		search:  search,
		fetcher: fetcher,
		cache:   cache,
		budget:  NewBudget(cfg.BudgetCap),
		limiter: rate.NewLimiter(rate.Every(time.Duration(interval*float64(time.Second))), 1),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SearchCalls reports how much budget this run has consumed.
func (e *Enricher) SearchCalls() int {
	return e.budget.Used()
}

// EnrichAll enriches leads in order. Leads are expected to arrive sorted by
// score descending so the budget is spent on the strongest candidates first.
func (e *Enricher) EnrichAll(ctx context.Context, leads []*model.Lead) error {
	for _, lead := range leads {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "enrich: run cancelled")
		}
		if err := e.EnrichLead(ctx, lead); err != nil {
			zap.L().Warn("enrichment failed",
				zap.String("entity_id", lead.EntityID),
				zap.String("name", lead.Name),
				zap.Error(err),
			)
			lead.Enrichment = model.EnrichmentResult{
				Level:      model.VerifyNone,
				Status:     StatusNoWebsite,
				CheckedUTC: e.now().UTC(),
			}
		}
	}
	return nil
}

// EnrichLead enriches a single lead, reusing a fresh cached result when one
// exists and short-circuiting without any work once the budget is spent.
func (e *Enricher) EnrichLead(ctx context.Context, lead *model.Lead) error {
	if cached, err := e.cache.Enrichment(ctx, lead.EntityID); err != nil {
		return eris.Wrap(err, "enrich: read cache")
	} else if cached != nil && e.fresh(cached.CheckedUTC) {
		result := *cached
		result.Status = StatusCached
		lead.Enrichment = result
		return nil
	}

	if !e.budget.TryConsume() {
		lead.Enrichment = model.EnrichmentResult{
			Level:  model.VerifyNone,
			Status: StatusSkippedBudget,
		}
		return nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "enrich: rate limit wait")
	}

	results, err := e.search.Search(ctx, searchQuery(lead))
	if err != nil {
		return eris.Wrapf(err, "enrich: search %q", lead.Name)
	}

	candidates := e.rankCandidates(lead, results)
	result := e.verifyAll(ctx, lead, candidates)
	result.CheckedUTC = e.now().UTC()
	lead.Enrichment = result

	if err := e.cache.SaveEnrichment(ctx, lead.EntityID, &result); err != nil {
		return eris.Wrap(err, "enrich: save cache")
	}
	return nil
}

// verifyAll walks candidates in rank order, stopping at the first VERIFIED
// site and otherwise keeping the best sub-VERIFIED candidate seen. A site
// the hard checks cannot confirm can still reach PLAUSIBLE on its soft
// plausibility score.
func (e *Enricher) verifyAll(ctx context.Context, lead *model.Lead, candidates []candidate) model.EnrichmentResult {
	if len(candidates) == 0 {
		return model.EnrichmentResult{Level: model.VerifyNone, Status: StatusNoWebsite}
	}

	best := model.EnrichmentResult{Level: model.VerifyNone, Status: StatusLowConfidence}

	for _, cand := range candidates {
		outcome, err := e.verifyCandidate(ctx, lead, cand)
		if err != nil {
			zap.L().Debug("candidate fetch failed", zap.String("url", cand.url), zap.Error(err))
			continue
		}

		level, status := model.VerifyNone, StatusLowConfidence
		switch {
		case outcome.score >= e.cfg.VerifyMinScore:
			level, status = model.VerifyVerified, StatusVerified
		case outcome.score >= e.cfg.PlausibleMinScore || outcome.plausible >= e.cfg.PlausibleMinScore:
			level, status = model.VerifyPlausible, StatusManualVerify
		}

		if levelRank(level) > levelRank(best.Level) ||
			(levelRank(level) == levelRank(best.Level) && outcome.score > best.Score) {
			best = model.EnrichmentResult{
				Website:  cand.url,
				Level:    level,
				Score:    outcome.score,
				Evidence: outcome.evidence,
				Status:   status,
			}
		}

		if level == model.VerifyVerified {
			best.Emails = e.extractEmails(outcome.text)
			best.Phones = extractPhones(outcome.text)
			break
		}
	}
	return best
}

func levelRank(level model.VerificationLevel) int {
	switch level {
	case model.VerifyVerified:
		return 2
	case model.VerifyPlausible:
		return 1
	default:
		return 0
	}
}

func (e *Enricher) fresh(checked time.Time) bool {
	if checked.IsZero() || e.cfg.CacheDays <= 0 {
		return false
	}
	return e.now().UTC().Sub(checked) < time.Duration(e.cfg.CacheDays)*24*time.Hour
}

// pageText joins fetched page texts for contact extraction.
func pageText(pages []string) string {
	return strings.Join(pages, "\n")
}
