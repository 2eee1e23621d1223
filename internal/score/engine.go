// Package score turns extracted signals into a bounded 0..100 score, a
// bucket, and an ordered rationale trail. Scoring is deterministic: the only
// time dependence is the recency signal, which is pinned to the run's
// logical "now" given at construction.
package score

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
)

// Signal weights. Route weights come from configuration; everything else is
// fixed so that scores stay comparable across runs.
const (
	weightForeignCorporateOwner = 25
	weightForeignOwner          = 12
	weightForeignResidence      = 15
	weightForeignNationality    = 10
	weightSubsidiaryName        = 5
	weightIncorporation         = 8
	weightSectorBoost           = 10
	weightSectorPenalty         = -20
	weightMailboxAddress        = -5

	weightSiteVerified  = 10
	weightSitePlausible = 4
	weightHiringIntent  = 3
)

// Recency tiers for days since registration.
var recencyTiers = []struct {
	maxDays int
	points  int
}{
	{14, 10},
	{30, 6},
	{60, 3},
}

// Engine computes scores for one run.
type Engine struct {
	cfg config.ScoreConfig
	now time.Time
}

// NewEngine creates an Engine pinned to the given logical now.
func NewEngine(cfg config.ScoreConfig, now time.Time) *Engine {
	return &Engine{cfg: cfg, now: now}
}

// Score computes the pre-enrichment score for a lead from its route, signals,
// registration date and classification codes.
func (e *Engine) Score(lead *model.Lead) model.ScoreResult {
	var total int
	var rationale []string

	add := func(points int, reason string) {
		total += points
		rationale = append(rationale, fmt.Sprintf("%s (%+d)", reason, points))
	}

	// Source-specific base contribution.
	if w, ok := e.routeWeight(lead.Route); ok {
		add(w, "Sponsor route: "+lead.Route)
	} else if lead.HasSource(model.SourceCompaniesHouse) {
		add(weightIncorporation, "New incorporation")
	}

	sig := lead.Signals
	switch {
	case sig.ForeignCorporateOwner > 0:
		add(weightForeignCorporateOwner, "Foreign corporate owner: "+strings.Join(sig.OwnerCountries, ", "))
	case sig.HasForeignOwner:
		add(weightForeignOwner, "Foreign beneficial owner: "+strings.Join(sig.OwnerCountries, ", "))
	}
	if sig.ForeignOfficerResidence > 0 {
		add(weightForeignResidence, fmt.Sprintf("%d officer(s) resident abroad", sig.ForeignOfficerResidence))
	}
	if sig.ForeignOfficerNationality > 0 {
		add(weightForeignNationality, fmt.Sprintf("%d officer(s) with foreign nationality", sig.ForeignOfficerNationality))
	}
	if sig.SubsidiaryName {
		add(weightSubsidiaryName, "Subsidiary-style name")
	}
	if sig.MailboxAddress > 0 {
		add(weightMailboxAddress, "Mailbox/virtual-office address")
	}

	if points, label := e.recency(lead.RegistrationDate); points > 0 {
		add(points, label)
	}

	if points, label := e.sector(lead.SICCodes); points != 0 {
		add(points, label)
	}

	return e.finish(total, rationale)
}

// Rescore adds enrichment-derived points on top of a pre-enrichment result.
// This is the only score mutation permitted after initial computation.
func (e *Engine) Rescore(prev model.ScoreResult, enrichment *model.EnrichmentResult) model.ScoreResult {
	if enrichment == nil {
		return prev
	}

	total := prev.Score
	rationale := append([]string(nil), prev.Rationale...)

	add := func(points int, reason string) {
		total += points
		rationale = append(rationale, fmt.Sprintf("%s (%+d)", reason, points))
	}

	switch enrichment.Level {
	case model.VerifyVerified:
		add(weightSiteVerified, "Verified official website")
	case model.VerifyPlausible:
		add(weightSitePlausible, "Plausible official website")
	}
	for _, ev := range enrichment.Evidence {
		if strings.Contains(strings.ToLower(ev), "careers") {
			add(weightHiringIntent, "Hiring intent (careers page)")
			break
		}
	}

	return e.finish(total, rationale)
}

// routeWeight matches configured routes by containment: the register
// publishes composite strings such as "Global Business Mobility: UK
// Expansion Worker". When several configured routes match, the heaviest
// wins.
func (e *Engine) routeWeight(route string) (int, bool) {
	r := strings.ToUpper(strings.TrimSpace(route))
	if r == "" {
		return 0, false
	}
	weight, found := 0, false
	for name, w := range e.cfg.RouteWeights {
		if name == "" || !strings.Contains(r, strings.ToUpper(name)) {
			continue
		}
		if !found || w > weight {
			weight, found = w, true
		}
	}
	return weight, found
}

func (e *Engine) recency(registrationDate string) (int, string) {
	if registrationDate == "" {
		return 0, ""
	}
	reg, err := time.Parse("2006-01-02", registrationDate)
	if err != nil {
		return 0, ""
	}
	days := int(e.now.Sub(reg).Hours() / 24)
	if days < 0 {
		days = 0
	}
	for _, tier := range recencyTiers {
		if days <= tier.maxDays {
			return tier.points, fmt.Sprintf("Registered %d day(s) ago", days)
		}
	}
	return 0, ""
}

// sector applies the classification-code keyword lists by substring match
// over the joined codes. Penalty wins over boost and the two never stack.
func (e *Engine) sector(sicCodes []string) (int, string) {
	if len(sicCodes) == 0 {
		return 0, ""
	}
	joined := " " + strings.Join(sicCodes, " ") + " "
	for _, kw := range e.cfg.PenaltyKeywords {
		if kw != "" && strings.Contains(joined, " "+kw) {
			return weightSectorPenalty, "Low-fit sector (" + kw + ")"
		}
	}
	for _, kw := range e.cfg.BoostKeywords {
		if kw != "" && strings.Contains(joined, " "+kw) {
			return weightSectorBoost, "Target sector (" + kw + ")"
		}
	}
	return 0, ""
}

func (e *Engine) finish(total int, rationale []string) model.ScoreResult {
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	maxRationale := e.cfg.MaxRationale
	if maxRationale <= 0 {
		maxRationale = 7
	}
	if len(rationale) > maxRationale {
		rationale = rationale[:maxRationale]
	}

	return model.ScoreResult{
		Score:     total,
		Bucket:    e.bucket(total),
		Rationale: rationale,
	}
}

func (e *Engine) bucket(score int) model.Bucket {
	switch {
	case score >= e.cfg.HotThreshold:
		return model.BucketHot
	case score >= e.cfg.MediumThreshold:
		return model.BucketMedium
	default:
		return model.BucketWatch
	}
}

// SortLeads orders leads by score descending, breaking ties by name so
// output order is stable across runs.
func SortLeads(leads []*model.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		if leads[i].Score.Score != leads[j].Score.Score {
			return leads[i].Score.Score > leads[j].Score.Score
		}
		return leads[i].Name < leads[j].Name
	})
}
