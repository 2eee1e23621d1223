package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
)

func scoreCfg() config.ScoreConfig {
	return config.ScoreConfig{
		HotThreshold:    70,
		MediumThreshold: 45,
		RouteWeights: map[string]int{
			"UK Expansion Worker":         25,
			"Senior or Specialist Worker": 18,
			"Skilled Worker":              12,
		},
		BoostKeywords:   []string{"62", "63", "71", "72"},
		PenaltyKeywords: []string{"87", "88", "49", "56"},
		MaxRationale:    7,
	}
}

var runNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func TestScoreForeignOwnerBonusOnly(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	// Domestic officers produced no officer signals; the only scoring fact
	// is the foreign corporate owner.
	lead := &model.Lead{
		Name:    "Acme Robotics Ltd",
		Sources: []string{model.SourceSponsorRegister},
		Signals: model.Signals{
			ForeignCorporateOwner: 1,
			HasCorporateOwner:     true,
			HasForeignOwner:       true,
			OwnerCountries:        []string{"GERMANY"},
		},
	}

	result := e.Score(lead)
	assert.Equal(t, 25, result.Score)
	assert.Equal(t, model.BucketWatch, result.Bucket)
	assert.Len(t, result.Rationale, 1)
	assert.Contains(t, result.Rationale[0], "GERMANY")
}

func TestScoreRouteBaseOnly(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	// Unresolved sponsor row: route weight is the whole score.
	lead := &model.Lead{
		Name:    "Acme Widgets",
		Sources: []string{model.SourceSponsorRegister},
		Route:   "Skilled Worker",
	}

	result := e.Score(lead)
	assert.Equal(t, 12, result.Score)
	assert.Equal(t, model.BucketWatch, result.Bucket)
}

func TestScoreRouteMatchesCompositeRegisterStrings(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	// The register publishes Global Business Mobility routes with the
	// scheme prefix; the configured base weights still apply.
	gbm := &model.Lead{
		Name:    "Initech UK Ltd",
		Sources: []string{model.SourceSponsorRegister},
		Route:   "Global Business Mobility: UK Expansion Worker",
	}
	result := e.Score(gbm)
	assert.Equal(t, 25, result.Score)
	assert.Len(t, result.Rationale, 1)
	assert.Contains(t, result.Rationale[0], "UK Expansion Worker")

	senior := &model.Lead{
		Sources: []string{model.SourceSponsorRegister},
		Route:   "Global Business Mobility: Senior or Specialist Worker",
	}
	assert.Equal(t, 18, e.Score(senior).Score)
}

func TestScoreIncorporationBase(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	lead := &model.Lead{
		Name:    "Fresh Ltd",
		Sources: []string{model.SourceCompaniesHouse},
	}
	assert.Equal(t, 8, e.Score(lead).Score)
}

func TestScoreRecencyTiers(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	mk := func(daysAgo int) *model.Lead {
		return &model.Lead{
			Sources:          []string{model.SourceCompaniesHouse},
			RegistrationDate: runNow.AddDate(0, 0, -daysAgo).Format("2006-01-02"),
		}
	}

	assert.Equal(t, 8+10, e.Score(mk(7)).Score)
	assert.Equal(t, 8+6, e.Score(mk(20)).Score)
	assert.Equal(t, 8+3, e.Score(mk(45)).Score)
	assert.Equal(t, 8, e.Score(mk(90)).Score)
}

func TestScoreSectorPenaltyWinsAndClampsAtZero(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	// Codes match both lists; penalty applies, boost does not.
	lead := &model.Lead{
		Sources:  []string{model.SourceSponsorRegister},
		SICCodes: []string{"62020", "87100"},
	}
	result := e.Score(lead)
	assert.Equal(t, 0, result.Score)
	assert.Contains(t, result.Rationale[0], "Low-fit sector")
}

func TestScoreFullStackIsClampedAndHot(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	lead := &model.Lead{
		Name:             "Initech (UK) Ltd",
		Sources:          []string{model.SourceSponsorRegister, model.SourceCompaniesHouse},
		Route:            "UK Expansion Worker",
		RegistrationDate: runNow.AddDate(0, 0, -5).Format("2006-01-02"),
		SICCodes:         []string{"62012"},
		Signals: model.Signals{
			ForeignCorporateOwner:     2,
			HasForeignOwner:           true,
			OwnerCountries:            []string{"UNITED STATES"},
			ForeignOfficerResidence:   2,
			ForeignOfficerNationality: 2,
			SubsidiaryName:            true,
		},
	}

	// 25+25+15+10+5+10+10 = 100, exactly at the clamp.
	result := e.Score(lead)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, model.BucketHot, result.Bucket)
	assert.LessOrEqual(t, len(result.Rationale), 7)
}

func TestScoreDeterministic(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)
	lead := &model.Lead{
		Sources:  []string{model.SourceSponsorRegister},
		Route:    "Senior or Specialist Worker",
		SICCodes: []string{"71122"},
		Signals:  model.Signals{ForeignOfficerResidence: 1},
	}
	first := e.Score(lead)
	second := e.Score(lead)
	assert.Equal(t, first, second)
}

func TestScoreMonotonicWithAdditiveSignals(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)

	base := &model.Lead{Sources: []string{model.SourceSponsorRegister}, Route: "Skilled Worker"}
	more := &model.Lead{
		Sources: []string{model.SourceSponsorRegister},
		Route:   "Skilled Worker",
		Signals: model.Signals{ForeignOfficerResidence: 1},
	}
	assert.Greater(t, e.Score(more).Score, e.Score(base).Score)
}

func TestRescoreAddsEnrichmentPoints(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)
	prev := model.ScoreResult{Score: 60, Bucket: model.BucketMedium, Rationale: []string{"Sponsor route: UK Expansion Worker (+25)"}}

	verified := e.Rescore(prev, &model.EnrichmentResult{
		Level:    model.VerifyVerified,
		Evidence: []string{"registry number on page", "careers page found"},
	})
	assert.Equal(t, 73, verified.Score)
	assert.Equal(t, model.BucketHot, verified.Bucket)

	plausible := e.Rescore(prev, &model.EnrichmentResult{Level: model.VerifyPlausible})
	assert.Equal(t, 64, plausible.Score)

	// Unchanged when no enrichment happened.
	assert.Equal(t, prev, e.Rescore(prev, nil))
	none := e.Rescore(prev, &model.EnrichmentResult{Level: model.VerifyNone})
	assert.Equal(t, prev.Score, none.Score)
}

func TestRescoreNeverExceedsBound(t *testing.T) {
	e := NewEngine(scoreCfg(), runNow)
	prev := model.ScoreResult{Score: 95, Bucket: model.BucketHot}

	result := e.Rescore(prev, &model.EnrichmentResult{Level: model.VerifyVerified})
	assert.Equal(t, 100, result.Score)
}

func TestSortLeads(t *testing.T) {
	leads := []*model.Lead{
		{Name: "B", Score: model.ScoreResult{Score: 50}},
		{Name: "A", Score: model.ScoreResult{Score: 50}},
		{Name: "C", Score: model.ScoreResult{Score: 80}},
	}
	SortLeads(leads)
	assert.Equal(t, "C", leads[0].Name)
	assert.Equal(t, "A", leads[1].Name)
	assert.Equal(t, "B", leads[2].Name)
}
