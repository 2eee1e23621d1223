package model

import (
	"strings"
	"time"
)

// VerificationLevel expresses confidence that a discovered website is the
// entity's official site.
type VerificationLevel string

const (
	VerifyNone      VerificationLevel = "NONE"
	VerifyPlausible VerificationLevel = "PLAUSIBLE"
	VerifyVerified  VerificationLevel = "VERIFIED"
)

// EnrichmentResult is the outcome of website discovery and verification for
// one entity. Emails and phones are only populated at VERIFIED level.
type EnrichmentResult struct {
	Website    string            `json:"website,omitempty"`
	Level      VerificationLevel `json:"level"`
	Score      int               `json:"score"` // 0..10
	Evidence   []string          `json:"evidence,omitempty"`
	Emails     []string          `json:"emails,omitempty"`
	Phones     []string          `json:"phones,omitempty"`
	Status     string            `json:"status"`
	CheckedUTC time.Time         `json:"checked_utc,omitzero"`
}

// Lead is the externally visible unit: one entity, its current score, its
// current enrichment, and the sources that contributed.
type Lead struct {
	ID               string            `json:"id"`
	RunID            string            `json:"run_id"`
	EntityID         string            `json:"entity_id"`
	RegistryNumber   string            `json:"registry_number,omitempty"`
	Name             string            `json:"name"`
	Sources          []string          `json:"sources"`
	Route            string            `json:"route,omitempty"`
	SubRoute         string            `json:"sub_route,omitempty"`
	Locality         string            `json:"locality,omitempty"`
	MatchScore       int               `json:"match_score,omitempty"`
	Status           string            `json:"status,omitempty"`
	RegistrationDate string            `json:"registration_date,omitempty"`
	SICCodes         []string          `json:"sic_codes,omitempty"`
	Address          RegisteredAddress `json:"address"`
	Signals          Signals           `json:"signals"`
	Score            ScoreResult       `json:"score"`
	Enrichment       EnrichmentResult  `json:"enrichment"`
	Backfilled       bool              `json:"backfilled,omitempty"`
	CreatedUTC       time.Time         `json:"created_utc"`
}

// SourceLabel joins the contributing sources in sorted, stable form,
// e.g. "COMPANIES_HOUSE+SPONSOR_REGISTER".
func (l *Lead) SourceLabel() string {
	return strings.Join(l.Sources, "+")
}

// HasSource reports whether the lead carries provenance from source.
func (l *Lead) HasSource(source string) bool {
	for _, s := range l.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Run records one pipeline execution for bookkeeping.
type Run struct {
	ID                 string         `json:"id"`
	StartedUTC         time.Time      `json:"started_utc"`
	FinishedUTC        time.Time      `json:"finished_utc,omitzero"`
	Params             map[string]any `json:"params,omitempty"`
	SponsorNew         int            `json:"sponsor_new"`
	RegistryCandidates int            `json:"registry_candidates"`
	SearchCalls        int            `json:"search_calls"`
	VerifiedSites      int            `json:"verified_sites"`
}
