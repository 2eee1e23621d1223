// Package pipeline orchestrates one end-to-end run: ingest the sponsor
// register and new incorporations, resolve identities, extract signals,
// score, enrich the strongest leads, assemble the final list and persist
// state atomically.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ukleads-cli/internal/assemble"
	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/internal/resolve"
	"github.com/sells-group/ukleads-cli/internal/score"
	"github.com/sells-group/ukleads-cli/internal/signal"
	"github.com/sells-group/ukleads-cli/internal/store"
	"github.com/sells-group/ukleads-cli/pkg/companieshouse"
	"github.com/sells-group/ukleads-cli/pkg/sponsor"
)

// Enricher is the budget-gated enrichment stage.
type Enricher interface {
	EnrichAll(ctx context.Context, leads []*model.Lead) error
	SearchCalls() int
}

// Runner executes pipeline runs.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	sponsor   sponsor.Client
	registry  companieshouse.Client
	resolver  *resolve.Resolver
	extractor *signal.Extractor
	assembler *assemble.Assembler
	enricher  Enricher
	now       func() time.Time
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(cfg *config.Config, st store.Store, sp sponsor.Client, registry companieshouse.Client, enricher Enricher) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		sponsor:   sp,
		registry:  registry,
		resolver:  resolve.NewResolver(registry, cfg.Match),
		extractor: signal.NewExtractor(cfg.Signal),
		assembler: assemble.New(cfg.Pipeline),
		enricher:  enricher,
		now:       time.Now,
	}
}

// Run executes one full pipeline pass and returns the run record and the
// final lead list. State writes happen at the end in one transaction, so an
// aborted run never marks keys seen without their leads stored.
func (r *Runner) Run(ctx context.Context) (*model.Run, []*model.Lead, error) {
	now := r.now().UTC()
	run := &model.Run{
		ID:         uuid.NewString(),
		StartedUTC: now,
		Params: map[string]any{
			"lookback_days": r.cfg.Pipeline.LookbackDays,
			"budget_cap":    r.cfg.Enrich.BudgetCap,
		},
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: create run")
	}

	var leads []*model.Lead
	var seenKeys []string

	sponsorLeads, sponsorKeys, err := r.sponsorStage(ctx, run)
	if err != nil {
		return nil, nil, err
	}
	leads = append(leads, sponsorLeads...)
	seenKeys = append(seenKeys, sponsorKeys...)

	registryLeads, registryKeys, err := r.registryStage(ctx, run, now)
	if err != nil {
		return nil, nil, err
	}
	leads = append(leads, registryLeads...)
	seenKeys = append(seenKeys, registryKeys...)

	engine := score.NewEngine(r.cfg.Score, now)

	leads = r.assembler.Merge(leads)
	for _, lead := range leads {
		lead.Score = engine.Score(lead)
	}
	score.SortLeads(leads)
	if limit := r.cfg.Pipeline.MaxOutputLeads; limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}

	if err := r.enricher.EnrichAll(ctx, leads); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: enrich")
	}
	for _, lead := range leads {
		lead.Score = engine.Rescore(lead.Score, &lead.Enrichment)
		if lead.Enrichment.Level == model.VerifyVerified {
			run.VerifiedSites++
		}
	}
	run.SearchCalls = r.enricher.SearchCalls()

	for _, lead := range leads {
		lead.ID = uuid.NewString()
		lead.RunID = run.ID
		lead.CreatedUTC = now
	}

	final, err := r.assembler.Finalize(ctx, leads, r.store, now)
	if err != nil {
		return nil, nil, err
	}

	fresh := make([]*model.Lead, 0, len(final))
	for _, lead := range final {
		if !lead.Backfilled {
			fresh = append(fresh, lead)
		}
	}
	if err := r.store.SaveLeads(ctx, fresh, seenKeys); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: save leads")
	}

	run.FinishedUTC = r.now().UTC()
	if err := r.store.FinishRun(ctx, run); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: finish run")
	}

	zap.L().Info("run finished",
		zap.String("run_id", run.ID),
		zap.Int("sponsor_new", run.SponsorNew),
		zap.Int("registry_candidates", run.RegistryCandidates),
		zap.Int("search_calls", run.SearchCalls),
		zap.Int("verified_sites", run.VerifiedSites),
		zap.Int("leads", len(final)),
	)
	return run, final, nil
}

// sponsorStage diffs the current register against seen keys. The first run
// against an empty store only establishes the baseline: every current row is
// marked seen and no sponsor leads are emitted.
func (r *Runner) sponsorStage(ctx context.Context, run *model.Run) ([]*model.Lead, []string, error) {
	rows, registerURL, err := r.sponsor.LatestRegister(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: fetch sponsor register")
	}
	rows = r.filterRows(rows)

	if err := r.store.SetMeta(ctx, store.MetaLastRegisterURL, registerURL); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: record register url")
	}

	rowKeys := make([]string, 0, len(rows))
	for _, row := range rows {
		rowKeys = append(rowKeys, row.Key())
	}
	if err := r.store.TouchSponsorRows(ctx, rowKeys, r.now().UTC()); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: touch sponsor rows")
	}

	baselined, err := r.store.Meta(ctx, store.MetaSponsorBaselined)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: read baseline marker")
	}
	if baselined == "" {
		if err := r.store.MarkSeen(ctx, rowKeys); err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: baseline register")
		}
		if err := r.store.SetMeta(ctx, store.MetaSponsorBaselined, "1"); err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: set baseline marker")
		}
		zap.L().Info("sponsor register baselined", zap.Int("rows", len(rowKeys)))
		return nil, nil, nil
	}

	var leads []*model.Lead
	var seenKeys []string
	for _, row := range rows {
		key := row.Key()
		seen, err := r.store.IsSeen(ctx, key)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: seen lookup")
		}
		if seen {
			continue
		}
		run.SponsorNew++
		seenKeys = append(seenKeys, key)
		leads = append(leads, r.sponsorLead(ctx, row, key))
	}
	return leads, seenKeys, nil
}

// sponsorLead builds a lead for a new register row, resolving it against the
// registry when possible. Resolution failures degrade the lead rather than
// failing the run.
func (r *Runner) sponsorLead(ctx context.Context, row sponsor.Row, key string) *model.Lead {
	lead := &model.Lead{
		Name:     normalize.DisplayName(row.Name),
		Sources:  []string{model.SourceSponsorRegister},
		Route:    row.Route,
		SubRoute: row.TypeRating,
		Locality: row.Town,
	}

	entityID, err := r.store.EntityForSponsorKey(ctx, key)
	if err != nil {
		zap.L().Warn("sponsor map lookup failed", zap.String("key", key), zap.Error(err))
	}
	if entityID == "" {
		match, err := r.resolver.Resolve(ctx, row.Name, row.Town)
		if err != nil {
			zap.L().Warn("resolution failed", zap.String("name", row.Name), zap.Error(err))
			return lead
		}
		if match == nil {
			return lead
		}
		entityID = match.RegistryNumber
		lead.MatchScore = match.Score
		if err := r.store.MapSponsorKey(ctx, key, entityID); err != nil {
			zap.L().Warn("sponsor map write failed", zap.String("key", key), zap.Error(err))
		}
	}

	lead.RegistryNumber = entityID
	lead.EntityID = entityID
	r.attachRegistryFacts(ctx, lead, entityID)
	return lead
}

// registryStage scans companies incorporated within the lookback window and
// emits a lead for every unseen one, up to the per-run check cap.
func (r *Runner) registryStage(ctx context.Context, run *model.Run, now time.Time) ([]*model.Lead, []string, error) {
	from := now.AddDate(0, 0, -r.cfg.Pipeline.LookbackDays).Format("2006-01-02")
	to := now.Format("2006-01-02")

	profiles, err := r.registry.AdvancedIncorporated(ctx, from, to, 100, r.cfg.Pipeline.MaxResultsTotal)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: incorporation scan")
	}
	run.RegistryCandidates = len(profiles)

	var leads []*model.Lead
	var seenKeys []string
	checked := 0
	for _, p := range profiles {
		if p.CompanyNumber == "" {
			continue
		}
		if limit := r.cfg.Pipeline.MaxCompaniesToCheck; limit > 0 && checked >= limit {
			break
		}

		key := fmt.Sprintf("%s::%s", model.SourceCompaniesHouse, p.CompanyNumber)
		seen, err := r.store.IsSeen(ctx, key)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: seen lookup")
		}
		if seen {
			continue
		}
		checked++
		seenKeys = append(seenKeys, key)

		lead := &model.Lead{
			Name:             normalize.DisplayName(p.CompanyName),
			EntityID:         p.CompanyNumber,
			RegistryNumber:   p.CompanyNumber,
			Sources:          []string{model.SourceCompaniesHouse},
			Status:           p.CompanyStatus,
			RegistrationDate: p.DateOfCreation,
			SICCodes:         p.SICCodes,
			Locality:         p.RegisteredOffice.Locality,
			Address:          toAddress(p.RegisteredOffice),
		}
		r.attachRegistryFacts(ctx, lead, p.CompanyNumber)
		if !r.expansionCandidate(lead) {
			continue
		}
		leads = append(leads, lead)
	}
	return leads, seenKeys, nil
}

// expansionCandidate gates the incorporation scan: a freshly registered
// company is only a candidate when some cross-border fact is present.
// Checked non-candidates stay marked seen so they are never re-fetched.
func (r *Runner) expansionCandidate(lead *model.Lead) bool {
	sig := lead.Signals
	switch {
	case sig.ForeignCorporateOwner > 0 || sig.HasForeignOwner:
		return true
	case sig.ForeignOfficerResidence > 0:
		return true
	case sig.ForeignOfficerNationality > 0 && sig.ForeignOfficerAddress > 0:
		return true
	}
	country := normalize.CleanUpper(lead.Address.Country)
	return country != "" && !normalize.IsDomestic(country, r.cfg.Signal.DomesticCountries)
}

// attachRegistryFacts fills the lead's profile fields and extracts signals
// from officers and beneficial owners. Partial registry data is tolerated;
// whatever was fetched feeds extraction.
func (r *Runner) attachRegistryFacts(ctx context.Context, lead *model.Lead, companyNumber string) {
	timeout := time.Duration(r.cfg.Registry.OfficersTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, 3*timeout)
	defer cancel()

	if lead.Status == "" {
		profile, err := r.registry.CompanyProfile(fctx, companyNumber)
		if err != nil {
			zap.L().Warn("profile fetch failed", zap.String("company", companyNumber), zap.Error(err))
		} else if profile != nil {
			lead.Status = profile.CompanyStatus
			lead.RegistrationDate = profile.DateOfCreation
			lead.SICCodes = profile.SICCodes
			lead.Address = toAddress(profile.RegisteredOffice)
			if lead.Locality == "" {
				lead.Locality = profile.RegisteredOffice.Locality
			}
		}
	}

	officers, err := r.registry.Officers(fctx, companyNumber)
	if err != nil {
		zap.L().Warn("officers fetch failed", zap.String("company", companyNumber), zap.Error(err))
	}
	owners, err := r.registry.PersonsWithSignificantControl(fctx, companyNumber)
	if err != nil {
		zap.L().Warn("psc fetch failed", zap.String("company", companyNumber), zap.Error(err))
	}

	lead.Signals = r.extractor.Extract(lead.Name, lead.Address, toOfficers(officers), toOwners(owners))

	entity := &model.Entity{
		ID:               companyNumber,
		RegistryNumber:   companyNumber,
		Name:             lead.Name,
		Status:           lead.Status,
		RegistrationDate: lead.RegistrationDate,
		SICCodes:         lead.SICCodes,
		Address:          lead.Address,
		LastSeenUTC:      r.now().UTC(),
	}
	if err := r.store.UpsertEntity(ctx, entity); err != nil {
		zap.L().Warn("entity upsert failed", zap.String("company", companyNumber), zap.Error(err))
	}
}

// filterRows drops register rows outside the route allowlist and rows whose
// names are too short or too noisy to resolve.
func (r *Runner) filterRows(rows []sponsor.Row) []sponsor.Row {
	cfg := r.cfg.Sponsor
	out := rows[:0:0]
	for _, row := range rows {
		if len(row.Name) < cfg.MinNameLen {
			continue
		}
		if cfg.MaxNonAlnumRatio > 0 && normalize.NonAlnumRatio(row.Name) > cfg.MaxNonAlnumRatio {
			continue
		}
		if len(cfg.RouteAllowlist) > 0 && !routeAllowed(row.Route, cfg.RouteAllowlist) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func routeAllowed(route string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if strings.EqualFold(route, allowed) {
			return true
		}
	}
	return false
}

func toAddress(a companieshouse.Address) model.RegisteredAddress {
	line := a.AddressLine1
	if a.AddressLine2 != "" {
		line += ", " + a.AddressLine2
	}
	return model.RegisteredAddress{
		Line:     line,
		Postcode: a.PostalCode,
		Locality: a.Locality,
		Country:  a.Country,
	}
}

func toOfficers(officers []companieshouse.Officer) []model.Officer {
	out := make([]model.Officer, 0, len(officers))
	for _, o := range officers {
		out = append(out, model.Officer{
			AddressCountry:   o.Address.Country,
			ResidenceCountry: o.CountryOfResidence,
			Nationality:      o.Nationality,
		})
	}
	return out
}

func toOwners(owners []companieshouse.PSC) []model.BeneficialOwner {
	out := make([]model.BeneficialOwner, 0, len(owners))
	for _, o := range owners {
		out = append(out, model.BeneficialOwner{
			Kind:           o.Kind,
			Name:           o.Name,
			AddressCountry: o.Address.Country,
		})
	}
	return out
}
