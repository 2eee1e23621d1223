// Package assemble merges per-source leads into one lead per entity, orders
// and caps the output, and backfills from stored history when a run yields
// too few fresh leads.
package assemble

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/normalize"
	"github.com/sells-group/ukleads-cli/internal/score"
)

// History is the recent-leads index used for backfill.
type History interface {
	RecentLeads(ctx context.Context, since time.Time, limit int) ([]*model.Lead, error)
}

// Assembler merges and finalizes a run's leads.
type Assembler struct {
	cfg config.PipelineConfig
}

// New creates an Assembler.
func New(cfg config.PipelineConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

// EntityKey is the merge key for a lead: the registry number when known,
// otherwise a name+locality derived key.
func EntityKey(lead *model.Lead) string {
	if lead.RegistryNumber != "" {
		return lead.RegistryNumber
	}
	return "NAME::" + normalize.ForMatch(lead.Name) + "::" + normalize.CleanUpper(lead.Locality)
}

// Merge combines leads that resolved to the same entity key into one lead
// each, preferring the richer representation per field and concatenating
// provenance. Input order is preserved for distinct entities.
func (a *Assembler) Merge(leads []*model.Lead) []*model.Lead {
	byKey := make(map[string]*model.Lead)
	var order []string

	for _, lead := range leads {
		key := EntityKey(lead)
		existing, ok := byKey[key]
		if !ok {
			cp := *lead
			byKey[key] = &cp
			order = append(order, key)
			continue
		}
		mergeInto(existing, lead)
	}

	out := make([]*model.Lead, 0, len(order))
	for _, key := range order {
		merged := byKey[key]
		merged.EntityID = EntityKey(merged)
		out = append(out, merged)
	}
	return out
}

// mergeInto folds src into dst, field by field, keeping whichever side has
// the more complete value.
func mergeInto(dst, src *model.Lead) {
	for _, s := range src.Sources {
		if !dst.HasSource(s) {
			dst.Sources = append(dst.Sources, s)
		}
	}
	sort.Strings(dst.Sources)

	if dst.RegistryNumber == "" {
		dst.RegistryNumber = src.RegistryNumber
	}
	if len(src.Name) > len(dst.Name) {
		dst.Name = src.Name
	}
	if dst.Route == "" {
		dst.Route = src.Route
	}
	if dst.SubRoute == "" {
		dst.SubRoute = src.SubRoute
	}
	if dst.Locality == "" {
		dst.Locality = src.Locality
	}
	if dst.Status == "" {
		dst.Status = src.Status
	}
	if dst.RegistrationDate == "" {
		dst.RegistrationDate = src.RegistrationDate
	}
	if len(dst.SICCodes) == 0 {
		dst.SICCodes = src.SICCodes
	}
	if dst.Address.Postcode == "" {
		dst.Address = src.Address
	}
	if src.MatchScore > dst.MatchScore {
		dst.MatchScore = src.MatchScore
	}
	if signalWeight(src.Signals) > signalWeight(dst.Signals) {
		dst.Signals = src.Signals
	}
}

// signalWeight is a crude richness measure used to pick which side's signals
// survive a merge.
func signalWeight(s model.Signals) int {
	n := s.ForeignOfficerAddress + s.ForeignOfficerResidence + s.ForeignOfficerNationality + s.ForeignCorporateOwner
	if s.HasCorporateOwner {
		n++
	}
	if s.HasForeignOwner {
		n++
	}
	return n
}

// Finalize sorts fresh leads by score, caps them, and backfills from history
// when the fresh yield is below the configured floor. Backfilled leads are
// tagged in their rationale and the final list is re-sorted and re-capped.
func (a *Assembler) Finalize(ctx context.Context, fresh []*model.Lead, history History, now time.Time) ([]*model.Lead, error) {
	score.SortLeads(fresh)

	maxOut := a.cfg.MaxOutputLeads
	if maxOut <= 0 {
		maxOut = 25
	}
	if len(fresh) > maxOut {
		fresh = fresh[:maxOut]
	}

	if len(fresh) >= a.cfg.MinFreshLeads {
		return fresh, nil
	}

	since := now.AddDate(0, 0, -a.cfg.LookbackDays)
	stored, err := history.RecentLeads(ctx, since, maxOut*2)
	if err != nil {
		return nil, eris.Wrap(err, "assemble: backfill query")
	}

	present := make(map[string]bool, len(fresh))
	for _, lead := range fresh {
		present[EntityKey(lead)] = true
	}

	added := 0
	for _, old := range stored {
		if len(fresh) >= maxOut {
			break
		}
		key := EntityKey(old)
		if present[key] {
			continue
		}
		present[key] = true

		cp := *old
		cp.Backfilled = true
		cp.Score.Rationale = append(append([]string(nil), cp.Score.Rationale...), "Backfilled from history")
		fresh = append(fresh, &cp)
		added++
	}
	if added > 0 {
		zap.L().Info("backfilled leads from history", zap.Int("count", added))
	}

	score.SortLeads(fresh)
	if len(fresh) > maxOut {
		fresh = fresh[:maxOut]
	}
	return fresh, nil
}
