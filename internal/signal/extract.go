// Package signal derives typed foreign-ownership facts from registry data.
// Extraction is pure and conservative: missing countries or nationalities
// never produce a signal.
package signal

import (
	"sort"
	"strings"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/normalize"
)

// corporateOwnerKinds are the control-record kinds that indicate the owner
// is an organisation rather than an individual.
var corporateOwnerKinds = []string{
	"corporate-entity",
	"legal-person",
	"corporate",
	"other-registrable-person",
}

// Extractor computes Signals for one entity.
type Extractor struct {
	cfg config.SignalConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg config.SignalConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract derives signals from an entity's name, address, officers and
// beneficial owners.
func (e *Extractor) Extract(name string, addr model.RegisteredAddress, officers []model.Officer, owners []model.BeneficialOwner) model.Signals {
	var sig model.Signals

	residenceSet := map[string]bool{}
	nationalitySet := map[string]bool{}
	ownerSet := map[string]bool{}

	for _, o := range officers {
		if c := normalize.CleanUpper(o.AddressCountry); c != "" && !normalize.IsDomestic(c, e.cfg.DomesticCountries) {
			sig.ForeignOfficerAddress++
		}
		if c := normalize.CleanUpper(o.ResidenceCountry); c != "" && !normalize.IsDomestic(c, e.cfg.DomesticCountries) {
			sig.ForeignOfficerResidence++
			residenceSet[c] = true
			if e.isPriority(c) {
				sig.PriorityCountrySeen = true
			}
		}
		if n := normalize.CleanUpper(o.Nationality); n != "" && !e.isDomesticNationality(n) {
			sig.ForeignOfficerNationality++
			nationalitySet[n] = true
		}
	}

	for _, owner := range owners {
		corporate := isCorporateKind(owner.Kind)
		if corporate {
			sig.HasCorporateOwner = true
		}
		c := normalize.CleanUpper(owner.AddressCountry)
		if c == "" || normalize.IsDomestic(c, e.cfg.DomesticCountries) {
			continue
		}
		sig.HasForeignOwner = true
		ownerSet[c] = true
		if e.isPriority(c) {
			sig.PriorityCountrySeen = true
		}
		if corporate {
			sig.ForeignCorporateOwner++
		}
	}

	sig.ResidenceCountries = sortedKeys(residenceSet)
	sig.Nationalities = sortedKeys(nationalitySet)
	sig.OwnerCountries = sortedKeys(ownerSet)

	sig.SubsidiaryName = e.looksLikeSubsidiary(name)
	sig.MailboxAddress = e.mailboxHits(addr)

	return sig
}

func (e *Extractor) isPriority(country string) bool {
	for _, p := range e.cfg.PriorityCountries {
		if country == strings.ToUpper(p) {
			return true
		}
	}
	return false
}

func (e *Extractor) isDomesticNationality(nationality string) bool {
	for _, d := range e.cfg.DomesticNationalities {
		if nationality == strings.ToUpper(d) {
			return true
		}
	}
	return false
}

func isCorporateKind(kind string) bool {
	k := strings.ToLower(strings.TrimSpace(kind))
	for _, c := range corporateOwnerKinds {
		if strings.Contains(k, c) {
			return true
		}
	}
	return false
}

// looksLikeSubsidiary checks the padded upper-cased name for markers that
// typically denote a local arm of an overseas parent.
func (e *Extractor) looksLikeSubsidiary(name string) bool {
	padded := " " + normalize.CleanUpper(name) + " "
	for _, m := range e.cfg.SubsidiaryMarkers {
		if strings.Contains(padded, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

// mailboxHits counts mailbox/virtual-office phrases in the registered
// address. More than one hit means the address is almost certainly not an
// operating site.
func (e *Extractor) mailboxHits(addr model.RegisteredAddress) int {
	full := normalize.CleanUpper(addr.Line + " " + addr.Locality + " " + addr.Postcode)
	if full == "" {
		return 0
	}
	hits := 0
	for _, p := range e.cfg.MailboxPhrases {
		if strings.Contains(full, strings.ToUpper(p)) {
			hits++
		}
	}
	return hits
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
