package model

import "time"

// Source identifiers used in lead provenance.
const (
	SourceSponsorRegister = "SPONSOR_REGISTER"
	SourceCompaniesHouse  = "COMPANIES_HOUSE"
)

// RegisteredAddress is a company's registered office address.
type RegisteredAddress struct {
	Line     string `json:"line,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Locality string `json:"locality,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Entity is the canonical organization resolved across sources. The ID is
// the registry number when one is known, otherwise a derived name+locality
// key. Once assigned a registry number wins over a derived key.
type Entity struct {
	ID               string            `json:"id"`
	RegistryNumber   string            `json:"registry_number,omitempty"`
	Name             string            `json:"name"`
	Status           string            `json:"status,omitempty"`
	RegistrationDate string            `json:"registration_date,omitempty"` // ISO date, may be empty
	SICCodes         []string          `json:"sic_codes,omitempty"`
	Address          RegisteredAddress `json:"address"`
	LastSeenUTC      time.Time         `json:"last_seen_utc"`
}

// SourceRecord is one upstream source's raw row before resolution.
type SourceRecord struct {
	Source   string `json:"source"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Locality string `json:"locality,omitempty"`
	County   string `json:"county,omitempty"`
	Route    string `json:"route,omitempty"`
	SubRoute string `json:"sub_route,omitempty"`
}

// Officer is a company officer as returned by the registry.
type Officer struct {
	AddressCountry   string `json:"address_country,omitempty"`
	ResidenceCountry string `json:"residence_country,omitempty"`
	Nationality      string `json:"nationality,omitempty"`
}

// BeneficialOwner is a person or entity with significant control.
type BeneficialOwner struct {
	Kind           string `json:"kind,omitempty"`
	Name           string `json:"name,omitempty"`
	AddressCountry string `json:"address_country,omitempty"`
}

// Signals are the typed facts extracted from an entity's registry data.
// They are recomputed from fresh registry data on every scoring pass.
type Signals struct {
	ForeignOfficerAddress     int      `json:"foreign_officer_address,omitempty"`
	ForeignOfficerResidence   int      `json:"foreign_officer_residence,omitempty"`
	ForeignOfficerNationality int      `json:"foreign_officer_nationality,omitempty"`
	ForeignCorporateOwner     int      `json:"foreign_corporate_owner,omitempty"`
	HasCorporateOwner         bool     `json:"has_corporate_owner,omitempty"`
	HasForeignOwner           bool     `json:"has_foreign_owner,omitempty"`
	OwnerCountries            []string `json:"owner_countries,omitempty"`
	ResidenceCountries        []string `json:"residence_countries,omitempty"`
	Nationalities             []string `json:"nationalities,omitempty"`
	PriorityCountrySeen       bool     `json:"priority_country_seen,omitempty"`
	SubsidiaryName            bool     `json:"subsidiary_name,omitempty"`
	MailboxAddress            int      `json:"mailbox_address,omitempty"`
}
