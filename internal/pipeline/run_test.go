package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
	"github.com/sells-group/ukleads-cli/internal/store"
	"github.com/sells-group/ukleads-cli/pkg/companieshouse"
	"github.com/sells-group/ukleads-cli/pkg/sponsor"
)

type mockSponsor struct {
	mock.Mock
}

func (m *mockSponsor) LatestRegister(ctx context.Context) ([]sponsor.Row, string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]sponsor.Row), args.String(1), args.Error(2)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) SearchCompanies(ctx context.Context, query string, perPage int) ([]companieshouse.SearchResult, error) {
	args := m.Called(ctx, query, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]companieshouse.SearchResult), args.Error(1)
}

func (m *mockRegistry) CompanyProfile(ctx context.Context, companyNumber string) (*companieshouse.Profile, error) {
	args := m.Called(ctx, companyNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*companieshouse.Profile), args.Error(1)
}

func (m *mockRegistry) Officers(ctx context.Context, companyNumber string) ([]companieshouse.Officer, error) {
	args := m.Called(ctx, companyNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]companieshouse.Officer), args.Error(1)
}

func (m *mockRegistry) PersonsWithSignificantControl(ctx context.Context, companyNumber string) ([]companieshouse.PSC, error) {
	args := m.Called(ctx, companyNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]companieshouse.PSC), args.Error(1)
}

func (m *mockRegistry) AdvancedIncorporated(ctx context.Context, from, to string, pageSize, maxTotal int) ([]companieshouse.Profile, error) {
	args := m.Called(ctx, from, to, pageSize, maxTotal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]companieshouse.Profile), args.Error(1)
}

// fakeEnricher stamps a fixed level on every lead it sees.
type fakeEnricher struct {
	level model.VerificationLevel
	seen  int
}

func (f *fakeEnricher) EnrichAll(ctx context.Context, leads []*model.Lead) error {
	for _, lead := range leads {
		lead.Enrichment = model.EnrichmentResult{Level: f.level, Status: "stub"}
		f.seen++
	}
	return nil
}

func (f *fakeEnricher) SearchCalls() int { return f.seen }

func testConfig() *config.Config {
	return &config.Config{
		Sponsor: config.SponsorConfig{
			RouteAllowlist:   []string{"Skilled Worker", "Global Business Mobility: UK Expansion Worker"},
			MinNameLen:       3,
			MaxNonAlnumRatio: 0.35,
		},
		Match: config.MatchConfig{MinScore: 72, LocalityBonus: 8, ActiveBonus: 3, PageSize: 12},
		Signal: config.SignalConfig{
			DomesticCountries:     []string{"UNITED KINGDOM", "UK", "ENGLAND", "SCOTLAND", "WALES"},
			DomesticNationalities: []string{"BRITISH"},
			PriorityCountries:     []string{"GERMANY", "INDIA", "UNITED STATES"},
			MailboxPhrases:        []string{"PO BOX"},
			SubsidiaryMarkers:     []string{" UK ", "(UK"},
		},
		Score: config.ScoreConfig{
			HotThreshold:    70,
			MediumThreshold: 45,
			RouteWeights: map[string]int{
				"UK Expansion Worker":         25,
				"Senior or Specialist Worker": 18,
				"Skilled Worker":              12,
			},
			MaxRationale: 7,
		},
		Pipeline: config.PipelineConfig{
			LookbackDays:        30,
			MaxOutputLeads:      25,
			MinFreshLeads:       0,
			MaxCompaniesToCheck: 140,
			MaxResultsTotal:     800,
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestRunner(t *testing.T, st store.Store, sp *mockSponsor, reg *mockRegistry) *Runner {
	t.Helper()
	r := NewRunner(testConfig(), st, sp, reg, &fakeEnricher{level: model.VerifyNone})
	r.now = func() time.Time { return time.Date(2026, 8, 23, 6, 0, 0, 0, time.UTC) }
	return r
}

func registerRows() []sponsor.Row {
	return []sponsor.Row{
		{Name: "Old Sponsor Ltd", Town: "London", TypeRating: "Worker (A rating)", Route: "Skilled Worker"},
		{Name: "Other Sponsor Ltd", Town: "Bristol", TypeRating: "Worker (A rating)", Route: "Skilled Worker"},
	}
}

func TestRun_FirstRunBaselinesWithoutLeads(t *testing.T) {
	st := newTestStore(t)
	sp := &mockSponsor{}
	reg := &mockRegistry{}
	sp.On("LatestRegister", mock.Anything).Return(registerRows(), "https://example.org/register-2026-08-23.csv", nil)
	reg.On("AdvancedIncorporated", mock.Anything, "2026-07-24", "2026-08-23", 100, 800).
		Return([]companieshouse.Profile{}, nil)

	r := newTestRunner(t, st, sp, reg)
	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.Equal(t, 0, run.SponsorNew)

	// Every current row is now part of the baseline.
	seen, err := st.IsSeen(context.Background(), registerRows()[0].Key())
	require.NoError(t, err)
	assert.True(t, seen)

	v, err := st.Meta(context.Background(), store.MetaSponsorBaselined)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	url, err := st.Meta(context.Background(), store.MetaLastRegisterURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/register-2026-08-23.csv", url)
}

func TestRun_SecondRunEmitsOnlyNewSponsors(t *testing.T) {
	st := newTestStore(t)
	sp := &mockSponsor{}
	reg := &mockRegistry{}

	// First run baselines the two existing rows.
	sp.On("LatestRegister", mock.Anything).Return(registerRows(), "url-1", nil).Once()
	reg.On("AdvancedIncorporated", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]companieshouse.Profile{}, nil)

	r := newTestRunner(t, st, sp, reg)
	_, _, err := r.Run(context.Background())
	require.NoError(t, err)

	// Second run sees one additional row.
	newRow := sponsor.Row{Name: "Acme Widgets Ltd", Town: "Leeds", TypeRating: "Worker (A rating)", Route: "Skilled Worker"}
	sp.On("LatestRegister", mock.Anything).Return(append(registerRows(), newRow), "url-2", nil)

	reg.On("SearchCompanies", mock.Anything, mock.Anything, 12).Return([]companieshouse.SearchResult{
		{Title: "ACME WIDGETS LTD", CompanyNumber: "12345678", CompanyStatus: "active", AddressSnippet: "1 Mill St, Leeds LS1 4AP"},
	}, nil)
	reg.On("CompanyProfile", mock.Anything, "12345678").Return(&companieshouse.Profile{
		CompanyName:    "ACME WIDGETS LTD",
		CompanyNumber:  "12345678",
		CompanyStatus:  "active",
		DateOfCreation: "2026-08-18",
		SICCodes:       []string{"62020"},
		RegisteredOffice: companieshouse.Address{
			AddressLine1: "1 Mill St", Locality: "Leeds", PostalCode: "LS1 4AP", Country: "England",
		},
	}, nil)
	reg.On("Officers", mock.Anything, "12345678").Return([]companieshouse.Officer{
		{Name: "SCHMIDT, Greta", CountryOfResidence: "Germany", Nationality: "German",
			Address: companieshouse.Address{Country: "Germany"}},
	}, nil)
	reg.On("PersonsWithSignificantControl", mock.Anything, "12345678").Return([]companieshouse.PSC{
		{Kind: "corporate-entity-person-with-significant-control", Name: "ACME HOLDING GMBH",
			Address: companieshouse.Address{Country: "Germany"}},
	}, nil)

	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.SponsorNew)
	require.Len(t, leads, 1)

	lead := leads[0]
	assert.Equal(t, "12345678", lead.RegistryNumber)
	assert.Equal(t, []string{model.SourceSponsorRegister}, lead.Sources)
	assert.Equal(t, "Skilled Worker", lead.Route)
	assert.True(t, lead.Signals.HasCorporateOwner)
	assert.Equal(t, 1, lead.Signals.ForeignCorporateOwner)

	// Route 12 + foreign corporate owner 25 + officer residence 15 +
	// nationality 10 + registered 5 days ago 10 = 72.
	assert.Equal(t, 72, lead.Score.Score)
	assert.Equal(t, model.BucketHot, lead.Score.Bucket)

	// The new row's key is seen only after a successful save.
	seen, err := st.IsSeen(context.Background(), newRow.Key())
	require.NoError(t, err)
	assert.True(t, seen)

	saved, err := st.LeadsForRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, lead.Name, saved[0].Name)

	// Third run with the same register emits nothing new.
	sp.ExpectedCalls = sp.ExpectedCalls[:0]
	sp.On("LatestRegister", mock.Anything).Return(append(registerRows(), newRow), "url-2", nil)
	run3, leads3, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run3.SponsorNew)
	assert.Empty(t, leads3)
}

func TestRun_RegistryStageEmitsUnseenIncorporations(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetMeta(context.Background(), store.MetaSponsorBaselined, "1"))

	sp := &mockSponsor{}
	reg := &mockRegistry{}
	sp.On("LatestRegister", mock.Anything).Return([]sponsor.Row{}, "url", nil)

	profile := companieshouse.Profile{
		CompanyName:    "FRESH TRADING LIMITED",
		CompanyNumber:  "87654321",
		CompanyStatus:  "active",
		DateOfCreation: "2026-08-20",
		SICCodes:       []string{"62020"},
		RegisteredOffice: companieshouse.Address{
			AddressLine1: "5 High St", Locality: "Manchester", PostalCode: "M1 1AA", Country: "England",
		},
	}
	domestic := companieshouse.Profile{
		CompanyName:    "LOCAL BAKERY LIMITED",
		CompanyNumber:  "11111111",
		CompanyStatus:  "active",
		DateOfCreation: "2026-08-20",
		RegisteredOffice: companieshouse.Address{
			AddressLine1: "2 Oven Rd", Locality: "York", Country: "England",
		},
	}
	reg.On("AdvancedIncorporated", mock.Anything, "2026-07-24", "2026-08-23", 100, 800).
		Return([]companieshouse.Profile{profile, domestic}, nil)
	reg.On("Officers", mock.Anything, "87654321").Return([]companieshouse.Officer{
		{Name: "DUBOIS, Marie", CountryOfResidence: "France", Nationality: "British"},
	}, nil)
	reg.On("PersonsWithSignificantControl", mock.Anything, "87654321").Return([]companieshouse.PSC{}, nil)
	reg.On("Officers", mock.Anything, "11111111").Return([]companieshouse.Officer{
		{Name: "SMITH, Jane", CountryOfResidence: "England", Nationality: "British"},
	}, nil)
	reg.On("PersonsWithSignificantControl", mock.Anything, "11111111").Return([]companieshouse.PSC{}, nil)

	r := newTestRunner(t, st, sp, reg)
	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.RegistryCandidates)

	// The fully domestic incorporation is checked but filtered out.
	require.Len(t, leads, 1)

	lead := leads[0]
	assert.Equal(t, []string{model.SourceCompaniesHouse}, lead.Sources)
	assert.Equal(t, "87654321", lead.RegistryNumber)
	// Incorporation base 8 + officer resident abroad 15 + registered 3 days ago 10.
	assert.Equal(t, 33, lead.Score.Score)
	assert.Equal(t, model.BucketWatch, lead.Score.Bucket)

	// Filtered companies stay seen so they are never re-fetched.
	domesticSeen, err := st.IsSeen(context.Background(), "COMPANIES_HOUSE::11111111")
	require.NoError(t, err)
	assert.True(t, domesticSeen)

	// The profile is not re-fetched: advanced search already carried it.
	reg.AssertNotCalled(t, "CompanyProfile", mock.Anything, "87654321")

	// The entity record landed in the store.
	ent, err := st.Entity(context.Background(), "87654321")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, "M1 1AA", ent.Address.Postcode)

	// A second run skips the now-seen company.
	_, leads2, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leads2)
}

func TestRun_RegistryStageHonoursCheckCap(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetMeta(context.Background(), store.MetaSponsorBaselined, "1"))

	sp := &mockSponsor{}
	reg := &mockRegistry{}
	sp.On("LatestRegister", mock.Anything).Return([]sponsor.Row{}, "url", nil)

	overseas := companieshouse.Address{AddressLine1: "1 Quay", Locality: "Dublin", Country: "Ireland"}
	profiles := []companieshouse.Profile{
		{CompanyName: "ONE LTD", CompanyNumber: "00000001", CompanyStatus: "active", DateOfCreation: "2026-08-20", RegisteredOffice: overseas},
		{CompanyName: "TWO LTD", CompanyNumber: "00000002", CompanyStatus: "active", DateOfCreation: "2026-08-20", RegisteredOffice: overseas},
		{CompanyName: "THREE LTD", CompanyNumber: "00000003", CompanyStatus: "active", DateOfCreation: "2026-08-20", RegisteredOffice: overseas},
	}
	reg.On("AdvancedIncorporated", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(profiles, nil)
	reg.On("Officers", mock.Anything, mock.Anything).Return([]companieshouse.Officer{}, nil)
	reg.On("PersonsWithSignificantControl", mock.Anything, mock.Anything).Return([]companieshouse.PSC{}, nil)

	r := newTestRunner(t, st, sp, reg)
	r.cfg.Pipeline.MaxCompaniesToCheck = 2

	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.RegistryCandidates)
	assert.Len(t, leads, 2)

	// The third company stays unseen for the next run.
	seen, err := st.IsSeen(context.Background(), "COMPANIES_HOUSE::00000003")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRun_RouteFilterDropsDisallowedRows(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetMeta(context.Background(), store.MetaSponsorBaselined, "1"))

	sp := &mockSponsor{}
	reg := &mockRegistry{}
	sp.On("LatestRegister", mock.Anything).Return([]sponsor.Row{
		{Name: "Temp Agency Ltd", Town: "London", Route: "Seasonal Worker", TypeRating: "Worker (A rating)"},
		{Name: "A", Town: "Leeds", Route: "Skilled Worker", TypeRating: "Worker (A rating)"},
		{Name: "@@@@!!!", Town: "Leeds", Route: "Skilled Worker", TypeRating: "Worker (A rating)"},
	}, "url", nil)
	reg.On("AdvancedIncorporated", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]companieshouse.Profile{}, nil)

	r := newTestRunner(t, st, sp, reg)
	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.Equal(t, 0, run.SponsorNew)
	reg.AssertNotCalled(t, "SearchCompanies", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_VerifiedEnrichmentLiftsScore(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetMeta(context.Background(), store.MetaSponsorBaselined, "1"))

	sp := &mockSponsor{}
	reg := &mockRegistry{}
	sp.On("LatestRegister", mock.Anything).Return([]sponsor.Row{}, "url", nil)
	reg.On("AdvancedIncorporated", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]companieshouse.Profile{
			{CompanyName: "FRESH TRADING LIMITED", CompanyNumber: "87654321", CompanyStatus: "active", DateOfCreation: "2026-08-20",
				RegisteredOffice: companieshouse.Address{AddressLine1: "9 Rue Haute", Locality: "Paris", Country: "France"}},
		}, nil)
	reg.On("Officers", mock.Anything, mock.Anything).Return([]companieshouse.Officer{}, nil)
	reg.On("PersonsWithSignificantControl", mock.Anything, mock.Anything).Return([]companieshouse.PSC{}, nil)

	enricher := &fakeEnricher{level: model.VerifyVerified}
	r := NewRunner(testConfig(), st, sp, reg, enricher)
	r.now = func() time.Time { return time.Date(2026, 8, 23, 6, 0, 0, 0, time.UTC) }

	run, leads, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, leads, 1)

	// Base 18 plus verified-site 10.
	assert.Equal(t, 28, leads[0].Score.Score)
	assert.Equal(t, 1, run.VerifiedSites)
	assert.Equal(t, 1, run.SearchCalls)
	assert.Contains(t, leads[0].Score.Rationale, "Verified official website (+10)")
}
