package assemble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ukleads-cli/internal/config"
	"github.com/sells-group/ukleads-cli/internal/model"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) RecentLeads(ctx context.Context, since time.Time, limit int) ([]*model.Lead, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Lead), args.Error(1)
}

func pipelineCfg() config.PipelineConfig {
	return config.PipelineConfig{
		LookbackDays:   30,
		MaxOutputLeads: 25,
		MinFreshLeads:  5,
	}
}

func TestEntityKey(t *testing.T) {
	withNumber := &model.Lead{RegistryNumber: "12345678", Name: "Acme Widgets Ltd"}
	assert.Equal(t, "12345678", EntityKey(withNumber))

	noNumber := &model.Lead{Name: "Acme Widgets Ltd", Locality: "Leeds"}
	assert.Equal(t, "NAME::ACME WIDGETS::LEEDS", EntityKey(noNumber))

	// Legal suffix and case differences collapse to the same key.
	variant := &model.Lead{Name: "ACME WIDGETS LIMITED", Locality: "leeds"}
	assert.Equal(t, EntityKey(noNumber), EntityKey(variant))
}

func TestMerge_CombinesSameEntity(t *testing.T) {
	a := New(pipelineCfg())

	fromSponsor := &model.Lead{
		Name:     "Acme Widgets Ltd",
		Sources:  []string{model.SourceSponsorRegister},
		Route:    "Skilled Worker",
		Locality: "Leeds",
	}
	fromRegistry := &model.Lead{
		Name:             "ACME WIDGETS LIMITED",
		RegistryNumber:   "12345678",
		Sources:          []string{model.SourceCompaniesHouse},
		Status:           "active",
		RegistrationDate: "2026-08-01",
		Locality:         "Leeds",
		Address:          model.RegisteredAddress{Postcode: "LS1 4AP", Locality: "Leeds"},
		Signals:          model.Signals{HasCorporateOwner: true, ForeignCorporateOwner: 1},
	}

	merged := a.Merge([]*model.Lead{fromSponsor, fromRegistry})
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, "12345678", got.RegistryNumber)
	assert.Equal(t, "12345678", got.EntityID)
	assert.Equal(t, "COMPANIES_HOUSE+SPONSOR_REGISTER", got.SourceLabel())
	assert.Equal(t, "Skilled Worker", got.Route)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, "LS1 4AP", got.Address.Postcode)
	assert.True(t, got.Signals.HasCorporateOwner)
	// Longer name wins.
	assert.Equal(t, "ACME WIDGETS LIMITED", got.Name)
}

func TestMerge_DistinctEntitiesStayApart(t *testing.T) {
	a := New(pipelineCfg())

	merged := a.Merge([]*model.Lead{
		{Name: "Acme Widgets Ltd", Locality: "Leeds", Sources: []string{model.SourceSponsorRegister}},
		{Name: "Acme Widgets Ltd", Locality: "Bristol", Sources: []string{model.SourceSponsorRegister}},
		{Name: "Other Trading Ltd", RegistryNumber: "99999999", Sources: []string{model.SourceCompaniesHouse}},
	})
	require.Len(t, merged, 3)
	assert.Equal(t, "NAME::ACME WIDGETS::LEEDS", merged[0].EntityID)
	assert.Equal(t, "NAME::ACME WIDGETS::BRISTOL", merged[1].EntityID)
	assert.Equal(t, "99999999", merged[2].EntityID)
}

func TestMerge_KeepsHigherMatchScore(t *testing.T) {
	a := New(pipelineCfg())

	merged := a.Merge([]*model.Lead{
		{RegistryNumber: "12345678", Name: "Acme Widgets Ltd", MatchScore: 85},
		{RegistryNumber: "12345678", Name: "Acme Widgets Ltd", MatchScore: 92},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 92, merged[0].MatchScore)
}

func TestFinalize_SortsAndCaps(t *testing.T) {
	cfg := pipelineCfg()
	cfg.MaxOutputLeads = 2
	cfg.MinFreshLeads = 0
	a := New(cfg)

	fresh := []*model.Lead{
		{RegistryNumber: "1", Name: "Low", Score: model.ScoreResult{Score: 30}},
		{RegistryNumber: "2", Name: "High", Score: model.ScoreResult{Score: 80}},
		{RegistryNumber: "3", Name: "Mid", Score: model.ScoreResult{Score: 55}},
	}

	history := &mockHistory{}
	out, err := a.Finalize(context.Background(), fresh, history, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "High", out[0].Name)
	assert.Equal(t, "Mid", out[1].Name)
	history.AssertNotCalled(t, "RecentLeads", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalize_BackfillsWhenShort(t *testing.T) {
	cfg := pipelineCfg()
	cfg.MinFreshLeads = 3
	a := New(cfg)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	fresh := []*model.Lead{
		{RegistryNumber: "1", Name: "Fresh", Score: model.ScoreResult{Score: 40, Rationale: []string{"Skilled Worker licence (+25)"}}},
	}
	stored := []*model.Lead{
		// Same entity as the fresh lead, must be skipped.
		{RegistryNumber: "1", Name: "Fresh", Score: model.ScoreResult{Score: 60}},
		{RegistryNumber: "7", Name: "Old High", Score: model.ScoreResult{Score: 75, Rationale: []string{"Foreign corporate owner (+25)"}}},
		{RegistryNumber: "8", Name: "Old Low", Score: model.ScoreResult{Score: 20}},
	}

	history := &mockHistory{}
	history.On("RecentLeads", mock.Anything, now.AddDate(0, 0, -30), 50).Return(stored, nil)

	out, err := a.Finalize(context.Background(), fresh, history, now)
	require.NoError(t, err)
	require.Len(t, out, 3)

	// Re-sorted after backfill: the stored high scorer leads.
	assert.Equal(t, "Old High", out[0].Name)
	assert.True(t, out[0].Backfilled)
	assert.Contains(t, out[0].Score.Rationale, "Backfilled from history")
	assert.Contains(t, out[0].Score.Rationale, "Foreign corporate owner (+25)")

	assert.Equal(t, "Fresh", out[1].Name)
	assert.False(t, out[1].Backfilled)

	assert.Equal(t, "Old Low", out[2].Name)
	assert.True(t, out[2].Backfilled)

	history.AssertExpectations(t)
}

func TestFinalize_BackfillDoesNotMutateStored(t *testing.T) {
	cfg := pipelineCfg()
	cfg.MinFreshLeads = 1
	a := New(cfg)
	now := time.Now().UTC()

	stored := []*model.Lead{
		{RegistryNumber: "7", Name: "Old", Score: model.ScoreResult{Score: 75, Rationale: []string{"original"}}},
	}
	history := &mockHistory{}
	history.On("RecentLeads", mock.Anything, mock.Anything, mock.Anything).Return(stored, nil)

	out, err := a.Finalize(context.Background(), nil, history, now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Backfilled)

	// The stored copy stays untouched.
	assert.False(t, stored[0].Backfilled)
	assert.Equal(t, []string{"original"}, stored[0].Score.Rationale)
}

func TestFinalize_BackfillError(t *testing.T) {
	cfg := pipelineCfg()
	cfg.MinFreshLeads = 1
	a := New(cfg)

	history := &mockHistory{}
	history.On("RecentLeads", mock.Anything, mock.Anything, mock.Anything).Return(nil, assertErr("db offline"))

	_, err := a.Finalize(context.Background(), nil, history, time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
