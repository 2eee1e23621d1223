// Package store is the durable state layer: seen keys, run bookkeeping,
// entity records, the enrichment cache, and the recent-leads index used for
// backfill. Two backends implement it, sqlite for single-host runs and
// postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/sells-group/ukleads-cli/internal/model"
)

// Meta keys used for run-level bookkeeping.
const (
	MetaSponsorBaselined = "sponsor_baselined"
	MetaLastRegisterURL  = "last_register_url"
)

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Meta key-value bookkeeping.
	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// Seen keys. A key is the composite of source and normalized identity;
	// marked keys are never surfaced as new again.
	IsSeen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, keys []string) error

	// Entities.
	UpsertEntity(ctx context.Context, e *model.Entity) error
	Entity(ctx context.Context, id string) (*model.Entity, error)

	// Sponsor register rows, tracked with first/last-seen timestamps.
	TouchSponsorRows(ctx context.Context, keys []string, now time.Time) error
	SponsorRowFirstSeen(ctx context.Context, key string) (time.Time, error)

	// Sponsor row to entity mapping, persisted so resolution is stable
	// across runs.
	EntityForSponsorKey(ctx context.Context, key string) (string, error)
	MapSponsorKey(ctx context.Context, key, entityID string) error

	// Enrichment cache. Enrichment returns nil when no cached result
	// exists; freshness is the caller's concern.
	Enrichment(ctx context.Context, entityID string) (*model.EnrichmentResult, error)
	SaveEnrichment(ctx context.Context, entityID string, res *model.EnrichmentResult) error

	// SaveLeads persists the run's leads and marks their seen keys in one
	// transaction, so a crashed run never leaves a key seen without its
	// lead stored.
	SaveLeads(ctx context.Context, leads []*model.Lead, seenKeys []string) error
	RecentLeads(ctx context.Context, since time.Time, limit int) ([]*model.Lead, error)
	LeadsForRun(ctx context.Context, runID string) ([]*model.Lead, error)

	// Runs.
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
