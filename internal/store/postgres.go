package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ukleads-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_keys (
	key       TEXT PRIMARY KEY,
	marked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
	id        TEXT PRIMARY KEY,
	data      JSONB NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sponsor_rows (
	key        TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sponsor_entity_map (
	sponsor_key TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment (
	entity_id  TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	score      INTEGER NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	data        JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads(run_id);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get meta %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set meta %s", key)
}

func (s *PostgresStore) IsSeen(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM seen_keys WHERE key = $1`, key).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is seen %s", key)
	}
	return true, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin mark seen")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := pgMarkSeenTx(ctx, tx, keys); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark seen")
}

func pgMarkSeenTx(ctx context.Context, tx pgx.Tx, keys []string) error {
	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := tx.Exec(ctx,
			`INSERT INTO seen_keys (key, marked_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: mark seen %s", key)
		}
	}
	return nil
}

func (s *PostgresStore) TouchSponsorRows(ctx context.Context, keys []string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin touch sponsor rows")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, key := range keys {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sponsor_rows (key, first_seen, last_seen) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
			key, now.UTC(), now.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: touch sponsor row %s", key)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit touch sponsor rows")
}

func (s *PostgresStore) SponsorRowFirstSeen(ctx context.Context, key string) (time.Time, error) {
	var first time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT first_seen FROM sponsor_rows WHERE key = $1`, key).Scan(&first)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "postgres: sponsor row first seen %s", key)
	}
	return first, nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal entity")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, data, last_seen) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, last_seen = EXCLUDED.last_seen`,
		e.ID, data, e.LastSeenUTC.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert entity %s", e.ID)
}

func (s *PostgresStore) Entity(ctx context.Context, id string) (*model.Entity, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM entities WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}

	var e model.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal entity %s", id)
	}
	return &e, nil
}

func (s *PostgresStore) EntityForSponsorKey(ctx context.Context, key string) (string, error) {
	var entityID string
	err := s.pool.QueryRow(ctx,
		`SELECT entity_id FROM sponsor_entity_map WHERE sponsor_key = $1`, key).Scan(&entityID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: sponsor map lookup %s", key)
	}
	return entityID, nil
}

func (s *PostgresStore) MapSponsorKey(ctx context.Context, key, entityID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sponsor_entity_map (sponsor_key, entity_id) VALUES ($1, $2)
		 ON CONFLICT (sponsor_key) DO UPDATE SET entity_id = EXCLUDED.entity_id`,
		key, entityID,
	)
	return eris.Wrapf(err, "postgres: map sponsor key %s", key)
}

func (s *PostgresStore) Enrichment(ctx context.Context, entityID string) (*model.EnrichmentResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM enrichment WHERE entity_id = $1`, entityID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get enrichment %s", entityID)
	}

	var res model.EnrichmentResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal enrichment %s", entityID)
	}
	return &res, nil
}

func (s *PostgresStore) SaveEnrichment(ctx context.Context, entityID string, res *model.EnrichmentResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment (entity_id, data, checked_at) VALUES ($1, $2, $3)
		 ON CONFLICT (entity_id) DO UPDATE SET data = EXCLUDED.data, checked_at = EXCLUDED.checked_at`,
		entityID, data, res.CheckedUTC.UTC(),
	)
	return eris.Wrapf(err, "postgres: save enrichment %s", entityID)
}

func (s *PostgresStore) SaveLeads(ctx context.Context, leads []*model.Lead, seenKeys []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save leads")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, lead := range leads {
		data, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %s", lead.ID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO leads (id, run_id, entity_id, score, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, score = EXCLUDED.score`,
			lead.ID, lead.RunID, lead.EntityID, lead.Score.Score, data, lead.CreatedUTC.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
		}
	}

	if err := pgMarkSeenTx(ctx, tx, seenKeys); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save leads")
}

func (s *PostgresStore) RecentLeads(ctx context.Context, since time.Time, limit int) ([]*model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM leads WHERE created_at >= $1 ORDER BY score DESC, created_at DESC LIMIT $2`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent leads")
	}
	defer rows.Close()
	return pgScanLeads(rows)
}

func (s *PostgresStore) LeadsForRun(ctx context.Context, runID string) ([]*model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM leads WHERE run_id = $1 ORDER BY score DESC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: leads for run %s", runID)
	}
	defer rows.Close()
	return pgScanLeads(rows)
}

func pgScanLeads(rows pgx.Rows) ([]*model.Lead, error) {
	var leads []*model.Lead
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		var lead model.Lead
		if err := json.Unmarshal(data, &lead); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead")
		}
		leads = append(leads, &lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at, data) VALUES ($1, $2, $3)`,
		run.ID, run.StartedUTC.UTC(), data,
	)
	return eris.Wrapf(err, "postgres: create run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1, data = $2 WHERE id = $3`,
		run.FinishedUTC.UTC(), data, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var run model.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
