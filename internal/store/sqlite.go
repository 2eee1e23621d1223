package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ukleads-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_keys (
	key       TEXT PRIMARY KEY,
	marked_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entities (
	id        TEXT PRIMARY KEY,
	data      TEXT NOT NULL,
	last_seen DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sponsor_rows (
	key        TEXT PRIMARY KEY,
	first_seen DATETIME NOT NULL,
	last_seen  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sponsor_entity_map (
	sponsor_key TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment (
	entity_id  TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	score      INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	data        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads(run_id);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get meta %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set meta %s", key)
}

func (s *SQLiteStore) IsSeen(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_keys WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is seen %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark seen")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := markSeenTx(ctx, tx, keys); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mark seen")
}

func markSeenTx(ctx context.Context, tx *sql.Tx, keys []string) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO seen_keys (key, marked_at) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare mark seen")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key, now); err != nil {
			return eris.Wrapf(err, "sqlite: mark seen %s", key)
		}
	}
	return nil
}

func (s *SQLiteStore) TouchSponsorRows(ctx context.Context, keys []string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin touch sponsor rows")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sponsor_rows (key, first_seen, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_seen = excluded.last_seen`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare touch sponsor rows")
	}
	defer stmt.Close() //nolint:errcheck

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key, now.UTC(), now.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: touch sponsor row %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit touch sponsor rows")
}

func (s *SQLiteStore) SponsorRowFirstSeen(ctx context.Context, key string) (time.Time, error) {
	var first time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen FROM sponsor_rows WHERE key = ?`, key).Scan(&first)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: sponsor row first seen %s", key)
	}
	return first, nil
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entity")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, data, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, last_seen = excluded.last_seen`,
		e.ID, string(data), e.LastSeenUTC.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
}

func (s *SQLiteStore) Entity(ctx context.Context, id string) (*model.Entity, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM entities WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}

	var e model.Entity
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal entity %s", id)
	}
	return &e, nil
}

func (s *SQLiteStore) EntityForSponsorKey(ctx context.Context, key string) (string, error) {
	var entityID string
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_id FROM sponsor_entity_map WHERE sponsor_key = ?`, key).Scan(&entityID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: sponsor map lookup %s", key)
	}
	return entityID, nil
}

func (s *SQLiteStore) MapSponsorKey(ctx context.Context, key, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sponsor_entity_map (sponsor_key, entity_id) VALUES (?, ?)
		 ON CONFLICT(sponsor_key) DO UPDATE SET entity_id = excluded.entity_id`,
		key, entityID,
	)
	return eris.Wrapf(err, "sqlite: map sponsor key %s", key)
}

func (s *SQLiteStore) Enrichment(ctx context.Context, entityID string) (*model.EnrichmentResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM enrichment WHERE entity_id = ?`, entityID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get enrichment %s", entityID)
	}

	var res model.EnrichmentResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal enrichment %s", entityID)
	}
	return &res, nil
}

func (s *SQLiteStore) SaveEnrichment(ctx context.Context, entityID string, res *model.EnrichmentResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment (entity_id, data, checked_at) VALUES (?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET data = excluded.data, checked_at = excluded.checked_at`,
		entityID, string(data), res.CheckedUTC.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save enrichment %s", entityID)
}

func (s *SQLiteStore) SaveLeads(ctx context.Context, leads []*model.Lead, seenKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save leads")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, lead := range leads {
		data, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %s", lead.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, run_id, entity_id, score, data, created_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data, score = excluded.score`,
			lead.ID, lead.RunID, lead.EntityID, lead.Score.Score, string(data), lead.CreatedUTC.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
		}
	}

	if err := markSeenTx(ctx, tx, seenKeys); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save leads")
}

func (s *SQLiteStore) RecentLeads(ctx context.Context, since time.Time, limit int) ([]*model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM leads WHERE created_at >= ? ORDER BY score DESC, created_at DESC LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent leads")
	}
	defer rows.Close() //nolint:errcheck
	return scanLeads(rows)
}

func (s *SQLiteStore) LeadsForRun(ctx context.Context, runID string) ([]*model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM leads WHERE run_id = ? ORDER BY score DESC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: leads for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck
	return scanLeads(rows)
}

func scanLeads(rows *sql.Rows) ([]*model.Lead, error) {
	var leads []*model.Lead
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		var lead model.Lead
		if err := json.Unmarshal([]byte(data), &lead); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead")
		}
		leads = append(leads, &lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, data) VALUES (?, ?, ?)`,
		run.ID, run.StartedUTC.UTC(), string(data),
	)
	return eris.Wrapf(err, "sqlite: create run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, data = ? WHERE id = ?`,
		run.FinishedUTC.UTC(), string(data), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var run model.Run
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}
