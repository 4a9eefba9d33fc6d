package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout is the per-operation timeout. Prevents indefinite
// hangs on slow or contended storage.
const DefaultQueryTimeout = 5 * time.Second

type sqliteConfig struct {
	queryTimeout time.Duration
}

// Option configures the SQLite store.
type Option func(*sqliteConfig)

// WithQueryTimeout sets the per-operation timeout. Defaults to
// DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *sqliteConfig) { c.queryTimeout = d }
}

// SQLite is the durable store for fingerprints, access metrics and
// recommendations, backed by modernc.org/sqlite (pure Go, no CGO).
type SQLite struct {
	db   *sql.DB
	cfg  sqliteConfig
	once sync.Once
}

const schema = `
CREATE TABLE IF NOT EXISTS query_fingerprints (
	hash TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	execution_count INTEGER NOT NULL DEFAULT 0,
	total_time REAL NOT NULL DEFAULT 0,
	avg_time REAL NOT NULL DEFAULT 0,
	last_executed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_avg_time ON query_fingerprints(avg_time);
CREATE INDEX IF NOT EXISTS idx_fingerprints_execution_count ON query_fingerprints(execution_count);

CREATE TABLE IF NOT EXISTS cache_access_metrics (
	key TEXT PRIMARY KEY,
	hits INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0,
	last_hit_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_hash TEXT NOT NULL UNIQUE,
	query TEXT NOT NULL,
	priority TEXT NOT NULL,
	suggested_ttl INTEGER NOT NULL,
	reason TEXT NOT NULL,
	potential_savings REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	auto_applied INTEGER NOT NULL DEFAULT 0,
	applied_config BLOB,
	applied_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_status ON cache_recommendations(status);
`

// NewSQLite opens (or creates) the store at dbPath. If dbPath is empty or
// ":memory:", an in-memory database is used.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (*SQLite, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	cfg := sqliteConfig{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling WAL mode")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}

	return &SQLite{db: db, cfg: cfg}, nil
}

func (s *SQLite) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

// Close shuts down the store.
func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

// RecordExecution upserts the fingerprint row keyed by hash: absent rows are
// created with count 1, present rows get an atomic increment and a
// recomputed average. The single conditional upsert is what makes concurrent
// writers against the same hash safe — no read-then-write race.
func (s *SQLite) RecordExecution(ctx context.Context, hash, query string, elapsedMs float64) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO query_fingerprints (hash, query, execution_count, total_time, avg_time, last_executed_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			query = excluded.query,
			execution_count = execution_count + 1,
			total_time = total_time + excluded.total_time,
			avg_time = (total_time + excluded.total_time) / (execution_count + 1),
			last_executed_at = excluded.last_executed_at`,
		hash, query, elapsedMs, elapsedMs, time.Now().UnixNano(),
	)
	return errors.Wrap(err, "recording execution")
}

// GetFingerprint returns the fingerprint row for hash, or found=false.
func (s *SQLite) GetFingerprint(ctx context.Context, hash string) (Fingerprint, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(qctx, `
		SELECT hash, query, execution_count, total_time, avg_time, last_executed_at
		FROM query_fingerprints WHERE hash = ?`, hash)
	fp, err := scanFingerprint(row)
	if err == sql.ErrNoRows {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, errors.Wrap(err, "loading fingerprint")
	}
	return fp, true, nil
}

// TopByAvgTime returns up to limit fingerprints with avg_time strictly above
// minAvgMs, slowest first.
func (s *SQLite) TopByAvgTime(ctx context.Context, minAvgMs float64, limit int) ([]Fingerprint, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `
		SELECT hash, query, execution_count, total_time, avg_time, last_executed_at
		FROM query_fingerprints WHERE avg_time > ?
		ORDER BY avg_time DESC LIMIT ?`, minAvgMs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying slow fingerprints")
	}
	return collectFingerprints(rows)
}

// TopByExecutionCount returns up to limit fingerprints with execution_count
// strictly above minCount, most executed first.
func (s *SQLite) TopByExecutionCount(ctx context.Context, minCount int64, limit int) ([]Fingerprint, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `
		SELECT hash, query, execution_count, total_time, avg_time, last_executed_at
		FROM query_fingerprints WHERE execution_count > ?
		ORDER BY execution_count DESC LIMIT ?`, minCount, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying repeated fingerprints")
	}
	return collectFingerprints(rows)
}

// TopQueries returns up to limit fingerprints ordered by execution count
// descending.
func (s *SQLite) TopQueries(ctx context.Context, limit int) ([]Fingerprint, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `
		SELECT hash, query, execution_count, total_time, avg_time, last_executed_at
		FROM query_fingerprints
		ORDER BY execution_count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying top fingerprints")
	}
	return collectFingerprints(rows)
}

// PurgeFingerprintsBefore deletes fingerprints last executed before cutoff.
// Retention is an administrative concern; the aggregation path never deletes.
func (s *SQLite) PurgeFingerprintsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx,
		`DELETE FROM query_fingerprints WHERE last_executed_at IS NOT NULL AND last_executed_at < ?`,
		cutoff.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "purging fingerprints")
	}
	return result.RowsAffected()
}

// RecordAccess upserts the access metric for key, incrementing the hit or
// miss counter. last_hit_at is only advanced on hits.
func (s *SQLite) RecordAccess(ctx context.Context, key string, hit bool) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var err error
	if hit {
		_, err = s.db.ExecContext(qctx, `
			INSERT INTO cache_access_metrics (key, hits, misses, last_hit_at, created_at)
			VALUES (?, 1, 0, ?, ?)
			ON CONFLICT(key) DO UPDATE SET hits = hits + 1, last_hit_at = excluded.last_hit_at`,
			key, now, now)
	} else {
		_, err = s.db.ExecContext(qctx, `
			INSERT INTO cache_access_metrics (key, hits, misses, created_at)
			VALUES (?, 0, 1, ?)
			ON CONFLICT(key) DO UPDATE SET misses = misses + 1`,
			key, now)
	}
	return errors.Wrap(err, "recording cache access")
}

// GetAccessMetric returns the metric row for key, or found=false.
func (s *SQLite) GetAccessMetric(ctx context.Context, key string) (AccessMetric, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var m AccessMetric
	var lastHit sql.NullInt64
	var created int64
	err := s.db.QueryRowContext(qctx,
		`SELECT key, hits, misses, last_hit_at, created_at FROM cache_access_metrics WHERE key = ?`,
		key).Scan(&m.Key, &m.Hits, &m.Misses, &lastHit, &created)
	if err == sql.ErrNoRows {
		return AccessMetric{}, false, nil
	}
	if err != nil {
		return AccessMetric{}, false, errors.Wrap(err, "loading access metric")
	}
	if lastHit.Valid {
		t := time.Unix(0, lastHit.Int64)
		m.LastHitAt = &t
	}
	m.CreatedAt = time.Unix(0, created)
	return m, true, nil
}

// AccessTotals sums hits and misses across metrics created at or after since.
func (s *SQLite) AccessTotals(ctx context.Context, since time.Time) (hits, misses int64, err error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	err = s.db.QueryRowContext(qctx, `
		SELECT COALESCE(SUM(hits), 0), COALESCE(SUM(misses), 0)
		FROM cache_access_metrics WHERE created_at >= ?`,
		since.UnixNano()).Scan(&hits, &misses)
	return hits, misses, errors.Wrap(err, "summing access totals")
}

// UnusedKeys returns keys never hit, or last hit before cutoff.
func (s *SQLite) UnusedKeys(ctx context.Context, cutoff time.Time) ([]string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `
		SELECT key FROM cache_access_metrics
		WHERE last_hit_at IS NULL OR last_hit_at < ?
		ORDER BY key`, cutoff.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "querying unused keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "scanning unused key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAccessMetrics removes the metric rows for the given keys.
func (s *SQLite) DeleteAccessMetrics(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	result, err := s.db.ExecContext(qctx,
		`DELETE FROM cache_access_metrics WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting access metrics")
	}
	return result.RowsAffected()
}

// InsertRecommendation inserts rec as pending unless a recommendation for the
// same query hash already exists (any status). Returns whether a row was
// inserted. The unique constraint on query_hash makes a racing double-insert
// a no-op rather than a duplicate.
func (s *SQLite) InsertRecommendation(ctx context.Context, rec *Recommendation) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx, `
		INSERT OR IGNORE INTO cache_recommendations
			(query_hash, query, priority, suggested_ttl, reason, potential_savings, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.QueryHash, rec.Query, string(rec.Priority), rec.SuggestedTTL,
		rec.Reason, rec.PotentialSavings, string(StatusPending), time.Now().UnixNano())
	if err != nil {
		return false, errors.Wrap(err, "inserting recommendation")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		rec.Status = StatusPending
		if rec.ID == 0 {
			if id, err := result.LastInsertId(); err == nil {
				rec.ID = id
			}
		}
	}
	return affected > 0, nil
}

// UpdateStatus transitions the given ids from one status to another and
// returns the number of rows affected. Rows not currently in the from status
// are silently left untouched — the guard is what keeps terminal states
// terminal.
func (s *SQLite) UpdateStatus(ctx context.Context, ids []int64, from, to Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	args := make([]any, 0, len(ids)+2)
	args = append(args, string(to))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(from))
	result, err := s.db.ExecContext(qctx,
		`UPDATE cache_recommendations SET status = ? WHERE id IN (`+placeholders(len(ids))+`) AND status = ?`,
		args...)
	if err != nil {
		return 0, errors.Wrap(err, "updating recommendation status")
	}
	return result.RowsAffected()
}

// MarkApplied transitions one recommendation to applied, recording the
// strategy payload and timestamp exactly once. The transition only fires if
// the row is currently in the expected status; it returns whether it did.
func (s *SQLite) MarkApplied(ctx context.Context, id int64, from Status, appliedConfig []byte, appliedAt time.Time) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx, `
		UPDATE cache_recommendations
		SET status = ?, auto_applied = 1, applied_config = ?, applied_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusApplied), appliedConfig, appliedAt.UnixNano(), id, string(from))
	if err != nil {
		return false, errors.Wrap(err, "marking recommendation applied")
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Candidates returns recommendations in the given status whose priority is in
// priorities, ordered by potential savings descending, limited to limit.
func (s *SQLite) Candidates(ctx context.Context, priorities []Priority, status Status, limit int) ([]Recommendation, error) {
	if len(priorities) == 0 {
		return nil, nil
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	args := make([]any, 0, len(priorities)+2)
	for _, p := range priorities {
		args = append(args, string(p))
	}
	args = append(args, string(status), limit)
	rows, err := s.db.QueryContext(qctx, `
		SELECT id, query_hash, query, priority, suggested_ttl, reason, potential_savings,
		       status, auto_applied, applied_config, applied_at, created_at
		FROM cache_recommendations
		WHERE priority IN (`+placeholders(len(priorities))+`) AND status = ?
		ORDER BY potential_savings DESC LIMIT ?`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying apply candidates")
	}
	return collectRecommendations(rows)
}

// ListRecommendations returns recommendations in the given status ordered by
// potential savings descending. An empty status lists every row.
func (s *SQLite) ListRecommendations(ctx context.Context, status Status) ([]Recommendation, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	query := `
		SELECT id, query_hash, query, priority, suggested_ttl, reason, potential_savings,
		       status, auto_applied, applied_config, applied_at, created_at
		FROM cache_recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY potential_savings DESC`
	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing recommendations")
	}
	return collectRecommendations(rows)
}

// CountRecommendations returns the number of recommendations in status. An
// empty status counts every row.
func (s *SQLite) CountRecommendations(ctx context.Context, status Status) (int64, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	query := `SELECT COUNT(*) FROM cache_recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var count int64
	err := s.db.QueryRowContext(qctx, query, args...).Scan(&count)
	return count, errors.Wrap(err, "counting recommendations")
}

// GetRecommendation returns the recommendation with the given id.
func (s *SQLite) GetRecommendation(ctx context.Context, id int64) (Recommendation, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `
		SELECT id, query_hash, query, priority, suggested_ttl, reason, potential_savings,
		       status, auto_applied, applied_config, applied_at, created_at
		FROM cache_recommendations WHERE id = ?`, id)
	if err != nil {
		return Recommendation{}, false, errors.Wrap(err, "loading recommendation")
	}
	recs, err := collectRecommendations(rows)
	if err != nil {
		return Recommendation{}, false, err
	}
	if len(recs) == 0 {
		return Recommendation{}, false, nil
	}
	return recs[0], true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFingerprint(row rowScanner) (Fingerprint, error) {
	var fp Fingerprint
	var lastExecuted sql.NullInt64
	if err := row.Scan(&fp.Hash, &fp.Query, &fp.ExecutionCount, &fp.TotalTime, &fp.AvgTime, &lastExecuted); err != nil {
		return Fingerprint{}, err
	}
	if lastExecuted.Valid {
		t := time.Unix(0, lastExecuted.Int64)
		fp.LastExecutedAt = &t
	}
	return fp, nil
}

func collectFingerprints(rows *sql.Rows) ([]Fingerprint, error) {
	defer rows.Close()
	var out []Fingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning fingerprint")
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

func collectRecommendations(rows *sql.Rows) ([]Recommendation, error) {
	defer rows.Close()
	var out []Recommendation
	for rows.Next() {
		var rec Recommendation
		var priority, status string
		var autoApplied int64
		var appliedConfig []byte
		var appliedAt sql.NullInt64
		var created int64
		if err := rows.Scan(&rec.ID, &rec.QueryHash, &rec.Query, &priority, &rec.SuggestedTTL,
			&rec.Reason, &rec.PotentialSavings, &status, &autoApplied, &appliedConfig,
			&appliedAt, &created); err != nil {
			return nil, errors.Wrap(err, "scanning recommendation")
		}
		rec.Priority = Priority(priority)
		rec.Status = Status(status)
		rec.AutoApplied = autoApplied != 0
		rec.AppliedConfig = appliedConfig
		if appliedAt.Valid {
			t := time.Unix(0, appliedAt.Int64)
			rec.AppliedAt = &t
		}
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
