package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"newsflow/internal/ledger"
	"newsflow/internal/ports"
)

// SQLiteStore persists the fingerprint/result cache and the cost ledger in
// a single SQLite database. The connection pool is capped at one so every
// logical operation completes before another begins.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ports.CacheStore = (*SQLiteStore)(nil)
	_ ledger.Store     = (*SQLiteStore)(nil)
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_days (
	day        TEXT PRIMARY KEY,
	usd_cost   REAL NOT NULL DEFAULT 0,
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	calls      INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the payload for key if present and within its TTL. An entry
// past its TTL is reported as absent, never as a stale hit.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := sq.Select("payload").
		From("cache_entries").
		Where(sq.Eq{"key": key}).
		Where(sq.Expr("created_at + ttl_seconds > ?", time.Now().Unix())).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("storage: build get: %w", err)
	}

	var payload string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return payload, true, nil
}

// Put upserts a cache entry with the given TTL, resetting its creation time.
func (s *SQLiteStore) Put(ctx context.Context, key, payload string, ttl time.Duration) error {
	query, args, err := sq.Insert("cache_entries").
		Options("OR REPLACE").
		Columns("key", "payload", "created_at", "ttl_seconds").
		Values(key, payload, time.Now().Unix(), int64(ttl.Seconds())).
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build put: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: put %q: %w", key, err)
	}
	return nil
}

// RecentPayloads returns unexpired payloads for keys under prefix, newest
// first, capped at limit.
func (s *SQLiteStore) RecentPayloads(ctx context.Context, prefix string, limit int) ([]string, error) {
	query, args, err := sq.Select("payload").
		From("cache_entries").
		Where(sq.Like{"key": prefix + "%"}).
		Where(sq.Expr("created_at + ttl_seconds > ?", time.Now().Unix())).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build recent payloads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: recent payloads: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate payloads: %w", err)
	}
	return payloads, nil
}

// PurgeExpired deletes entries past their TTL and reports how many went.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	query, args, err := sq.Delete("cache_entries").
		Where(sq.Expr("created_at + ttl_seconds <= ?", time.Now().Unix())).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build purge: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: purge expired: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// AddSpend accumulates one completed call into the day's ledger row.
func (s *SQLiteStore) AddSpend(ctx context.Context, day string, costUSD float64, tokensIn, tokensOut int) error {
	query, args, err := sq.Insert("ledger_days").
		Columns("day", "usd_cost", "tokens_in", "tokens_out", "calls").
		Values(day, costUSD, tokensIn, tokensOut, 1).
		Suffix(`ON CONFLICT(day) DO UPDATE SET
			usd_cost = usd_cost + excluded.usd_cost,
			tokens_in = tokens_in + excluded.tokens_in,
			tokens_out = tokens_out + excluded.tokens_out,
			calls = calls + excluded.calls`).
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build add spend: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: add spend for %s: %w", day, err)
	}
	return nil
}

// LoadDaysSince returns ledger rows for days at or after since (YYYY-MM-DD).
func (s *SQLiteStore) LoadDaysSince(ctx context.Context, since string) ([]ledger.DayTotals, error) {
	query, args, err := sq.Select("day", "usd_cost", "tokens_in", "tokens_out", "calls").
		From("ledger_days").
		Where(sq.GtOrEq{"day": since}).
		OrderBy("day").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build load days: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: load days: %w", err)
	}
	defer rows.Close()

	var days []ledger.DayTotals
	for rows.Next() {
		var d ledger.DayTotals
		if err := rows.Scan(&d.Day, &d.CostUSD, &d.TokensIn, &d.TokensOut, &d.Calls); err != nil {
			return nil, fmt.Errorf("storage: scan ledger day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate ledger days: %w", err)
	}
	return days, nil
}

// PurgeDaysBefore removes ledger rows older than cutoff (YYYY-MM-DD).
func (s *SQLiteStore) PurgeDaysBefore(ctx context.Context, cutoff string) error {
	query, args, err := sq.Delete("ledger_days").
		Where(sq.Lt{"day": cutoff}).
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build purge days: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: purge days before %s: %w", cutoff, err)
	}
	return nil
}
