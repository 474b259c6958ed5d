// Package history is an advisory, best-effort record of applied pinned
// bindings, backed by an embedded-migrations sqlite database (spec §6
// "get_history_stats"/"clear_history"; out of scope per spec.md §1's
// "history-record statistics" line item for the UI, but the core-owned
// advisory store the UI consumes is in scope).
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Store is a sqlite-backed record of every apply_endpoint/
// apply_all_endpoints call, used only for advisory reporting — never
// consulted for correctness decisions elsewhere in the module.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pool

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordApply appends one applied-binding record.
func (s *Store) RecordApply(ctx context.Context, domain, ip string, latencyMs float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applies (domain, ip, latency_ms, applied_at_ns) VALUES (?, ?, ?, ?)`,
		domain, ip, latencyMs, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record apply: %w", err)
	}
	return nil
}

// Stats summarizes applies within the last `since` duration.
func (s *Store) Stats(ctx context.Context, since time.Duration) (Stats, error) {
	cutoff := time.Now().Add(-since).UnixNano()

	var stats Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT domain), COALESCE(AVG(latency_ms), 0)
		 FROM applies WHERE applied_at_ns >= ?`,
		cutoff,
	)
	if err := row.Scan(&stats.TotalApplies, &stats.UniqueDomains, &stats.AvgLatencyMs); err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	return stats, nil
}

// Clear wipes the entire history store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM applies`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Stats is the summary returned by Store.Stats; internal/facade passes it
// through as-is, without touching this package's sql internals.
type Stats struct {
	TotalApplies  int     `json:"total_applies"`
	UniqueDomains int     `json:"unique_domains"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}
