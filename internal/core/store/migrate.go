package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tracked_targets (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		channel TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_targets_platform ON tracked_targets(platform);`,
	`CREATE TABLE IF NOT EXISTS live_status (
		target_id TEXT PRIMARY KEY,
		platform TEXT,
		is_live INTEGER NOT NULL,
		title TEXT,
		viewer_count INTEGER,
		thumbnail_url TEXT,
		started_at INTEGER,
		live_from INTEGER,
		checked_at INTEGER NOT NULL,
		check_id TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS live_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_id TEXT NOT NULL,
		is_live INTEGER NOT NULL,
		title TEXT,
		occurred_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_live_status_history_target ON live_status_history(target_id, occurred_at);`,
	`CREATE TABLE IF NOT EXISTS quota_windows (
		platform TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_length_ms INTEGER NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		soft_cap INTEGER NOT NULL,
		daily_cap INTEGER NOT NULL DEFAULT 0,
		exhausted INTEGER NOT NULL DEFAULT 0,
		high_usage_notified INTEGER NOT NULL DEFAULT 0,
		backoff_until INTEGER,
		last_429_at INTEGER,
		updated_at INTEGER NOT NULL
	);`,
}

// addedColumns were introduced after the first schema and are added in place
// on older databases.
var addedColumns = []struct{ table, column, decl string }{
	{"live_status", "source", "TEXT"},
}

// Migrate creates missing tables and columns. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	for _, c := range addedColumns {
		if err := s.addColumnIfMissing(ctx, c.table, c.column, c.decl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addColumnIfMissing(ctx context.Context, table, column, decl string) error {
	var present int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&present)
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	if present > 0 {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}
