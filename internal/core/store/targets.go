package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// TargetRecord is a tracked channel as stored in tracked_targets.
type TargetRecord struct {
	Entry     core.DirectoryEntry
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertTarget inserts or updates a tracked channel and enables it.
// It reports whether the row was newly created.
func (s *Store) UpsertTarget(ctx context.Context, entry core.DirectoryEntry, now time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return false, errors.New("target id is required")
	}
	platform, err := core.ParsePlatform(string(entry.Platform))
	if err != nil {
		return false, err
	}
	if !entry.Priority.Valid() {
		return false, fmt.Errorf("invalid priority %d", entry.Priority)
	}

	existing, err := s.GetTarget(ctx, id)
	if err != nil {
		return false, err
	}

	ts := now.UTC().Unix()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tracked_targets (id, platform, channel, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform = excluded.platform,
			channel = excluded.channel,
			priority = excluded.priority,
			enabled = 1,
			updated_at = excluded.updated_at
	`, id, string(platform), entry.ChannelOrID(), entry.Priority.String(), ts, ts)
	if err != nil {
		return false, fmt.Errorf("store target: %w", err)
	}

	return existing == nil, nil
}

// SetTargetEnabled toggles whether a tracked channel is polled.
func (s *Store) SetTargetEnabled(ctx context.Context, id string, enabled bool, now time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE tracked_targets SET enabled = ?, updated_at = ? WHERE id = ?
	`, boolToInt(enabled), now.UTC().Unix(), strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("update target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update target: %w", err)
	}
	return affected > 0, nil
}

// DeleteTarget removes a tracked channel along with its status and history.
func (s *Store) DeleteTarget(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	id = strings.TrimSpace(id)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete target: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, `DELETE FROM tracked_targets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM live_status WHERE target_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete target status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM live_status_history WHERE target_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete target history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete target: %w", err)
	}
	return affected > 0, nil
}

// GetTarget returns a tracked channel, or nil when it does not exist.
func (s *Store) GetTarget(ctx context.Context, id string) (*TargetRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, platform, channel, priority, enabled, created_at, updated_at
		FROM tracked_targets
		WHERE id = ?
	`, strings.TrimSpace(id))

	record, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch target: %w", err)
	}
	return &record, nil
}

// ListTargets returns tracked channels ordered by id. An empty platform
// lists all of them.
func (s *Store) ListTargets(ctx context.Context, platform string) ([]TargetRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, platform, channel, priority, enabled, created_at, updated_at
		FROM tracked_targets
	`
	var args []any
	if strings.TrimSpace(platform) != "" {
		p, err := core.ParsePlatform(platform)
		if err != nil {
			return nil, err
		}
		query += " WHERE platform = ?"
		args = append(args, string(p))
	}
	query += " ORDER BY id"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []TargetRecord{}
	for rows.Next() {
		record, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan targets: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return records, nil
}

// ListActive returns every enabled tracked channel. It makes the store a
// target directory for the engine.
func (s *Store) ListActive(ctx context.Context) ([]core.DirectoryEntry, error) {
	records, err := s.ListTargets(ctx, "")
	if err != nil {
		return nil, err
	}
	entries := make([]core.DirectoryEntry, 0, len(records))
	for _, record := range records {
		if record.Enabled {
			entries = append(entries, record.Entry)
		}
	}
	return entries, nil
}

func scanTarget(row rowScanner) (TargetRecord, error) {
	var (
		id        string
		platform  string
		channel   string
		priority  string
		enabled   int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&id, &platform, &channel, &priority, &enabled, &createdAt, &updatedAt); err != nil {
		return TargetRecord{}, err
	}
	parsed, err := core.ParsePriority(priority)
	if err != nil {
		return TargetRecord{}, err
	}
	return TargetRecord{
		Entry: core.DirectoryEntry{
			ID:       id,
			Platform: core.Platform(platform),
			Channel:  channel,
			Priority: parsed,
		},
		Enabled:   enabled != 0,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}, nil
}
