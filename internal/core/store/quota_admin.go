package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// QuotaWindowEntry is one persisted quota window with its last write time.
type QuotaWindowEntry struct {
	State     core.QuotaState
	UpdatedAt time.Time
}

// QuotaQuery selects quota windows for the `quota` commands. Either All or
// Platform must be set so a bare reset never wipes every window.
type QuotaQuery struct {
	All      bool
	Platform string
}

func (q QuotaQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Platform) != "" {
		return nil
	}
	return errors.New("must specify --all or --platform")
}

// filter returns the WHERE fragment and its argument for q.
func (q QuotaQuery) filter() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	platform, err := core.ParsePlatform(q.Platform)
	if err != nil {
		return "", nil, err
	}
	return " WHERE platform = ?", []any{string(platform)}, nil
}

const quotaColumns = `platform, window_start, window_length_ms, request_count, soft_cap, daily_cap,
	exhausted, high_usage_notified, backoff_until, last_429_at, updated_at`

func (s *Store) ListQuotaWindows(ctx context.Context, q QuotaQuery) ([]QuotaWindowEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	where, args, err := q.filter()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, "SELECT "+quotaColumns+" FROM quota_windows"+where+" ORDER BY platform", args...)
	if err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // read-only cursor

	entries := []QuotaWindowEntry{}
	for rows.Next() {
		state, updatedAt, err := scanQuotaState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quota window: %w", err)
		}
		entries = append(entries, QuotaWindowEntry{State: state, UpdatedAt: updatedAt})
	}
	return entries, rows.Err()
}

func (s *Store) CountQuotaWindows(ctx context.Context, q QuotaQuery) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	where, args, err := q.filter()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM quota_windows"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count quota windows: %w", err)
	}
	return count, nil
}

// ResetQuotaWindows deletes persisted windows. A running server keeps its
// in-memory counters until restart.
func (s *Store) ResetQuotaWindows(ctx context.Context, q QuotaQuery) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	where, args, err := q.filter()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, "DELETE FROM quota_windows"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}
	return result.RowsAffected()
}
