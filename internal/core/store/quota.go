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

// SaveQuotaStates persists the current window of every platform so a
// restart inside the same window does not grant a fresh budget.
func (s *Store) SaveQuotaStates(ctx context.Context, states []core.QuotaState) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quota save: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	now := time.Now().UTC().Unix()
	for _, state := range states {
		platform := strings.TrimSpace(string(state.Platform))
		if platform == "" {
			return errors.New("quota state platform is required")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_windows (
				platform, window_start, window_length_ms, request_count, soft_cap, daily_cap,
				exhausted, high_usage_notified, backoff_until, last_429_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(platform) DO UPDATE SET
				window_start = excluded.window_start,
				window_length_ms = excluded.window_length_ms,
				request_count = excluded.request_count,
				soft_cap = excluded.soft_cap,
				daily_cap = excluded.daily_cap,
				exhausted = excluded.exhausted,
				high_usage_notified = excluded.high_usage_notified,
				backoff_until = excluded.backoff_until,
				last_429_at = excluded.last_429_at,
				updated_at = excluded.updated_at
		`,
			platform,
			state.WindowStart.UTC().Unix(),
			state.WindowLength.Milliseconds(),
			state.RequestCount,
			state.SoftCap,
			boolToInt(state.DailyCap),
			boolToInt(state.Exhausted),
			boolToInt(state.HighUsageNotified),
			nullUnix(state.BackoffUntil),
			nullUnix(state.Last429At),
			now,
		)
		if err != nil {
			return fmt.Errorf("store quota window %s: %w", platform, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quota save: %w", err)
	}
	return nil
}

// LoadQuotaStates returns every persisted quota window.
func (s *Store) LoadQuotaStates(ctx context.Context) ([]core.QuotaState, error) {
	entries, err := s.ListQuotaWindows(ctx, QuotaQuery{All: true})
	if err != nil {
		return nil, err
	}
	states := make([]core.QuotaState, 0, len(entries))
	for _, entry := range entries {
		states = append(states, entry.State)
	}
	return states, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuotaState(row rowScanner) (core.QuotaState, time.Time, error) {
	var (
		platform          string
		windowStart       int64
		windowLengthMS    int64
		requestCount      int
		softCap           int
		dailyCap          int
		exhausted         int
		highUsageNotified int
		backoffUntil      sql.NullInt64
		last429At         sql.NullInt64
		updatedAt         int64
	)
	if err := row.Scan(&platform, &windowStart, &windowLengthMS, &requestCount, &softCap, &dailyCap,
		&exhausted, &highUsageNotified, &backoffUntil, &last429At, &updatedAt); err != nil {
		return core.QuotaState{}, time.Time{}, err
	}

	state := core.QuotaState{
		Platform:          core.Platform(platform),
		WindowStart:       time.Unix(windowStart, 0).UTC(),
		WindowLength:      time.Duration(windowLengthMS) * time.Millisecond,
		RequestCount:      requestCount,
		SoftCap:           softCap,
		DailyCap:          dailyCap != 0,
		Exhausted:         exhausted != 0,
		HighUsageNotified: highUsageNotified != 0,
		BackoffUntil:      timeFromNull(backoffUntil),
		Last429At:         timeFromNull(last429At),
	}
	return state, time.Unix(updatedAt, 0).UTC(), nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nullUnix(value *time.Time) sql.NullInt64 {
	if value == nil || value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UTC().Unix(), Valid: true}
}

func timeFromNull(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.Unix(value.Int64, 0).UTC()
	return &t
}
