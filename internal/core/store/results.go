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

// Save records the latest live status of a target and appends a history
// row when the target goes live or offline. It makes the store the
// engine's result sink.
func (s *Store) Save(ctx context.Context, targetID string, status *core.LiveStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return errors.New("target id is required")
	}
	if status == nil {
		return errors.New("live status is required")
	}

	checkedAt := status.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status save: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	var (
		prevLive     int
		prevLiveFrom sql.NullInt64
		hasPrevious  = true
	)
	err = tx.QueryRowContext(ctx, `
		SELECT is_live, live_from FROM live_status WHERE target_id = ?
	`, targetID).Scan(&prevLive, &prevLiveFrom)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fetch previous status: %w", err)
		}
		hasPrevious = false
	}

	var liveFrom sql.NullInt64
	if status.IsLive {
		switch {
		case hasPrevious && prevLive != 0 && prevLiveFrom.Valid:
			liveFrom = prevLiveFrom
		case status.StartedAt != nil:
			liveFrom = sql.NullInt64{Int64: status.StartedAt.UTC().Unix(), Valid: true}
		default:
			liveFrom = sql.NullInt64{Int64: checkedAt.UTC().Unix(), Valid: true}
		}
	}

	var viewers sql.NullInt64
	if status.ViewerCount != nil {
		viewers = sql.NullInt64{Int64: int64(*status.ViewerCount), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO live_status (
			target_id, platform, is_live, title, viewer_count, thumbnail_url,
			started_at, live_from, checked_at, check_id, source
		)
		VALUES (?, (SELECT platform FROM tracked_targets WHERE id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			platform = COALESCE(excluded.platform, live_status.platform),
			is_live = excluded.is_live,
			title = excluded.title,
			viewer_count = excluded.viewer_count,
			thumbnail_url = excluded.thumbnail_url,
			started_at = excluded.started_at,
			live_from = excluded.live_from,
			checked_at = excluded.checked_at,
			check_id = excluded.check_id,
			source = excluded.source
	`,
		targetID, targetID,
		boolToInt(status.IsLive),
		status.Title,
		viewers,
		status.ThumbnailURL,
		nullUnix(status.StartedAt),
		liveFrom,
		checkedAt.UTC().Unix(),
		status.CheckID,
		status.Source,
	)
	if err != nil {
		return fmt.Errorf("store status: %w", err)
	}

	// A first offline observation is not a transition.
	changed := (!hasPrevious && status.IsLive) || (hasPrevious && (prevLive != 0) != status.IsLive)
	if changed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO live_status_history (target_id, is_live, title, occurred_at)
			VALUES (?, ?, ?, ?)
		`, targetID, boolToInt(status.IsLive), status.Title, checkedAt.UTC().Unix())
		if err != nil {
			return fmt.Errorf("store transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status save: %w", err)
	}
	return nil
}

// GetStatus returns the latest status of a target, or nil if it has never
// been checked successfully.
func (s *Store) GetStatus(ctx context.Context, targetID string) (*core.StoredStatus, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, statusSelect+` WHERE target_id = ?`, strings.TrimSpace(targetID))
	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	return &status, nil
}

// ListStatuses returns the latest status of every checked target. With
// liveOnly set, offline targets are left out.
func (s *Store) ListStatuses(ctx context.Context, liveOnly bool) ([]core.StoredStatus, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := statusSelect
	if liveOnly {
		query += ` WHERE is_live = 1`
	}
	query += ` ORDER BY target_id`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	statuses := []core.StoredStatus{}
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statuses: %w", err)
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return statuses, nil
}

// ListTransitions returns the most recent live/offline changes of a
// target, newest first.
func (s *Store) ListTransitions(ctx context.Context, targetID string, limit int) ([]core.Transition, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT target_id, is_live, title, occurred_at
		FROM live_status_history
		WHERE target_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, strings.TrimSpace(targetID), limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	transitions := []core.Transition{}
	for rows.Next() {
		var (
			id         string
			isLive     int
			title      sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&id, &isLive, &title, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transitions: %w", err)
		}
		transitions = append(transitions, core.Transition{
			TargetID:   id,
			IsLive:     isLive != 0,
			Title:      title.String,
			OccurredAt: time.Unix(occurredAt, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return transitions, nil
}

const statusSelect = `
	SELECT target_id, platform, is_live, title, viewer_count, thumbnail_url,
		started_at, live_from, checked_at, check_id, source
	FROM live_status`

func scanStatus(row rowScanner) (core.StoredStatus, error) {
	var (
		targetID  string
		platform  sql.NullString
		isLive    int
		title     sql.NullString
		viewers   sql.NullInt64
		thumbnail sql.NullString
		startedAt sql.NullInt64
		liveFrom  sql.NullInt64
		checkedAt int64
		checkID   sql.NullString
		source    sql.NullString
	)
	if err := row.Scan(&targetID, &platform, &isLive, &title, &viewers, &thumbnail,
		&startedAt, &liveFrom, &checkedAt, &checkID, &source); err != nil {
		return core.StoredStatus{}, err
	}

	status := core.LiveStatus{
		IsLive:       isLive != 0,
		Title:        title.String,
		ThumbnailURL: thumbnail.String,
		StartedAt:    timeFromNull(startedAt),
		CheckedAt:    time.Unix(checkedAt, 0).UTC(),
		CheckID:      checkID.String,
		Source:       source.String,
	}
	if viewers.Valid {
		count := int(viewers.Int64)
		status.ViewerCount = &count
	}

	return core.StoredStatus{
		TargetID: targetID,
		Platform: core.Platform(platform.String),
		Status:   status,
		LiveFrom: timeFromNull(liveFrom),
	}, nil
}
