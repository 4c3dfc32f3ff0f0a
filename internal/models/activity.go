// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Activity outcomes
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

var ErrActivityNotFound = errors.New("activity not found")

// Activity is one user command sent to the backend
type Activity struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	TorrentID   string    `json:"torrentId,omitempty"`
	TorrentName string    `json:"torrentName,omitempty"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActivityFilter narrows List results
type ActivityFilter struct {
	TorrentID string
	Action    string
	Limit     int
}

type ActivityStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{
		db:  db,
		now: time.Now,
	}
}

// Record stores an activity. CreatedAt defaults to now.
func (s *ActivityStore) Record(ctx context.Context, a *Activity) error {
	if a.Action == "" {
		return errors.New("activity action is required")
	}
	if a.Outcome == "" {
		a.Outcome = OutcomeOK
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	query := `
		INSERT INTO activity (action, torrent_id, torrent_name, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		a.Action,
		a.TorrentID,
		a.TorrentName,
		a.Outcome,
		a.Message,
		a.CreatedAt.UnixMilli(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	return nil
}

func (s *ActivityStore) Get(ctx context.Context, id int64) (*Activity, error) {
	query := `
		SELECT id, action, torrent_id, torrent_name, outcome, message, created_at
		FROM activity
		WHERE id = ?
	`

	a, err := scanActivity(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}

	return a, nil
}

// List returns the most recent activity first
func (s *ActivityStore) List(ctx context.Context, filter ActivityFilter) ([]*Activity, error) {
	query := `
		SELECT id, action, torrent_id, torrent_name, outcome, message, created_at
		FROM activity
		WHERE 1 = 1
	`
	var args []any

	if filter.TorrentID != "" {
		query += " AND torrent_id = ?"
		args = append(args, filter.TorrentID)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

// Prune deletes activity older than the cutoff and returns how many rows went
func (s *ActivityStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM activity WHERE created_at < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (*Activity, error) {
	a := &Activity{}
	var createdAt int64
	err := row.Scan(
		&a.ID,
		&a.Action,
		&a.TorrentID,
		&a.TorrentName,
		&a.Outcome,
		&a.Message,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	return a, nil
}
