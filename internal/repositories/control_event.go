package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

// ErrEventNotFound is returned by [ControlEventRepository.Get] for an unknown id.
var ErrEventNotFound = errors.New("control event not found")

// EventFilter narrows [ControlEventRepository.List]. Zero fields match everything.
type EventFilter struct {
	Identity string
	Action   string
	Since    time.Time
	Limit    int
}

// ControlEventRepository stores [models.ControlEvent] records.
//
// It satisfies access.Recorder.
type ControlEventRepository struct {
	db *sql.DB
}

// NewControlEventRepository creates a new ControlEventRepository with the given database connection
func NewControlEventRepository(db *sql.DB) *ControlEventRepository {
	return &ControlEventRepository{db: db}
}

// Record inserts ev, assigning its sequence (and ID when empty) in the same transaction.
func (r *ControlEventRepository) Record(ctx context.Context, ev *models.ControlEvent) error {
	if ev.Identity == "" || ev.Action == "" {
		return fmt.Errorf("%w: event needs identity and action", shared.ErrInvalidInput)
	}
	if ev.ID == "" {
		ev.ID = shared.GenerateID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequence, err := NextSequence(ctx, tx, "control_events")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `
		INSERT INTO control_events (id, sequence, identity, action, mode, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		ev.ID,
		sequence,
		ev.Identity,
		ev.Action,
		string(ev.Mode),
		ev.Detail,
		ev.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert control event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit control event: %w", err)
	}

	ev.Sequence = sequence
	return nil
}

// Get retrieves an event by ID.
func (r *ControlEventRepository) Get(ctx context.Context, id string) (*models.ControlEvent, error) {
	query := `
		SELECT id, sequence, identity, action, mode, detail, created_at
		FROM control_events
		WHERE id = ?
	`

	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return ev, err
}

// List returns events matching f, newest first.
func (r *ControlEventRepository) List(ctx context.Context, f EventFilter) ([]*models.ControlEvent, error) {
	query := `
		SELECT id, sequence, identity, action, mode, detail, created_at
		FROM control_events
		WHERE 1 = 1
	`
	args := []any{}

	if f.Identity != "" {
		query += " AND identity = ?"
		args = append(args, f.Identity)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC())
	}

	query += " ORDER BY sequence DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query control events: %w", err)
	}
	defer rows.Close()

	var events []*models.ControlEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

// Prune deletes events created before cutoff and returns how many were removed.
func (r *ControlEventRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM control_events WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune control events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*models.ControlEvent, error) {
	var (
		ev   models.ControlEvent
		mode string
	)

	if err := s.Scan(&ev.ID, &ev.Sequence, &ev.Identity, &ev.Action, &mode, &ev.Detail, &ev.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan control event: %w", err)
	}

	ev.Mode = models.ControlMode(mode)
	return &ev, nil
}
