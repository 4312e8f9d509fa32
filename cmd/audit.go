package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spotbridge/internal/formatter"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/repositories"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuditList prints recorded control events, newest first.
func (r *Runner) AuditList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	filter := repositories.EventFilter{
		Identity: cmd.String("identity"),
		Action:   cmd.String("action"),
		Limit:    cmd.Int("limit"),
	}
	if since := cmd.Duration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := repositories.NewControlEventRepository(db).List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list control events: %w", err)
	}

	values := make([]models.ControlEvent, 0, len(events))
	for _, ev := range events {
		values = append(values, *ev)
	}

	data, err := formatter.Events(format, values)
	if err != nil {
		return err
	}
	return r.writeOutput(cmd.String("output"), data)
}

// AuditPrune deletes control events older than --older-than.
func (r *Runner) AuditPrune(ctx context.Context, cmd *cli.Command) error {
	age := cmd.Duration("older-than")
	if age <= 0 {
		return fmt.Errorf("%w: --older-than must be positive", shared.ErrInvalidArgument)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().Add(-age)
	n, err := repositories.NewControlEventRepository(db).Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune control events: %w", err)
	}

	r.logger.Debug("pruned control events", "cutoff", cutoff, "deleted", n)
	return r.writePlain("✓ Deleted %d control events older than %s\n", n, age)
}
