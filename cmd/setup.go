package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the embedded example config to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", r.configPath)
	r.writePlain("✓ Config written to %s\n", r.configPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set credentials.spotify.client_id and client_secret\n")
	r.writePlain("2. Run 'spotbridge spotify auth' to authorize this machine\n")
	return nil
}

// SetupDatabase initializes the audit database and runs migrations.
//
// A missing config file is created from the template first.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if err := r.ensureConfig(); err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}

// SetupRollback reverts the most recently applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	r.logger.Info("rolled back latest migration", "path", r.config.Database.Path)
	return nil
}

func (r *Runner) ensureConfig() error {
	if r.configPath == "" {
		return nil
	}
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		r.logger.Debug("config file not created", "path", r.configPath, "reason", err)
		return nil
	}

	r.logger.Info("config file created from template", "path", r.configPath)
	config, err := shared.LoadConfig(r.configPath)
	if err != nil {
		return err
	}
	r.config = config
	return nil
}
