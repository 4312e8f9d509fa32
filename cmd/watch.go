package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/desertthunder/spotbridge/internal/ui"
	"github.com/urfave/cli/v3"
)

// Watch connects to a running server and renders its state in the terminal.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	if url == "" {
		url = "ws://" + r.config.Server.Addr() + r.config.Server.Path
	}
	identity := cmd.String("identity")

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	remote, err := ui.Dial(ctx, url, identity)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer remote.Close()

	r.logger.Info("connected", "url", url, "identity", identity)

	p := tea.NewProgram(ui.NewModel(remote, identity), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
