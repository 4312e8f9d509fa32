// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// serveCommand runs the sync loop and websocket server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server", "run"},
		Usage:   "Poll Spotify and fan playback state out to websocket clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.host and server.port)",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Control mode: public, shared or exclusive (overrides access.mode)",
			},
			&cli.BoolFlag{
				Name:  "no-audit",
				Usage: "Do not persist control events to the database",
			},
		},
		Action: r.Serve,
	}
}

// spotifyCommand handles Spotify operations
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify account operations",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyAuth,
			},
			{
				Name:  "playlists",
				Usage: "List Spotify playlists",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of playlists to return (0 for all)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, markdown, csv or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
				},
				Action: r.SpotifyPlaylists,
			},
			{
				Name:  "now",
				Usage: "Show what the active device is playing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, markdown or json",
						Value:   "text",
					},
				},
				Action: r.SpotifyNow,
			},
		},
	}
}

// setupCommand handles setup operations for configuration and the audit database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the audit database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// auditCommand reads and trims the persisted control event log.
func auditCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect control events recorded by the server",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded control events, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "identity",
						Usage: "Only events by this identity",
					},
					&cli.StringFlag{
						Name:  "action",
						Usage: "Only events with this action (grant, request, release, disconnect, command)",
					},
					&cli.DurationFlag{
						Name:  "since",
						Usage: "Only events newer than this duration ago",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of events to return",
						Value: 50,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, markdown, csv or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
				},
				Action: r.AuditList,
			},
			{
				Name:  "prune",
				Usage: "Delete control events older than a duration",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age cutoff",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: r.AuditPrune,
			},
		},
	}
}

// watchCommand returns the terminal monitor command.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"tui", "ui"},
		Usage:   "Connect to a running server and show playback in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server websocket URL (default: built from the server config)",
			},
			&cli.StringFlag{
				Name:    "identity",
				Aliases: []string{"i"},
				Usage:   "Identity to connect as",
				Sources: cli.EnvVars("SPOTBRIDGE_IDENTITY", "USER"),
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the monitor owns the terminal",
				Value: "./tmp/spotbridge-watch.log",
			},
		},
		Action: r.Watch,
	}
}
