package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/spotbridge/internal/access"
	"github.com/desertthunder/spotbridge/internal/canvas"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/repositories"
	"github.com/desertthunder/spotbridge/internal/server"
	"github.com/desertthunder/spotbridge/internal/services"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/desertthunder/spotbridge/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const updateBuffer = 64

// Serve wires the sync engine, access controller, session registry and HTTP server, then runs until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.config
	if mode := cmd.String("mode"); mode != "" {
		config.Access.Mode = mode
	}
	addr := config.Server.Addr()
	if a := cmd.String("addr"); a != "" {
		addr = a
	}

	if r.spotify == nil {
		return fmt.Errorf("%w: Spotify credentials missing, run 'spotbridge spotify auth' first", shared.ErrServiceUnavailable)
	}

	mode, err := models.ParseControlMode(config.Access.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}

	var recorder access.Recorder
	if !cmd.Bool("no-audit") && config.Database.Path != "" {
		db, err := r.openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		recorder = repositories.NewControlEventRepository(db)
	}

	controller := access.NewController(mode, access.Options{
		Recorder: recorder,
		Logger:   shared.WithLogger(r.logger, "component", "access"),
	})

	registry := server.NewRegistry(controller, server.RegistryOptions{
		SendBuffer:      config.Sessions.SendBuffer,
		MaxSendFailures: config.Sessions.MaxSendFailures,
		WriteTimeout:    config.Sessions.WriteTimeout,
		PingPeriod:      server.DefaultPingPeriod,
		Logger:          shared.WithLogger(r.logger, "component", "registry"),
	})
	controller.OnLeaseChange(registry.PublishLease)

	art, err := canvas.New(services.NewCanvasClient(config.Canvas.APIURL, r.httpClient), canvas.Options{
		Size:   config.Canvas.CacheSize,
		TTL:    config.Canvas.TTL,
		Logger: shared.WithLogger(r.logger, "component", "canvas"),
	})
	if err != nil {
		return fmt.Errorf("failed to create canvas cache: %w", err)
	}

	updates := make(chan tasks.Update, updateBuffer)
	engine := tasks.NewEngine(r.spotify, controller, art, registry, tasks.Options{
		PollInterval:    config.Sync.PollInterval,
		DriftTolerance:  config.Sync.DriftTolerance,
		IdlePollLimit:   config.Sync.IdlePollLimit,
		DisconnectAfter: config.Sync.DisconnectAfter,
		MaxBackoff:      config.Sync.MaxBackoff,
		Logger:          shared.WithLogger(r.logger, "component", "engine"),
		Updates:         updates,
	})

	router := server.NewBasicRouter()
	router.Use(server.RecoverMiddleware(r.logger), server.LoggingMiddleware(r.logger))
	router.Handler(server.NewWSHandler(config.Server.Path, engine, controller, registry, shared.WithLogger(r.logger, "component", "ws")))
	router.Handler(server.NewStatusHandler(engine, registry, controller, art.Stats))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("starting spotbridge", "addr", addr, "path", config.Server.Path, "mode", mode, "player", r.spotify.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, addr, router, r.logger) })
	g.Go(func() error {
		r.logUpdates(gctx, updates)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		registry.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	r.logger.Info("spotbridge stopped")
	return nil
}

// logUpdates reports engine lifecycle events until ctx is done.
func (r *Runner) logUpdates(ctx context.Context, updates <-chan tasks.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			switch u.Kind {
			case tasks.Disconnected:
				r.logger.Error(u.Message, "event", u.Kind)
			case tasks.PollFailed, tasks.CommandRejected, tasks.DeviceLost:
				r.logger.Warn(u.Message, "event", u.Kind)
			case tasks.Reconnected:
				r.logger.Info(u.Message, "event", u.Kind)
			default:
				r.logger.Debug(u.Message, "event", u.Kind, "version", u.Version)
			}
		}
	}
}

// openDatabase opens the configured audit database and brings its schema up to date.
func (r *Runner) openDatabase() (*sql.DB, error) {
	path := r.config.Database.Path
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Debug("database ready", "path", path)
	return db, nil
}
