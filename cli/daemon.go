// ABOUTME: Long-running CLI commands
// ABOUTME: Runs the sync daemon with its status API, and the local development backend
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/agencysync/config"
	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/web"
)

const shutdownTimeout = 5 * time.Second

// DaemonCommand keeps the engine probing and syncing and serves the status API until ctx ends.
func DaemonCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	addr := fs.String("addr", app.Settings.StatusAddr, "Status API listen address (empty disables it)")
	token := fs.String("token", "", "Bearer token required by the status API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.Engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	status := app.Engine.Status()
	app.Log.Info().
		Str("backend", app.Settings.BackendURL).
		Bool("online", status.Online).
		Int("pending", status.Pending).
		Strs("collections", status.Config.Collections).
		Msg("sync daemon started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Engine.Run(ctx) })

	if *addr != "" {
		handler := web.NewStatusServer(app.Engine, app.Publisher,
			web.WithStatusToken(*token),
			web.WithStatusLogger(app.Log.With().Str("component", "status-api").Logger()),
		).Handler()
		serve(ctx, g, *addr, handler, app.Log.With().Str("component", "status-api").Logger())
	}

	// Drain what is queued right away rather than waiting a full interval
	if status.Online && status.Pending > 0 {
		app.Engine.Synchronize(ctx)
	}

	err := g.Wait()
	app.Log.Info().Int("pending", app.Engine.PendingCount()).Msg("sync daemon stopped")
	return err
}

// BackendCommand serves the development backend over the local sqlite database.
func BackendCommand(ctx context.Context, settings *config.Settings, args []string) error {
	fs := flag.NewFlagSet("backend", flag.ContinueOnError)
	addr := fs.String("addr", settings.BackendAddr, "Listen address")
	dbPath := fs.String("db", "", "Database path (default: the app database)")
	token := fs.String("token", "", "Bearer token required on /api")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *dbPath
	if path == "" {
		path = config.SQLitePath()
	}
	database, err := db.OpenDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	logger := log.Logger.With().Str("component", "dev-backend").Logger()
	handler := web.NewBackendServer(database,
		web.WithBackendToken(*token),
		web.WithBackendLogger(logger),
	).Handler()

	logger.Info().Str("db", path).Msg("serving development backend")

	g, ctx := errgroup.WithContext(ctx)
	serve(ctx, g, *addr, handler, logger)
	return g.Wait()
}

// serve runs an HTTP server in g and shuts it down when ctx ends.
func serve(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server on %s failed: %w", addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
