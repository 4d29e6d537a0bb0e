// ABOUTME: Composition root shared by every CLI subcommand
// ABOUTME: Opens settings, storage, sync history, and wires the engine and snapshot service
package cli

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/charm"
	"github.com/harperreed/agencysync/config"
	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/export"
	offline "github.com/harperreed/agencysync/sync"
	"github.com/harperreed/agencysync/storage"
)

// Version is stamped into export metadata and the MCP implementation.
var Version = "dev"

// App holds everything a subcommand needs.
type App struct {
	Settings  *config.Settings
	Store     *storage.OfflineStore
	History   *sql.DB
	API       *backend.Client
	Publisher *events.MemoryPublisher
	Engine    *offline.Engine
	Snapshots *export.Service
	Log       zerolog.Logger
	Out       io.Writer

	ownsHistory bool
}

// AppOptions tunes how the engine is assembled.
type AppOptions struct {
	// AutoSync lets the engine start passes on its own (daemon, tui, mcp).
	AutoSync bool
}

// SetupLogging installs the console logger on stderr.
func SetupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}).With().Timestamp().Logger()
}

// OpenStore opens the KV backend named by settings.
func OpenStore(settings *config.Settings) (*storage.OfflineStore, error) {
	switch settings.Storage {
	case config.StorageBadger:
		kv, err := storage.OpenBadger(config.BadgerDir())
		if err != nil {
			return nil, err
		}
		return storage.NewOfflineStore(kv), nil
	case config.StorageSQLite:
		database, err := db.OpenDatabase(config.SQLitePath())
		if err != nil {
			return nil, err
		}
		return storage.NewOfflineStore(storage.NewSQLiteKV(database)), nil
	case config.StorageCharm:
		cfg, err := charm.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load charm config: %w", err)
		}
		client, err := charm.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewOfflineStore(client), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", settings.Storage)
	}
}

// OpenApp opens storage and history and assembles the engine.
func OpenApp(settings *config.Settings, opts AppOptions) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(config.SQLitePath()), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := OpenStore(settings)
	if err != nil {
		return nil, err
	}

	// The sqlite backend already holds the history database
	var history *sql.DB
	ownsHistory := false
	if kv, ok := store.KV().(*storage.SQLiteKV); ok {
		history = kv.DB()
	} else {
		history, err = db.OpenDatabase(config.SQLitePath())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to open sync history: %w", err)
		}
		ownsHistory = true
	}

	app := NewApp(settings, store, history, opts)
	app.ownsHistory = ownsHistory
	if err := app.Engine.Load(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// NewApp wires an App around already opened storage.
func NewApp(settings *config.Settings, store *storage.OfflineStore, history *sql.DB, opts AppOptions) *App {
	logger := log.Logger
	api := backend.NewClient(settings.BackendURL,
		backend.WithToken(settings.Token),
		backend.WithTimeout(settings.Timeout()),
	)
	pub := events.NewMemoryPublisher()

	engineOpts := []offline.Option{
		offline.WithPublisher(pub),
		offline.WithLogger(logger.With().Str("component", "offline-sync").Logger()),
		offline.WithAutoSync(opts.AutoSync),
	}
	if history != nil {
		engineOpts = append(engineOpts, offline.WithHistory(db.SyncHistory{DB: history}))
	}
	engine := offline.NewEngine(store, api, engineOpts...)

	snapshots := export.NewService(api, engine, engine,
		export.WithLogger(logger.With().Str("component", "export").Logger()),
		export.WithAppVersion(Version),
	)

	return &App{
		Settings:  settings,
		Store:     store,
		History:   history,
		API:       api,
		Publisher: pub,
		Engine:    engine,
		Snapshots: snapshots,
		Log:       logger,
		Out:       os.Stdout,
	}
}

// Close stops the engine and releases storage.
func (a *App) Close() {
	a.Engine.Close()
	a.Publisher.Close()
	if err := a.Store.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("failed to close store")
	}
	if a.ownsHistory {
		_ = a.History.Close()
	}
}

// ExportedBy identifies this device in snapshot metadata.
func (a *App) ExportedBy() string {
	id, err := a.Settings.EnsureDeviceID()
	if err != nil {
		a.Log.Warn().Err(err).Msg("failed to persist device id")
	}
	return id
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.Out, format, args...)
}

func (a *App) println(args ...any) {
	_, _ = fmt.Fprintln(a.Out, args...)
}
