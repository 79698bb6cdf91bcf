package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/tronos/internal/session"
	"github.com/starford/tronos/internal/snapshot"
	"github.com/starford/tronos/internal/storage"
	"github.com/starford/tronos/internal/timewarp"
	"github.com/starford/tronos/internal/update"
	"github.com/starford/tronos/internal/vfs"
)

// Option is a functional option for configuring the application.
type Option func(*App)

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *App) { a.Config = cfg }
}

// WithBackend injects a pre-built backend (used by tests in place of
// the configured one).
func WithBackend(b storage.Backend) Option {
	return func(a *App) { a.Backend = b }
}

// App wires the backend, managers and engine together for the CLI.
type App struct {
	Config    *Config
	Backend   storage.Backend
	Sessions  *session.Manager
	Snapshots *snapshot.Manager
	Timewarp  *timewarp.Service
	Engine    *update.Engine
	Logger    *slog.Logger
}

// NewApp builds the application from options, opening the configured
// backend unless one was injected.
func NewApp(opts ...Option) (*App, error) {
	app := &App{}
	for _, opt := range opts {
		opt(app)
	}
	if app.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.Config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	app.Logger = logger

	if app.Backend == nil {
		switch cfg.Storage.Backend {
		case BackendMemory:
			app.Backend = storage.NewMemory()
		case BackendSQLite:
			b, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("init storage: %w", err)
			}
			app.Backend = b
		default:
			return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
		}
	}

	app.Sessions = session.NewManager(app.Backend, logger)
	app.Snapshots = snapshot.NewManager(app.Backend, cfg.Snapshots.AutoLimit, logger)
	app.Timewarp = timewarp.NewService(app.Backend)
	app.Engine = update.NewEngine(app.Backend, app.Snapshots, app.Timewarp,
		cfg.Update.StrictSnapshot, logger)

	logger.Info("configuration loaded",
		slog.String("backend", cfg.Storage.Backend),
		slog.Int("snapshot_auto_limit", cfg.Snapshots.AutoLimit),
		slog.String("log_level", cfg.App.LogLevel.String()))
	return app, nil
}

// Close releases the backend.
func (a *App) Close() error {
	return a.Backend.Close()
}

// ResolveSession returns the session with the given id, or, for an
// empty id, the most recently accessed session — creating a first
// "main" session seeded from the default system image when none
// exist.
func (a *App) ResolveSession(id string) (*session.Session, error) {
	if id != "" {
		return a.Sessions.Get(id)
	}
	sessions, err := a.Sessions.List()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return a.Sessions.Create("main", update.Target())
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastAccess.After(latest.LastAccess) {
			latest = s
		}
	}
	return latest, nil
}

// OpenFS opens the live filesystem for a session and records the
// access.
func (a *App) OpenFS(sess *session.Session) (*vfs.FS, error) {
	fs, err := vfs.New(sess.FSNamespace, a.Backend, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := a.Sessions.Touch(sess); err != nil {
		a.Logger.Warn("session touch failed", slog.String("error", err.Error()))
	}
	return fs, nil
}
