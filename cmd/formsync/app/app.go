// Package app provides the application context and dependency management
// for the formsync CLI. It centralizes configuration, logging, and the
// lazily opened schema and store.
package app

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/formsync/internal/schema"
	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/store/memory"
	"github.com/agentstation/formsync/pkg/store/sqlite"
)

// App represents the formsync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger
	out    io.Writer

	// Lazily initialized, guarded by mu
	mu     sync.Mutex
	schema *schema.Schema
	store  entity.Store
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Schema returns the configured schema, loading it on first use.
func (a *App) Schema() (*schema.Schema, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.schema != nil {
		return a.schema, nil
	}
	if a.config.SchemaPath == "" {
		return nil, errors.NewConfigError("app", "no schema configured (use --schema or FORMSYNC_SCHEMA)", nil)
	}

	s, err := schema.Load(a.config.SchemaPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().
		Str("schema", a.config.SchemaPath).
		Strs("forms", s.Registry.Names()).
		Msg("Loaded schema")

	a.schema = s
	return s, nil
}

// Store returns the configured store, opening it on first use. Without a
// database path the store lives in memory for the duration of the command.
func (a *App) Store(ctx context.Context) (entity.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}

	if a.config.DatabasePath == "" {
		a.logger.Warn().Msg("No database configured, changes are kept in memory")
		s, err := memory.New()
		if err != nil {
			return nil, err
		}
		a.store = s
		return s, nil
	}

	s, err := sqlite.Open(ctx, a.config.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("database", s.Path()).Msg("Opened database")

	a.store = s
	return s, nil
}

// Shutdown releases the store.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	closer, ok := a.store.(io.Closer)
	if !ok {
		return nil
	}
	a.store = nil
	return closer.Close()
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithOutput sets where command output is written (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *App) error {
		a.out = w
		return nil
	}
}

// WithSchema sets a preloaded schema.
func WithSchema(s *schema.Schema) Option {
	return func(a *App) error {
		a.schema = s
		return nil
	}
}

// WithStore sets a custom store (useful for testing).
func WithStore(s entity.Store) Option {
	return func(a *App) error {
		a.store = s
		return nil
	}
}
