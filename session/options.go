package session

import (
	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
)

// Opener opens the store behind a session.
type Opener func(path string, mode db.Mode) (db.Store, error)

// Config holds the settings shared by both session kinds.
type Config struct {
	// Opener replaces db.Open, e.g. to serve a db.MockStore in tests.
	Opener Opener

	// DBOptions are passed to db.Open by the default opener.
	DBOptions []db.Option

	// Logger is the structured logger. Falls back to logger.Default() if nil.
	Logger logger.Logger
}

// Option is a functional option for configuring a session.
type Option func(*Config)

// DefaultConfig returns a Config that opens databases from disk.
func DefaultConfig() *Config {
	return &Config{}
}

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Opener == nil {
		dbOpts := append([]db.Option{db.WithLogger(cfg.Logger)}, cfg.DBOptions...)
		cfg.Opener = func(path string, mode db.Mode) (db.Store, error) {
			return db.Open(path, mode, dbOpts...)
		}
	}
	return cfg
}

// WithOpener sets the function used to open stores.
func WithOpener(o Opener) Option {
	return func(c *Config) { c.Opener = o }
}

// WithDBOptions appends options for db.Open.
func WithDBOptions(opts ...db.Option) Option {
	return func(c *Config) { c.DBOptions = append(c.DBOptions, opts...) }
}

// WithLogger sets a structured logger for the session.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
