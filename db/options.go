package db

import (
	"io"
	"os"

	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
)

// Config holds the tunables shared by the readers and writers in this
// package. Use functional [Option] values rather than constructing a Config
// directly.
type Config struct {
	// ReadBufferSize is the buffer used to stream the suffix file in
	// listing mode.
	ReadBufferSize int

	// --- Pebble ---

	// CacheSize is the Pebble block-cache capacity in bytes.
	CacheSize int64

	// MemTableSize is the Pebble memtable size in bytes (export only).
	MemTableSize uint64

	// MaxOpenFiles limits the number of open file descriptors Pebble
	// keeps open. Use 0 for unlimited.
	MaxOpenFiles int

	// SyncWrites makes every export batch commit with fsync.
	SyncWrites bool

	// BatchSize is the number of records per export batch.
	BatchSize int

	// --- KMC writer ---

	// Bins is the number of KMC2 bins signatures are spread over.
	Bins int

	// LUTPrefixLength is the number of leading symbols resolved by the
	// prefix table. Negative selects a value from the k-mer length.
	LUTPrefixLength int

	// --- Output ---

	// Progress enables a progress bar for long writes.
	Progress bool

	// ProgressWriter receives the progress bar. Defaults to stderr.
	ProgressWriter io.Writer

	// Logger receives structured operational log messages.
	// If not set, the global logger.Default() is used.
	Logger logger.Logger
}

// DefaultConfig returns a Config with defaults suited to databases that fit
// comfortably in memory.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1 << 20,  // 1 MB
		CacheSize:       64 << 20, // 64 MB
		MemTableSize:    32 << 20, // 32 MB
		MaxOpenFiles:    0,        // unlimited
		BatchSize:       10_000,
		Bins:            64,
		LUTPrefixLength: -1,
		ProgressWriter:  os.Stderr,
	}
}

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultConfig().ReadBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Bins <= 0 {
		cfg.Bins = 1
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = os.Stderr
	}
	return cfg
}

func (c *Config) logger(component string) logger.Logger {
	log := c.Logger
	if log == nil {
		log = logger.Default()
	}
	return log.With("component", component)
}

// Option is a functional option applied to [Config].
type Option func(*Config)

// WithReadBufferSize sets the listing read buffer in bytes.
func WithReadBufferSize(n int) Option {
	return func(c *Config) { c.ReadBufferSize = n }
}

// WithCacheSize sets the Pebble block-cache capacity in bytes.
func WithCacheSize(size int64) Option {
	return func(c *Config) { c.CacheSize = size }
}

// WithMemTableSize sets the Pebble memtable size in bytes.
func WithMemTableSize(size uint64) Option {
	return func(c *Config) { c.MemTableSize = size }
}

// WithMaxOpenFiles limits the number of open file descriptors.
// Use 0 for unlimited.
func WithMaxOpenFiles(n int) Option {
	return func(c *Config) { c.MaxOpenFiles = n }
}

// WithSyncWrites enables fsync on every export batch commit.
func WithSyncWrites(sync bool) Option {
	return func(c *Config) { c.SyncWrites = sync }
}

// WithBatchSize sets the number of records per export batch.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// WithBins sets the number of KMC2 bins.
func WithBins(n int) Option {
	return func(c *Config) { c.Bins = n }
}

// WithLUTPrefixLength fixes the LUT prefix length instead of deriving it.
func WithLUTPrefixLength(n int) Option {
	return func(c *Config) { c.LUTPrefixLength = n }
}

// WithProgress enables a progress bar written to w (stderr when nil).
func WithProgress(enabled bool, w io.Writer) Option {
	return func(c *Config) {
		c.Progress = enabled
		c.ProgressWriter = w
	}
}

// WithLogger sets a custom logger.
// If not set, the global logger.Default() is used.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
