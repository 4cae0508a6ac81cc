// Package indexer counts the k-mers of FASTA/FASTQ inputs in memory and
// writes them as a KMC database, optionally mirrored into Pebble. It is the
// fixture and tooling builder for the session package, not a replacement for
// the disk-based KMC counter.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
)

// Sentinel errors for the indexer package.
var (
	ErrAlreadyRunning = errors.New("indexer: already running")
	ErrNoInputs       = errors.New("indexer: no inputs")
	ErrInvalidConfig  = errors.New("indexer: invalid config")
)

// Config holds all settings for an Indexer instance.
type Config struct {
	// Inputs are FASTA/FASTQ paths, plain or gzip/zstd compressed. "-"
	// reads standard input.
	Inputs []string

	// Output is the database base path; .kmc_pre and .kmc_suf are appended.
	Output string

	// PebbleOutput, when set, receives a Pebble copy of the database.
	PebbleOutput string

	KmerLength   int
	CounterSize  int
	SignatureLen int

	// MinCount and MaxCount bound the counts written; MaxCount 0 keeps
	// everything above MinCount.
	MinCount uint32
	MaxCount uint64

	// BothStrands folds each k-mer onto its canonical form.
	BothStrands bool

	// Format selects db.FormatKMC2 (default) or db.FormatKMC1.
	Format db.Format

	// Workers limits the inputs counted concurrently.
	Workers int

	// Progress shows a bar per phase on ProgressWriter.
	Progress       bool
	ProgressWriter io.Writer

	// DBOptions are passed to the writers.
	DBOptions []db.Option

	// Logger is the structured logger. Falls back to logger.Default() if nil.
	Logger logger.Logger
}

// Option is a functional option for configuring an Indexer.
type Option func(*Config)

// DefaultConfig returns the KMC command-line defaults.
func DefaultConfig() *Config {
	return &Config{
		KmerLength:     25,
		CounterSize:    4,
		SignatureLen:   db.DefaultSignatureLen,
		MinCount:       2,
		MaxCount:       1_000_000_000,
		BothStrands:    true,
		Format:         db.FormatKMC2,
		Workers:        runtime.NumCPU(),
		ProgressWriter: os.Stderr,
	}
}

func (c *Config) validate() error {
	if len(c.Inputs) == 0 {
		return ErrNoInputs
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output path must not be empty", ErrInvalidConfig)
	}
	if c.KmerLength < 1 || c.KmerLength > kmer.MaxLength {
		return fmt.Errorf("%w: k-mer length must be in 1..%d, got %d", ErrInvalidConfig, kmer.MaxLength, c.KmerLength)
	}
	if c.CounterSize < 1 || c.CounterSize > 8 {
		return fmt.Errorf("%w: counter size must be in 1..8, got %d", ErrInvalidConfig, c.CounterSize)
	}
	if c.MaxCount != 0 && c.MaxCount < uint64(c.MinCount) {
		return fmt.Errorf("%w: max count %d below min count %d", ErrInvalidConfig, c.MaxCount, c.MinCount)
	}
	switch c.Format {
	case "":
		c.Format = db.FormatKMC2
	case db.FormatKMC1, db.FormatKMC2:
	default:
		return fmt.Errorf("%w: unsupported output format %q", ErrInvalidConfig, c.Format)
	}
	if c.Format == db.FormatKMC2 && (c.SignatureLen < 1 || c.SignatureLen > c.KmerLength) {
		return fmt.Errorf("%w: signature length must be in 1..%d, got %d", ErrInvalidConfig, c.KmerLength, c.SignatureLen)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ProgressWriter == nil {
		c.ProgressWriter = os.Stderr
	}
	return nil
}

// WithInputs sets the sequence files to count.
func WithInputs(paths ...string) Option {
	return func(c *Config) { c.Inputs = paths }
}

// WithOutput sets the database base path.
func WithOutput(path string) Option {
	return func(c *Config) { c.Output = path }
}

// WithPebbleOutput also exports the database into a Pebble directory.
func WithPebbleOutput(dir string) Option {
	return func(c *Config) { c.PebbleOutput = dir }
}

// WithKmerLength sets k.
func WithKmerLength(k int) Option {
	return func(c *Config) { c.KmerLength = k }
}

// WithCounterSize sets the stored counter width in bytes.
func WithCounterSize(n int) Option {
	return func(c *Config) { c.CounterSize = n }
}

// WithSignatureLen sets the KMC2 signature length.
func WithSignatureLen(m int) Option {
	return func(c *Config) { c.SignatureLen = m }
}

// WithCutoffs sets the counts kept; max 0 is unbounded.
func WithCutoffs(min uint32, max uint64) Option {
	return func(c *Config) { c.MinCount, c.MaxCount = min, max }
}

// WithBothStrands toggles canonical counting.
func WithBothStrands(both bool) Option {
	return func(c *Config) { c.BothStrands = both }
}

// WithFormat selects the KMC output version.
func WithFormat(f db.Format) Option {
	return func(c *Config) { c.Format = f }
}

// WithWorkers limits concurrent input readers.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithProgress enables progress bars written to w (stderr when nil).
func WithProgress(enabled bool, w io.Writer) Option {
	return func(c *Config) {
		c.Progress = enabled
		c.ProgressWriter = w
	}
}

// WithDBOptions passes options to the database writers.
func WithDBOptions(opts ...db.Option) Option {
	return func(c *Config) { c.DBOptions = append(c.DBOptions, opts...) }
}

// WithLogger sets a structured logger for the indexer.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Stats summarizes one run.
type Stats struct {
	Records  uint64 // sequences read
	Bases    uint64
	Kmers    uint64 // k-mer windows counted
	Distinct uint64 // distinct k-mers before cutoffs
	BelowMin uint64
	AboveMax uint64
	Written  uint64
	Elapsed  time.Duration
}

// Indexer builds one database from its configured inputs.
type Indexer struct {
	cfg    *Config
	logger logger.Logger

	mu      sync.Mutex
	running bool
	stats   Stats
}

// New creates an Indexer with the given options applied over DefaultConfig.
func New(opts ...Option) (*Indexer, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "indexer")

	return &Indexer{cfg: cfg, logger: log}, nil
}

// Stats returns the counters of the last completed run.
func (idx *Indexer) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.stats
}

// Run counts every input and writes the database. It returns early with the
// context's error when ctx is cancelled; no partial database is left behind.
func (idx *Indexer) Run(ctx context.Context) error {
	idx.mu.Lock()
	if idx.running {
		idx.mu.Unlock()
		return ErrAlreadyRunning
	}
	idx.running = true
	idx.mu.Unlock()
	defer func() {
		idx.mu.Lock()
		idx.running = false
		idx.mu.Unlock()
	}()

	start := time.Now()
	idx.logger.Info("indexer started",
		"inputs", len(idx.cfg.Inputs),
		"k", idx.cfg.KmerLength,
		"format", string(idx.cfg.Format),
		"workers", idx.cfg.Workers,
	)

	var st Stats
	counts, err := idx.count(ctx, &st)
	if err != nil {
		return err
	}
	st.Distinct = uint64(len(counts))

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.write(counts, &st); err != nil {
		return err
	}
	if idx.cfg.PebbleOutput != "" {
		if err := idx.export(); err != nil {
			return err
		}
	}

	st.Elapsed = time.Since(start)
	idx.mu.Lock()
	idx.stats = st
	idx.mu.Unlock()

	idx.logger.Info("indexer finished",
		"records", st.Records,
		"kmers", st.Kmers,
		"distinct", st.Distinct,
		"written", st.Written,
		"below_min", st.BelowMin,
		"above_max", st.AboveMax,
		"elapsed", st.Elapsed,
	)
	return nil
}

func (idx *Indexer) header() db.Header {
	return db.Header{
		KmerLength:   uint32(idx.cfg.KmerLength),
		CounterSize:  uint32(idx.cfg.CounterSize),
		SignatureLen: uint32(idx.cfg.SignatureLen),
		MinCount:     idx.cfg.MinCount,
		MaxCount:     idx.cfg.MaxCount,
		BothStrands:  idx.cfg.BothStrands,
		Format:       idx.cfg.Format,
	}
}

func (idx *Indexer) dbOptions() []db.Option {
	opts := []db.Option{
		db.WithLogger(idx.logger),
		db.WithProgress(idx.cfg.Progress, idx.cfg.ProgressWriter),
	}
	return append(opts, idx.cfg.DBOptions...)
}

// write applies the cutoffs, saturates the counters and writes the KMC files.
func (idx *Indexer) write(counts map[string]uint64, st *Stats) error {
	w, err := db.NewKMCWriter(idx.cfg.Output, idx.header(), idx.dbOptions()...)
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	limit := w.Header().MaxCounter()

	km, err := kmer.New(idx.cfg.KmerLength)
	if err != nil {
		return err
	}
	for key, c := range counts {
		if c < uint64(idx.cfg.MinCount) {
			st.BelowMin++
			continue
		}
		if idx.cfg.MaxCount != 0 && c > idx.cfg.MaxCount {
			st.AboveMax++
			continue
		}
		if err := km.SetBytes([]byte(key)); err != nil {
			return err
		}
		if err := w.Add(km, min(c, limit)); err != nil {
			return fmt.Errorf("indexer: %w", err)
		}
	}
	st.Written = uint64(w.Len())
	if err := w.Close(); err != nil {
		return fmt.Errorf("indexer: write %s: %w", idx.cfg.Output, err)
	}
	return nil
}

// export mirrors the freshly written KMC database into Pebble.
func (idx *Indexer) export() error {
	src, err := db.OpenKMC(idx.cfg.Output, db.ModeListing, idx.dbOptions()...)
	if err != nil {
		return fmt.Errorf("indexer: reopen %s: %w", idx.cfg.Output, err)
	}
	defer src.Close()

	if err := db.ExportPebble(src, idx.cfg.PebbleOutput, idx.dbOptions()...); err != nil {
		return fmt.Errorf("indexer: export %s: %w", idx.cfg.PebbleOutput, err)
	}
	return nil
}
