package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/pebble"
)

// Column families of a Pebble k-mer database.
const (
	// MetaColumnFamily holds the encoded header under [HeaderKey].
	MetaColumnFamily = "meta"
	// KmersColumnFamily maps packed k-mer bytes to little-endian counters.
	KmersColumnFamily = "kmers"
)

// HeaderKey is the key of the encoded header in [MetaColumnFamily].
var HeaderKey = []byte("header")

// Compile-time interface check.
var _ Store = (*PebbleStore)(nil)

// PebbleStore is a read-only [Store] backed by Pebble. It serves both modes:
// cursors iterate the kmers family in ascending k-mer order and Get is a
// point lookup.
//
// Column families are simulated via key-prefixing: each logical CF name
// is mapped to a byte prefix (cf + '\x00'), keeping data from different
// families sorted in disjoint key ranges.
type PebbleStore struct {
	db     *pebble.DB
	shared *sharedPebble
	header Header

	// prefixes maps CF names to their byte prefix.
	// Immutable after construction.
	prefixes map[string][]byte

	path   string
	logger logger.Logger

	// closed + mu guard against use-after-close. Individual operations
	// take an RLock. Close takes the write lock, draining in-flight
	// operations before teardown.
	closed atomic.Bool
	mu     sync.RWMutex
}

func pebbleOptions(cfg *Config, readOnly bool) (*pebble.Options, *pebble.Cache) {
	cache := pebble.NewCache(cfg.CacheSize)
	return &pebble.Options{
		Cache:        cache,
		MemTableSize: cfg.MemTableSize,
		MaxOpenFiles: cfg.MaxOpenFiles,
		ReadOnly:     readOnly,
	}, cache
}

func columnFamilies() map[string][]byte {
	return map[string][]byte{
		MetaColumnFamily:  cfPrefix(MetaColumnFamily),
		KmersColumnFamily: cfPrefix(KmersColumnFamily),
	}
}

// sharedPebble is one read-only Pebble handle shared by every store open on
// the same directory. Pebble locks the directory, so a second pebble.Open of
// the same path would fail while the first is live.
type sharedPebble struct {
	key    string
	db     *pebble.DB
	header Header
	refs   int
}

var pebbleHandles = struct {
	sync.Mutex
	m map[string]*sharedPebble
}{m: make(map[string]*sharedPebble)}

// OpenPebble opens an existing Pebble k-mer database read-only. Stores opened
// on the same directory share one Pebble handle, which is closed with the
// last store.
func OpenPebble(path string, opts ...Option) (*PebbleStore, error) {
	cfg := newConfig(opts)
	log := cfg.logger("pebble")

	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileNotFound, path, err)
	}

	pebbleHandles.Lock()
	defer pebbleHandles.Unlock()

	sh, ok := pebbleHandles.m[key]
	if !ok {
		if sh, err = openSharedPebble(key, cfg); err != nil {
			return nil, err
		}
		pebbleHandles.m[key] = sh
		log.Info("database opened",
			"path", path,
			"format", string(sh.header.Format),
			"k", sh.header.KmerLength,
			"kmers", sh.header.TotalKmers,
		)
	}
	sh.refs++

	return &PebbleStore{
		db:       sh.db,
		shared:   sh,
		header:   sh.header,
		prefixes: columnFamilies(),
		path:     path,
		logger:   log,
	}, nil
}

// openSharedPebble opens the directory and reads its header. A missing or
// empty directory is ErrFileNotFound; anything Pebble cannot open is
// ErrDatabaseCorrupt.
func openSharedPebble(dir string, cfg *Config) (*sharedPebble, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFileNotFound, dir, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrFileNotFound, dir)
	}

	pOpts, cache := pebbleOptions(cfg, true)
	defer cache.Unref()

	db, err := pebble.Open(dir, pOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseCorrupt, dir, err)
	}

	p := &PebbleStore{db: db, prefixes: columnFamilies(), path: dir}
	h, err := p.readHeader()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &sharedPebble{key: dir, db: db, header: h}, nil
}

// release drops one reference and closes the handle with the last one.
func (sh *sharedPebble) release() error {
	pebbleHandles.Lock()
	defer pebbleHandles.Unlock()

	sh.refs--
	if sh.refs > 0 {
		return nil
	}
	delete(pebbleHandles.m, sh.key)
	return sh.db.Close()
}

func (p *PebbleStore) readHeader() (Header, error) {
	raw, err := p.get(MetaColumnFamily, HeaderKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Header{}, fmt.Errorf("%w: %s has no header", ErrDatabaseCorrupt, p.path)
		}
		return Header{}, err
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return Header{}, err
	}
	if err := h.validate(); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}
	h.Format = FormatPebble
	return h, nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

func (p *PebbleStore) Header() Header { return p.header }

func (p *PebbleStore) Get(km *kmer.Kmer) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return 0, ErrClosed
	}
	if km.Len() != int(p.header.KmerLength) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrKmerLength, km.Len(), p.header.KmerLength)
	}

	var buf [kmer.MaxLength / 4]byte
	val, err := p.get(KmersColumnFamily, km.AppendBytes(buf[:0]))
	if err != nil {
		return 0, err
	}
	return readCounter(val), nil
}

func (p *PebbleStore) get(cf string, key []byte) ([]byte, error) {
	prefix, err := p.cfPrefix(cf)
	if err != nil {
		return nil, err
	}

	val, closer, err := p.db.Get(prefixedKey(prefix, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("db: get failed: %w", err)
	}
	defer closer.Close()

	// The returned slice is only valid until closer.Close().
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (p *PebbleStore) NewCursor() (Cursor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}

	prefix, err := p.cfPrefix(KmersColumnFamily)
	if err != nil {
		return nil, err
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: cfUpperBound(KmersColumnFamily),
	})
	if err != nil {
		return nil, fmt.Errorf("db: new iterator failed: %w", err)
	}

	return &pebbleCursor{
		iter:      iter,
		prefixLen: len(prefix),
		k:         int(p.header.KmerLength),
	}, nil
}

// Close releases this store's reference to the shared Pebble handle. The
// directory lock is dropped with the last reference.
func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	p.closed.Store(true)

	if err := p.shared.release(); err != nil {
		return fmt.Errorf("db: close failed: %w", err)
	}

	p.logger.Debug("database closed", "path", p.path)
	return nil
}

// ---------------------------------------------------------------------------
// Cursor implementation
// ---------------------------------------------------------------------------

type pebbleCursor struct {
	iter      *pebble.Iterator
	prefixLen int
	k         int

	started bool
	closed  bool
	count   uint64
	err     error
}

func (c *pebbleCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	var ok bool
	if !c.started {
		c.started = true
		ok = c.iter.First()
	} else {
		ok = c.iter.Next()
	}
	if !ok {
		c.err = c.iter.Error()
		return false
	}

	val, err := c.iter.ValueAndErr()
	if err != nil {
		c.err = fmt.Errorf("db: reading value: %w", err)
		return false
	}
	if len(val) < 1 || len(val) > 8 {
		c.err = fmt.Errorf("%w: %d-byte counter", ErrDatabaseCorrupt, len(val))
		return false
	}
	c.count = readCounter(val)
	return true
}

func (c *pebbleCursor) Kmer(dst *kmer.Kmer) error {
	if dst.Len() != c.k {
		return fmt.Errorf("%w: got %d, want %d", ErrKmerLength, dst.Len(), c.k)
	}
	raw := c.iter.Key()
	if len(raw) < c.prefixLen {
		return fmt.Errorf("%w: short key", ErrDatabaseCorrupt)
	}
	if err := dst.SetBytes(raw[c.prefixLen:]); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}
	return nil
}

func (c *pebbleCursor) Count() uint64 { return c.count }
func (c *pebbleCursor) Err() error    { return c.err }

func (c *pebbleCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.iter.Close()
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// ExportPebble copies every record of src into a new Pebble database at path,
// writing the header last. Records are committed in batches of
// Config.BatchSize.
func ExportPebble(src Store, path string, opts ...Option) error {
	cfg := newConfig(opts)
	log := cfg.logger("pebble-export")

	h := src.Header()
	if err := h.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	pOpts, cache := pebbleOptions(cfg, false)
	defer cache.Unref()
	pOpts.ErrorIfExists = true

	db, err := pebble.Open(path, pOpts)
	if err != nil {
		return fmt.Errorf("db: failed to open %s: %w", path, err)
	}
	defer db.Close()

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	cur, err := src.NewCursor()
	if err != nil {
		return err
	}
	defer cur.Close()

	var bar *pb.ProgressBar
	if cfg.Progress {
		bar = pb.Full.New(int(h.TotalKmers)).SetWriter(cfg.ProgressWriter).Start()
		defer bar.Finish()
	}

	km, err := kmer.New(int(h.KmerLength))
	if err != nil {
		return err
	}
	kmersPrefix := cfPrefix(KmersColumnFamily)
	counter := make([]byte, h.CounterSize)

	batch := db.NewBatch()
	var total uint64
	for cur.Next() {
		if err := cur.Kmer(km); err != nil {
			batch.Close()
			return err
		}
		putCounter(counter, cur.Count())
		if err := batch.Set(prefixedKey(kmersPrefix, km.Bytes()), counter, nil); err != nil {
			batch.Close()
			return fmt.Errorf("db: batch put failed: %w", err)
		}
		total++
		if bar != nil {
			bar.Increment()
		}

		if int(batch.Count()) >= cfg.BatchSize {
			if err := batch.Commit(writeOpts); err != nil {
				batch.Close()
				return fmt.Errorf("db: batch commit failed: %w", err)
			}
			batch.Close()
			batch = db.NewBatch()
		}
	}
	if err := cur.Err(); err != nil {
		batch.Close()
		return err
	}

	h.TotalKmers = total
	if err := batch.Set(prefixedKey(cfPrefix(MetaColumnFamily), HeaderKey), h.encode(), nil); err != nil {
		batch.Close()
		return fmt.Errorf("db: batch put failed: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		batch.Close()
		return fmt.Errorf("db: batch commit failed: %w", err)
	}
	batch.Close()

	if err := db.Flush(); err != nil {
		return fmt.Errorf("db: flush failed: %w", err)
	}

	log.Info("database exported", "path", path, "kmers", total)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// cfPrefix returns the registered prefix for the given column family name.
func (p *PebbleStore) cfPrefix(cf string) ([]byte, error) {
	prefix, ok := p.prefixes[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return prefix, nil
}

// cfPrefix builds the key prefix for a column family: "cf\x00".
func cfPrefix(cf string) []byte {
	b := make([]byte, len(cf)+1)
	copy(b, cf)
	b[len(cf)] = 0x00
	return b
}

// cfUpperBound builds the exclusive upper bound for iteration: "cf\x01".
func cfUpperBound(cf string) []byte {
	b := make([]byte, len(cf)+1)
	copy(b, cf)
	b[len(cf)] = 0x01
	return b
}

// prefixedKey concatenates a CF prefix and a user key into a single
// storage key: prefix + key.
func prefixedKey(prefix, key []byte) []byte {
	pk := make([]byte, len(prefix)+len(key))
	copy(pk, prefix)
	copy(pk[len(prefix):], key)
	return pk
}
