// Package db provides read access to persisted k-mer count databases.
//
// Three backends satisfy [Store]: [KMCStore] over a pair of KMC files
// (<path>.kmc_pre and <path>.kmc_suf), [PebbleStore] over a Pebble directory,
// and [MockStore] for tests. [Open] detects the backend from the path. A store
// is opened for one [Mode]; listing stores stream their records, random-access
// stores build the lookup structure needed by [Store.Get].
//
// Databases are written by [KMCWriter] and [ExportPebble]. Nothing else in
// this package mutates a database.
package db

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
)

// Sentinel errors returned by Store implementations.
var (
	ErrClosed          = errors.New("db: database is closed")
	ErrKeyNotFound     = errors.New("db: k-mer not found")
	ErrFileNotFound    = errors.New("db: database file not found")
	ErrDatabaseCorrupt = errors.New("db: database is corrupt")
	ErrWrongMode       = errors.New("db: database does not support this access mode")
	ErrKmerLength      = errors.New("db: k-mer length does not match database")
	ErrCounterOverflow = errors.New("db: count does not fit the counter size")
	ErrDuplicateKmer   = errors.New("db: duplicate k-mer")
	ErrInvalidHeader   = errors.New("db: invalid header")

	ErrColumnFamilyNotFound = errors.New("db: column family not found")
)

// Mode selects how a database is opened.
type Mode int

const (
	// ModeListing streams records in storage order.
	ModeListing Mode = iota
	// ModeRandomAccess loads the lookup structure for point queries.
	ModeRandomAccess
)

func (m Mode) String() string {
	switch m {
	case ModeListing:
		return "listing"
	case ModeRandomAccess:
		return "random-access"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Format names the physical layout of an opened database.
type Format string

const (
	FormatKMC1   Format = "kmc1"
	FormatKMC2   Format = "kmc2"
	FormatPebble Format = "pebble"
	FormatMock   Format = "mock"
)

// Store is an opened, read-only k-mer database.
//
// A Store is owned by one session. Distinct stores over the same KMC files
// may be used from different goroutines.
type Store interface {
	// Header returns the database parameters read at open time.
	Header() Header

	// NewCursor returns a cursor positioned before the first record. Each
	// cursor is independent of the others.
	NewCursor() (Cursor, error)

	// Get returns the stored count of km. km is looked up as given; callers
	// canonicalize first when the database folds both strands.
	// Returns ErrKeyNotFound when km is absent and ErrWrongMode for stores
	// opened in listing mode.
	Get(km *kmer.Kmer) (uint64, error)

	io.Closer
}

// Cursor walks the records of a store in storage order.
type Cursor interface {
	// Next advances to the next record. It returns false at the end or on
	// error; check Err to tell them apart.
	Next() bool

	// Kmer copies the current k-mer into dst, which must have the
	// database's k-mer length.
	Kmer(dst *kmer.Kmer) error

	// Count returns the counter of the current record.
	Count() uint64

	// Err returns the first I/O or format error hit while advancing.
	Err() error

	io.Closer
}

// Open opens the database at path in the given mode. A directory is opened
// as a Pebble store; any other path is treated as the base name of a pair of
// KMC files.
func Open(path string, mode Mode, opts ...Option) (Store, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return OpenPebble(path, opts...)
	}
	return OpenKMC(path, mode, opts...)
}
