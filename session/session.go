// Package session provides the two ways of querying a k-mer database:
// [Listing] walks every stored k-mer whose count passes the current
// thresholds, [RandomAccess] answers point lookups and per-position counts
// across a read.
//
// A session is bound to one database and one mode for its whole life and is
// meant to be driven by a single goroutine. Independent sessions, even over
// the same KMC files, may run concurrently.
package session

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
)

// State is the lifecycle state of a session.
type State int

const (
	StateClosed State = iota
	StateOpened
	// StateExhausted is reached by a listing once no record is left.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// thresholds is the active [min, max] count filter; max 0 is unbounded.
type thresholds struct {
	min, max uint64
}

func (t thresholds) pass(count uint64) bool {
	return count >= t.min && (t.max == 0 || count <= t.max)
}

func thresholdsFrom(info Info) thresholds {
	return thresholds{min: uint64(info.MinCount), max: info.MaxCount}
}

func checkThreshold(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative count threshold %d", ErrInvalidArgument, n)
	}
	return nil
}

// base holds what both session kinds own once opened.
type base struct {
	cfg    *Config
	logger logger.Logger

	path  string
	store db.Store
	info  Info
	th    thresholds
}

func newBase(component string, opts []Option) base {
	cfg := newConfig(opts)
	return base{
		cfg:    cfg,
		logger: cfg.Logger.With("component", component),
	}
}

func (b *base) open(path string, mode db.Mode) error {
	store, err := b.cfg.Opener(path, mode)
	if err != nil {
		return &OpenError{Path: path, Err: err}
	}
	b.path = path
	b.store = store
	b.info = infoFromHeader(store.Header())
	b.th = thresholdsFrom(b.info)
	return nil
}

// release closes the store and forgets the database.
func (b *base) release() error {
	var err error
	if b.store != nil {
		if cerr := b.store.Close(); cerr != nil && !errors.Is(cerr, db.ErrClosed) {
			err = cerr
		}
	}
	b.store = nil
	b.path = ""
	b.info = Info{}
	b.th = thresholds{}
	return err
}

// kmerCount counts the records passing the current thresholds on a cursor of
// its own. The header total is used when the thresholds are the builder's.
func (b *base) kmerCount() (uint64, error) {
	if b.th == thresholdsFrom(b.info) {
		return b.info.TotalKmers, nil
	}
	cur, err := b.store.NewCursor()
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var n uint64
	for cur.Next() {
		if b.th.pass(cur.Count()) {
			n++
		}
	}
	return n, cur.Err()
}
