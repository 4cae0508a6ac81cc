package session

import (
	"fmt"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
)

// Listing iterates the records of a database in storage order, skipping
// those whose count falls outside [MinCount, MaxCount].
//
//	l := session.NewListing()
//	if err := l.Open("reads"); err != nil { ... }
//	defer l.Close()
//	info, _ := l.Info()
//	km, _ := kmer.New(int(info.KmerLength))
//	var count uint64
//	for {
//		ok, err := l.ReadNextKmer(km, &count)
//		if err != nil || !ok { break }
//		fmt.Printf("%s\t%d\n", km, count)
//	}
type Listing struct {
	base
	state State
	cur   db.Cursor
}

// NewListing returns a closed listing session.
func NewListing(opts ...Option) *Listing {
	return &Listing{base: newBase("listing", opts)}
}

// Open opens the database at path for listing and positions the session
// before its first record. Failures are returned as *OpenError.
func (l *Listing) Open(path string) error {
	if l.state != StateClosed {
		return fmt.Errorf("%w: listing already open on %s", ErrInvalidState, l.path)
	}
	if err := l.open(path, db.ModeListing); err != nil {
		return err
	}
	cur, err := l.store.NewCursor()
	if err != nil {
		l.release()
		return &OpenError{Path: path, Err: err}
	}
	l.cur = cur
	l.state = StateOpened

	l.logger.Debug("listing opened",
		"path", path,
		"format", string(l.info.Format),
		"k", l.info.KmerLength,
		"kmers", l.info.TotalKmers,
	)
	return nil
}

// State returns the current lifecycle state.
func (l *Listing) State() State { return l.state }

// Info returns the parameters of the open database.
func (l *Listing) Info() (Info, error) {
	if l.state == StateClosed {
		return Info{}, ErrNotOpened
	}
	return l.info, nil
}

// SetMinCount sets the lowest count returned by ReadNextKmer.
func (l *Listing) SetMinCount(n int64) error {
	if l.state != StateOpened {
		return fmt.Errorf("%w: set min count while %s", ErrInvalidState, l.state)
	}
	if err := checkThreshold(n); err != nil {
		return err
	}
	l.th.min = uint64(n)
	return nil
}

// SetMaxCount sets the highest count returned by ReadNextKmer; 0 removes the
// upper bound.
func (l *Listing) SetMaxCount(n int64) error {
	if l.state != StateOpened {
		return fmt.Errorf("%w: set max count while %s", ErrInvalidState, l.state)
	}
	if err := checkThreshold(n); err != nil {
		return err
	}
	l.th.max = uint64(n)
	return nil
}

// MinCount returns the active lower threshold.
func (l *Listing) MinCount() uint64 { return l.th.min }

// MaxCount returns the active upper threshold; 0 is unbounded.
func (l *Listing) MaxCount() uint64 { return l.th.max }

// ResetMinMaxCounts restores the thresholds stored in the database header.
func (l *Listing) ResetMinMaxCounts() error {
	if l.state == StateClosed {
		return fmt.Errorf("%w: listing is closed", ErrInvalidState)
	}
	l.th = thresholdsFrom(l.info)
	return nil
}

// ReadNextKmer writes the next record passing the thresholds into out and
// count and reports true. At the end of the database it reports false and
// the session becomes exhausted. A read failure closes the session.
func (l *Listing) ReadNextKmer(out *kmer.Kmer, count *uint64) (bool, error) {
	switch l.state {
	case StateClosed:
		return false, ErrNotOpened
	case StateExhausted:
		return false, nil
	}
	if out == nil || out.Len() != int(l.info.KmerLength) {
		return false, fmt.Errorf("%w: output k-mer must have length %d", ErrInvalidArgument, l.info.KmerLength)
	}
	if count == nil {
		return false, fmt.Errorf("%w: nil count", ErrInvalidArgument)
	}

	for l.cur.Next() {
		c := l.cur.Count()
		if !l.th.pass(c) {
			continue
		}
		if err := l.cur.Kmer(out); err != nil {
			return false, l.abort(err)
		}
		*count = c
		return true, nil
	}
	if err := l.cur.Err(); err != nil {
		return false, l.abort(err)
	}
	l.state = StateExhausted
	return false, nil
}

// Restart rewinds the listing to the first record, keeping the thresholds.
func (l *Listing) Restart() error {
	if l.state == StateClosed {
		return fmt.Errorf("%w: listing is closed", ErrInvalidState)
	}
	l.cur.Close()
	cur, err := l.store.NewCursor()
	if err != nil {
		l.cur = nil
		return l.abort(err)
	}
	l.cur = cur
	l.state = StateOpened
	return nil
}

// KmerCount returns the number of records passing the current thresholds.
// The listing position is not affected.
func (l *Listing) KmerCount() (uint64, error) {
	if l.state == StateClosed {
		return 0, ErrNotOpened
	}
	return l.kmerCount()
}

// Close releases the database. Closing a closed listing is a no-op.
func (l *Listing) Close() error {
	if l.state == StateClosed {
		return nil
	}
	path := l.path
	var err error
	if l.cur != nil {
		err = l.cur.Close()
		l.cur = nil
	}
	if rerr := l.release(); rerr != nil && err == nil {
		err = rerr
	}
	l.state = StateClosed
	l.logger.Debug("listing closed", "path", path)
	return err
}

// abort closes the session after a failure while reading.
func (l *Listing) abort(cause error) error {
	l.logger.Error("listing aborted", "path", l.path, "error", cause)
	l.Close()
	return fmt.Errorf("session: listing aborted: %w", cause)
}
