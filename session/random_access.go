package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
)

// RandomAccess answers count queries for single k-mers and for every window
// of a read. Counts outside [MinCount, MaxCount] are reported as absent.
type RandomAccess struct {
	base
	opened bool

	// scratch k-mers reused across queries
	key *kmer.Kmer
	fwd *kmer.Kmer
	rev *kmer.Kmer
}

// NewRandomAccess returns a closed random-access session.
func NewRandomAccess(opts ...Option) *RandomAccess {
	return &RandomAccess{base: newBase("random-access", opts)}
}

// Open opens the database at path and loads its lookup structure. Databases
// without one are rejected with ErrWrongMode. Failures are returned as
// *OpenError.
func (r *RandomAccess) Open(path string) error {
	if r.opened {
		return fmt.Errorf("%w: random access already open on %s", ErrInvalidState, r.path)
	}
	if err := r.open(path, db.ModeRandomAccess); err != nil {
		return err
	}

	k := int(r.info.KmerLength)
	var err error
	if r.key, err = kmer.New(k); err == nil {
		if r.fwd, err = kmer.New(k); err == nil {
			r.rev, err = kmer.New(k)
		}
	}
	if err != nil {
		r.release()
		return &OpenError{Path: path, Err: err}
	}
	r.opened = true

	r.logger.Debug("random access opened",
		"path", path,
		"format", string(r.info.Format),
		"k", k,
		"kmers", r.info.TotalKmers,
	)
	return nil
}

// State returns StateOpened or StateClosed.
func (r *RandomAccess) State() State {
	if r.opened {
		return StateOpened
	}
	return StateClosed
}

// Info returns the parameters of the open database.
func (r *RandomAccess) Info() (Info, error) {
	if !r.opened {
		return Info{}, ErrNotOpened
	}
	return r.info, nil
}

// SetMinCount sets the lowest count reported as present.
func (r *RandomAccess) SetMinCount(n int64) error {
	if !r.opened {
		return fmt.Errorf("%w: set min count on a closed session", ErrInvalidState)
	}
	if err := checkThreshold(n); err != nil {
		return err
	}
	r.th.min = uint64(n)
	return nil
}

// SetMaxCount sets the highest count reported as present; 0 removes the
// upper bound.
func (r *RandomAccess) SetMaxCount(n int64) error {
	if !r.opened {
		return fmt.Errorf("%w: set max count on a closed session", ErrInvalidState)
	}
	if err := checkThreshold(n); err != nil {
		return err
	}
	r.th.max = uint64(n)
	return nil
}

// MinCount returns the active lower threshold.
func (r *RandomAccess) MinCount() uint64 { return r.th.min }

// MaxCount returns the active upper threshold; 0 is unbounded.
func (r *RandomAccess) MaxCount() uint64 { return r.th.max }

// ResetMinMaxCounts restores the thresholds stored in the database header.
func (r *RandomAccess) ResetMinMaxCounts() error {
	if !r.opened {
		return fmt.Errorf("%w: random access is closed", ErrInvalidState)
	}
	r.th = thresholdsFrom(r.info)
	return nil
}

// CheckKmer looks km up, folding it to its canonical form first when the
// database stores both strands. km itself is not modified. When present, the
// count is written to count (if non-nil) and true is returned; when absent,
// count is left untouched.
func (r *RandomAccess) CheckKmer(km *kmer.Kmer, count *uint64) (bool, error) {
	if !r.opened {
		return false, ErrNotOpened
	}
	if km == nil || km.Len() != int(r.info.KmerLength) {
		return false, fmt.Errorf("%w: k-mer must have length %d", ErrInvalidArgument, r.info.KmerLength)
	}

	if err := r.key.CopyFrom(km); err != nil {
		return false, err
	}
	if r.info.BothStrands {
		r.key.Canonicalize()
	}
	c, ok, err := r.lookup(r.key)
	if err != nil || !ok {
		return false, err
	}
	if count != nil {
		*count = c
	}
	return true, nil
}

// IsKmer reports whether km is present.
func (r *RandomAccess) IsKmer(km *kmer.Kmer) (bool, error) {
	return r.CheckKmer(km, nil)
}

// GetCountersForRead appends to dst[:0] one count per k-mer window of read,
// left to right, and returns the result of length len(read)-k+1. Windows
// containing a symbol outside ACGT and absent k-mers count 0.
func (r *RandomAccess) GetCountersForRead(read string, dst []uint64) ([]uint64, error) {
	if !r.opened {
		return dst[:0], ErrNotOpened
	}
	k := int(r.info.KmerLength)
	if len(read) < k {
		return dst[:0], fmt.Errorf("%w: read of length %d is shorter than k=%d", ErrInvalidArgument, len(read), k)
	}

	out := slices.Grow(dst[:0], len(read)-k+1)
	valid := 0 // consecutive ACGT symbols ending at i
	for i := 0; i < len(read); i++ {
		code, ok := kmer.Code(read[i])
		if !ok {
			valid = 0
		} else {
			valid++
			r.fwd.ShiftIn(code)
			r.rev.PushFront(3 - code)
		}
		if i < k-1 {
			continue
		}
		if valid < k {
			out = append(out, 0)
			continue
		}

		key := r.fwd
		if r.info.BothStrands && r.rev.Less(r.fwd) {
			key = r.rev
		}
		c, _, err := r.lookup(key)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// lookup returns the count of km if stored and within the thresholds.
func (r *RandomAccess) lookup(km *kmer.Kmer) (uint64, bool, error) {
	c, err := r.store.Get(km)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("session: lookup %s: %w", km, err)
	}
	if !r.th.pass(c) {
		return 0, false, nil
	}
	return c, true, nil
}

// KmerCount returns the number of records passing the current thresholds.
func (r *RandomAccess) KmerCount() (uint64, error) {
	if !r.opened {
		return 0, ErrNotOpened
	}
	return r.kmerCount()
}

// Close releases the database. Closing a closed session is a no-op.
func (r *RandomAccess) Close() error {
	if !r.opened {
		return nil
	}
	path := r.path
	err := r.release()
	r.opened = false
	r.key, r.fwd, r.rev = nil, nil, nil
	r.logger.Debug("random access closed", "path", path)
	return err
}
