package kmer

import "fmt"

// MaxSignatureLength is the longest window Signature accepts; 4^m must fit
// in a uint64.
const MaxSignatureLength = 31

// MinimizerNonCanonical returns the lexicographically smallest length-m
// window of x. Ties keep the leftmost window.
func MinimizerNonCanonical(x *Kmer, m int) (*Kmer, error) {
	if m < 1 || m > x.k {
		return nil, fmt.Errorf("%w: %d (k=%d)", ErrInvalidWindow, m, x.k)
	}
	cur, err := New(m)
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		cur.set(i, x.get(i))
	}
	best := cur.Clone()
	for i := m; i < x.k; i++ {
		cur.ShiftIn(x.get(i))
		if Compare(cur, best) < 0 {
			copy(best.data, cur.data)
		}
	}
	return best, nil
}

// Minimizer returns the canonical minimizer of x: the smaller of the
// non-canonical minimizers of x and of its reverse complement. The result
// does not depend on the strand x was read from.
func Minimizer(x *Kmer, m int) (*Kmer, error) {
	fwd, err := MinimizerNonCanonical(x, m)
	if err != nil {
		return nil, err
	}
	rev, err := MinimizerNonCanonical(ReverseComplement(x), m)
	if err != nil {
		return nil, err
	}
	if rev.Less(fwd) {
		return rev, nil
	}
	return fwd, nil
}

// Signature returns the partition signature of x for window length m, the
// value stored in a database's signature map.
//
// Each window is read as a base-4 number and normalized against its reverse
// complement, with windows that make poor partition keys (see allowedMmer)
// replaced by 4^m. The signature is the smallest normalized window, so a
// k-mer with no allowed window in either strand has signature 4^m.
func Signature(x *Kmer, m int) (uint64, error) {
	if m < 1 || m > x.k || m > MaxSignatureLength {
		return 0, fmt.Errorf("%w: %d (k=%d, max %d)", ErrInvalidWindow, m, x.k, MaxSignatureLength)
	}
	mask := uint64(1)<<(2*m) - 1

	var w uint64
	for i := 0; i < m; i++ {
		w = w<<2 | uint64(x.get(i))
	}
	best := normalizeMmer(w, m)
	for i := m; i < x.k; i++ {
		w = (w<<2 | uint64(x.get(i))) & mask
		if v := normalizeMmer(w, m); v < best {
			best = v
		}
	}
	return best, nil
}

// normalizeMmer returns min(w, revcomp(w)) over the allowed candidates, or
// 4^m when neither orientation is allowed.
func normalizeMmer(w uint64, m int) uint64 {
	special := uint64(1) << (2 * m)
	fwd, rev := special, special
	if allowedMmer(w, m) {
		fwd = w
	}
	if r := revCompMmer(w, m); allowedMmer(r, m) {
		rev = r
	}
	return min(fwd, rev)
}

// allowedMmer rejects m-mers ending in TGT or TT?, containing AA in any
// position but the first three symbols, or starting with AAA, ACA or ?AA.
// M-mers shorter than three symbols are never allowed.
func allowedMmer(w uint64, m int) bool {
	if m < 3 {
		return false
	}
	if w&0x3f == 0x3f || w&0x3f == 0x3b || w&0x3c == 0x3c {
		return false
	}
	for j := 0; j < m-3; j++ {
		if w&0xf == 0 {
			return false
		}
		w >>= 2
	}
	if w == 0 || w == 0x04 || w&0xf == 0 {
		return false
	}
	return true
}

func revCompMmer(w uint64, m int) uint64 {
	var r uint64
	for i := 0; i < m; i++ {
		r = r<<2 | (3 - w&3)
		w >>= 2
	}
	return r
}
