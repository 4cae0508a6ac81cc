// Package kmer implements the packed DNA k-mer used by every brewery-kmc
// database: 2 bits per symbol (A=0, C=1, G=2, T=3), most significant symbol
// first.
//
// A k-mer of length k occupies ceil(k/4) bytes. The first byte starts with
// (4 - k%4) % 4 zero "alignment" symbols so that the last symbol always ends
// on a byte boundary. Alignment bits are kept zero, which makes bytes.Compare
// on two packed k-mers of equal length agree with the lexicographic symbol
// order, and lets the packed bytes serve directly as sorted store keys.
package kmer

import (
	"bytes"
	"fmt"
)

// MaxLength is the longest supported k-mer.
const MaxLength = 256

// Numeric symbol codes.
const (
	A uint8 = iota
	C
	G
	T
)

const letters = "ACGT"

var codes [256]int8

func init() {
	for i := range codes {
		codes[i] = -1
	}
	codes['A'], codes['a'] = 0, 0
	codes['C'], codes['c'] = 1, 1
	codes['G'], codes['g'] = 2, 2
	codes['T'], codes['t'] = 3, 3
}

// Code maps a nucleotide letter to its numeric code. Lowercase letters are
// accepted; anything outside ACGT reports false.
func Code(b byte) (uint8, bool) {
	c := codes[b]
	if c < 0 {
		return 0, false
	}
	return uint8(c), true
}

// Kmer is a fixed-length packed nucleotide sequence. The zero value is not
// usable; create one with New or FromString. A Kmer is not safe for
// concurrent mutation.
type Kmer struct {
	k    int
	pad  int
	data []byte
}

// New returns an all-A k-mer of length k.
func New(k int) (*Kmer, error) {
	if k < 1 || k > MaxLength {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidLength, k, MaxLength)
	}
	pad := (4 - k%4) % 4
	return &Kmer{
		k:    k,
		pad:  pad,
		data: make([]byte, (k+pad)/4),
	}, nil
}

// FromString packs s into a new k-mer of length len(s).
func FromString(s string) (*Kmer, error) {
	x, err := New(len(s))
	if err != nil {
		return nil, err
	}
	if err := x.Set(s); err != nil {
		return nil, err
	}
	return x, nil
}

// PackedSize returns the number of bytes used by a k-mer of length k.
func PackedSize(k int) int {
	return (k + 3) / 4
}

// Len returns k.
func (x *Kmer) Len() int { return x.k }

// Set overwrites x with the symbols of s. The k-mer is left unchanged when s
// has the wrong length or contains a symbol outside ACGT.
func (x *Kmer) Set(s string) error {
	if len(s) != x.k {
		return fmt.Errorf("%w: got %d symbols, want %d", ErrLengthMismatch, len(s), x.k)
	}
	for i := 0; i < len(s); i++ {
		if codes[s[i]] < 0 {
			return &SymbolError{Pos: i, Symbol: s[i]}
		}
	}
	clear(x.data)
	for i := 0; i < len(s); i++ {
		x.set(i, uint8(codes[s[i]]))
	}
	return nil
}

// String returns the uppercase ACGT form.
func (x *Kmer) String() string {
	out := make([]byte, x.k)
	for i := range out {
		out[i] = letters[x.get(i)]
	}
	return string(out)
}

// SymbolAt returns the letter at position i.
func (x *Kmer) SymbolAt(i int) (byte, error) {
	c, err := x.NumericSymbolAt(i)
	if err != nil {
		return 0, err
	}
	return letters[c], nil
}

// NumericSymbolAt returns the code (0..3) at position i.
func (x *Kmer) NumericSymbolAt(i int) (uint8, error) {
	if i < 0 || i >= x.k {
		return 0, fmt.Errorf("%w: %d (k=%d)", ErrIndexOutOfRange, i, x.k)
	}
	return x.get(i), nil
}

// ReverseComplement replaces x with its reverse complement.
func (x *Kmer) ReverseComplement() {
	for i, j := 0, x.k-1; i <= j; i, j = i+1, j-1 {
		a, b := x.get(i), x.get(j)
		x.set(i, 3-b)
		x.set(j, 3-a)
	}
}

// ReverseComplement returns the reverse complement of x as a new k-mer.
func ReverseComplement(x *Kmer) *Kmer {
	rc := x.Clone()
	rc.ReverseComplement()
	return rc
}

// Canonicalize replaces x with the smaller of x and its reverse complement.
// Self-complementary k-mers are left as they are.
func (x *Kmer) Canonicalize() {
	var buf [MaxLength / 4]byte
	rc := buf[:len(x.data)]
	x.revCompInto(rc)
	if bytes.Compare(rc, x.data) < 0 {
		copy(x.data, rc)
	}
}

// Canonical returns min(x, reverse complement of x) as a new k-mer.
func Canonical(x *Kmer) *Kmer {
	c := x.Clone()
	c.Canonicalize()
	return c
}

// IsCanonical reports whether x is not greater than its reverse complement.
func (x *Kmer) IsCanonical() bool {
	var buf [MaxLength / 4]byte
	rc := buf[:len(x.data)]
	x.revCompInto(rc)
	return bytes.Compare(x.data, rc) <= 0
}

// Compare orders k-mers lexicographically with A < C < G < T. K-mers of
// different length are ordered by length.
func Compare(a, b *Kmer) int {
	switch {
	case a.k < b.k:
		return -1
	case a.k > b.k:
		return 1
	}
	return bytes.Compare(a.data, b.data)
}

// Less reports whether x sorts before y.
func (x *Kmer) Less(y *Kmer) bool { return Compare(x, y) < 0 }

// Equal reports whether x and y hold the same symbols.
func (x *Kmer) Equal(y *Kmer) bool { return Compare(x, y) == 0 }

// Clone returns an independent copy.
func (x *Kmer) Clone() *Kmer {
	c := &Kmer{k: x.k, pad: x.pad, data: make([]byte, len(x.data))}
	copy(c.data, x.data)
	return c
}

// CopyFrom overwrites x with src. Both must have the same length.
func (x *Kmer) CopyFrom(src *Kmer) error {
	if src.k != x.k {
		return fmt.Errorf("%w: got %d symbols, want %d", ErrLengthMismatch, src.k, x.k)
	}
	copy(x.data, src.data)
	return nil
}

// Bytes returns a copy of the packed representation.
func (x *Kmer) Bytes() []byte {
	out := make([]byte, len(x.data))
	copy(out, x.data)
	return out
}

// AppendBytes appends the packed representation to dst.
func (x *Kmer) AppendBytes(dst []byte) []byte {
	return append(dst, x.data...)
}

// SetBytes loads a packed representation produced by Bytes. Alignment bits
// in the first byte are ignored.
func (x *Kmer) SetBytes(b []byte) error {
	if len(b) != len(x.data) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(b), len(x.data))
	}
	copy(x.data, b)
	x.data[0] &= 0xff >> (2 * x.pad)
	return nil
}

// Uint64 returns the k-mer as a base-4 number. It reports false when k > 32.
func (x *Kmer) Uint64() (uint64, bool) {
	if x.k > 32 {
		return 0, false
	}
	var v uint64
	for _, b := range x.data {
		v = v<<8 | uint64(b)
	}
	return v, true
}

// ShiftIn drops the first symbol and appends code at the end.
func (x *Kmer) ShiftIn(code uint8) {
	n := len(x.data)
	for j := 0; j < n-1; j++ {
		x.data[j] = x.data[j]<<2 | x.data[j+1]>>6
	}
	x.data[n-1] = x.data[n-1]<<2 | code&3
	x.data[0] &= 0xff >> (2 * x.pad)
}

// PushFront drops the last symbol and inserts code at position 0.
func (x *Kmer) PushFront(code uint8) {
	n := len(x.data)
	for j := n - 1; j > 0; j-- {
		x.data[j] = x.data[j]>>2 | x.data[j-1]<<6
	}
	x.data[0] >>= 2
	x.set(0, code&3)
}

func (x *Kmer) get(i int) uint8 {
	p := x.pad + i
	return (x.data[p>>2] >> (6 - 2*(p&3))) & 3
}

func (x *Kmer) set(i int, code uint8) {
	setIn(x.data, x.pad+i, code)
}

// revCompInto writes the packed reverse complement of x into dst.
func (x *Kmer) revCompInto(dst []byte) {
	clear(dst)
	for i := 0; i < x.k; i++ {
		setIn(dst, x.pad+x.k-1-i, 3-x.get(i))
	}
}

func setIn(data []byte, p int, code uint8) {
	shift := 6 - 2*(p&3)
	data[p>>2] = data[p>>2]&^(3<<shift) | code<<shift
}
