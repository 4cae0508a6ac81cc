package kmer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kmer package.
var (
	ErrInvalidSymbol   = errors.New("kmer: invalid symbol")
	ErrIndexOutOfRange = errors.New("kmer: index out of range")
	ErrInvalidLength   = errors.New("kmer: invalid length")
	ErrLengthMismatch  = errors.New("kmer: length mismatch")
	ErrInvalidWindow   = errors.New("kmer: invalid window length")
)

// SymbolError reports the offending character and its position in the input.
type SymbolError struct {
	Pos    int
	Symbol byte
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("kmer: invalid symbol %q at position %d", e.Symbol, e.Pos)
}

func (e *SymbolError) Unwrap() error {
	return ErrInvalidSymbol
}
