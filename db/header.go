package db

import (
	"encoding/binary"
	"fmt"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
)

// headerSize is the encoded size of a Header:
//
//	kmer_length u32 | mode u32 | counter_size u32 | lut_prefix_length u32 |
//	signature_len u32 | min_count u32 | max_count (low) u32 | total_kmers u64 |
//	both_strands u8 + 3 pad | max_count (high) u32
const headerSize = 44

// maxLUTPrefixLength bounds the LUT to 4^12 entries per bin.
const maxLUTPrefixLength = 12

// maxStoredSignatureLen bounds the signature map to 4^14+1 entries.
const maxStoredSignatureLen = 14

// Header holds the database-wide parameters.
type Header struct {
	KmerLength      uint32
	Mode            uint32
	CounterSize     uint32
	LUTPrefixLength uint32
	SignatureLen    uint32
	MinCount        uint32
	// MaxCount is the largest count kept by the builder; 0 means unbounded.
	MaxCount    uint64
	TotalKmers  uint64
	BothStrands bool
	Format      Format
}

// MaxCounter returns the largest value the counter width can hold.
func (h Header) MaxCounter() uint64 {
	if h.CounterSize >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*h.CounterSize) - 1
}

// validate checks the fields every backend relies on. Readers wrap the
// result in ErrDatabaseCorrupt, writers in ErrInvalidHeader. The KMC layout
// constraints on the LUT prefix and signature are checked separately.
func (h Header) validate() error {
	if h.KmerLength < 1 || h.KmerLength > kmer.MaxLength {
		return fmt.Errorf("k-mer length %d", h.KmerLength)
	}
	if h.Mode != 0 {
		return fmt.Errorf("unsupported quality-aware mode %d", h.Mode)
	}
	if h.CounterSize < 1 || h.CounterSize > 8 {
		return fmt.Errorf("counter size %d", h.CounterSize)
	}
	return nil
}

func (h Header) encode() []byte {
	b := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.KmerLength)
	le.PutUint32(b[4:], h.Mode)
	le.PutUint32(b[8:], h.CounterSize)
	le.PutUint32(b[12:], h.LUTPrefixLength)
	le.PutUint32(b[16:], h.SignatureLen)
	le.PutUint32(b[20:], h.MinCount)
	le.PutUint32(b[24:], uint32(h.MaxCount))
	le.PutUint64(b[28:], h.TotalKmers)
	if h.BothStrands {
		b[36] = 1
	}
	le.PutUint32(b[40:], uint32(h.MaxCount>>32))
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) != headerSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrDatabaseCorrupt, len(b), headerSize)
	}
	le := binary.LittleEndian
	h := Header{
		KmerLength:      le.Uint32(b[0:]),
		Mode:            le.Uint32(b[4:]),
		CounterSize:     le.Uint32(b[8:]),
		LUTPrefixLength: le.Uint32(b[12:]),
		SignatureLen:    le.Uint32(b[16:]),
		MinCount:        le.Uint32(b[20:]),
		MaxCount:        uint64(le.Uint32(b[40:]))<<32 | uint64(le.Uint32(b[24:])),
		TotalKmers:      le.Uint64(b[28:]),
	}
	switch b[36] {
	case 0:
	case 1:
		h.BothStrands = true
	default:
		return Header{}, fmt.Errorf("%w: both_strands flag %d", ErrDatabaseCorrupt, b[36])
	}
	return h, nil
}

// putCounter writes v little-endian into b.
func putCounter(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

// readCounter decodes a little-endian counter of len(b) bytes.
func readCounter(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
