package session

import "github.com/beyondbrewing/brewery-kmc/db"

// Info describes an opened database. It is read once at open time and does
// not change for the life of the session.
type Info struct {
	KmerLength      uint32
	Mode            uint32
	CounterSize     uint32
	LUTPrefixLength uint32
	SignatureLen    uint32
	MinCount        uint32
	// MaxCount is the builder's upper cutoff; 0 means unbounded.
	MaxCount    uint64
	BothStrands bool
	TotalKmers  uint64
	Format      db.Format
}

func infoFromHeader(h db.Header) Info {
	return Info{
		KmerLength:      h.KmerLength,
		Mode:            h.Mode,
		CounterSize:     h.CounterSize,
		LUTPrefixLength: h.LUTPrefixLength,
		SignatureLen:    h.SignatureLen,
		MinCount:        h.MinCount,
		MaxCount:        h.MaxCount,
		BothStrands:     h.BothStrands,
		TotalKmers:      h.TotalKmers,
		Format:          h.Format,
	}
}
