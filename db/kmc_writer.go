package db

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"slices"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
	"github.com/cespare/xxhash/v2"
	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
)

// DefaultSignatureLen is the signature length used when a KMC2 header leaves
// it unset.
const DefaultSignatureLen = 9

// KMCWriter collects k-mer counts in memory and writes them as a KMC
// database when closed.
//
//	w, err := db.NewKMCWriter("out/sample", db.Header{KmerLength: 25, CounterSize: 4})
//	...
//	w.Add(km, count)
//	err = w.Close()
type KMCWriter struct {
	path   string
	header Header

	nBins       int
	perBin      int
	prefixBytes int
	sigMap      []uint32

	recs []kmcRecord

	cfg    *Config
	logger logger.Logger
	closed bool
}

type kmcRecord struct {
	bin   uint32
	key   []byte
	count uint64
}

// NewKMCWriter prepares a database at path (the .kmc_pre/.kmc_suf suffixes
// are appended). h supplies the k-mer length, counter size, thresholds,
// strand folding and format (KMC2 unless FormatKMC1 is given). The LUT prefix
// length and total are filled in by the writer.
func NewKMCWriter(path string, h Header, opts ...Option) (*KMCWriter, error) {
	cfg := newConfig(opts)

	if err := h.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	k := int(h.KmerLength)

	nBins := 1
	switch h.Format {
	case FormatKMC1:
		h.SignatureLen = 0
	case "", FormatKMC2:
		h.Format = FormatKMC2
		if h.SignatureLen == 0 {
			h.SignatureLen = uint32(min(DefaultSignatureLen, k))
		}
		if int(h.SignatureLen) > k || h.SignatureLen > maxStoredSignatureLen {
			return nil, fmt.Errorf("%w: signature length %d for k=%d", ErrInvalidHeader, h.SignatureLen, k)
		}
		nBins = cfg.Bins
	default:
		return nil, fmt.Errorf("%w: format %q is not a KMC format", ErrInvalidHeader, h.Format)
	}

	lpl := cfg.LUTPrefixLength
	if lpl < 0 {
		lpl = k % 4
		if k-lpl >= 12 {
			lpl += 4
		}
	}
	if lpl > k || lpl > maxLUTPrefixLength || (k-lpl)%4 != 0 {
		return nil, fmt.Errorf("%w: lut prefix length %d for k=%d", ErrInvalidHeader, lpl, k)
	}
	h.LUTPrefixLength = uint32(lpl)
	h.TotalKmers = 0

	w := &KMCWriter{
		path:        path,
		header:      h,
		nBins:       nBins,
		perBin:      1 << (2 * lpl),
		prefixBytes: (kmer.PackedSize(k)*4 - k + lpl) / 4,
		cfg:         cfg,
		logger:      cfg.logger("kmc-writer"),
	}
	if h.Format == FormatKMC2 {
		w.sigMap = binMap(int(h.SignatureLen), nBins)
	}
	return w, nil
}

// binMap spreads the 4^m+1 signatures over n bins.
func binMap(m, n int) []uint32 {
	out := make([]uint32, 1<<(2*m)+1)
	var buf [8]byte
	for sig := range out {
		binary.LittleEndian.PutUint64(buf[:], uint64(sig))
		out[sig] = uint32(xxhash.Sum64(buf[:]) % uint64(n))
	}
	return out
}

// Add records km with the given count. The k-mer is stored as given.
func (w *KMCWriter) Add(km *kmer.Kmer, count uint64) error {
	if w.closed {
		return ErrClosed
	}
	if km.Len() != int(w.header.KmerLength) {
		return fmt.Errorf("%w: got %d, want %d", ErrKmerLength, km.Len(), w.header.KmerLength)
	}
	if count > w.header.MaxCounter() {
		return fmt.Errorf("%w: %d with %d-byte counters", ErrCounterOverflow, count, w.header.CounterSize)
	}

	var bin uint32
	if w.sigMap != nil {
		sig, err := kmer.Signature(km, int(w.header.SignatureLen))
		if err != nil {
			return err
		}
		bin = w.sigMap[sig]
	}
	w.recs = append(w.recs, kmcRecord{bin: bin, key: km.Bytes(), count: count})
	return nil
}

// Len returns the number of k-mers added so far.
func (w *KMCWriter) Len() int { return len(w.recs) }

// Header returns the header written by Close.
func (w *KMCWriter) Header() Header { return w.header }

// Close sorts the records and writes both files. No files are left behind
// when it fails.
func (w *KMCWriter) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	slices.SortFunc(w.recs, func(a, b kmcRecord) int {
		if a.bin != b.bin {
			return int(a.bin) - int(b.bin)
		}
		return bytes.Compare(a.key, b.key)
	})
	for i := 1; i < len(w.recs); i++ {
		if bytes.Equal(w.recs[i-1].key, w.recs[i].key) {
			return fmt.Errorf("%w: record %d", ErrDuplicateKmer, i)
		}
	}
	w.header.TotalKmers = uint64(len(w.recs))

	lut := make([]uint64, w.nBins*w.perBin+1)
	for _, r := range w.recs {
		lut[int(r.bin)*w.perBin+w.prefix(r.key)+1]++
	}
	for i := 1; i < len(lut); i++ {
		lut[i] += lut[i-1]
	}

	prePath, sufPath := w.path+".kmc_pre", w.path+".kmc_suf"
	if err := writeFile(sufPath, w.writeSuffix); err != nil {
		return err
	}
	err := writeFile(prePath, func(bw *bufio.Writer) error {
		return w.writePrefix(bw, lut)
	})
	if err != nil {
		os.Remove(sufPath)
		return err
	}

	w.logger.Info("database written",
		"path", w.path,
		"format", string(w.header.Format),
		"k", w.header.KmerLength,
		"kmers", w.header.TotalKmers,
		"bins", w.nBins,
	)
	w.recs = nil
	return nil
}

func (w *KMCWriter) prefix(key []byte) int {
	p := 0
	for _, c := range key[:w.prefixBytes] {
		p = p<<8 | int(c)
	}
	return p
}

func (w *KMCWriter) writePrefix(bw *bufio.Writer, lut []uint64) error {
	le := binary.LittleEndian
	var buf [8]byte

	bw.Write(preMarker)
	for _, v := range lut {
		le.PutUint64(buf[:], v)
		bw.Write(buf[:8])
	}
	for _, b := range w.sigMap {
		le.PutUint32(buf[:], b)
		bw.Write(buf[:4])
	}
	bw.Write(w.header.encode())

	version := uint32(versionKMC2)
	if w.header.Format == FormatKMC1 {
		version = versionKMC1
	}
	le.PutUint32(buf[:], version)
	bw.Write(buf[:4])
	le.PutUint32(buf[:], headerSize+4)
	bw.Write(buf[:4])
	_, err := bw.Write(preMarker)
	return err
}

func (w *KMCWriter) writeSuffix(bw *bufio.Writer) error {
	var bar *pb.ProgressBar
	if w.cfg.Progress {
		bar = pb.Full.New(len(w.recs)).SetWriter(w.cfg.ProgressWriter).Start()
		defer bar.Finish()
	}

	counter := make([]byte, w.header.CounterSize)
	bw.Write(sufMarker)
	for _, r := range w.recs {
		bw.Write(r.key[w.prefixBytes:])
		putCounter(counter, r.count)
		if _, err := bw.Write(counter); err != nil {
			return err
		}
		if bar != nil {
			bar.Increment()
		}
	}
	_, err := bw.Write(sufMarker)
	return err
}

// writeFile creates path, runs fill on a buffered writer and flushes it. The
// file is removed if any step fails.
func writeFile(path string, fill func(*bufio.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "db: creating %s", path)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	if err = fill(bw); err != nil {
		return errors.Wrapf(err, "db: writing %s", path)
	}
	if err = bw.Flush(); err != nil {
		return errors.Wrapf(err, "db: writing %s", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "db: closing %s", path)
	}
	return nil
}
