package db

import (
	"bufio"
	"bytes"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
	"github.com/pkg/errors"
)

// KMC file layout.
//
//	<path>.kmc_pre: "KMCP" | LUT | signature map | header | version u32 |
//	                header_offset u32 | "KMCP"
//	<path>.kmc_suf: "KMCS" | records | "KMCS"
//
// The LUT holds n_bins*4^lut_prefix_length little-endian uint64 record
// indices followed by a guard equal to total_kmers. LUT[b*4^l+p] is the index
// of the first record of bin b whose k-mer starts with the l-symbol prefix p.
// The signature map (KMC2 only) holds 4^signature_len+1 little-endian uint32
// bin ids indexed by signature. header_offset is the distance from the start
// of the header to the header_offset field.
//
// A record is the packed k-mer with its leading prefix bytes removed, followed
// by a little-endian counter of counter_size bytes. Records are sorted by bin,
// then by k-mer; cursors merge the bins back into global k-mer order.
const (
	markerSize  = 4
	versionKMC1 = 0
	versionKMC2 = 0x200
)

var (
	preMarker = []byte("KMCP")
	sufMarker = []byte("KMCS")
)

// Compile-time interface check.
var _ Store = (*KMCStore)(nil)

// KMCStore is a [Store] over a pair of KMC files.
//
// In listing mode only the prefix file is kept in memory and every cursor
// streams the suffix file. In random-access mode the suffix records are
// loaded as well and [KMCStore.Get] binary-searches the LUT range selected by
// the k-mer's signature and prefix.
type KMCStore struct {
	header Header
	mode   Mode

	lut    []uint64
	sigMap []uint32
	nBins  int
	perBin int

	prefixBytes int // leading packed bytes resolved by the LUT
	suffixBytes int // packed bytes stored per record
	recordSize  int

	// records is the suffix file body; nil in listing mode.
	records []byte

	path    string
	sufPath string
	cfg     *Config
	logger  logger.Logger

	closed atomic.Bool
	mu     sync.RWMutex
}

// OpenKMC opens <path>.kmc_pre and <path>.kmc_suf in the given mode.
// KMC1 databases carry no signature map and can only be listed.
func OpenKMC(path string, mode Mode, opts ...Option) (*KMCStore, error) {
	cfg := newConfig(opts)
	log := cfg.logger("kmc")

	prePath, sufPath := path+".kmc_pre", path+".kmc_suf"

	pre, err := os.ReadFile(prePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, prePath)
		}
		return nil, errors.Wrapf(err, "db: reading %s", prePath)
	}

	s := &KMCStore{
		mode:    mode,
		path:    path,
		sufPath: sufPath,
		cfg:     cfg,
		logger:  log,
	}
	if err := s.parsePrefixFile(pre); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", prePath)
	}

	switch mode {
	case ModeListing:
		err = s.checkSuffixFile()
	case ModeRandomAccess:
		if s.header.Format == FormatKMC1 {
			return nil, fmt.Errorf("%w: %s has no signature map (KMC1), open it for listing", ErrWrongMode, path)
		}
		err = s.loadSuffixFile()
	default:
		return nil, fmt.Errorf("%w: %v", ErrWrongMode, mode)
	}
	if err != nil {
		return nil, err
	}

	log.Info("database opened",
		"path", path,
		"format", string(s.header.Format),
		"mode", mode.String(),
		"k", s.header.KmerLength,
		"kmers", s.header.TotalKmers,
	)
	return s, nil
}

func (s *KMCStore) parsePrefixFile(b []byte) error {
	n := len(b)
	if n < 2*markerSize+headerSize+8+8 {
		return fmt.Errorf("%w: prefix file truncated (%d bytes)", ErrDatabaseCorrupt, n)
	}
	if !bytes.Equal(b[:markerSize], preMarker) || !bytes.Equal(b[n-markerSize:], preMarker) {
		return fmt.Errorf("%w: bad prefix file marker", ErrDatabaseCorrupt)
	}

	le := binary.LittleEndian
	version := le.Uint32(b[n-12:])
	hdrOffset := le.Uint32(b[n-8:])
	if hdrOffset != headerSize+4 {
		return fmt.Errorf("%w: header offset %d", ErrDatabaseCorrupt, hdrOffset)
	}
	hdrStart := n - 8 - int(hdrOffset)

	h, err := decodeHeader(b[hdrStart : hdrStart+headerSize])
	if err != nil {
		return err
	}
	if err := h.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}

	switch version {
	case versionKMC1:
		h.Format = FormatKMC1
		if h.SignatureLen != 0 {
			return fmt.Errorf("%w: KMC1 database with signature length %d", ErrDatabaseCorrupt, h.SignatureLen)
		}
	case versionKMC2:
		h.Format = FormatKMC2
		if h.SignatureLen < 1 || h.SignatureLen > h.KmerLength || h.SignatureLen > maxStoredSignatureLen {
			return fmt.Errorf("%w: signature length %d", ErrDatabaseCorrupt, h.SignatureLen)
		}
	default:
		return fmt.Errorf("%w: unsupported version %#x", ErrDatabaseCorrupt, version)
	}

	lpl := h.LUTPrefixLength
	if lpl > maxLUTPrefixLength || lpl > h.KmerLength || (h.KmerLength-lpl)%4 != 0 {
		return fmt.Errorf("%w: lut prefix length %d for k=%d", ErrDatabaseCorrupt, lpl, h.KmerLength)
	}

	body := b[markerSize:hdrStart]
	sigEntries := 0
	if h.Format == FormatKMC2 {
		sigEntries = 1<<(2*h.SignatureLen) + 1
	}
	if len(body) < 4*sigEntries {
		return fmt.Errorf("%w: signature map truncated", ErrDatabaseCorrupt)
	}
	lutArea := body[:len(body)-4*sigEntries]
	sigArea := body[len(body)-4*sigEntries:]

	perBin := 1 << (2 * lpl)
	if len(lutArea)%8 != 0 {
		return fmt.Errorf("%w: LUT size %d", ErrDatabaseCorrupt, len(lutArea))
	}
	lutLen := len(lutArea) / 8
	if lutLen < perBin+1 || (lutLen-1)%perBin != 0 {
		return fmt.Errorf("%w: LUT has %d entries for prefix length %d", ErrDatabaseCorrupt, lutLen, lpl)
	}
	nBins := (lutLen - 1) / perBin
	if h.Format == FormatKMC1 && nBins != 1 {
		return fmt.Errorf("%w: KMC1 database with %d bins", ErrDatabaseCorrupt, nBins)
	}

	lut := make([]uint64, lutLen)
	for i := range lut {
		lut[i] = le.Uint64(lutArea[8*i:])
		if i > 0 && lut[i] < lut[i-1] {
			return fmt.Errorf("%w: LUT not monotonic at %d", ErrDatabaseCorrupt, i)
		}
	}
	if lut[0] != 0 || lut[lutLen-1] != h.TotalKmers {
		return fmt.Errorf("%w: LUT guard %d, total k-mers %d", ErrDatabaseCorrupt, lut[lutLen-1], h.TotalKmers)
	}

	sigMap := make([]uint32, sigEntries)
	for i := range sigMap {
		sigMap[i] = le.Uint32(sigArea[4*i:])
		if int(sigMap[i]) >= nBins {
			return fmt.Errorf("%w: signature %d mapped to bin %d of %d", ErrDatabaseCorrupt, i, sigMap[i], nBins)
		}
	}

	pad := kmer.PackedSize(int(h.KmerLength))*4 - int(h.KmerLength)
	s.header = h
	s.lut = lut
	s.sigMap = sigMap
	s.nBins = nBins
	s.perBin = perBin
	s.prefixBytes = (pad + int(lpl)) / 4
	s.suffixBytes = int(h.KmerLength-lpl) / 4
	s.recordSize = s.suffixBytes + int(h.CounterSize)
	return nil
}

// checkSuffixFile verifies the size and both markers of the suffix file
// without reading the records.
func (s *KMCStore) checkSuffixFile() error {
	f, err := os.Open(s.sufPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, s.sufPath)
		}
		return errors.Wrapf(err, "db: opening %s", s.sufPath)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "db: stat %s", s.sufPath)
	}
	if err := s.checkSuffixSize(fi.Size()); err != nil {
		return err
	}

	var head, tail [markerSize]byte
	if _, err := f.ReadAt(head[:], 0); err != nil {
		return errors.Wrapf(err, "db: reading %s", s.sufPath)
	}
	if _, err := f.ReadAt(tail[:], fi.Size()-markerSize); err != nil {
		return errors.Wrapf(err, "db: reading %s", s.sufPath)
	}
	if !bytes.Equal(head[:], sufMarker) || !bytes.Equal(tail[:], sufMarker) {
		return fmt.Errorf("%w: bad suffix file marker in %s", ErrDatabaseCorrupt, s.sufPath)
	}
	return nil
}

func (s *KMCStore) loadSuffixFile() error {
	b, err := os.ReadFile(s.sufPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, s.sufPath)
		}
		return errors.Wrapf(err, "db: reading %s", s.sufPath)
	}
	if err := s.checkSuffixSize(int64(len(b))); err != nil {
		return err
	}
	if !bytes.Equal(b[:markerSize], sufMarker) || !bytes.Equal(b[len(b)-markerSize:], sufMarker) {
		return fmt.Errorf("%w: bad suffix file marker in %s", ErrDatabaseCorrupt, s.sufPath)
	}
	s.records = b[markerSize : len(b)-markerSize]
	return nil
}

func (s *KMCStore) checkSuffixSize(size int64) error {
	hi, body := bits.Mul64(s.header.TotalKmers, uint64(s.recordSize))
	if hi != 0 || body > math.MaxInt64-2*markerSize {
		return fmt.Errorf("%w: %d records of %d bytes overflow the suffix file size",
			ErrDatabaseCorrupt, s.header.TotalKmers, s.recordSize)
	}
	want := uint64(2*markerSize) + body
	if size < 2*markerSize || uint64(size) != want {
		return fmt.Errorf("%w: suffix file is %d bytes, want %d", ErrDatabaseCorrupt, size, want)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

func (s *KMCStore) Header() Header { return s.header }

func (s *KMCStore) Get(km *kmer.Kmer) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.records == nil {
		return 0, ErrWrongMode
	}
	if km.Len() != int(s.header.KmerLength) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrKmerLength, km.Len(), s.header.KmerLength)
	}

	sig, err := kmer.Signature(km, int(s.header.SignatureLen))
	if err != nil {
		return 0, err
	}

	var buf [kmer.MaxLength / 4]byte
	key := km.AppendBytes(buf[:0])
	prefix := 0
	for _, c := range key[:s.prefixBytes] {
		prefix = prefix<<8 | int(c)
	}
	suffix := key[s.prefixBytes:]

	slot := int(s.sigMap[sig])*s.perBin + prefix
	lo, hi := int(s.lut[slot]), int(s.lut[slot+1])
	i := lo + sort.Search(hi-lo, func(j int) bool {
		return bytes.Compare(s.suffixAt(lo+j), suffix) >= 0
	})
	if i < hi && bytes.Equal(s.suffixAt(i), suffix) {
		rec := s.records[i*s.recordSize:]
		return readCounter(rec[s.suffixBytes:s.recordSize]), nil
	}
	return 0, ErrKeyNotFound
}

func (s *KMCStore) suffixAt(i int) []byte {
	off := i * s.recordSize
	return s.records[off : off+s.suffixBytes]
}

// NewCursor returns a cursor yielding every record in ascending k-mer order.
// Records are sorted within a bin only, so the cursor merges one reader per
// bin.
func (s *KMCStore) NewCursor() (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	c := &kmcCursor{s: s}
	var f *os.File
	if s.records == nil {
		var err error
		f, err = os.Open(s.sufPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, s.sufPath)
			}
			return nil, errors.Wrapf(err, "db: opening %s", s.sufPath)
		}
		c.f = f
	}

	bufSize := max(s.cfg.ReadBufferSize/s.nBins, minBinBufferSize)
	c.bins = make(binHeap, 0, s.nBins)
	for b := 0; b < s.nBins; b++ {
		first, end := s.lut[b*s.perBin], s.lut[(b+1)*s.perBin]
		if first == end {
			continue
		}
		br := &binReader{
			idx:  first,
			end:  end,
			slot: b * s.perBin,
			rec:  make([]byte, s.recordSize),
			key:  make([]byte, s.prefixBytes+s.suffixBytes),
		}
		off, n := int64(first)*int64(s.recordSize), int64(end-first)*int64(s.recordSize)
		if f == nil {
			br.r = bytes.NewReader(s.records[off : off+n])
		} else {
			br.r = bufio.NewReaderSize(io.NewSectionReader(f, markerSize+off, n), bufSize)
		}
		c.bins = append(c.bins, br)
	}
	return c, nil
}

// Close releases the loaded records. Open cursors keep working on their own
// file handle or record slice and must be closed separately.
func (s *KMCStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	s.closed.Store(true)
	s.records = nil

	s.logger.Debug("database closed", "path", s.path)
	return nil
}

// ---------------------------------------------------------------------------
// Cursor implementation
// ---------------------------------------------------------------------------

// minBinBufferSize bounds the per-bin read buffer from below when the
// listing buffer is split across many bins.
const minBinBufferSize = 4 << 10

// binReader streams the records of one bin.
type binReader struct {
	r io.Reader

	rec   []byte
	key   []byte
	count uint64

	idx  uint64 // index of the next record
	end  uint64
	slot int // LUT slot of the current record
}

// next reads the following record of the bin and rebuilds its full packed
// key from the LUT slot.
func (b *binReader) next(s *KMCStore) (bool, error) {
	if b.idx == b.end {
		return false, nil
	}
	if _, err := io.ReadFull(b.r, b.rec); err != nil {
		return false, errors.Wrapf(err, "db: reading record %d of %s", b.idx, s.sufPath)
	}
	for s.lut[b.slot+1] <= b.idx {
		b.slot++
	}
	prefix := b.slot % s.perBin
	for i := s.prefixBytes - 1; i >= 0; i-- {
		b.key[i] = byte(prefix)
		prefix >>= 8
	}
	copy(b.key[s.prefixBytes:], b.rec[:s.suffixBytes])
	b.count = readCounter(b.rec[s.suffixBytes:])
	b.idx++
	return true, nil
}

// binHeap orders bin readers by their current key. A k-mer lives in exactly
// one bin, so keys never tie.
type binHeap []*binReader

func (h binHeap) Len() int           { return len(h) }
func (h binHeap) Less(i, j int) bool { return bytes.Compare(h[i].key, h[j].key) < 0 }
func (h binHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *binHeap) Push(x any)        { *h = append(*h, x.(*binReader)) }
func (h *binHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

type kmcCursor struct {
	s *KMCStore
	f *os.File

	bins    binHeap
	cur     *binReader
	started bool

	err  error
	done bool
}

func (c *kmcCursor) Next() bool {
	if c.done {
		return false
	}
	if !c.started {
		c.started = true
		live := c.bins[:0]
		for _, b := range c.bins {
			ok, err := b.next(c.s)
			if err != nil {
				return c.fail(err)
			}
			if ok {
				live = append(live, b)
			}
		}
		c.bins = live
		heap.Init(&c.bins)
	} else if c.cur != nil {
		ok, err := c.cur.next(c.s)
		switch {
		case err != nil:
			return c.fail(err)
		case ok:
			heap.Fix(&c.bins, 0)
		default:
			heap.Pop(&c.bins)
		}
	}
	if len(c.bins) == 0 {
		c.cur = nil
		c.done = true
		return false
	}
	c.cur = c.bins[0]
	return true
}

func (c *kmcCursor) fail(err error) bool {
	c.err = err
	c.cur = nil
	c.done = true
	return false
}

func (c *kmcCursor) Kmer(dst *kmer.Kmer) error {
	if dst.Len() != int(c.s.header.KmerLength) {
		return fmt.Errorf("%w: got %d, want %d", ErrKmerLength, dst.Len(), c.s.header.KmerLength)
	}
	if c.cur == nil {
		return fmt.Errorf("db: cursor not positioned on a record")
	}
	return dst.SetBytes(c.cur.key)
}

func (c *kmcCursor) Count() uint64 {
	if c.cur == nil {
		return 0
	}
	return c.cur.count
}

func (c *kmcCursor) Err() error { return c.err }

func (c *kmcCursor) Close() error {
	c.done = true
	c.cur = nil
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
