// Package seqio reads nucleotide records from FASTA and FASTQ streams.
// Inputs may be plain, gzip or zstd compressed; the compression and the
// record format are detected from the leading bytes. Record parsing is done
// by the fastx reader of github.com/shenwei356/bio.
//
//	r, err := seqio.Open("reads.fq.gz")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//	for r.Next() {
//		rec := r.Record()
//		fmt.Println(rec.ID, len(rec.Seq))
//	}
//	if err := r.Err(); err != nil {
//		return err
//	}
package seqio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
)

var (
	// ErrFormat reports input that is neither FASTA nor FASTQ, or a FASTQ
	// record whose quality line does not match its sequence.
	ErrFormat = errors.New("seqio: malformed input")
)

// Format is the record syntax of an input.
type Format int

const (
	FormatUnknown Format = iota
	FormatFASTA
	FormatFASTQ
)

func (f Format) String() string {
	switch f {
	case FormatFASTA:
		return "fasta"
	case FormatFASTQ:
		return "fastq"
	default:
		return "unknown"
	}
}

// Record is one sequence. Seq is only valid until the next call to Next.
type Record struct {
	ID  string
	Seq []byte
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

const readBufferSize = 1 << 20

// Reader iterates the records of one input.
type Reader struct {
	format  Format
	fx      *fastx.Reader
	src     *sourceReader
	closers []io.Closer

	rec  Record
	n    int
	err  error
	done bool
}

// sourceReader remembers the first error of the decompressed stream so that
// I/O failures are not reported as malformed records.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

// Open opens path for reading; "-" reads standard input.
func Open(path string) (*Reader, error) {
	if path == "-" {
		return NewReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seqio: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closers = append(r.closers, f)
	return r, nil
}

// NewReader wraps src, decompressing it if needed. Closing the returned
// Reader does not close src.
func NewReader(src io.Reader) (*Reader, error) {
	raw := bufio.NewReaderSize(src, readBufferSize)
	magic, _ := raw.Peek(len(zstdMagic))

	r := &Reader{}
	var br *bufio.Reader
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("seqio: gzip: %w", err)
		}
		br = bufio.NewReaderSize(gz, readBufferSize)
		r.closers = append(r.closers, gz)
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("seqio: zstd: %w", err)
		}
		br = bufio.NewReaderSize(zr, readBufferSize)
		r.closers = append(r.closers, zr.IOReadCloser())
	default:
		br = raw
	}

	first, err := br.Peek(1)
	switch {
	case len(first) == 0 && (err == nil || errors.Is(err, io.EOF)):
		r.done = true
		return r, nil
	case err != nil:
		r.Close()
		return nil, fmt.Errorf("seqio: %w", err)
	case first[0] == '>':
		r.format = FormatFASTA
	case first[0] == '@':
		r.format = FormatFASTQ
	default:
		r.Close()
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrFormat, first[0])
	}

	// Symbols are checked by the k-mer layer, which skips windows holding
	// anything outside ACGT.
	r.src = &sourceReader{r: br}
	fx, err := fastx.NewReaderFromIO(seq.Unlimit, r.src, "")
	if err != nil {
		r.Close()
		if r.src.err != nil {
			return nil, fmt.Errorf("seqio: %w", r.src.err)
		}
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	r.fx = fx
	return r, nil
}

// Format returns the detected record syntax; FormatUnknown for empty input.
func (r *Reader) Format() Format { return r.format }

// Next advances to the next record. It returns false at the end of the input
// or on error; Err tells the two apart.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	rec, err := r.fx.Read()
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) || r.src.err != nil {
			r.fail(err)
		}
		return false
	}
	r.n++

	s := rec.Seq
	if r.format == FormatFASTQ && len(s.Qual) != len(s.Seq) {
		r.done = true
		r.err = fmt.Errorf("%w: record %d (%s): %d quality symbols for %d bases",
			ErrFormat, r.n, rec.ID, len(s.Qual), len(s.Seq))
		return false
	}
	r.rec.ID = string(rec.ID)
	r.rec.Seq = append(r.rec.Seq[:0], s.Seq...)
	return true
}

func (r *Reader) fail(err error) {
	if r.src != nil && r.src.err != nil {
		r.err = fmt.Errorf("seqio: record %d: %w", r.n+1, r.src.err)
		return
	}
	r.err = fmt.Errorf("%w: record %d: %v", ErrFormat, r.n+1, err)
}

// Record returns the current record.
func (r *Reader) Record() Record { return r.rec }

// Err returns the first error met while reading, if any.
func (r *Reader) Err() error { return r.err }

// Close releases the decompressor and the underlying file when the Reader
// opened it.
func (r *Reader) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if cerr := r.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	r.closers = nil
	return err
}
