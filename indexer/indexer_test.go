package indexer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
	"github.com/beyondbrewing/brewery-kmc/session"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reads = []string{
	"GGCATTGCATGCAGTNNCAGTCATGCAGTCAGGCAGTCATGGCATGCAACGACGATCAGTCATGGTCGAG",
	"GGCATTGCATGCAGTNNCAGTCATGCAGTCAGGCAGTCATGGCATGCAACGACGATCAGTCATGGTCGAG",
	"gtcgatgcatcgatgctgatgctgctgtgctagtagcgtctgagggcta",
}

func revComp(s string) string {
	comp := strings.NewReplacer("A", "T", "C", "G", "G", "C", "T", "A")
	b := []byte(comp.Replace(s))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func expected(k int, both bool) map[string]uint64 {
	out := make(map[string]uint64)
	for _, read := range reads {
		read = strings.ToUpper(read)
		for i := 0; i+k <= len(read); i++ {
			w := read[i : i+k]
			if strings.ContainsRune(w, 'N') {
				continue
			}
			if rc := revComp(w); both && rc < w {
				w = rc
			}
			out[w]++
		}
	}
	return out
}

func writeFASTA(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	for i, r := range reads[:2] {
		b.WriteString(">r")
		b.WriteByte(byte('0' + i))
		b.WriteString("\n" + r[:30] + "\n" + r[30:] + "\n")
	}
	path := filepath.Join(dir, "a.fa")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeFASTQGzip(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	r := reads[2]
	_, err := w.Write([]byte("@q\n" + r + "\n+\n" + strings.Repeat("I", len(r)) + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	path := filepath.Join(dir, "b.fq.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func list(t *testing.T, path string) (session.Info, map[string]uint64) {
	t.Helper()
	l := session.NewListing()
	require.NoError(t, l.Open(path))
	defer l.Close()

	info, err := l.Info()
	require.NoError(t, err)
	km, err := kmer.New(int(info.KmerLength))
	require.NoError(t, err)
	got := make(map[string]uint64)
	var c uint64
	for {
		ok, err := l.ReadNextKmer(km, &c)
		require.NoError(t, err)
		if !ok {
			break
		}
		got[km.String()] = c
	}
	return info, got
}

func TestRun(t *testing.T) {
	tests := []struct {
		name   string
		k      int
		both   bool
		format db.Format
	}{
		{"canonical kmc2", 17, true, db.FormatKMC2},
		{"forward kmc2", 11, false, db.FormatKMC2},
		{"canonical kmc1", 21, true, db.FormatKMC1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "db")
			idx, err := New(
				WithInputs(writeFASTA(t, dir), writeFASTQGzip(t, dir)),
				WithOutput(out),
				WithKmerLength(tt.k),
				WithSignatureLen(7),
				WithCutoffs(1, 0),
				WithBothStrands(tt.both),
				WithFormat(tt.format),
				WithWorkers(2),
				WithLogger(logger.NewNop()),
				WithDBOptions(db.WithBins(8)),
			)
			require.NoError(t, err)
			require.NoError(t, idx.Run(context.Background()))

			want := expected(tt.k, tt.both)
			st := idx.Stats()
			assert.Equal(t, uint64(3), st.Records)
			assert.Equal(t, uint64(len(want)), st.Distinct)
			assert.Equal(t, uint64(len(want)), st.Written)

			info, got := list(t, out)
			assert.Equal(t, tt.format, info.Format)
			assert.Equal(t, tt.both, info.BothStrands)
			assert.Equal(t, uint32(4), info.CounterSize)
			assert.Equal(t, want, got)
		})
	}
}

func TestRunCutoffsAndSaturation(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "poly.fa")
	// AAAAA occurs 296 times, the ACGTT-derived k-mers once or twice.
	seq := strings.Repeat("A", 300) + "N" + "ACGTTACGTT"
	require.NoError(t, os.WriteFile(in, []byte(">p\n"+seq+"\n"), 0o644))

	out := filepath.Join(dir, "db")
	idx, err := New(
		WithInputs(in),
		WithOutput(out),
		WithKmerLength(5),
		WithSignatureLen(5),
		WithCounterSize(1),
		WithCutoffs(2, 0),
		WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)
	require.NoError(t, idx.Run(context.Background()))

	info, got := list(t, out)
	assert.Equal(t, uint32(2), info.MinCount)
	assert.Equal(t, uint64(255), got["AAAAA"], "counters saturate at the counter width")
	for s, c := range got {
		assert.GreaterOrEqual(t, c, uint64(2), s)
	}
	assert.NotZero(t, idx.Stats().BelowMin)

	// An upper cutoff drops the saturated k-mer entirely.
	out2 := filepath.Join(dir, "db2")
	idx, err = New(
		WithInputs(in),
		WithOutput(out2),
		WithKmerLength(5),
		WithSignatureLen(5),
		WithCutoffs(1, 100),
		WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)
	require.NoError(t, idx.Run(context.Background()))
	_, got = list(t, out2)
	assert.NotContains(t, got, "AAAAA")
	assert.Equal(t, uint64(1), idx.Stats().AboveMax)
}

func TestRunPebbleOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "db")
	pdir := filepath.Join(dir, "pebble")
	idx, err := New(
		WithInputs(writeFASTA(t, dir)),
		WithOutput(out),
		WithPebbleOutput(pdir),
		WithKmerLength(15),
		WithCutoffs(1, 0),
		WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)
	require.NoError(t, idx.Run(context.Background()))

	_, fromKMC := list(t, out)
	info, fromPebble := list(t, pdir)
	assert.Equal(t, db.FormatPebble, info.Format)
	assert.Equal(t, fromKMC, fromPebble)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "db")
	idx, err := New(
		WithInputs(writeFASTA(t, dir)),
		WithOutput(out),
		WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, idx.Run(ctx), context.Canceled)
	_, err = os.Stat(out + ".kmc_pre")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunInputErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.fa")
	require.NoError(t, os.WriteFile(bad, []byte("not a sequence file\n"), 0o644))

	for _, in := range []string{bad, filepath.Join(dir, "missing.fa")} {
		idx, err := New(
			WithInputs(in),
			WithOutput(filepath.Join(dir, "db")),
			WithLogger(logger.NewNop()),
		)
		require.NoError(t, err)
		assert.Error(t, idx.Run(context.Background()), in)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		err  error
	}{
		{"no inputs", []Option{WithOutput("x")}, ErrNoInputs},
		{"no output", []Option{WithInputs("a.fa")}, ErrInvalidConfig},
		{"zero k", []Option{WithInputs("a.fa"), WithOutput("x"), WithKmerLength(0)}, ErrInvalidConfig},
		{"wide counter", []Option{WithInputs("a.fa"), WithOutput("x"), WithCounterSize(9)}, ErrInvalidConfig},
		{"inverted cutoffs", []Option{WithInputs("a.fa"), WithOutput("x"), WithCutoffs(10, 5)}, ErrInvalidConfig},
		{"long signature", []Option{WithInputs("a.fa"), WithOutput("x"), WithKmerLength(5), WithSignatureLen(7)}, ErrInvalidConfig},
		{"pebble format", []Option{WithInputs("a.fa"), WithOutput("x"), WithFormat(db.FormatPebble)}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	idx, err := New(WithInputs("a.fa"), WithOutput("x"), WithWorkers(-1), WithProgress(false, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.cfg.Workers)
	assert.Equal(t, os.Stderr, idx.cfg.ProgressWriter)
}
