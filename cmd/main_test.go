package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

// writeDB stores five 5-mers with counts 1..5.
func writeDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	w, err := db.NewKMCWriter(path, db.Header{KmerLength: 5, CounterSize: 1, SignatureLen: 5}, db.WithBins(1))
	require.NoError(t, err)
	for i, s := range []string{"AAAAA", "ACGTA", "CCCCC", "GATTA", "TTTTG"} {
		km, err := kmer.FromString(s)
		require.NoError(t, err)
		require.NoError(t, w.Add(km, uint64(i+1)))
	}
	require.NoError(t, w.Close())
	return path
}

func TestDump(t *testing.T) {
	path := writeDB(t)

	out, err := run(t, "dump", path)
	require.NoError(t, err)
	assert.Equal(t, "AAAAA\t1\nACGTA\t2\nCCCCC\t3\nGATTA\t4\nTTTTG\t5\n", out)

	out, err = run(t, "dump", "--ci", "2", "--cx", "4", path)
	require.NoError(t, err)
	assert.Equal(t, "ACGTA\t2\nCCCCC\t3\nGATTA\t4\n", out)

	_, err = run(t, "dump", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, db.ErrFileNotFound)
}

func TestInfo(t *testing.T) {
	out, err := run(t, "info", writeDB(t))
	require.NoError(t, err)
	assert.Contains(t, out, "format:            kmc2\n")
	assert.Contains(t, out, "k-mer length:      5\n")
	assert.Contains(t, out, "max count:         unbounded\n")
	assert.Contains(t, out, "strands:           forward\n")
	assert.Contains(t, out, "total k-mers:      5\n")
}

func TestCheck(t *testing.T) {
	path := writeDB(t)
	out, err := run(t, "check", path, "GATTA", "GGGGG")
	require.NoError(t, err)
	assert.Equal(t, "GATTA\t4\nGGGGG\t0\n", out)

	_, err = run(t, "check", path, "GATT")
	assert.Error(t, err)
}

func TestCounters(t *testing.T) {
	path := writeDB(t)
	reads := filepath.Join(t.TempDir(), "reads.fa")
	require.NoError(t, os.WriteFile(reads, []byte(">r1\nAAAAAC\n>r2\nGATTAN\n>short\nACG\n"), 0o644))

	out, err := run(t, "counters", path, reads)
	require.NoError(t, err)
	assert.Equal(t, "r1\t1\t0\nr2\t4\t0\nshort\n", out)
}

func TestCountAndImport(t *testing.T) {
	dir := t.TempDir()
	reads := filepath.Join(dir, "reads.fa")
	require.NoError(t, os.WriteFile(reads, []byte(">r\nACGTACGTACGT\n"), 0o644))
	out := filepath.Join(dir, "counted")

	stats, err := run(t, "count", "-k", "4", "-p", "3", "--ci", "1", "-o", out, reads)
	require.NoError(t, err)
	assert.Contains(t, stats, "k-mers: 9\n")

	dump, err := run(t, "dump", out)
	require.NoError(t, err)
	// ACGT is its own reverse complement; TACG folds onto CGTA.
	want := []string{"ACGT\t3", "CGTA\t4", "GTAC\t2"}
	assert.ElementsMatch(t, want, strings.Split(strings.TrimSpace(dump), "\n"))

	pdir := filepath.Join(dir, "pebble")
	_, err = run(t, "import", out, pdir)
	require.NoError(t, err)
	dump, err = run(t, "dump", pdir)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(want, "\n")+"\n", dump)

	_, err = run(t, "import", out, pdir)
	assert.Error(t, err, "import refuses an existing directory")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "brewery-kmc version "))
}
