package session

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/stretchr/testify/require"
)

const testK = 17

var testReads = []string{
	"GGCATTGCATGCAGTNNCAGTCATGCAGTCAGGCAGTCATGGCATGCAACGACGATCAGTCATGGTCGAG",
	"GGCATTGCATGCAGTNNCAGTCATGCAGTCAGGCAGTCATGGCATGCAACGACGATCAGTCATGGTCGAG",
	"GTCGATGCATCGATGCTGATGCTGCTGTGCTAGTAGCGTCTGAGGGCTA",
}

func revComp(s string) string {
	comp := strings.NewReplacer("A", "T", "C", "G", "G", "C", "T", "A")
	b := []byte(comp.Replace(s))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func canonicalString(s string) string {
	if rc := revComp(s); rc < s {
		return rc
	}
	return s
}

// referenceCounts tallies k-mers on plain strings, skipping windows with N.
func referenceCounts(reads []string, k int, bothStrands bool) map[string]uint64 {
	out := make(map[string]uint64)
	for _, read := range reads {
		for i := 0; i+k <= len(read); i++ {
			w := read[i : i+k]
			if strings.ContainsRune(w, 'N') {
				continue
			}
			if bothStrands {
				w = canonicalString(w)
			}
			out[w]++
		}
	}
	return out
}

// absentKmers returns single-symbol variants of the stored k-mers that are
// not stored themselves in either orientation.
func absentKmers(counts map[string]uint64) []string {
	next := map[byte]byte{'A': 'C', 'C': 'G', 'G': 'T', 'T': 'A'}
	seen := make(map[string]bool)
	var out []string
	for s := range counts {
		for i := 0; i < len(s); i++ {
			v := s[:i] + string(next[s[i]]) + s[i+1:]
			if _, ok := counts[canonicalString(v)]; ok || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func mustKmer(t *testing.T, s string) *kmer.Kmer {
	t.Helper()
	km, err := kmer.FromString(s)
	require.NoError(t, err)
	return km
}

// buildDB writes counts as a KMC database and returns its base path.
func buildDB(t *testing.T, h db.Header, counts map[string]uint64, opts ...db.Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmc_db")
	w, err := db.NewKMCWriter(path, h, opts...)
	require.NoError(t, err)
	for s, c := range counts {
		require.NoError(t, w.Add(mustKmer(t, s), c))
	}
	require.NoError(t, w.Close())
	return path
}

// buildReadsDB builds the both-strands database of testReads.
func buildReadsDB(t *testing.T, format db.Format) (string, map[string]uint64) {
	t.Helper()
	counts := referenceCounts(testReads, testK, true)
	h := db.Header{
		KmerLength:   testK,
		CounterSize:  1,
		SignatureLen: 9,
		MinCount:     1,
		BothStrands:  true,
		Format:       format,
	}
	return buildDB(t, h, counts), counts
}

// listAll drains l into a map.
func listAll(t *testing.T, l *Listing) map[string]uint64 {
	t.Helper()
	info, err := l.Info()
	require.NoError(t, err)
	km, err := kmer.New(int(info.KmerLength))
	require.NoError(t, err)

	got := make(map[string]uint64)
	var count uint64
	for {
		ok, err := l.ReadNextKmer(km, &count)
		require.NoError(t, err)
		if !ok {
			break
		}
		got[km.String()] = count
	}
	return got
}
