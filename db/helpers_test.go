package db

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/stretchr/testify/require"
)

func randomKmerString(r *rand.Rand, k int) string {
	b := make([]byte, k)
	for i := range b {
		b[i] = "ACGT"[r.Intn(4)]
	}
	return string(b)
}

// randomCounts returns n distinct k-mers with counts in 1..maxCount.
func randomCounts(r *rand.Rand, k, n int, maxCount uint64) map[string]uint64 {
	out := make(map[string]uint64, n)
	for len(out) < n {
		out[randomKmerString(r, k)] = 1 + uint64(r.Int63n(int64(maxCount)))
	}
	return out
}

func mustKmer(t *testing.T, s string) *kmer.Kmer {
	t.Helper()
	km, err := kmer.FromString(s)
	require.NoError(t, err)
	return km
}

// writeKMC writes counts into a fresh KMC database and returns its base path.
func writeKMC(t *testing.T, h Header, counts map[string]uint64, opts ...Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	w, err := NewKMCWriter(path, h, opts...)
	require.NoError(t, err)
	for s, c := range counts {
		require.NoError(t, w.Add(mustKmer(t, s), c))
	}
	require.NoError(t, w.Close())
	return path
}

// collect drains a fresh cursor of s into a map, also returning the k-mers
// in the order they were read.
func collect(t *testing.T, s Store) (map[string]uint64, []string) {
	t.Helper()
	cur, err := s.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	km, err := kmer.New(int(s.Header().KmerLength))
	require.NoError(t, err)

	got := make(map[string]uint64)
	var order []string
	for cur.Next() {
		require.NoError(t, cur.Kmer(km))
		str := km.String()
		_, dup := got[str]
		require.False(t, dup, "k-mer %s listed twice", str)
		got[str] = cur.Count()
		order = append(order, str)
	}
	require.NoError(t, cur.Err())
	return got, order
}
