package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRandomAccessConsistency(t *testing.T) {
	path, want := buildReadsDB(t, db.FormatKMC2)

	ra := NewRandomAccess()
	require.NoError(t, ra.Open(path))
	defer ra.Close()

	for s, c := range want {
		var got uint64
		ok, err := ra.CheckKmer(mustKmer(t, s), &got)
		require.NoError(t, err)
		require.True(t, ok, s)
		require.Equal(t, c, got, s)

		// The other strand folds onto the same record and is left as given.
		rc := mustKmer(t, revComp(s))
		got = 0
		ok, err = ra.CheckKmer(rc, &got)
		require.NoError(t, err)
		require.True(t, ok, s)
		require.Equal(t, c, got, s)
		require.Equal(t, revComp(s), rc.String())
	}

	absent := absentKmers(want)
	require.NotEmpty(t, absent)
	for _, s := range absent {
		count := uint64(12345)
		ok, err := ra.CheckKmer(mustKmer(t, s), &count)
		require.NoError(t, err)
		require.False(t, ok, s)
		require.Equal(t, uint64(12345), count, "absent k-mers leave the count untouched")

		ok, err = ra.IsKmer(mustKmer(t, s))
		require.NoError(t, err)
		require.False(t, ok, s)
	}
}

func expectedCounters(read string, k int, counts map[string]uint64) []uint64 {
	out := make([]uint64, 0, len(read)-k+1)
	for i := 0; i+k <= len(read); i++ {
		w := read[i : i+k]
		if strings.ContainsRune(w, 'N') {
			out = append(out, 0)
			continue
		}
		out = append(out, counts[canonicalString(w)])
	}
	return out
}

func TestGetCountersForRead(t *testing.T) {
	path, want := buildReadsDB(t, db.FormatKMC2)

	ra := NewRandomAccess()
	require.NoError(t, ra.Open(path))
	defer ra.Close()

	reads := []string{
		"GGCATTGCATGCAGTNNCAGTCATGCAGTCAGGCAGTCATGGCATGCGTAAACGACGATCAGTCATGGTCGAG",
		testReads[2],
		revComp(testReads[2]),
		strings.Repeat("N", testK),
		"GTCGATGCATCGATGCTGATGCTGCTNTGCTAGTAGCGTCTGAGGGCTA",
		testReads[2][:testK],
	}

	var buf []uint64
	for _, read := range reads {
		got, err := ra.GetCountersForRead(read, buf)
		require.NoError(t, err)
		assert.Len(t, got, len(read)-testK+1)
		assert.Equal(t, expectedCounters(read, testK, want), got, read)
		buf = got
	}

	// Every window overlapping the N is zero, the others are found.
	read := "GTCGATGCATCGATGCTGATGCTGCTNTGCTAGTAGCGTCTGAGGGCTA"
	nPos := strings.IndexByte(read, 'N')
	got, err := ra.GetCountersForRead(read, nil)
	require.NoError(t, err)
	for i, c := range got {
		if i <= nPos && nPos < i+testK {
			assert.Zero(t, c, "window %d overlaps N", i)
		} else {
			assert.NotZero(t, c, "window %d", i)
		}
	}

	_, err = ra.GetCountersForRead(read[:testK-1], nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRandomAccessThresholds(t *testing.T) {
	path, want := buildReadsDB(t, db.FormatKMC2)

	ra := NewRandomAccess()
	require.NoError(t, ra.Open(path))
	defer ra.Close()

	require.NoError(t, ra.SetMinCount(2))
	for s, c := range want {
		ok, err := ra.IsKmer(mustKmer(t, s))
		require.NoError(t, err)
		assert.Equal(t, c >= 2, ok, s)
	}
	got, err := ra.GetCountersForRead(testReads[2], nil)
	require.NoError(t, err)
	for i, c := range got {
		if want[canonicalString(testReads[2][i:i+testK])] < 2 {
			assert.Zero(t, c)
		}
	}

	n, err := ra.KmerCount()
	require.NoError(t, err)
	assert.Less(t, n, uint64(len(want)))

	assert.ErrorIs(t, ra.SetMaxCount(-1), ErrInvalidArgument)
	require.NoError(t, ra.ResetMinMaxCounts())
	assert.Equal(t, uint64(1), ra.MinCount())
	assert.Zero(t, ra.MaxCount())
	n, err = ra.KmerCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(want)), n)
}

func TestRandomAccessSingleStrand(t *testing.T) {
	counts := referenceCounts(testReads[2:], 11, false)
	path := buildDB(t, db.Header{KmerLength: 11, CounterSize: 2, SignatureLen: 7}, counts)

	ra := NewRandomAccess()
	require.NoError(t, ra.Open(path))
	defer ra.Close()

	info, err := ra.Info()
	require.NoError(t, err)
	assert.False(t, info.BothStrands)

	for s, c := range counts {
		var got uint64
		ok, err := ra.CheckKmer(mustKmer(t, s), &got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c, got)

		rc := revComp(s)
		if _, stored := counts[rc]; !stored {
			ok, err = ra.IsKmer(mustKmer(t, rc))
			require.NoError(t, err)
			assert.False(t, ok, rc)
		}
	}

	got, err := ra.GetCountersForRead(testReads[2], nil)
	require.NoError(t, err)
	for i, c := range got {
		assert.Equal(t, counts[testReads[2][i:i+11]], c)
	}
}

func TestRandomAccessErrors(t *testing.T) {
	ra := NewRandomAccess()
	km := mustKmer(t, strings.Repeat("A", testK))

	_, err := ra.Info()
	assert.ErrorIs(t, err, ErrNotOpened)
	_, err = ra.CheckKmer(km, nil)
	assert.ErrorIs(t, err, ErrNotOpened)
	_, err = ra.GetCountersForRead(testReads[0], nil)
	assert.ErrorIs(t, err, ErrNotOpened)
	_, err = ra.KmerCount()
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.ErrorIs(t, ra.SetMinCount(1), ErrInvalidState)
	assert.NoError(t, ra.Close())

	// KMC1 databases have no lookup structure.
	kmc1, _ := buildReadsDB(t, db.FormatKMC1)
	err = ra.Open(kmc1)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.Equal(t, StateClosed, ra.State())

	err = ra.Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	path, _ := buildReadsDB(t, db.FormatKMC2)
	require.NoError(t, ra.Open(path))
	assert.Equal(t, StateOpened, ra.State())
	assert.ErrorIs(t, ra.Open(path), ErrInvalidState)

	_, err = ra.CheckKmer(mustKmer(t, "ACGT"), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ra.CheckKmer(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, ra.Close())
	require.NoError(t, ra.Close())
	_, err = ra.CheckKmer(km, nil)
	assert.ErrorIs(t, err, ErrNotOpened)
}

func TestRandomAccessOverPebble(t *testing.T) {
	path, want := buildReadsDB(t, db.FormatKMC2)
	src, err := db.OpenKMC(path, db.ModeListing)
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "pebble")
	require.NoError(t, db.ExportPebble(src, dir))
	require.NoError(t, src.Close())

	ra := NewRandomAccess()
	require.NoError(t, ra.Open(dir))
	info, err := ra.Info()
	require.NoError(t, err)
	assert.Equal(t, db.FormatPebble, info.Format)
	for s, c := range want {
		var got uint64
		ok, err := ra.CheckKmer(mustKmer(t, revComp(s)), &got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c, got)
	}
	require.NoError(t, ra.Close())

	l := NewListing()
	require.NoError(t, l.Open(dir))
	assert.Equal(t, want, listAll(t, l))
	require.NoError(t, l.Close())
}

// exportPebble copies the KMC database at path into a Pebble directory.
func exportPebble(t *testing.T, path string) string {
	t.Helper()
	src, err := db.OpenKMC(path, db.ModeListing)
	require.NoError(t, err)
	defer src.Close()
	dir := filepath.Join(t.TempDir(), "pebble")
	require.NoError(t, db.ExportPebble(src, dir))
	return dir
}

func TestConcurrentSessions(t *testing.T) {
	kmcPath, want := buildReadsDB(t, db.FormatKMC2)
	tests := []struct {
		name string
		path string
	}{
		{"kmc2", kmcPath},
		{"pebble", exportPebble(t, kmcPath)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			concurrentSessions(t, tt.path, want)
		})
	}
}

// concurrentSessions runs random-access and listing sessions side by side
// on the same database.
func concurrentSessions(t *testing.T, path string, want map[string]uint64) {
	t.Helper()
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		if i%2 == 0 {
			g.Go(func() error {
				ra := NewRandomAccess()
				if err := ra.Open(path); err != nil {
					return err
				}
				defer ra.Close()
				for s, c := range want {
					km, err := kmer.FromString(s)
					if err != nil {
						return err
					}
					var got uint64
					ok, err := ra.CheckKmer(km, &got)
					if err != nil {
						return err
					}
					if !ok || got != c {
						return fmt.Errorf("%s: got %d (found %v), want %d", s, got, ok, c)
					}
				}
				return nil
			})
			continue
		}
		g.Go(func() error {
			l := NewListing()
			if err := l.Open(path); err != nil {
				return err
			}
			defer l.Close()
			km, _ := kmer.New(testK)
			var count uint64
			n := 0
			for {
				ok, err := l.ReadNextKmer(km, &count)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if want[km.String()] != count {
					return fmt.Errorf("%s: listed %d, want %d", km, count, want[km.String()])
				}
				n++
			}
			if n != len(want) {
				return fmt.Errorf("listed %d k-mers, want %d", n, len(want))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
