package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/seqio"
	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"
)

// recordsPerCheck is how often a worker looks at ctx.
const recordsPerCheck = 1024

// tally is the per-input result merged into the shared table.
type tally struct {
	counts  map[string]uint64
	records uint64
	bases   uint64
	kmers   uint64
}

// count reads every input concurrently and returns the merged k-mer table,
// keyed by packed k-mer bytes.
func (idx *Indexer) count(ctx context.Context, st *Stats) (map[string]uint64, error) {
	var bar *pb.ProgressBar
	if idx.cfg.Progress {
		bar = pb.Full.New(len(idx.cfg.Inputs)).SetWriter(idx.cfg.ProgressWriter).Start()
		defer bar.Finish()
	}

	var (
		mu     sync.Mutex
		merged = make(map[string]uint64)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)
	for _, path := range idx.cfg.Inputs {
		path := path
		g.Go(func() error {
			t, err := idx.countInput(gctx, path)
			if err != nil {
				return err
			}

			mu.Lock()
			for key, c := range t.counts {
				merged[key] += c
			}
			st.Records += t.records
			st.Bases += t.bases
			st.Kmers += t.kmers
			mu.Unlock()

			idx.logger.Debug("input counted",
				"path", path,
				"records", t.records,
				"kmers", t.kmers,
				"distinct", len(t.counts),
			)
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// countInput tallies one file. Windows containing a symbol outside ACGT are
// skipped.
func (idx *Indexer) countInput(ctx context.Context, path string) (*tally, error) {
	r, err := seqio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}
	defer r.Close()

	k := idx.cfg.KmerLength
	fwd, err := kmer.New(k)
	if err != nil {
		return nil, err
	}
	rev, _ := kmer.New(k)

	var buf []byte
	t := &tally{counts: make(map[string]uint64)}
	for r.Next() {
		if t.records%recordsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		seq := r.Record().Seq
		t.records++
		t.bases += uint64(len(seq))

		valid := 0
		for _, b := range seq {
			code, ok := kmer.Code(b)
			if !ok {
				valid = 0
				continue
			}
			valid++
			fwd.ShiftIn(code)
			rev.PushFront(3 - code)
			if valid < k {
				continue
			}

			key := fwd
			if idx.cfg.BothStrands && rev.Less(fwd) {
				key = rev
			}
			buf = key.AppendBytes(buf[:0])
			t.counts[string(buf)]++
			t.kmers++
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("indexer: %s: %w", path, err)
	}
	return t, nil
}
