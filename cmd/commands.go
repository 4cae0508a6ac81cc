package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/beyondbrewing/brewery-kmc/config"
	"github.com/beyondbrewing/brewery-kmc/db"
	"github.com/beyondbrewing/brewery-kmc/indexer"
	"github.com/beyondbrewing/brewery-kmc/pkg/kmer"
	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
	"github.com/beyondbrewing/brewery-kmc/pkg/seqio"
	"github.com/beyondbrewing/brewery-kmc/session"
	"github.com/beyondbrewing/brewery-kmc/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           config.APP_NAME,
		Short:         "Read and build KMC k-mer count databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().String("log-level", config.KMC_LOG_LEVEL, "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", config.KMC_LOG_FORMAT, "Log format: json or console")
	root.PersistentFlags().Bool("progress", config.KMC_PROGRESS, "Show progress bars on stderr")

	root.AddCommand(
		dumpCommand(),
		infoCommand(),
		checkCommand(),
		countersCommand(),
		countCommand(),
		importCommand(),
		versionCommand(),
	)
	return root
}

// setup loads .env and the environment, lets explicit flags override them and
// installs the process logger.
func setup(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"KMC_LOG_LEVEL":  "log-level",
		"KMC_LOG_FORMAT": "log-format",
		"KMC_PROGRESS":   "progress",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	utils.ImportEnv()

	l, err := logger.New(logger.Options{Level: config.KMC_LOG_LEVEL, Format: config.KMC_LOG_FORMAT})
	if err != nil {
		return err
	}
	logger.SetDefault(l)
	return nil
}

func dbOptions() []db.Option {
	return []db.Option{
		db.WithReadBufferSize(config.KMC_READ_BUFFER),
		db.WithCacheSize(config.KMC_CACHE_SIZE),
		db.WithBatchSize(config.KMC_BATCH_SIZE),
		db.WithBins(config.KMC_BINS),
		db.WithProgress(config.KMC_PROGRESS, os.Stderr),
		db.WithLogger(logger.Default()),
	}
}

func sessionOptions() []session.Option {
	return []session.Option{
		session.WithDBOptions(dbOptions()...),
		session.WithLogger(logger.Default()),
	}
}

func dumpCommand() *cobra.Command {
	var ci, cx int64
	cmd := &cobra.Command{
		Use:   "dump <database>",
		Short: "List k-mers and counts",
		Long:  "Print every k-mer with its count as <kmer>\\t<count>, in storage order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0], ci, cx)
		},
	}
	cmd.Flags().Int64Var(&ci, "ci", -1, "Exclude k-mers occurring fewer times (default: database cutoff)")
	cmd.Flags().Int64Var(&cx, "cx", -1, "Exclude k-mers occurring more times, 0 for no limit (default: database cutoff)")
	return cmd
}

func runDump(cmd *cobra.Command, path string, ci, cx int64) error {
	l := session.NewListing(sessionOptions()...)
	if err := l.Open(path); err != nil {
		return err
	}
	defer l.Close()

	if ci >= 0 {
		if err := l.SetMinCount(ci); err != nil {
			return err
		}
	}
	if cx >= 0 {
		if err := l.SetMaxCount(cx); err != nil {
			return err
		}
	}

	info, err := l.Info()
	if err != nil {
		return err
	}
	km, err := kmer.New(int(info.KmerLength))
	if err != nil {
		return err
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	line := make([]byte, 0, 64)
	var count uint64
	for {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		ok, err := l.ReadNextKmer(km, &count)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		line = append(line[:0], km.String()...)
		line = append(line, '\t')
		line = strconv.AppendUint(line, count, 10)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return w.Flush()
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <database>",
		Short: "Print database parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := session.NewListing(sessionOptions()...)
			if err := l.Open(args[0]); err != nil {
				return err
			}
			defer l.Close()
			info, err := l.Info()
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func printInfo(w io.Writer, info session.Info) {
	maxCount := "unbounded"
	if info.MaxCount != 0 {
		maxCount = strconv.FormatUint(info.MaxCount, 10)
	}
	strands := "forward"
	if info.BothStrands {
		strands = "both"
	}
	fmt.Fprintf(w, "format:            %s\n", info.Format)
	fmt.Fprintf(w, "k-mer length:      %d\n", info.KmerLength)
	fmt.Fprintf(w, "mode:              %d\n", info.Mode)
	fmt.Fprintf(w, "counter size:      %d bytes\n", info.CounterSize)
	fmt.Fprintf(w, "lut prefix length: %d\n", info.LUTPrefixLength)
	fmt.Fprintf(w, "signature length:  %d\n", info.SignatureLen)
	fmt.Fprintf(w, "min count:         %d\n", info.MinCount)
	fmt.Fprintf(w, "max count:         %s\n", maxCount)
	fmt.Fprintf(w, "strands:           %s\n", strands)
	fmt.Fprintf(w, "total k-mers:      %d\n", info.TotalKmers)
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <database> <kmer>...",
		Short: "Print the count of each k-mer, 0 when absent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra := session.NewRandomAccess(sessionOptions()...)
			if err := ra.Open(args[0]); err != nil {
				return err
			}
			defer ra.Close()

			for _, s := range args[1:] {
				km, err := kmer.FromString(s)
				if err != nil {
					return err
				}
				var count uint64
				if _, err := ra.CheckKmer(km, &count); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s, count)
			}
			return nil
		},
	}
}

func countersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "counters <database> <reads>",
		Short: "Print the count of every k-mer window of each read",
		Long: "For every FASTA/FASTQ record print its identifier followed by one count per\n" +
			"k-mer window. Windows with ambiguous bases count 0; reads shorter than k\n" +
			"print no counts.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCounters(cmd, args[0], args[1])
		},
	}
}

func runCounters(cmd *cobra.Command, path, reads string) error {
	ra := session.NewRandomAccess(sessionOptions()...)
	if err := ra.Open(path); err != nil {
		return err
	}
	defer ra.Close()
	info, err := ra.Info()
	if err != nil {
		return err
	}

	r, err := seqio.Open(reads)
	if err != nil {
		return err
	}
	defer r.Close()

	w := bufio.NewWriter(cmd.OutOrStdout())
	var (
		counts []uint64
		line   []byte
	)
	for r.Next() {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		rec := r.Record()
		line = append(line[:0], rec.ID...)
		if len(rec.Seq) >= int(info.KmerLength) {
			counts, err = ra.GetCountersForRead(string(rec.Seq), counts)
			if err != nil {
				return err
			}
			for _, c := range counts {
				line = append(line, '\t')
				line = strconv.AppendUint(line, c, 10)
			}
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func countCommand() *cobra.Command {
	var (
		output, pebbleDir, format string
		k, cs, sigLen, threads    int
		ci                        uint32
		cx                        uint64
		forwardOnly               bool
	)
	cmd := &cobra.Command{
		Use:   "count <input>...",
		Short: "Count k-mers of FASTA/FASTQ inputs into a database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = config.KMC_OUTPUT_FMT
			}
			if threads <= 0 {
				threads = config.KMC_WORKERS
			}
			if threads <= 0 {
				threads = runtime.NumCPU()
			}
			idx, err := indexer.New(
				indexer.WithInputs(args...),
				indexer.WithOutput(output),
				indexer.WithPebbleOutput(pebbleDir),
				indexer.WithKmerLength(k),
				indexer.WithCounterSize(cs),
				indexer.WithSignatureLen(sigLen),
				indexer.WithCutoffs(ci, cx),
				indexer.WithBothStrands(!forwardOnly),
				indexer.WithFormat(db.Format(format)),
				indexer.WithWorkers(threads),
				indexer.WithProgress(config.KMC_PROGRESS, os.Stderr),
				indexer.WithDBOptions(dbOptions()...),
				indexer.WithLogger(logger.Default()),
			)
			if err != nil {
				return err
			}
			if err := idx.Run(cmd.Context()); err != nil {
				return err
			}
			st := idx.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "records: %d\nk-mers: %d\ndistinct: %d\nbelow min: %d\nabove max: %d\nwritten: %d\n",
				st.Records, st.Kmers, st.Distinct, st.BelowMin, st.AboveMax, st.Written)
			return nil
		},
	}
	def := indexer.DefaultConfig()
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output database base path")
	cmd.Flags().StringVar(&pebbleDir, "pebble", "", "Also export the database to this Pebble directory")
	cmd.Flags().StringVar(&format, "format", "", "Output format: kmc2 or kmc1 (default kmc2)")
	cmd.Flags().IntVarP(&k, "kmer-size", "k", def.KmerLength, "K-mer length")
	cmd.Flags().IntVar(&cs, "cs", def.CounterSize, "Counter size in bytes")
	cmd.Flags().IntVarP(&sigLen, "signature-len", "p", def.SignatureLen, "Signature length")
	cmd.Flags().Uint32Var(&ci, "ci", def.MinCount, "Exclude k-mers occurring fewer times")
	cmd.Flags().Uint64Var(&cx, "cx", def.MaxCount, "Exclude k-mers occurring more times, 0 for no limit")
	cmd.Flags().BoolVarP(&forwardOnly, "forward", "b", false, "Count k-mers as given, without canonical folding")
	cmd.Flags().IntVarP(&threads, "threads", "t", 0, "Inputs counted concurrently")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <database> <pebble-dir>",
		Short: "Copy a database into a new Pebble directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := db.Open(args[0], db.ModeListing, dbOptions()...)
			if err != nil {
				return err
			}
			defer src.Close()
			return db.ExportPebble(src, args[1], dbOptions()...)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", config.APP_NAME, config.APP_VERSION)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
