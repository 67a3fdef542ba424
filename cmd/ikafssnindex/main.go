// Command ikafssnindex builds a partitioned k-mer index database (§4.D)
// from one or more FASTA files: one volume per input file, plus a shared
// manifest and cross-volume high-frequency bitset.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/astanabe/ikafssn-sub000/build"
	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/logutil"
	"github.com/astanabe/ikafssn-sub000/seqsrc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultIndexBuilderConfig()
	var outDir string
	var configPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ikafssnindex [flags] fasta-file [fasta-file ...]",
		Short: "Build a k-mer index database from FASTA reference files",
		Long: "ikafssnindex scans one or more FASTA files, partitions their k-mers\n" +
			"by value range, spills each partition's sorted runs to disk and\n" +
			"merges them in memory, and\n" +
			"writes one .kix/.kpx/.ksx volume per input file plus a shared\n" +
			"manifest and cross-volume high-frequency .khx bitset.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				// --config supplies the whole tuning baseline; db-name,
				// out, and quiet remain flag-settable on top of it since
				// they're deployment-specific, not algorithm tunables.
				loaded, err := config.LoadIndexBuilderConfig(configPath)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("db-name") {
					loaded.DBName = cfg.DBName
				}
				if cmd.Flags().Changed("progress") {
					loaded.Verbose = cfg.Verbose
				}
				cfg = loaded
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level := logutil.LevelInfo
			if quiet {
				level = logutil.LevelWarn
			}
			logger := logutil.New(os.Stderr, level)
			return runBuild(cfg, outDir, args, logger)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.K, "k", cfg.K, "k-mer length, in [4,13]")
	flags.Int64Var(&cfg.BufferSize, "buffer-size", cfg.BufferSize,
		"Total bytes of in-memory posting buffer, split evenly across partitions;\n"+
			"\ta partition spills to disk when its share fills.")
	flags.IntVar(&cfg.Partitions, "partitions", cfg.Partitions,
		"Number of k-mer value-range partitions to scan and merge independently.")
	flags.IntVar(&cfg.MaxFreqBuild, "max-freq-build", cfg.MaxFreqBuild,
		"Postings count at or above which a k-mer is marked high-frequency in the\n"+
			"\tshared .khx bitset. 0 auto-resolves from the mean postings per k-mer.")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "Worker thread count; stored in the config, but the builder does not read it.")
	flags.BoolVar(&cfg.Verbose, "progress", cfg.Verbose, "Show progress bars while scanning and merging.")
	flags.StringVar(&cfg.DBName, "db-name", cfg.DBName, "Database title recorded in every volume header and the manifest.")
	flags.StringVar(&outDir, "out", ".", "Output directory for the volume files and manifest.")
	flags.StringVar(&configPath, "config", "",
		"TOML config file supplying the whole tuning baseline (k, buffer-size,\n"+
			"\tpartitions, max-freq-build, threads); --db-name and --progress still\n"+
			"\tapply on top of it.")
	flags.BoolVar(&quiet, "quiet", false, "Suppress informational logging; only warnings and errors are printed.")

	return cmd
}

func runBuild(cfg config.IndexBuilderConfig, outDir string, fastaPaths []string, logger *logutil.Logger) error {
	if cfg.DBName == "" {
		return errors.New("ikafssnindex: --db-name is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "ikafssnindex: mkdir %s", outDir)
	}

	sources := make([]seqsrc.SequenceSource, 0, len(fastaPaths))
	names := make([]string, 0, len(fastaPaths))
	seen := make(map[string]bool, len(fastaPaths))
	for _, p := range fastaPaths {
		fs, err := seqsrc.LoadFasta(p)
		if err != nil {
			return errors.Wrapf(err, "ikafssnindex: load %s", p)
		}
		name := volumeName(p)
		if seen[name] {
			return errors.Errorf("ikafssnindex: duplicate volume name %q derived from %s", name, p)
		}
		seen[name] = true
		sources = append(sources, fs)
		names = append(names, name)
		logger.Infof("loaded %s: %d sequences as volume %q", p, fs.NumSequences(), name)
	}

	b := build.NewIndexBuilder(cfg, logger)
	khxName := cfg.DBName + ".khx"
	if err := b.BuildVolumes(sources, names, outDir, khxName); err != nil {
		return errors.Wrap(err, "ikafssnindex: build volumes")
	}

	manifestPath := filepath.Join(outDir, cfg.DBName+".kvx")
	f, err := os.Create(manifestPath)
	if err != nil {
		return errors.Wrapf(err, "ikafssnindex: create manifest %s", manifestPath)
	}
	defer f.Close()
	if err := index.WriteManifest(f, &index.Manifest{Title: cfg.DBName, Volumes: names}); err != nil {
		return errors.Wrap(err, "ikafssnindex: write manifest")
	}

	logger.Infof("wrote %d volumes and manifest %s", len(names), manifestPath)
	return nil
}

// volumeName derives a volume's basename from its FASTA path: the file
// name with its extension stripped, so "refs/ecoli.fasta" becomes "ecoli".
func volumeName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
