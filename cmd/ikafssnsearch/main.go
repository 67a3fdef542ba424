// Command ikafssnsearch runs the three-stage similarity search pipeline
// against a k-mer index database, either directly against a FASTA query
// file (the "query" subcommand) or as a long-running TCP server speaking
// the length-prefixed binary protocol in package protocol (the "serve"
// subcommand).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/logutil"
	"github.com/astanabe/ikafssn-sub000/protocol"
	"github.com/astanabe/ikafssn-sub000/search"
	"github.com/astanabe/ikafssn-sub000/seqsrc"
)

func main() {
	root := &cobra.Command{
		Use:   "ikafssnsearch",
		Short: "Search a k-mer index database",
	}
	root.AddCommand(newQueryCmd(), newServeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dbOpts are the flags common to both subcommands for locating and opening
// a database.
type dbOpts struct {
	dir        string
	dbName     string
	references string
	configPath string
	quiet      bool
}

func addDBFlags(cmd *cobra.Command, o *dbOpts) {
	flags := cmd.Flags()
	flags.StringVar(&o.dir, "db-dir", ".", "Directory containing the manifest and volume files.")
	flags.StringVar(&o.dbName, "db-name", "", "Database title: manifest is read from db-dir/<db-name>.kvx.")
	flags.StringVar(&o.references, "references", "",
		"Comma-separated FASTA paths, one per manifest volume in order, supplying\n"+
			"\tsubject bases for stage-3 alignment. Omit to skip stage 3 entirely.")
	flags.StringVar(&o.configPath, "config", "", "TOML SearchConfig file supplying the whole tuning baseline.")
	flags.BoolVar(&o.quiet, "quiet", false, "Suppress informational logging; only warnings and errors are printed.")
}

func openDatabase(o *dbOpts, cfg config.SearchConfig, logger *logutil.Logger) (*search.Database, func(), error) {
	if o.dbName == "" {
		return nil, nil, errors.New("ikafssnsearch: --db-name is required")
	}
	manifestPath := filepath.Join(o.dir, o.dbName+".kvx")
	vols, khx, warnings, err := index.OpenDatabase(o.dir, manifestPath, cfg.K)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "ikafssnsearch: open database %s", manifestPath)
	}
	for _, w := range warnings {
		logger.Warnf("%s", w.String())
	}

	var sources []seqsrc.SequenceSource
	if o.references != "" {
		paths := strings.Split(o.references, ",")
		if len(paths) != len(vols) {
			closeVolumes(vols, khx)
			return nil, nil, errors.Errorf("ikafssnsearch: %d --references paths but %d volumes in manifest", len(paths), len(vols))
		}
		sources = make([]seqsrc.SequenceSource, len(paths))
		for i, p := range paths {
			fs, err := seqsrc.LoadFasta(strings.TrimSpace(p))
			if err != nil {
				closeVolumes(vols, khx)
				return nil, nil, errors.Wrapf(err, "ikafssnsearch: load reference %s", p)
			}
			sources[i] = fs
		}
	}

	db := &search.Database{Volumes: vols, Khx: khx, Sequences: sources}
	cleanup := func() { closeVolumes(vols, khx) }
	return db, cleanup, nil
}

func closeVolumes(vols []*index.Volume, khx *index.KhxReader) {
	for _, v := range vols {
		v.Close()
	}
	if khx != nil {
		khx.Close()
	}
}

// resolveConfig loads cfg from configPath if given, else returns
// config.DefaultSearchConfig().
func resolveConfig(configPath string) (config.SearchConfig, error) {
	if configPath == "" {
		return config.DefaultSearchConfig(), nil
	}
	return config.LoadSearchConfig(configPath)
}

func newLogger(quiet bool) *logutil.Logger {
	level := logutil.LevelInfo
	if quiet {
		level = logutil.LevelWarn
	}
	return logutil.New(os.Stderr, level)
}

// --- query subcommand -------------------------------------------------

func newQueryCmd() *cobra.Command {
	o := &dbOpts{}
	var schedule string
	var seqidlistMode string
	var seqids string

	cmd := &cobra.Command{
		Use:   "query [flags] query-fasta-file",
		Short: "Search a FASTA file of queries against a database, printing hits as TSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(o.quiet)
			cfg, err := resolveConfig(o.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seqidlist-mode") {
				cfg.SeqidlistMode = seqidlistMode
			}
			if seqids != "" {
				cfg.Seqids = strings.Split(seqids, ",")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, cleanup, err := openDatabase(o, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			filter, err := buildFilter(db, cfg, logger)
			if err != nil {
				return err
			}

			queries, err := loadQueries(args[0])
			if err != nil {
				return err
			}
			logger.Infof("loaded %d queries from %s", len(queries), args[0])

			sched := search.ScheduleByQuery
			if schedule == "byqueryvolume" {
				sched = search.ScheduleByQueryVolume
			}
			results, err := search.Run(context.Background(), queries, db, cfg, filter, sched, logger)
			if err != nil {
				return errors.Wrap(err, "ikafssnsearch: run search")
			}
			writeResultsTSV(os.Stdout, results)
			return nil
		},
	}
	addDBFlags(cmd, o)
	flags := cmd.Flags()
	flags.StringVar(&schedule, "schedule", "byquery", "Concurrency grain: \"byquery\" or \"byqueryvolume\".")
	flags.StringVar(&seqidlistMode, "seqidlist-mode", "none", "Accession filter mode: none, include, or exclude.")
	flags.StringVar(&seqids, "seqids", "", "Comma-separated accession list for the seqid filter.")
	return cmd
}

// buildFilter resolves the OID filter against the manifest's first volume.
// A database whose accession set is shared identically across every
// volume filters correctly this way; a database with disjoint per-volume
// accession spaces would need one filter per volume, which the harness's
// single-filter Run signature does not currently support.
func buildFilter(db *search.Database, cfg config.SearchConfig, logger *logutil.Logger) (*search.OidFilter, error) {
	if cfg.SeqidlistMode == "none" || len(cfg.Seqids) == 0 {
		return nil, nil
	}
	if len(db.Volumes) == 0 {
		return nil, nil
	}
	if len(db.Volumes) > 1 {
		logger.Warnf("seqid filter resolved against volume %q only; other volumes in this %d-volume database are unaffected", db.Volumes[0].Name, len(db.Volumes))
	}
	var mode search.OidFilterMode
	switch cfg.SeqidlistMode {
	case "include":
		mode = search.OidFilterInclude
	case "exclude":
		mode = search.OidFilterExclude
	default:
		return nil, errors.Errorf("ikafssnsearch: unrecognized seqidlist_mode %q", cfg.SeqidlistMode)
	}
	return search.BuildOidFilter(db.Volumes[0].Ksx, cfg.Seqids, mode, logger), nil
}

func loadQueries(path string) ([]search.Query, error) {
	fs, err := seqsrc.LoadFasta(path)
	if err != nil {
		return nil, errors.Wrapf(err, "ikafssnsearch: load queries %s", path)
	}
	n := fs.NumSequences()
	queries := make([]search.Query, n)
	for i := 0; i < n; i++ {
		rec, err := fs.Sequence(i)
		if err != nil {
			return nil, err
		}
		queries[i] = search.Query{ID: rec.Accession, Sequence: rec.Bases}
	}
	return queries, nil
}

func writeResultsTSV(w *os.File, results []search.Result) {
	fmt.Fprintln(w, "query_id\taccession\tvolume\tstrand\tqstart\tqend\tsstart\tsend\tstage1_score\tchain_score\talign_score\tpident\tcigar")
	for _, r := range results {
		if r.Skipped {
			continue
		}
		for _, h := range r.Hits {
			strand := "+"
			if h.IsReverse {
				strand = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.2f\t%s\n",
				r.QueryID, h.Accession, h.Volume, strand,
				h.QStart, h.QEnd, h.SStart, h.SEnd,
				h.Stage1Score, h.ChainScore, h.AlignScore, h.PIdent, h.CIGAR)
		}
	}
}

// --- serve subcommand ---------------------------------------------------

func newServeCmd() *cobra.Command {
	o := &dbOpts{}
	var listen string

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Serve search requests over the length-prefixed binary protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(o.quiet)
			cfg, err := resolveConfig(o.configPath)
			if err != nil {
				return err
			}
			db, cleanup, err := openDatabase(o, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return errors.Wrapf(err, "ikafssnsearch: listen on %s", listen)
			}
			defer ln.Close()
			logger.Infof("listening on %s", listen)

			for {
				conn, err := ln.Accept()
				if err != nil {
					logger.Warnf("accept: %v", err)
					continue
				}
				go serveConn(conn, db, cfg, logger)
			}
		},
	}
	addDBFlags(cmd, o)
	cmd.Flags().StringVar(&listen, "listen", ":9401", "TCP address to listen on.")
	return cmd
}

func serveConn(conn net.Conn, db *search.Database, baseCfg config.SearchConfig, logger *logutil.Logger) {
	defer conn.Close()
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		logger.Warnf("read frame: %v", err)
		return
	}
	if frame.Type != protocol.MsgSearchRequest {
		logger.Warnf("unexpected message type %#x", frame.Type)
		return
	}
	req, err := protocol.DecodeSearchRequest(frame.Payload)
	if err != nil {
		logger.Warnf("decode search request: %v", err)
		return
	}

	cfg, filter, queries, err := requestToSearch(req, db, baseCfg, logger)
	if err != nil {
		writeErrorResponse(conn, err, logger)
		return
	}

	results, err := search.Run(context.Background(), queries, db, cfg, filter, search.ScheduleByQuery, logger)
	if err != nil {
		writeErrorResponse(conn, err, logger)
		return
	}

	resp := resultsToResponse(cfg, results)
	payload, err := protocol.EncodeSearchResponse(resp)
	if err != nil {
		logger.Warnf("encode search response: %v", err)
		return
	}
	if err := protocol.WriteFrame(conn, protocol.MsgSearchResponse, payload); err != nil {
		logger.Warnf("write frame: %v", err)
	}
}

func writeErrorResponse(conn net.Conn, cause error, logger *logutil.Logger) {
	resp := &protocol.SearchResponse{Status: 1}
	payload, err := protocol.EncodeSearchResponse(resp)
	if err != nil {
		logger.Warnf("encode error response: %v", err)
		return
	}
	if err := protocol.WriteFrame(conn, protocol.MsgErrorResponse, payload); err != nil {
		logger.Warnf("write error frame: %v", err)
	}
	logger.Warnf("search request failed: %v", cause)
}

// requestToSearch translates a wire SearchRequest into the config/filter/
// queries triple search.Run expects, starting from baseCfg for any option
// the request's fixed-point fraction fields leave at zero.
func requestToSearch(req *protocol.SearchRequest, db *search.Database, baseCfg config.SearchConfig, logger *logutil.Logger) (config.SearchConfig, *search.OidFilter, []search.Query, error) {
	cfg := baseCfg
	cfg.K = int(req.K)
	cfg.Mode = int(req.Mode)
	cfg.Stage1.ScoreType = scoreTypeName(req.Stage1ScoreType)
	cfg.Stage1.TopN = int(req.Stage1TopN)
	cfg.Stage1.MinScore = int(req.MinStage1Score)
	cfg.Stage1.MinScoreFrac = fracFromX10000(req.MinStage1ScoreFracX10000)
	cfg.Stage1.MaxFreq = int(req.MaxFreq)
	cfg.Stage1.MaxFreqFrac = fracFromX10000(req.MaxFreqFracX10000)
	cfg.Stage2.MinScore = int(req.Stage2MinScore)
	cfg.Stage2.MaxGap = int(req.Stage2MaxGap)
	cfg.Stage2.MaxLookback = int(req.Stage2MaxLookback)
	cfg.Stage2.MinDiagHits = int(req.Stage2MinDiagHits)
	cfg.NumResults = int(req.NumResults)
	cfg.Strand = int(req.Strand)
	cfg.AcceptQDegen = req.AcceptQDegen != 0
	cfg.SortScore = int(req.SortScore)
	cfg.Stage3.GapOpen = int(req.GapOpen)
	cfg.Stage3.GapExt = int(req.GapExt)
	cfg.Stage3.Traceback = req.Traceback != 0
	cfg.Stage3.MinPident = pctFromX10000(req.MinPidentX10000)
	cfg.Stage3.MinNident = int(req.MinNident)
	cfg.Stage3.ContextIsRatio = req.ContextIsRatio != 0
	cfg.Stage3.ContextRatio = fracFromX10000(req.ContextRatioX10000)
	cfg.Stage3.ContextAbs = int(req.ContextAbs)
	cfg.Stage3.FetchThreads = int(req.FetchThreads)

	switch req.SeqidlistMode {
	case protocol.SeqidlistInclude:
		cfg.SeqidlistMode = "include"
	case protocol.SeqidlistExclude:
		cfg.SeqidlistMode = "exclude"
	default:
		cfg.SeqidlistMode = "none"
	}
	cfg.Seqids = req.Accessions

	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	filter, err := buildFilter(db, cfg, logger)
	if err != nil {
		return cfg, nil, nil, err
	}

	queries := make([]search.Query, len(req.Queries))
	for i, q := range req.Queries {
		queries[i] = search.Query{ID: q.QueryID, Sequence: []byte(q.Sequence)}
	}
	return cfg, filter, queries, nil
}

func scoreTypeName(b uint8) string {
	if b == 1 {
		return "matchscore"
	}
	return "coverscore"
}

func fracFromX10000(v uint32) float64 {
	if v == 0 {
		return 0
	}
	return float64(v) / 10000.0
}

// pctFromX10000 converts a fraction*10000 fixed-point wire value into a
// 0-100 percentage, the scale Stage3Config.MinPident is stored in (P12).
func pctFromX10000(v uint32) float64 {
	if v == 0 {
		return 0
	}
	return float64(v) / 100.0
}

func resultsToResponse(cfg config.SearchConfig, results []search.Result) *protocol.SearchResponse {
	resp := &protocol.SearchResponse{
		K:               uint8(cfg.K),
		Mode:            uint8(cfg.Mode),
		Stage1ScoreType: stage1ScoreTypeByte(cfg.Stage1.ScoreType),
	}
	for _, r := range results {
		qr := protocol.QueryResult{QueryID: r.QueryID, Skipped: r.Skipped}
		for _, h := range r.Hits {
			strand := int8(1)
			if h.IsReverse {
				strand = -1
			}
			qr.Hits = append(qr.Hits, protocol.ResponseHit{
				Accession:   h.Accession,
				Strand:      strand,
				QStart:      h.QStart,
				QEnd:        h.QEnd,
				SStart:      h.SStart,
				SEnd:        h.SEnd,
				ChainScore:  clampU16(h.ChainScore),
				Stage1Score: clampU16(h.Stage1Score),
				Volume:      uint16(h.Volume),
			})
		}
		resp.Results = append(resp.Results, qr)
	}
	return resp
}

func stage1ScoreTypeByte(s string) uint8 {
	if s == "matchscore" {
		return 1
	}
	return 0
}

func clampU16(v int32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
