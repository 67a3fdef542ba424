// Package config persists the tunables for the index builder and searcher.
// The teacher's DBConf round-trips a flat colon-separated CSV; this
// package keeps the same "a config object with file load/save and a CLI
// flag layered on top" shape but backs it with TOML, because the option
// set here is large and naturally nested (stage1/stage2/stage3 groups,
// fractional-vs-absolute thresholds).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Stage1Config controls candidate filtering (§4.F).
type Stage1Config struct {
	ScoreType         string  `toml:"score_type"` // "coverscore" or "matchscore"
	TopN              int     `toml:"topn"`
	MinScore          int     `toml:"min_score"`
	MinScoreFrac      float64 `toml:"min_score_frac"`
	MaxFreq           int     `toml:"max_freq"`
	MaxFreqFrac       float64 `toml:"max_freq_frac"`
}

// Stage2Config controls chain construction (§4.G).
type Stage2Config struct {
	MinScore     int `toml:"min_score"`
	MaxGap       int `toml:"max_gap"`
	MaxLookback  int `toml:"max_lookback"`
	MinDiagHits  int `toml:"min_diag_hits"`
}

// Stage3Config controls the banded DP refinement (§4.H).
type Stage3Config struct {
	GapOpen        int     `toml:"gap_open"`
	GapExt         int     `toml:"gap_ext"`
	Traceback      bool    `toml:"traceback"` // false keeps only score and alignment endpoints (§4.H step 5)
	MinPident      float64 `toml:"min_pident"` // percentage, 0-100 (P12); only enforced when Traceback is true
	MinNident      int     `toml:"min_nident"` // only enforced when Traceback is true
	ContextIsRatio bool    `toml:"context_is_ratio"`
	ContextRatio   float64 `toml:"context_ratio"`
	ContextAbs     int     `toml:"context_abs"`
	FetchThreads   int     `toml:"fetch_threads"`
}

// SearchConfig is the full recognized-option mapping from §6.
type SearchConfig struct {
	K    int `toml:"k"`
	Mode int `toml:"mode"` // 1=stage1 only, 2=+chain, 3=+align

	Stage1 Stage1Config `toml:"stage1"`
	Stage2 Stage2Config `toml:"stage2"`
	Stage3 Stage3Config `toml:"stage3"`

	NumResults   int    `toml:"num_results"`
	Strand       int    `toml:"strand"` // 1=plus, -1=minus, 2=both
	AcceptQDegen bool   `toml:"accept_qdegen"`
	SortScore    int    `toml:"sort_score"` // 1=stage1, 2=chain, 3=alignment

	SeqidlistMode string   `toml:"seqidlist_mode"` // "none"|"include"|"exclude"
	Seqids        []string `toml:"seqids"`

	Threads int `toml:"threads"`
}

// DefaultSearchConfig mirrors the teacher's DefaultDBConf: every tunable
// gets a conservative, documented default.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		K:    11,
		Mode: 3,
		Stage1: Stage1Config{
			ScoreType: "coverscore",
			TopN:      500,
			MinScore:  2,
		},
		Stage2: Stage2Config{
			MaxGap:      100,
			MinDiagHits: 2,
		},
		Stage3: Stage3Config{
			GapOpen:      10,
			GapExt:       1,
			Traceback:    true,
			FetchThreads: 8,
		},
		NumResults:    0,
		Strand:        2,
		AcceptQDegen:  true,
		SortScore:     2,
		SeqidlistMode: "none",
		Threads:       0, // 0 = hardware concurrency, resolved by the harness
	}
}

// Validate rejects mutually exclusive or out-of-range options at the
// boundary, per §7's "Invalid configuration" error kind.
func (c SearchConfig) Validate() error {
	if c.K < 4 || c.K > 13 {
		return errors.Errorf("config: k=%d out of range [4,13]", c.K)
	}
	if c.Mode < 1 || c.Mode > 3 {
		return errors.Errorf("config: mode=%d out of range [1,3]", c.Mode)
	}
	if c.Stage1.MinScoreFrac != 0 && (c.Stage1.MinScoreFrac <= 0 || c.Stage1.MinScoreFrac >= 1) {
		return errors.Errorf("config: stage1.min_score_frac=%v must be in (0,1)", c.Stage1.MinScoreFrac)
	}
	if c.Stage1.MaxFreqFrac != 0 && (c.Stage1.MaxFreqFrac <= 0 || c.Stage1.MaxFreqFrac >= 1) {
		return errors.Errorf("config: stage1.max_freq_frac=%v must be in (0,1)", c.Stage1.MaxFreqFrac)
	}
	if c.Stage1.MaxFreq != 0 && c.Stage1.MaxFreqFrac != 0 {
		return errors.New("config: stage1.max_freq and stage1.max_freq_frac are mutually exclusive")
	}
	if c.Stage1.MinScore != 0 && c.Stage1.MinScoreFrac != 0 {
		return errors.New("config: stage1.min_score and stage1.min_score_frac are mutually exclusive")
	}
	switch c.Strand {
	case 1, -1, 2:
	default:
		return errors.Errorf("config: strand=%d must be one of 1,-1,2", c.Strand)
	}
	switch c.SeqidlistMode {
	case "none", "include", "exclude":
	default:
		return errors.Errorf("config: seqidlist_mode=%q must be none, include, or exclude", c.SeqidlistMode)
	}
	return nil
}

// LoadSearchConfig reads a TOML search config from path, starting from
// defaults for any field the file omits.
func LoadSearchConfig(path string) (SearchConfig, error) {
	c := DefaultSearchConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return SearchConfig{}, errors.Wrapf(err, "config: decode %s", path)
	}
	return c, nil
}

// Write serializes c as TOML to w.
func (c SearchConfig) Write(w *os.File) error {
	enc := toml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "config: encode search config")
	}
	return nil
}

// IndexBuilderConfig controls the partitioned builder (§4.D).
type IndexBuilderConfig struct {
	K            int    `toml:"k"`
	BufferSize   int64  `toml:"buffer_size"` // bytes; total budget, split evenly across partitions
	Partitions   int    `toml:"partitions"`  // 0 = a single partition
	MaxFreqBuild int    `toml:"max_freq_build"`
	Threads      int    `toml:"threads"`
	Verbose      bool   `toml:"verbose"`
	DBName       string `toml:"db_name"`
}

// DefaultIndexBuilderConfig mirrors the prototype's IndexBuilderConfig
// defaults (k=11, 8GB buffer, 4 partitions, single-threaded, auto-resolved high-frequency threshold).
func DefaultIndexBuilderConfig() IndexBuilderConfig {
	return IndexBuilderConfig{
		K:          11,
		BufferSize: 8 << 30,
		Partitions: 4,
		Threads:    1,
	}
}

// Validate rejects invalid builder configuration at the boundary.
func (c IndexBuilderConfig) Validate() error {
	if c.K < 4 || c.K > 13 {
		return errors.Errorf("config: k=%d out of range [4,13]", c.K)
	}
	if c.BufferSize <= 0 {
		return errors.Errorf("config: buffer_size=%d must be positive", c.BufferSize)
	}
	if c.Partitions < 0 {
		return errors.Errorf("config: partitions=%d must be >= 0", c.Partitions)
	}
	if c.Threads < 0 {
		return errors.Errorf("config: threads=%d must be >= 0", c.Threads)
	}
	return nil
}

// LoadIndexBuilderConfig reads a TOML builder config from path, starting
// from defaults for any field the file omits.
func LoadIndexBuilderConfig(path string) (IndexBuilderConfig, error) {
	c := DefaultIndexBuilderConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return IndexBuilderConfig{}, errors.Wrapf(err, "config: decode %s", path)
	}
	return c, nil
}

// Write serializes c as TOML to w.
func (c IndexBuilderConfig) Write(w *os.File) error {
	enc := toml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "config: encode index builder config")
	}
	return nil
}
