package main

import (
	"testing"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/protocol"
	"github.com/astanabe/ikafssn-sub000/search"
)

func TestFracFromX10000(t *testing.T) {
	if got := fracFromX10000(0); got != 0 {
		t.Errorf("fracFromX10000(0) = %v, want 0", got)
	}
	if got := fracFromX10000(5000); got != 0.5 {
		t.Errorf("fracFromX10000(5000) = %v, want 0.5", got)
	}
}

func TestClampU16(t *testing.T) {
	cases := []struct {
		in   int32
		want uint16
	}{
		{-5, 0},
		{0, 0},
		{1000, 1000},
		{70000, 0xFFFF},
	}
	for _, c := range cases {
		if got := clampU16(c.in); got != c.want {
			t.Errorf("clampU16(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestScoreTypeRoundTrip(t *testing.T) {
	if scoreTypeName(1) != "matchscore" {
		t.Fatal("byte 1 should decode to matchscore")
	}
	if scoreTypeName(0) != "coverscore" {
		t.Fatal("byte 0 should decode to coverscore")
	}
	if stage1ScoreTypeByte("matchscore") != 1 {
		t.Fatal("matchscore should encode to 1")
	}
	if stage1ScoreTypeByte("coverscore") != 0 {
		t.Fatal("coverscore should encode to 0")
	}
}

func TestBuildFilterNoneWhenModeNone(t *testing.T) {
	cfg := config.DefaultSearchConfig()
	db := &search.Database{}
	filter, err := buildFilter(db, cfg, nil)
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if filter != nil {
		t.Fatal("expected nil filter when seqidlist_mode is none")
	}
}

func TestBuildFilterNoneWhenNoVolumes(t *testing.T) {
	cfg := config.DefaultSearchConfig()
	cfg.SeqidlistMode = "include"
	cfg.Seqids = []string{"seqA"}
	db := &search.Database{Volumes: nil}
	filter, err := buildFilter(db, cfg, nil)
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if filter != nil {
		t.Fatal("expected nil filter with no volumes to resolve accessions against")
	}
}

func TestRequestToSearchTranslatesFractions(t *testing.T) {
	req := &protocol.SearchRequest{
		K:                        4,
		Mode:                     1,
		Stage1ScoreType:          1,
		Stage1TopN:               10,
		MinStage1ScoreFracX10000: 2500,
		Strand:                   2,
		SortScore:                2,
		SeqidlistMode:            protocol.SeqidlistNone,
		Queries: []protocol.QueryEntry{
			{QueryID: "q1", Sequence: "ACGTACGT"},
		},
	}
	db := &search.Database{}
	cfg, filter, queries, err := requestToSearch(req, db, config.DefaultSearchConfig(), nil)
	if err != nil {
		t.Fatalf("requestToSearch: %v", err)
	}
	if filter != nil {
		t.Fatal("expected nil filter for seqidlist_mode none")
	}
	if cfg.Stage1.MinScoreFrac != 0.25 {
		t.Fatalf("MinScoreFrac = %v, want 0.25", cfg.Stage1.MinScoreFrac)
	}
	if cfg.Stage1.ScoreType != "matchscore" {
		t.Fatalf("ScoreType = %q, want matchscore", cfg.Stage1.ScoreType)
	}
	if len(queries) != 1 || queries[0].ID != "q1" || string(queries[0].Sequence) != "ACGTACGT" {
		t.Fatalf("unexpected queries: %+v", queries)
	}
}

func TestResultsToResponseMapsHits(t *testing.T) {
	results := []search.Result{
		{
			QueryID: "q1",
			Hits: []search.OutputHit{
				{
					ChainResult: search.ChainResult{ChainScore: 42, Stage1Score: 7, IsReverse: true},
					Accession:   "seqA",
					Volume:      0,
				},
			},
		},
	}
	cfg := config.DefaultSearchConfig()
	resp := resultsToResponse(cfg, results)
	if len(resp.Results) != 1 || len(resp.Results[0].Hits) != 1 {
		t.Fatalf("unexpected response shape: %+v", resp)
	}
	h := resp.Results[0].Hits[0]
	if h.Accession != "seqA" || h.Strand != -1 || h.ChainScore != 42 {
		t.Fatalf("unexpected hit: %+v", h)
	}
}
