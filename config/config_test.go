package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSearchConfigValidates(t *testing.T) {
	c := DefaultSearchConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSearchConfigRejectsExclusiveOptions(t *testing.T) {
	c := DefaultSearchConfig()
	c.Stage1.MaxFreq = 1000
	c.Stage1.MaxFreqFrac = 0.1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for mutually exclusive max_freq options")
	}
}

func TestSearchConfigRejectsBadK(t *testing.T) {
	c := DefaultSearchConfig()
	c.K = 20
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range k")
	}
}

func TestSearchConfigRoundTrip(t *testing.T) {
	c := DefaultSearchConfig()
	c.K = 9
	c.Stage1.MinScoreFrac = 0.25
	c.Stage1.MinScore = 0

	dir := t.TempDir()
	path := filepath.Join(dir, "search.toml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Write(f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	got, err := LoadSearchConfig(path)
	if err != nil {
		t.Fatalf("LoadSearchConfig: %v", err)
	}
	if got.K != 9 {
		t.Fatalf("K = %d, want 9", got.K)
	}
	if got.Stage1.MinScoreFrac != 0.25 {
		t.Fatalf("Stage1.MinScoreFrac = %v, want 0.25", got.Stage1.MinScoreFrac)
	}
}

func TestDefaultIndexBuilderConfigValidates(t *testing.T) {
	c := DefaultIndexBuilderConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("default builder config should validate: %v", err)
	}
}
