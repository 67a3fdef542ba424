package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/logutil"
)

func defaultTestCfg(t *testing.T) config.IndexBuilderConfig {
	t.Helper()
	cfg := config.DefaultIndexBuilderConfig()
	cfg.K = 4
	cfg.BufferSize = 1 << 20
	cfg.Partitions = 1
	return cfg
}

func testLogger() *logutil.Logger {
	return logutil.New(os.Stderr, logutil.LevelWarn)
}

func writeFasta(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fasta: %v", err)
	}
	return path
}
