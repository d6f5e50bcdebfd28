package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
items_path: items.txt
output_root: ./out
worker_ceiling: 8
bandwidth_ceiling_bps: 1048576
extension_whitelist: [mp3, flac]
manifest_url: https://example.test/metadata
download_base_url: https://example.test/download
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.WorkerCeiling != 8 {
		t.Errorf("expected worker_ceiling 8, got %d", cfg.WorkerCeiling)
	}
	if cfg.BandwidthCeilingBps != 1048576 {
		t.Errorf("expected bandwidth_ceiling_bps 1048576, got %d", cfg.BandwidthCeilingBps)
	}
	if len(cfg.ExtensionWhitelist) != 2 {
		t.Errorf("expected 2 extensions, got %v", cfg.ExtensionWhitelist)
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("GRABIA_WORKER_CEILING", "16")
	t.Setenv("GRABIA_SYNC", "true")
	t.Setenv("GRABIA_MANIFEST_URL", "https://example.test")

	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.WorkerCeiling != 16 {
		t.Errorf("expected worker_ceiling 16, got %d", cfg.WorkerCeiling)
	}
	if !cfg.Sync {
		t.Error("expected sync true")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing items_path")
	}

	cfg.ItemsPath = "items.txt"
	cfg.OutputRoot = "./out"
	cfg.ManifestURL = "https://example.test"
	cfg.DownloadBaseURL = "https://example.test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.WorkerCeiling = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for worker_ceiling out of range")
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.ItemsPath = "a.txt"

	merged := base.Merge(Config{ItemsPath: "b.txt", WorkerCeiling: 20})
	if merged.ItemsPath != "b.txt" {
		t.Errorf("expected override items_path, got %s", merged.ItemsPath)
	}
	if merged.WorkerCeiling != 20 {
		t.Errorf("expected override worker_ceiling, got %d", merged.WorkerCeiling)
	}
}
