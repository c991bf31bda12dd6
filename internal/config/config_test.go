package config_test

import (
	"strings"
	"testing"

	"github.com/vonbase/nexusmem/internal/config"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("Defaults() must validate cleanly, got: %v", err)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("Embedding.Dimension = %d, want 1536", cfg.Embedding.Dimension)
	}
	if cfg.Dedup.Mode != "log_only" {
		t.Errorf("Dedup.Mode = %q, want log_only", cfg.Dedup.Mode)
	}
	if cfg.Graph.SyncMode != "inline" {
		t.Errorf("Graph.SyncMode = %q, want inline", cfg.Graph.SyncMode)
	}
}

func TestValidate_RejectsUnknownEmbeddingProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Provider = "carrier-pigeon"
	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
	if !strings.Contains(err.Error(), "embedding.provider") {
		t.Errorf("error = %q, want mention of embedding.provider", err.Error())
	}
}

func TestValidate_RejectsUnknownDedupMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Dedup.Mode = "yolo"
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error for unknown dedup mode")
	}
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	cfg := config.Defaults()
	cfg.Dedup.SimilarityThreshold = 1.5
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error for out-of-range similarity threshold")
	}
}

func TestValidate_RejectsPoolSizeInversion(t *testing.T) {
	cfg := config.Defaults()
	cfg.Primary.MinPoolSize = 50
	cfg.Primary.MaxPoolSize = 20
	if err := config.Validate(&cfg); err == nil {
		t.Fatal("expected error when min_pool_size exceeds max_pool_size")
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Provider = "bogus"
	cfg.Dedup.Mode = "bogus"
	cfg.Import.BatchSize = 0
	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected joined error")
	}
	msg := err.Error()
	for _, want := range []string{"embedding.provider", "dedup.mode", "import.batch_size"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error %q missing complaint about %q", msg, want)
		}
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	yaml := strings.NewReader(`
embedding:
  provider: mock
  dimension: 64
dedup:
  mode: active
`)
	cfg, err := config.LoadFromReader(yaml)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Embedding.Dimension != 64 {
		t.Errorf("Embedding.Dimension = %d, want 64", cfg.Embedding.Dimension)
	}
	if cfg.Dedup.Mode != "active" {
		t.Errorf("Dedup.Mode = %q, want active", cfg.Dedup.Mode)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want :8080 (default preserved)", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_RejectsInvalidOverride(t *testing.T) {
	yaml := strings.NewReader(`
dedup:
  mode: not-a-real-mode
`)
	if _, err := config.LoadFromReader(yaml); err == nil {
		t.Fatal("expected validation error from invalid override")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("Embedding.Dimension = %d, want 1536", cfg.Embedding.Dimension)
	}
}

func TestLoad_MissingFilePathIsNotFatal(t *testing.T) {
	_, err := config.Load("/nonexistent/path/to/config.yaml")
	if err != nil {
		t.Fatalf("Load with nonexistent path should fall back to defaults, got: %v", err)
	}
}

func TestLoad_BareEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("DEDUPLICATION_MODE", "active")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dedup.Mode != "active" {
		t.Errorf("Dedup.Mode = %q, want active (from DEDUPLICATION_MODE)", cfg.Dedup.Mode)
	}
}
