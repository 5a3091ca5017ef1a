package config

import (
	"testing"
	"time"

	"github.com/Napageneral/scribe/internal/delta"
	"github.com/Napageneral/scribe/internal/ratelimit"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("SCRIBE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Enrichment.RateLimitMS; got != int(ratelimit.DefaultMinDelay/time.Millisecond) {
		t.Errorf("default rate limit should match the limiter default, got %d", got)
	}
	if got := cfg.Enrichment.FailureThreshold; got != ratelimit.DefaultFailureThreshold {
		t.Errorf("default failure threshold should match the limiter default, got %d", got)
	}
	if got := cfg.Enrichment.CooldownSeconds; got != int(ratelimit.DefaultCooldown/time.Second) {
		t.Errorf("default cooldown should match the limiter default, got %d", got)
	}
	if cfg.Enrichment.StateFile != delta.DefaultStatePath {
		t.Errorf("default state file wrong: %s", cfg.Enrichment.StateFile)
	}
	if cfg.Export.OutputPath != "messages.json" {
		t.Errorf("default output path wrong: %s", cfg.Export.OutputPath)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCRIBE_CONFIG_DIR", dir)

	cfg := defaultConfig()
	cfg.Enrichment.RateLimitMS = 250
	cfg.Enrichment.AnalyzeLinks = true
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Enrichment.RateLimitMS != 250 {
		t.Errorf("configured rate limit lost, got %d", loaded.Enrichment.RateLimitMS)
	}
	if !loaded.Enrichment.AnalyzeLinks {
		t.Errorf("configured provider toggle lost")
	}
	// Fields absent from the file keep their defaults.
	if loaded.Enrichment.MaxRetries != 3 {
		t.Errorf("untouched field should keep its default, got %d", loaded.Enrichment.MaxRetries)
	}
}
