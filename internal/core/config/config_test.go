package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" {
		t.Fatalf("addr: %s", cfg.Addr)
	}
	if cfg.TTLTerrain != time.Hour {
		t.Fatalf("terrain ttl: %s", cfg.TTLTerrain)
	}
	if cfg.TTLRuns != 7*24*time.Hour {
		t.Fatalf("runs ttl: %s", cfg.TTLRuns)
	}
	if cfg.TTLAgents != 5*time.Minute {
		t.Fatalf("agents ttl: %s", cfg.TTLAgents)
	}
	if len(cfg.LODDistances) != 3 || len(cfg.LODFactors) != 3 {
		t.Fatalf("lod defaults: %v / %v", cfg.LODDistances, cfg.LODFactors)
	}
	if cfg.Invalidation.Enabled {
		t.Fatal("invalidation must default to disabled")
	}
	if cfg.Invalidation.Topic != "run-changes" {
		t.Fatalf("topic: %s", cfg.Invalidation.Topic)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("CACHE_TTL_TERRAIN", "30m")
	t.Setenv("LOD_DISTANCES", "100, 200")
	t.Setenv("AGENT_MAX_ATTEMPTS", "5")
	t.Setenv("INVALIDATION_ENABLED", "true")

	cfg := FromEnv()
	if cfg.Addr != ":9999" {
		t.Fatalf("addr: %s", cfg.Addr)
	}
	if cfg.TTLTerrain != 30*time.Minute {
		t.Fatalf("terrain ttl: %s", cfg.TTLTerrain)
	}
	if len(cfg.LODDistances) != 2 || cfg.LODDistances[1] != 200 {
		t.Fatalf("lod distances: %v", cfg.LODDistances)
	}
	if cfg.AgentMaxAttempts != 5 {
		t.Fatalf("max attempts: %d", cfg.AgentMaxAttempts)
	}
	if !cfg.Invalidation.Enabled {
		t.Fatal("invalidation not enabled")
	}
}

func TestFromEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL_TERRAIN", "soon")
	t.Setenv("AGENT_MAX_ATTEMPTS", "many")
	t.Setenv("LOD_FACTORS", "0.5,oops")

	cfg := FromEnv()
	if cfg.TTLTerrain != time.Hour {
		t.Fatalf("terrain ttl: %s", cfg.TTLTerrain)
	}
	if cfg.AgentMaxAttempts != 3 {
		t.Fatalf("max attempts: %d", cfg.AgentMaxAttempts)
	}
	if len(cfg.LODFactors) != 3 {
		t.Fatalf("lod factors: %v", cfg.LODFactors)
	}
}

func TestConfigFile_Overlay(t *testing.T) {
	yml := `
height_scale: 1.5
smooth_iterations: 4
lod_distances: [250, 800]
lod_factors: [0.6, 0.3]
source_areas:
  - id: zermatt
    name: Zermatt
    bounds:
      north: 46.05
      south: 45.95
      east: 7.80
      west: 7.65
    elevation:
      min: 1600
      max: 3900
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg := FromEnv()
	if cfg.HeightScale != 1.5 || cfg.SmoothIterations != 4 {
		t.Fatalf("mesh settings: %f / %d", cfg.HeightScale, cfg.SmoothIterations)
	}
	if len(cfg.LODDistances) != 2 || cfg.LODDistances[0] != 250 {
		t.Fatalf("lod distances: %v", cfg.LODDistances)
	}
	if len(cfg.SourceAreas) != 1 {
		t.Fatalf("source areas: %v", cfg.SourceAreas)
	}
	a := cfg.SourceAreas[0]
	if a.ID != "zermatt" || !a.Bounds.Valid() {
		t.Fatalf("area: %+v", a)
	}
	if a.Elevation.Min != 1600 || a.Elevation.Max != 3900 {
		t.Fatalf("elevation: %+v", a.Elevation)
	}
}

func TestConfigFile_BadFilePanics(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unreadable config file")
		}
	}()
	FromEnv()
}
