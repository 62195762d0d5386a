// Package config loads service configuration from the environment with an
// optional YAML file overlay for source-area definitions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

type InvalidationCfg struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

type Config struct {
	Addr     string
	LogLevel string
	AgentURL string

	RedisAddr      string
	CacheOpTimeout time.Duration
	MemCacheSize   int

	// per-namespace default TTLs
	TTLTerrain  time.Duration
	TTLRuns     time.Duration
	TTLAgents   time.Duration
	TTLMetadata time.Duration

	AgentTimeout     time.Duration
	AgentMaxAttempts int
	AgentBackoffBase time.Duration

	HeightScale      float64
	SmoothIterations int
	LODDistances     []float64
	LODFactors       []float64

	WarmMaxWorkers int
	WarmQueue      int

	Invalidation InvalidationCfg

	SourceAreas []model.SourceArea
}

func FromEnv() Config {
	cfg := Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		AgentURL: getenv("AGENT_URL", "http://localhost:8080/rpc"),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		MemCacheSize:   getint("MEM_CACHE_SIZE", 256),

		TTLTerrain:  getduration("CACHE_TTL_TERRAIN", time.Hour),
		TTLRuns:     getduration("CACHE_TTL_RUNS", 7*24*time.Hour),
		TTLAgents:   getduration("CACHE_TTL_AGENTS", 5*time.Minute),
		TTLMetadata: getduration("CACHE_TTL_METADATA", time.Hour),

		AgentTimeout:     getduration("AGENT_TIMEOUT", 10*time.Second),
		AgentMaxAttempts: getint("AGENT_MAX_ATTEMPTS", 3),
		AgentBackoffBase: getduration("AGENT_BACKOFF_BASE", 200*time.Millisecond),

		HeightScale:      getfloat("MESH_HEIGHT_SCALE", 1.0),
		SmoothIterations: getint("MESH_SMOOTH_ITERATIONS", 2),
		LODDistances:     getfloats("LOD_DISTANCES", []float64{500, 1500, 4000}),
		LODFactors:       getfloats("LOD_FACTORS", []float64{0.5, 0.25, 0.125}),

		WarmMaxWorkers: getint("WARM_MAX_WORKERS", 4),
		WarmQueue:      getint("WARM_QUEUE", 32),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "run-changes"),
			GroupID: getenv("KAFKA_GROUP_ID", "terrain-invalidator"),
		},
	}

	if path := getenv("CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			// config problems surface at startup through the caller's
			// validation, but a bad overlay is worth failing loudly on
			panic(fmt.Sprintf("config file %s: %v", path, err))
		}
	}
	return cfg
}

// fileConfig is the YAML overlay shape. Only the fields that make sense in
// a checked-in file are exposed; secrets and addresses stay in the
// environment.
type fileConfig struct {
	HeightScale      *float64           `yaml:"height_scale"`
	SmoothIterations *int               `yaml:"smooth_iterations"`
	LODDistances     []float64          `yaml:"lod_distances"`
	LODFactors       []float64          `yaml:"lod_factors"`
	Invalidation     *InvalidationCfg   `yaml:"invalidation"`
	SourceAreas      []sourceAreaConfig `yaml:"source_areas"`
}

type sourceAreaConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Bounds struct {
		North float64 `yaml:"north"`
		South float64 `yaml:"south"`
		East  float64 `yaml:"east"`
		West  float64 `yaml:"west"`
	} `yaml:"bounds"`
	Elevation struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"elevation"`
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.HeightScale != nil {
		c.HeightScale = *fc.HeightScale
	}
	if fc.SmoothIterations != nil {
		c.SmoothIterations = *fc.SmoothIterations
	}
	if len(fc.LODDistances) > 0 {
		c.LODDistances = fc.LODDistances
	}
	if len(fc.LODFactors) > 0 {
		c.LODFactors = fc.LODFactors
	}
	if fc.Invalidation != nil {
		c.Invalidation = *fc.Invalidation
	}
	for _, a := range fc.SourceAreas {
		c.SourceAreas = append(c.SourceAreas, model.SourceArea{
			ID:   a.ID,
			Name: a.Name,
			Bounds: model.Bounds{
				NorthEast: model.Coordinate{Lat: a.Bounds.North, Lng: a.Bounds.East},
				SouthWest: model.Coordinate{Lat: a.Bounds.South, Lng: a.Bounds.West},
			},
			Elevation: model.ElevationRange{Min: a.Elevation.Min, Max: a.Elevation.Max},
		})
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getfloats parses "500,1500,4000" into a slice.
func getfloats(k string, def []float64) []float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []float64
	for p := range strings.SplitSeq(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return def
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
