package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopecraft/terrain-cache/internal/agent"
	"github.com/slopecraft/terrain-cache/internal/app"
	"github.com/slopecraft/terrain-cache/internal/cache/redisstore"
	"github.com/slopecraft/terrain-cache/internal/cache/store"
	"github.com/slopecraft/terrain-cache/internal/catalog"
	"github.com/slopecraft/terrain-cache/internal/core/config"
	"github.com/slopecraft/terrain-cache/internal/core/health"
	"github.com/slopecraft/terrain-cache/internal/core/httpclient"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
	"github.com/slopecraft/terrain-cache/internal/core/server"
	"github.com/slopecraft/terrain-cache/internal/logger"
	"github.com/slopecraft/terrain-cache/internal/terrain/meshbuild"
	"github.com/slopecraft/terrain-cache/internal/terrain/pipeline"
	kafkainval "github.com/slopecraft/terrain-cache/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "terrain-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting terrain server",
		"addr", cfg.Addr,
		"version", Version,
		"agent", cfg.AgentURL,
		"redis", cfg.RedisAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rcli, err := redisstore.New(ctx, cfg.RedisAddr,
		redisstore.WithReadTimeout(cfg.CacheOpTimeout),
		redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() {
		if err := rcli.Close(); err != nil {
			appLog.Error("redis close", "err", err)
		}
	}()

	st, err := store.New(appLog, rcli, cfg.MemCacheSize)
	if err != nil {
		appLog.Error("cache store init failed", "err", err)
		return 1
	}

	cat := catalog.New(appLog, st, cfg.TTLRuns)
	for _, area := range sourceAreas(cfg) {
		if err := cat.RegisterArea(area); err != nil {
			appLog.Error("register source area failed", "area", area.ID, "err", err)
			return 1
		}
	}

	agentClient, err := agent.New(appLog, httpclient.NewOutbound(), agent.Config{
		URL:         cfg.AgentURL,
		Timeout:     cfg.AgentTimeout,
		MaxAttempts: cfg.AgentMaxAttempts,
		BackoffBase: cfg.AgentBackoffBase,
	})
	if err != nil {
		appLog.Error("agent client init failed", "err", err)
		return 1
	}

	pipe := pipeline.New(appLog, st, agentClient, pipeline.Config{
		Mesh: meshbuild.Config{
			HeightScale:      cfg.HeightScale,
			SmoothIterations: cfg.SmoothIterations,
		},
		LODDistances: cfg.LODDistances,
		LODFactors:   cfg.LODFactors,
		TTLTerrain:   cfg.TTLTerrain,
		TTLAgents:    cfg.TTLAgents,
	})

	var readiness health.ReadinessReporter
	runner := kafkainval.New(kafkainval.FromConfig(cfg.Invalidation), st, kafkainval.Options{
		Logger:   appLog,
		Register: prometheus.DefaultRegisterer,
	})
	if cfg.Invalidation.Enabled {
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation runner start failed", "err", err)
			return 1
		}
		defer runner.Stop()
		readiness = runner
	}

	a := app.New(appLog, st, cat, pipe, pipeline.WarmOptions{
		MaxWorkers: cfg.WarmMaxWorkers,
		QueueSize:  cfg.WarmQueue,
	})
	if err := server.Run(ctx, cfg, appLog, a, readiness); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// sourceAreas returns the configured areas, falling back to a single demo
// area so the service is usable out of the box.
func sourceAreas(cfg config.Config) []model.SourceArea {
	if len(cfg.SourceAreas) > 0 {
		return cfg.SourceAreas
	}
	return []model.SourceArea{{
		ID:   "alpine-demo",
		Name: "Alpine Demo Resort",
		Bounds: model.Bounds{
			NorthEast: model.Coordinate{Lat: 46.60, Lng: 10.95},
			SouthWest: model.Coordinate{Lat: 46.50, Lng: 10.80},
		},
		Elevation: model.ElevationRange{Min: 1200, Max: 3200},
	}}
}
