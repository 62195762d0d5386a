// Package pipeline wires the extraction stages into the cache-fronted
// entry point consumed by the rendering layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slopecraft/terrain-cache/internal/agent"
	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/cache/keys"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
	"github.com/slopecraft/terrain-cache/internal/geo"
	"github.com/slopecraft/terrain-cache/internal/terrain/classify"
	"github.com/slopecraft/terrain-cache/internal/terrain/extract"
	"github.com/slopecraft/terrain-cache/internal/terrain/lod"
	"github.com/slopecraft/terrain-cache/internal/terrain/meshbuild"
)

var (
	ErrInvalidBoundary       = geo.ErrInvalidBoundary
	ErrSourceDataUnavailable = errors.New("source data unavailable and no cached terrain")
)

// DataSource is the upstream collaborator seam, satisfied by *agent.Client.
type DataSource interface {
	FetchTerrainData(ctx context.Context, req agent.Request) (*agent.Response, error)
}

type Config struct {
	Mesh         meshbuild.Config
	LODDistances []float64
	LODFactors   []float64
	TTLTerrain   time.Duration
	TTLAgents    time.Duration
	// WriteTimeout bounds the detached cache write-back.
	WriteTimeout time.Duration
}

type Pipeline struct {
	log    *slog.Logger
	store  cache.Interface
	source DataSource
	cfg    Config
}

// Request identifies one extraction: a run's boundary over a source area at
// a chosen output resolution.
type Request struct {
	RunID    string
	Boundary model.Boundary
	Area     model.SourceArea
	GridSize model.GridSize
}

func New(log *slog.Logger, store cache.Interface, source DataSource, cfg Config) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Pipeline{log: log, store: store, source: source, cfg: cfg}
}

// BuildTerrain runs cache lookup, upstream fetch, extraction,
// classification, meshing and LOD generation for one request. The cached
// artifact is the TerrainResult; meshes are recomputed from it
// deterministically, so a cache hit and a fresh computation render
// identically.
func (p *Pipeline) BuildTerrain(ctx context.Context, req Request) (*model.TerrainBundle, error) {
	start := time.Now()

	// an invalid boundary is fatal to the request and never cached. The
	// fingerprint keys the terrain entry, so geometrically identical
	// boundaries resolve to one cached result regardless of run id.
	fp, err := geo.Fingerprint(req.Boundary)
	if err != nil {
		return nil, fmt.Errorf("boundary for run %q: %w", req.RunID, err)
	}

	terrainKey := keys.Terrain(fp, req.GridSize)
	var cached model.TerrainResult
	hit, err := p.store.Get(ctx, cache.NamespaceTerrain, terrainKey, &cached)
	if err != nil {
		p.log.Warn("terrain cache read failed, recomputing", "key", terrainKey, "err", err)
	}
	if hit {
		bundle := p.assemble(&cached, true)
		p.log.Info("terrain cache hit",
			"run_id", req.RunID, "grid", req.GridSize.String(),
			"dur", time.Since(start).String())
		return bundle, nil
	}

	resp, err := p.fetchFields(ctx, req)
	if err != nil {
		if errors.Is(err, agent.ErrUnavailable) {
			// stale-if-error: a concurrent invocation may have completed a
			// write since our miss
			if ok, gerr := p.store.Get(ctx, cache.NamespaceTerrain, terrainKey, &cached); gerr == nil && ok {
				p.log.Warn("serving cached terrain, upstream unavailable",
					"run_id", req.RunID, "err", err)
				return p.assemble(&cached, true), nil
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceDataUnavailable, err)
		}
		return nil, err
	}

	result, err := p.extractResult(req, resp)
	if err != nil {
		return nil, err
	}

	bundle := p.assemble(result, false)

	// the write-back must complete even if the caller abandons the request;
	// a failed write is logged and swallowed, the result is still returned
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()
	if err := p.store.Put(wctx, cache.NamespaceTerrain, terrainKey, result, p.cfg.TTLTerrain,
		cache.WithGroup(keys.Group(req.Area.ID))); err != nil {
		p.log.Warn("terrain cache write failed", "key", terrainKey, "err", err)
	}

	p.log.Info("terrain computed",
		"run_id", req.RunID, "grid", req.GridSize.String(),
		"area", req.Area.ID,
		"triangles", bundle.Mesh.TriangleCount(),
		"lod_levels", len(bundle.LODLevels),
		"dur", time.Since(start).String())
	return bundle, nil
}

// fetchFields returns the upstream full-area fields, going to the agents
// namespace first so repeated extractions for one area skip the network.
func (p *Pipeline) fetchFields(ctx context.Context, req Request) (*agent.Response, error) {
	agentKey := keys.Agent(req.Area.ID, req.GridSize, true)
	var cached agent.Response
	hit, err := p.store.Get(ctx, cache.NamespaceAgents, agentKey, &cached)
	if err != nil {
		p.log.Warn("agent cache read failed", "key", agentKey, "err", err)
	}
	if hit {
		return &cached, nil
	}

	start := time.Now()
	resp, err := p.source.FetchTerrainData(ctx, agent.Request{
		SourceAreaBounds:      req.Area.Bounds,
		OutputGridSize:        req.GridSize,
		IncludeClassification: true,
	})
	observability.ObservePipelineStage("fetch", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()
	if err := p.store.Put(wctx, cache.NamespaceAgents, agentKey, resp, p.cfg.TTLAgents,
		cache.WithGroup(keys.Group(req.Area.ID))); err != nil {
		p.log.Warn("agent cache write failed", "key", agentKey, "err", err)
	}
	return resp, nil
}

// extractResult clips and resamples the upstream fields to the boundary.
// Degenerate source data degrades to a synthetic flat field; partial
// terrain is preferable to no terrain.
func (p *Pipeline) extractResult(req Request, resp *agent.Response) (*model.TerrainResult, error) {
	start := time.Now()

	elev, err := extract.Elevation(resp.Elevation, req.Area.Bounds, req.Boundary, req.GridSize)
	switch {
	case errors.Is(err, extract.ErrSourceAreaMismatch):
		p.log.Warn("degenerate source field, using synthetic elevation",
			"run_id", req.RunID, "area", req.Area.ID)
		elev = extract.Synthetic(req.Area, req.GridSize)
	case err != nil:
		return nil, fmt.Errorf("extract elevation: %w", err)
	}
	observability.ObservePipelineStage("extract", time.Since(start).Seconds())

	bounds, err := geo.PolygonBounds(req.Boundary)
	if err != nil {
		return nil, fmt.Errorf("boundary bounds: %w", err)
	}
	widthM, heightM := geo.ExtentMeters(bounds)
	resolution := (widthM + heightM) / 2 / float64(int(req.GridSize)-1)

	start = time.Now()
	var surface *model.SurfaceField
	if !resp.Surface.Empty() {
		surface, err = extract.Surface(resp.Surface, req.Area.Bounds, req.Boundary, req.GridSize)
		if err != nil {
			p.log.Warn("surface extraction failed, classifying locally",
				"run_id", req.RunID, "err", err)
			surface = nil
		}
	}
	if surface == nil {
		surface = classify.Surface(elev, req.Area.Elevation, resolution)
	}
	observability.ObservePipelineStage("classify", time.Since(start).Seconds())

	return &model.TerrainResult{
		Elevation:  elev,
		Surface:    surface,
		Resolution: resolution,
		Bounds:     bounds,
		Source: model.SourceMeta{
			AreaID:   req.Area.ID,
			AreaName: req.Area.Name,
			Provider: resp.Metadata["source"],
		},
		GridSize: req.GridSize,
	}, nil
}

// assemble derives the renderable geometry from a terrain result.
func (p *Pipeline) assemble(result *model.TerrainResult, fromCache bool) *model.TerrainBundle {
	start := time.Now()
	mesh := meshbuild.Build(result, p.cfg.Mesh)
	observability.ObservePipelineStage("mesh", time.Since(start).Seconds())

	start = time.Now()
	levels := lod.Generate(result, p.cfg.Mesh, p.cfg.LODDistances, p.cfg.LODFactors)
	observability.ObservePipelineStage("lod", time.Since(start).Seconds())

	return &model.TerrainBundle{
		Result:    result,
		Mesh:      mesh,
		LODLevels: levels,
		FromCache: fromCache,
	}
}
