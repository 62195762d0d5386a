// Package catalog manages run definitions and the static source-area
// registry. Run definitions live in the cache's "runs" namespace; source
// areas are reference data registered once at startup.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/cache/keys"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/geo"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAreaNotFound = errors.New("source area not found")
)

// Run is the minimal input the pipeline needs for one ski run boundary.
type Run struct {
	ID           string         `json:"id"`
	Boundary     model.Boundary `json:"boundary"`
	SourceAreaID string         `json:"sourceAreaId"`
	GridSize     model.GridSize `json:"gridSize"`
}

type Catalog struct {
	log    *slog.Logger
	store  cache.Interface
	runTTL time.Duration

	mu    sync.RWMutex
	areas map[string]model.SourceArea
}

func New(log *slog.Logger, store cache.Interface, runTTL time.Duration) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{
		log:    log,
		store:  store,
		runTTL: runTTL,
		areas:  make(map[string]model.SourceArea),
	}
}

// RegisterArea adds a source area to the registry. Areas are immutable once
// registered.
func (c *Catalog) RegisterArea(area model.SourceArea) error {
	if area.ID == "" || !area.Bounds.Valid() {
		return fmt.Errorf("source area %q: invalid id or bounds", area.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.areas[area.ID] = area
	return nil
}

func (c *Catalog) Area(id string) (model.SourceArea, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.areas[id]
	if !ok {
		return model.SourceArea{}, fmt.Errorf("%w: %q", ErrAreaNotFound, id)
	}
	return a, nil
}

// SaveRun validates and stores a run definition, grouped by its source area
// for later bulk invalidation.
func (c *Catalog) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if !run.GridSize.Valid() {
		return fmt.Errorf("run %q: unsupported grid size %d", run.ID, int(run.GridSize))
	}
	if _, err := geo.PolygonBounds(run.Boundary); err != nil {
		return fmt.Errorf("run %q: %w", run.ID, err)
	}
	if _, err := c.Area(run.SourceAreaID); err != nil {
		return err
	}
	if err := c.store.Put(ctx, cache.NamespaceRuns, keys.Run(run.ID), run, c.runTTL,
		cache.WithGroup(keys.Group(run.SourceAreaID))); err != nil {
		return fmt.Errorf("save run %q: %w", run.ID, err)
	}
	return nil
}

func (c *Catalog) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	ok, err := c.store.Get(ctx, cache.NamespaceRuns, keys.Run(id), &run)
	if err != nil {
		return Run{}, fmt.Errorf("get run %q: %w", id, err)
	}
	if !ok {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, nil
}

// DeleteRun removes the run definition and invalidates every TerrainResult
// derived from its boundary, at all grid sizes. Terrain shared with another
// run tracing the same boundary is dropped too; the next request recomputes
// it.
func (c *Catalog) DeleteRun(ctx context.Context, id string) error {
	run, err := c.GetRun(ctx, id)
	if err != nil {
		return err
	}
	fp, err := geo.Fingerprint(run.Boundary)
	if err != nil {
		return fmt.Errorf("delete run %q: %w", id, err)
	}
	terrainKeys := make([]string, 0, len(model.GridSizes()))
	for _, g := range model.GridSizes() {
		terrainKeys = append(terrainKeys, keys.Terrain(fp, g))
	}
	if err := c.store.Invalidate(ctx, cache.NamespaceTerrain, terrainKeys...); err != nil {
		return fmt.Errorf("delete run %q terrain: %w", id, err)
	}
	if err := c.store.Invalidate(ctx, cache.NamespaceRuns, keys.Run(id)); err != nil {
		return fmt.Errorf("delete run %q: %w", id, err)
	}
	c.log.Info("run deleted", "run_id", id)
	return nil
}
