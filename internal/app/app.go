// Package app wires the HTTP surface to the catalog, cache and terrain
// pipeline.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/catalog"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/router"
	"github.com/slopecraft/terrain-cache/internal/geo"
	"github.com/slopecraft/terrain-cache/internal/logger"
	"github.com/slopecraft/terrain-cache/internal/terrain/pipeline"
)

type App struct {
	log     *slog.Logger
	store   cache.Interface
	catalog *catalog.Catalog
	pipe    *pipeline.Pipeline
	warm    pipeline.WarmOptions
}

func New(log *slog.Logger, store cache.Interface, cat *catalog.Catalog, pipe *pipeline.Pipeline, warm pipeline.WarmOptions) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{log: log, store: store, catalog: cat, pipe: pipe, warm: warm}
}

// HandleTerrain serves POST /terrain: it persists the run definition, then
// builds (or replays from cache) the full terrain bundle.
func (a *App) HandleTerrain(ctx context.Context, w http.ResponseWriter, _ *http.Request, q router.TerrainRequest) {
	ctx = logger.WithRunID(ctx, q.RunID)

	area, err := a.catalog.Area(q.SourceAreaID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	run := catalog.Run{
		ID:           q.RunID,
		Boundary:     q.Boundary,
		SourceAreaID: q.SourceAreaID,
		GridSize:     q.GridSize,
	}
	if err := a.catalog.SaveRun(ctx, run); err != nil {
		if errors.Is(err, pipeline.ErrInvalidBoundary) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.log.Error("save run", "run_id", q.RunID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to persist run"))
		return
	}

	bundle, err := a.pipe.BuildTerrain(ctx, pipeline.Request{
		RunID:    q.RunID,
		Boundary: q.Boundary,
		Area:     area,
		GridSize: q.GridSize,
	})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrInvalidBoundary):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, pipeline.ErrSourceDataUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		a.log.Error("build terrain", "run_id", q.RunID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("terrain build failed"))
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// CreateRun serves POST /runs: it registers a run definition without
// building terrain, so it can be warmed or served later.
func (a *App) CreateRun(w http.ResponseWriter, r *http.Request) {
	var run catalog.Run
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.catalog.SaveRun(r.Context(), run); err != nil {
		switch {
		case errors.Is(err, catalog.ErrAreaNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, pipeline.ErrInvalidBoundary):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// DeleteRun serves DELETE /runs/{runID}: it removes the run definition and
// every cached terrain result derived from it.
func (a *App) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := a.catalog.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, catalog.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		a.log.Error("delete run", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("delete failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OfflineStatus serves GET /offline/{runID}?grid=64: reports whether the run
// can be rendered without any upstream call.
func (a *App) OfflineStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	size := model.GridMedium
	if g := r.URL.Query().Get("grid"); g != "" {
		parsed, err := model.ParseGridSize(g)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		size = parsed
	}

	// terrain entries are keyed by boundary fingerprint, so the stored run
	// definition is the way back to them; no definition means not ready
	run, err := a.catalog.GetRun(r.Context(), runID)
	if errors.Is(err, catalog.ErrRunNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"runId":     runID,
			"gridSize":  size.String(),
			"available": false,
		})
		return
	}
	if err != nil {
		a.log.Error("offline check", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("offline check failed"))
		return
	}
	fp, err := geo.Fingerprint(run.Boundary)
	if err != nil {
		a.log.Error("offline check fingerprint", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("offline check failed"))
		return
	}

	ok, err := a.store.IsAvailableOffline(r.Context(), runID, fp, size)
	if err != nil {
		a.log.Error("offline check", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("offline check failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":     runID,
		"gridSize":  size.String(),
		"available": ok,
	})
}

// WarmCache serves POST /warm: it precomputes and caches terrain bundles
// for the given runs so they answer offline checks afterwards. Grid sizes
// default to all supported sizes.
func (a *App) WarmCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunIDs    []string `json:"runIds"`
		GridSizes []int    `json:"gridSizes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.RunIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("runIds is required"))
		return
	}
	var sizes []model.GridSize
	if len(req.GridSizes) == 0 {
		sizes = model.GridSizes()
	} else {
		for _, n := range req.GridSizes {
			g := model.GridSize(n)
			if !g.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported grid size %d", n))
				return
			}
			sizes = append(sizes, g)
		}
	}

	runs := make([]catalog.Run, 0, len(req.RunIDs))
	areas := make(map[string]model.SourceArea)
	for _, id := range req.RunIDs {
		run, err := a.catalog.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, catalog.ErrRunNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			a.log.Error("warm run lookup", "run_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, errors.New("warm failed"))
			return
		}
		if _, ok := areas[run.SourceAreaID]; !ok {
			area, err := a.catalog.Area(run.SourceAreaID)
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			areas[run.SourceAreaID] = area
		}
		runs = append(runs, run)
	}

	results := a.pipe.Warm(r.Context(), runs, areas, sizes, a.warm)
	warmed := 0
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{
			"runId":    res.RunID,
			"gridSize": res.GridSize.String(),
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		} else {
			warmed++
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"warmed":  warmed,
		"results": out,
	})
}

// CacheStats serves GET /cache/stats.
func (a *App) CacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		a.log.Error("cache stats", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("stats unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClearCache serves DELETE /cache: it drops every namespace and resets the
// hit/miss counters.
func (a *App) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.Context()); err != nil {
		a.log.Error("cache clear", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("clear failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
