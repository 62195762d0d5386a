// Package router validates incoming HTTP requests and hands them to the
// terrain handler.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
)

const maxBodyBytes = 1 << 20

// TerrainRequest is the decoded and validated body of POST /terrain.
type TerrainRequest struct {
	RunID        string         `json:"runId"`
	SourceAreaID string         `json:"sourceAreaId"`
	GridSize     model.GridSize `json:"gridSize"`
	Boundary     model.Boundary `json:"boundary"`
}

// TerrainHandler receives validated terrain requests and serves them.
type TerrainHandler interface {
	HandleTerrain(ctx context.Context, w http.ResponseWriter, r *http.Request, q TerrainRequest)
}

// HandleTerrain validates the request body and calls the handler.
func HandleTerrain(logger *slog.Logger, h TerrainHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, err := ParseTerrainRequest(r)
		if err != nil {
			logger.Warn("bad terrain request", "err", err)
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/terrain", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleTerrain(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/terrain", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseTerrainRequest decodes and validates the JSON body. The boundary
// itself is only checked structurally here; geometric validation belongs to
// the pipeline.
func ParseTerrainRequest(r *http.Request) (TerrainRequest, error) {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	var body struct {
		RunID        string             `json:"runId"`
		SourceAreaID string             `json:"sourceAreaId"`
		GridSize     json.Number        `json:"gridSize"`
		Boundary     []model.Coordinate `json:"boundary"`
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return TerrainRequest{}, fmt.Errorf("decode body: %w", err)
	}

	runID := strings.TrimSpace(body.RunID)
	if runID == "" {
		return TerrainRequest{}, errors.New("missing required field: runId")
	}
	areaID := strings.TrimSpace(body.SourceAreaID)
	if areaID == "" {
		return TerrainRequest{}, errors.New("missing required field: sourceAreaId")
	}

	size, err := model.ParseGridSize(body.GridSize.String())
	if err != nil {
		return TerrainRequest{}, fmt.Errorf("gridSize: %w", err)
	}

	if len(body.Boundary) < 3 {
		return TerrainRequest{}, errors.New("boundary requires at least 3 points")
	}
	for i, c := range body.Boundary {
		if c.Lat < -90 || c.Lat > 90 {
			return TerrainRequest{}, fmt.Errorf("boundary[%d]: latitude must be in [-90,90]", i)
		}
		if c.Lng < -180 || c.Lng > 180 {
			return TerrainRequest{}, fmt.Errorf("boundary[%d]: longitude must be in [-180,180]", i)
		}
		if i > 0 && c == body.Boundary[i-1] {
			return TerrainRequest{}, fmt.Errorf("boundary[%d]: repeated consecutive point", i)
		}
	}

	return TerrainRequest{
		RunID:        runID,
		SourceAreaID: areaID,
		GridSize:     size,
		Boundary:     model.Boundary(body.Boundary),
	}, nil
}
