// Package lod derives progressively decimated meshes for distance-based
// detail switching.
package lod

import (
	"fmt"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/terrain/meshbuild"
)

// Generate builds one mesh per (distance, factor) pair, each at a reduced
// grid resolution obtained by nearest-index resampling of the ORIGINAL
// elevation and surface fields, never of a previously reduced mesh, so
// sampling error does not compound across levels.
//
// Distances must be strictly increasing and factors strictly decreasing;
// a violation is a programming error and panics, since downstream level
// selection assumes monotonicity.
func Generate(res *model.TerrainResult, cfg meshbuild.Config, distances, factors []float64) []model.LODLevel {
	if len(distances) != len(factors) {
		panic(fmt.Sprintf("lod: %d distances but %d reduction factors", len(distances), len(factors)))
	}
	for i := 1; i < len(distances); i++ {
		if distances[i] <= distances[i-1] {
			panic(fmt.Sprintf("lod: activation distances not strictly increasing at level %d", i))
		}
		if factors[i] >= factors[i-1] {
			panic(fmt.Sprintf("lod: reduction factors not strictly decreasing at level %d", i))
		}
	}

	levels := make([]model.LODLevel, 0, len(distances))
	for i, dist := range distances {
		reduced := resample(res, factors[i])
		levels = append(levels, model.LODLevel{
			ActivationDistance: dist,
			ReductionFactor:    factors[i],
			Mesh:               meshbuild.Build(reduced, cfg),
		})
	}
	return levels
}

// resample shrinks the result's fields to floor(dim*factor), never below
// 2x2, picking the nearest source index per output cell.
func resample(res *model.TerrainResult, factor float64) *model.TerrainResult {
	src := res.Elevation
	w := reducedDim(src.Width, factor)
	h := reducedDim(src.Height, factor)

	elev := model.NewElevationField(w, h)
	var surf *model.SurfaceField
	if !res.Surface.Empty() {
		surf = model.NewSurfaceField(w, h)
	}

	for y := 0; y < h; y++ {
		sy := nearestIndex(y, h, src.Height)
		for x := 0; x < w; x++ {
			sx := nearestIndex(x, w, src.Width)
			elev.Set(x, y, src.At(sx, sy))
			if surf != nil {
				surf.Set(x, y, res.Surface.At(sx, sy))
			}
		}
	}

	out := *res
	out.Elevation = elev
	out.Surface = surf
	out.Resolution = res.Resolution * float64(src.Width-1) / float64(w-1)
	return &out
}

func reducedDim(dim int, factor float64) int {
	n := int(float64(dim) * factor)
	if n < 2 {
		n = 2
	}
	return n
}

func nearestIndex(i, outDim, srcDim int) int {
	if outDim == 1 {
		return 0
	}
	s := int(float64(i)/float64(outDim-1)*float64(srcDim-1) + 0.5)
	if s > srcDim-1 {
		s = srcDim - 1
	}
	return s
}
