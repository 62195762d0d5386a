package lod

import (
	"testing"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/terrain/meshbuild"
)

func result(n int) *model.TerrainResult {
	f := model.NewElevationField(n, n)
	for i := range f.Values {
		f.Values[i] = float64(i % 7)
	}
	return &model.TerrainResult{
		Elevation:  f,
		Resolution: 10,
		Bounds: model.Bounds{
			SouthWest: model.Coordinate{Lat: 46.0, Lng: 10.0},
			NorthEast: model.Coordinate{Lat: 46.01, Lng: 10.01},
		},
		GridSize: model.GridSize(n),
	}
}

func TestGenerate_LevelsShrinkMonotonically(t *testing.T) {
	levels := Generate(result(64), meshbuild.DefaultConfig(),
		[]float64{500, 1500, 4000}, []float64{0.5, 0.25, 0.125})

	if len(levels) != 3 {
		t.Fatalf("level count: got %d", len(levels))
	}
	prev := 64 * 64
	for i, lv := range levels {
		vc := lv.Mesh.VertexCount()
		if vc >= prev {
			t.Fatalf("level %d: %d vertices, not fewer than previous %d", i, vc, prev)
		}
		prev = vc
	}
	if levels[0].Mesh.VertexCount() != 32*32 {
		t.Fatalf("level 0: got %d vertices want 1024", levels[0].Mesh.VertexCount())
	}
}

func TestGenerate_ActivationDistancesPreserved(t *testing.T) {
	dists := []float64{300, 900}
	levels := Generate(result(32), meshbuild.DefaultConfig(), dists, []float64{0.5, 0.25})
	for i, lv := range levels {
		if lv.ActivationDistance != dists[i] {
			t.Fatalf("level %d: distance %f want %f", i, lv.ActivationDistance, dists[i])
		}
	}
}

func TestGenerate_NeverBelowTwoByTwo(t *testing.T) {
	levels := Generate(result(32), meshbuild.DefaultConfig(),
		[]float64{100, 200, 300}, []float64{0.1, 0.05, 0.01})
	for i, lv := range levels {
		if lv.Mesh.VertexCount() < 4 {
			t.Fatalf("level %d shrank below 2x2: %d vertices", i, lv.Mesh.VertexCount())
		}
	}
	last := levels[2]
	if last.Mesh.VertexCount() != 4 || last.Mesh.TriangleCount() != 2 {
		t.Fatalf("minimal level: %d vertices %d triangles", last.Mesh.VertexCount(), last.Mesh.TriangleCount())
	}
}

func TestGenerate_ResamplesFromOriginalField(t *testing.T) {
	res := result(64)
	// corner values must survive every level since nearest-index resampling
	// of the original field always keeps the corners
	res.Elevation.Set(0, 0, 111)
	res.Elevation.Set(63, 63, 222)

	levels := Generate(res, meshbuild.Config{HeightScale: 1, SmoothIterations: 0},
		[]float64{500, 1500}, []float64{0.5, 0.25})
	for i, lv := range levels {
		// vertex y of the first and last vertex
		first := lv.Mesh.Vertices[1]
		last := lv.Mesh.Vertices[len(lv.Mesh.Vertices)-2]
		if first != 111 || last != 222 {
			t.Fatalf("level %d corners: first=%f last=%f", i, first, last)
		}
	}
}

func TestGenerate_PanicsOnMismatchedLengths(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Generate(result(32), meshbuild.DefaultConfig(), []float64{500}, []float64{0.5, 0.25})
}

func TestGenerate_PanicsOnNonIncreasingDistances(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Generate(result(32), meshbuild.DefaultConfig(), []float64{500, 500}, []float64{0.5, 0.25})
}

func TestGenerate_PanicsOnNonDecreasingFactors(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Generate(result(32), meshbuild.DefaultConfig(), []float64{500, 1000}, []float64{0.25, 0.5})
}
