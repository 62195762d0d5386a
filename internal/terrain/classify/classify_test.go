package classify

import (
	"testing"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

var rng = model.ElevationRange{Min: 1000, Max: 2000}

// field3 builds a 3x3 field with the center at centerVal and all neighbors
// at neighborVal, so the center's slope is fully controlled.
func field3(centerVal, neighborVal float64) *model.ElevationField {
	f := model.NewElevationField(3, 3)
	for i := range f.Values {
		f.Values[i] = neighborVal
	}
	f.Set(1, 1, centerVal)
	return f
}

func TestSurface_SlopeThresholds(t *testing.T) {
	// with cellSize 10m, a 10m neighbor difference is 45 deg, 5m is ~26.6,
	// 4m is ~21.8
	cases := []struct {
		name string
		diff float64
		want model.SurfaceType
	}{
		{"steep is rock", 10, model.SurfaceRock},
		{"moderate is mogul", 5, model.SurfaceMogul},
		{"gentle is groomed", 0.5, model.SurfaceGroomed},
		{"flat is groomed", 0, model.SurfaceGroomed},
	}
	for _, tc := range cases {
		f := field3(1100, 1100-tc.diff)
		got := Surface(f, rng, 10).At(1, 1)
		if got != tc.want {
			t.Errorf("%s (diff %.1f): got %v want %v", tc.name, tc.diff, got, tc.want)
		}
	}
}

func TestSurface_HighFlatTerrainIsPowder(t *testing.T) {
	// 1900m is above the 80% line of a 1000-2000m range
	f := field3(1900, 1900)
	if got := Surface(f, rng, 10).At(1, 1); got != model.SurfacePowder {
		t.Fatalf("got %v want powder", got)
	}
}

func TestSurface_SlopeBeatsElevation(t *testing.T) {
	// high but steep terrain classifies by slope first
	f := field3(1950, 1850)
	if got := Surface(f, rng, 10).At(1, 1); got != model.SurfaceRock {
		t.Fatalf("got %v want rock", got)
	}
}

func TestSurface_ZeroCellSizeDoesNotPanic(t *testing.T) {
	f := field3(1100, 1050)
	out := Surface(f, rng, 0)
	if out.Width != 3 || out.Height != 3 {
		t.Fatalf("wrong dimensions: %dx%d", out.Width, out.Height)
	}
}

func TestSurface_Deterministic(t *testing.T) {
	f := field3(1500, 1490)
	a := Surface(f, rng, 10)
	b := Surface(f, rng, 10)
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			t.Fatalf("nondeterministic at %d", i)
		}
	}
}
