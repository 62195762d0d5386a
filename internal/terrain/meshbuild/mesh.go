// Package meshbuild converts an elevation field into a triangulated,
// smoothed surface ready for GPU upload.
package meshbuild

import (
	"math"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/geo"
)

// Config controls vertical exaggeration and smoothing.
type Config struct {
	// HeightScale multiplies elevation values into world Y units.
	HeightScale float64
	// SmoothIterations is the number of 8-neighbor averaging passes applied
	// to interior cells before normals are computed.
	SmoothIterations int
}

func DefaultConfig() Config {
	return Config{HeightScale: 1.0, SmoothIterations: 2}
}

// Build produces a mesh from a terrain result. One vertex per cell; each
// 2x2 quad is split along a fixed diagonal, giving 2*(w-1)*(h-1) triangles.
// Output vertex positions and indices are bit-identical across runs for the
// same input and smoothing iteration count.
func Build(res *model.TerrainResult, cfg Config) *model.Mesh {
	elev := res.Elevation
	w, h := elev.Width, elev.Height

	heights := smoothed(elev, cfg.SmoothIterations)

	widthM, heightM := geo.ExtentMeters(res.Bounds)

	mesh := &model.Mesh{
		Vertices: make([]float32, 0, w*h*3),
		Normals:  make([]float32, w*h*3),
		UVs:      make([]float32, 0, w*h*2),
		Indices:  make([]uint32, 0, (w-1)*(h-1)*6),
	}

	bounds := model.BoundingBox{
		Min: [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}

	for y := 0; y < h; y++ {
		fy := float64(y) / float64(h-1)
		for x := 0; x < w; x++ {
			fx := float64(x) / float64(w-1)
			px := float32(fx * widthM)
			py := float32(heights[y*w+x] * cfg.HeightScale)
			pz := float32(fy * heightM)
			mesh.Vertices = append(mesh.Vertices, px, py, pz)
			mesh.UVs = append(mesh.UVs, float32(fx), float32(fy))
			updateBounds(&bounds, px, py, pz)
		}
	}

	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			a := uint32(y*w + x)
			b := a + 1
			c := a + uint32(w)
			d := c + 1
			mesh.Indices = append(mesh.Indices,
				a, c, b,
				b, c, d,
			)
		}
	}

	accumulateNormals(mesh)
	mesh.Bounds = bounds
	return mesh
}

// smoothed returns a copy of the elevation values after K passes of
// 8-neighbor averaging. Boundary rows and columns are left untouched so the
// silhouette does not shrink.
func smoothed(f *model.ElevationField, iterations int) []float64 {
	w, h := f.Width, f.Height
	cur := make([]float64, len(f.Values))
	copy(cur, f.Values)
	if iterations <= 0 || w < 3 || h < 3 {
		return cur
	}

	next := make([]float64, len(cur))
	for range iterations {
		copy(next, cur)
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				sum := 0.0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						sum += cur[(y+dy)*w+(x+dx)]
					}
				}
				next[y*w+x] = sum / 8
			}
		}
		cur, next = next, cur
	}
	return cur
}

// accumulateNormals sums each triangle's face normal into its three
// vertices, then normalizes. Repetition of a face normal across its corners
// approximates area weighting.
func accumulateNormals(m *model.Mesh) {
	for i := 0; i < len(m.Indices); i += 3 {
		ia, ib, ic := m.Indices[i]*3, m.Indices[i+1]*3, m.Indices[i+2]*3
		e1 := [3]float32{
			m.Vertices[ib] - m.Vertices[ia],
			m.Vertices[ib+1] - m.Vertices[ia+1],
			m.Vertices[ib+2] - m.Vertices[ia+2],
		}
		e2 := [3]float32{
			m.Vertices[ic] - m.Vertices[ia],
			m.Vertices[ic+1] - m.Vertices[ia+1],
			m.Vertices[ic+2] - m.Vertices[ia+2],
		}
		n := cross(e1, e2)
		for _, vi := range []uint32{ia, ib, ic} {
			m.Normals[vi] += n[0]
			m.Normals[vi+1] += n[1]
			m.Normals[vi+2] += n[2]
		}
	}
	for i := 0; i < len(m.Normals); i += 3 {
		n := normalize([3]float32{m.Normals[i], m.Normals[i+1], m.Normals[i+2]})
		m.Normals[i], m.Normals[i+1], m.Normals[i+2] = n[0], n[1], n[2]
	}
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l < 1e-6 {
		return [3]float32{0, 1, 0}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

func updateBounds(b *model.BoundingBox, x, y, z float32) {
	b.Min[0] = min(b.Min[0], x)
	b.Min[1] = min(b.Min[1], y)
	b.Min[2] = min(b.Min[2], z)
	b.Max[0] = max(b.Max[0], x)
	b.Max[1] = max(b.Max[1], y)
	b.Max[2] = max(b.Max[2], z)
}
