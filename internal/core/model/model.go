// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Boundary is an ordered ring of >=3 coordinates traced by the user.
// The ring is not required to repeat its first point.
type Boundary []Coordinate

// Bounds is an axis-aligned geographic rectangle.
type Bounds struct {
	NorthEast Coordinate `json:"northEast"`
	SouthWest Coordinate `json:"southWest"`
}

func (b Bounds) Valid() bool {
	return b.NorthEast.Lat > b.SouthWest.Lat && b.NorthEast.Lng > b.SouthWest.Lng
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Lat: (b.NorthEast.Lat + b.SouthWest.Lat) / 2,
		Lng: (b.NorthEast.Lng + b.SouthWest.Lng) / 2,
	}
}

// ElevationRange is the stated min/max elevation of a source area, in meters.
type ElevationRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r ElevationRange) Mid() float64 { return (r.Min + r.Max) / 2 }

// SourceArea is a named region for which the upstream collaborator can
// supply full-area fields. Registered once at startup, immutable after.
type SourceArea struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Bounds    Bounds         `json:"bounds"`
	Elevation ElevationRange `json:"elevation"`
}

// GridSize is the cell-count dimension of an output field.
type GridSize int

const (
	GridSmall  GridSize = 32
	GridMedium GridSize = 64
	GridLarge  GridSize = 96
	GridXL     GridSize = 128
)

// GridSizes lists every supported output resolution, smallest first.
func GridSizes() []GridSize {
	return []GridSize{GridSmall, GridMedium, GridLarge, GridXL}
}

func (g GridSize) Valid() bool {
	switch g {
	case GridSmall, GridMedium, GridLarge, GridXL:
		return true
	}
	return false
}

func (g GridSize) String() string {
	return fmt.Sprintf("%dx%d", int(g), int(g))
}

// ParseGridSize accepts "64" or "64x64".
func ParseGridSize(s string) (GridSize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.IndexByte(s, 'x'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse grid size %q: %w", s, err)
	}
	g := GridSize(n)
	if !g.Valid() {
		return 0, fmt.Errorf("unsupported grid size %d", n)
	}
	return g, nil
}

// ElevationField is a rectangular grid of elevation samples, row-major.
// A flat backing slice with explicit dimensions keeps the grid rectangular
// by construction.
type ElevationField struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"values"`
}

func NewElevationField(w, h int) *ElevationField {
	return &ElevationField{Width: w, Height: h, Values: make([]float64, w*h)}
}

func (f *ElevationField) At(x, y int) float64     { return f.Values[y*f.Width+x] }
func (f *ElevationField) Set(x, y int, v float64) { f.Values[y*f.Width+x] = v }

// Empty reports whether the field carries no samples.
func (f *ElevationField) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0 || len(f.Values) == 0
}

// SurfaceType is a discrete snow/terrain classification per cell.
type SurfaceType uint8

const (
	SurfaceGroomed SurfaceType = iota
	SurfacePowder
	SurfaceMogul
	SurfaceRock
)

func (s SurfaceType) String() string {
	switch s {
	case SurfaceGroomed:
		return "groomed"
	case SurfacePowder:
		return "powder"
	case SurfaceMogul:
		return "mogul"
	case SurfaceRock:
		return "rock"
	}
	return "unknown"
}

// SurfaceField is a rectangular grid of surface labels, row-major,
// dimensionally identical to the ElevationField it accompanies.
type SurfaceField struct {
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Labels []SurfaceType `json:"labels"`
}

func NewSurfaceField(w, h int) *SurfaceField {
	return &SurfaceField{Width: w, Height: h, Labels: make([]SurfaceType, w*h)}
}

func (f *SurfaceField) At(x, y int) SurfaceType     { return f.Labels[y*f.Width+x] }
func (f *SurfaceField) Set(x, y int, v SurfaceType) { f.Labels[y*f.Width+x] = v }

func (f *SurfaceField) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0 || len(f.Labels) == 0
}

// SourceMeta records where a TerrainResult came from.
type SourceMeta struct {
	AreaID   string `json:"areaId"`
	AreaName string `json:"areaName"`
	Provider string `json:"provider,omitempty"`
}

// TerrainResult is the immutable output of the extraction pipeline for one
// (boundary, grid size) pair. Resolution is meters per cell.
type TerrainResult struct {
	Elevation  *ElevationField `json:"elevation"`
	Surface    *SurfaceField   `json:"surface"`
	Resolution float64         `json:"resolution"`
	Bounds     Bounds          `json:"bounds"`
	Source     SourceMeta      `json:"source"`
	GridSize   GridSize        `json:"gridSize"`
}

// BoundingBox is an axis-aligned box in mesh world units.
type BoundingBox struct {
	Min [3]float32 `json:"min"`
	Max [3]float32 `json:"max"`
}

// Mesh is a triangle mesh ready for GPU upload. All arrays are flat:
// vertices and normals carry 3 floats per vertex, uvs 2 floats per vertex,
// indices 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32   `json:"vertices"`
	Normals  []float32   `json:"normals"`
	UVs      []float32   `json:"uvs"`
	Indices  []uint32    `json:"indices"`
	Bounds   BoundingBox `json:"bounds"`
}

func (m *Mesh) VertexCount() int   { return len(m.Vertices) / 3 }
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// LODLevel is a reduced-geometry mesh activated beyond a viewing distance.
type LODLevel struct {
	ActivationDistance float64 `json:"activationDistance"`
	ReductionFactor    float64 `json:"reductionFactor"`
	Mesh               *Mesh   `json:"mesh"`
}

// TerrainBundle is what the pipeline hands to the rendering layer.
type TerrainBundle struct {
	Result    *TerrainResult `json:"result"`
	Mesh      *Mesh          `json:"mesh"`
	LODLevels []LODLevel     `json:"lodLevels"`
	FromCache bool           `json:"fromCache"`
}
