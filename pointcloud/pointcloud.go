// Package pointcloud defines an immutable colored point cloud, a nearest neighbor index over
// it, and readers for the point cloud files the scanner produces.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData creates a new MetaData with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds to include the given point.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Center returns the middle of the bounding box.
func (meta MetaData) Center() r3.Vector {
	return r3.Vector{
		X: (meta.MinX + meta.MaxX) / 2,
		Y: (meta.MinY + meta.MaxY) / 2,
		Z: (meta.MinZ + meta.MaxZ) / 2,
	}
}

// PointCloud is a set of positions with one color per position. It never changes after
// construction, so it can be handed between goroutines without locking.
type PointCloud struct {
	positions []r3.Vector
	colors    []color.NRGBA
	meta      MetaData
}

// NewFromSlices builds a cloud that takes ownership of the given slices; callers must not modify
// them afterwards. colors may be nil for an uncolored cloud.
func NewFromSlices(positions []r3.Vector, colors []color.NRGBA) (*PointCloud, error) {
	if colors != nil && len(colors) != len(positions) {
		return nil, errors.Errorf("point cloud has %d positions but %d colors", len(positions), len(colors))
	}
	meta := NewMetaData()
	meta.HasColor = colors != nil
	for _, p := range positions {
		meta.Merge(p)
	}
	return &PointCloud{positions: positions, colors: colors, meta: meta}, nil
}

// Empty returns a cloud with no points.
func Empty() *PointCloud {
	return &PointCloud{meta: NewMetaData()}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	if cloud == nil {
		return 0
	}
	return len(cloud.positions)
}

// MetaData returns meta data.
func (cloud *PointCloud) MetaData() MetaData {
	return cloud.meta
}

// Position returns the position of the i-th point.
func (cloud *PointCloud) Position(i int) r3.Vector {
	return cloud.positions[i]
}

// Color returns the color of the i-th point; uncolored clouds answer opaque white.
func (cloud *PointCloud) Color(i int) color.NRGBA {
	if cloud.colors == nil {
		return color.NRGBA{255, 255, 255, 255}
	}
	return cloud.colors[i]
}

// Iterate calls fn for each point in order until fn returns false.
func (cloud *PointCloud) Iterate(fn func(i int, p r3.Vector, c color.NRGBA) bool) {
	for i, p := range cloud.positions {
		if !fn(i, p, cloud.Color(i)) {
			return
		}
	}
}
