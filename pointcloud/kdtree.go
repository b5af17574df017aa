package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// ErrEmptyIndex is returned by queries against an index with no points.
var ErrEmptyIndex = errors.New("nearest neighbor index has no points")

// KDTree is a nearest neighbor index over the positions of one PointCloud.
type KDTree struct {
	cloud *PointCloud
	tree  *kdtree.Tree
}

// ToKDTree builds an index over the cloud. A nil or empty cloud yields an index whose queries
// fail with ErrEmptyIndex.
func ToKDTree(cloud *PointCloud) *KDTree {
	if cloud.Size() == 0 {
		return &KDTree{cloud: cloud}
	}
	pts := make(kdPoints, cloud.Size())
	cloud.Iterate(func(i int, p r3.Vector, _ color.NRGBA) bool {
		pts[i] = kdPoint{Vector: p, index: i}
		return true
	})
	return &KDTree{cloud: cloud, tree: kdtree.New(pts, false)}
}

// Cloud returns the cloud the index was built from.
func (kd *KDTree) Cloud() *PointCloud {
	return kd.cloud
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	if kd == nil {
		return 0
	}
	return kd.cloud.Size()
}

// NearestNeighbor returns the index and position of the cloud point closest to p, and the
// euclidean distance to it.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (int, r3.Vector, float64, error) {
	if kd == nil || kd.tree == nil {
		return 0, r3.Vector{}, 0, ErrEmptyIndex
	}
	c, sqDist := kd.tree.Nearest(kdPoint{Vector: p, index: -1})
	nearest, ok := c.(kdPoint)
	if !ok {
		return 0, r3.Vector{}, 0, ErrEmptyIndex
	}
	return nearest.index, nearest.Vector, math.Sqrt(sqDist), nil
}

// kdPoint is a cloud position remembering its index in the cloud.
type kdPoint struct {
	r3.Vector
	index int
}

func (p kdPoint) dim(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c and perpendicular
// to the dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return p.dim(d) - q.dim(d)
}

// Dims returns the number of dimensions described by the receiver.
func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance between c and the receiver.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	return p.Vector.Sub(q.Vector).Norm2()
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int        { return plane{kdPoints: p, Dim: d}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// plane is a wrapping type that allows a kdPoints type be pivoted on a dimension.
type plane struct {
	kdtree.Dim
	kdPoints
}

func (p plane) Less(i, j int) bool {
	return p.kdPoints[i].dim(p.Dim) < p.kdPoints[j].dim(p.Dim)
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}
