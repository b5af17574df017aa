package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// Depth is the depth sample of a single pixel, in device units. The device depth scale converts
// it to meters.
type Depth uint16

// MaxDepth is the largest representable depth.
const MaxDepth = Depth(math.MaxUint16)

// NoDepth is the sentinel for pixels without a depth measurement.
const NoDepth = Depth(0)

// DepthMap is a H x W grid of depth samples stored row-major.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a depth map of the given size with every pixel set to NoDepth.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// NewDepthMapFromSlice wraps row-major samples. The slice must hold width*height values.
func NewDepthMapFromSlice(width, height int, data []Depth) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth map size (%d,%d)", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("depth buffer has %d samples, want %d", len(data), width*height)
	}
	return &DepthMap{width: width, height: height, data: data}, nil
}

// ConvertImageToDepthMap takes a 16 bit grayscale image, as written by depth recorders, and
// reinterprets its samples as depth.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		bounds := ii.Bounds()
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm, nil
	default:
		return nil, errors.Errorf("cannot convert image type %T to a depth map", img)
	}
}

// Width returns the horizontal size in pixels.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size in pixels.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Valid reports whether the map has a size and a buffer that agree.
func (dm *DepthMap) Valid() bool {
	return dm != nil && dm.width > 0 && dm.height > 0 && len(dm.data) == dm.width*dm.height
}

// Contains returns whether the pixel is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// GetDepth returns the depth at (x,y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set stores the depth at (x,y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[dm.kxy(x, y)] = val
}

// ValidCount returns how many pixels carry a depth measurement.
func (dm *DepthMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if d != NoDepth {
			n++
		}
	}
	return n
}

// Clone makes a deep copy.
func (dm *DepthMap) Clone() *DepthMap {
	data := make([]Depth, len(dm.data))
	copy(data, dm.data)
	return &DepthMap{width: dm.width, height: dm.height, data: data}
}

// ColorModel implements image.Image.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds implements image.Image.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// At implements image.Image.
func (dm *DepthMap) At(x, y int) color.Color {
	if !dm.Contains(x, y) {
		return color.Gray16{}
	}
	return color.Gray16{uint16(dm.GetDepth(x, y))}
}
