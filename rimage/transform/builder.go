package transform

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/rimage"
)

// ErrMalformedFrame is returned when a frame pair cannot be turned into a point cloud.
var ErrMalformedFrame = errors.New("malformed frame pair")

// DefaultDepthScale converts millimeter device units to meters.
const DefaultDepthScale = 0.001

// PointCloudBuilder turns a depth map and a color image into a colored point cloud.
// It holds no state between calls.
type PointCloudBuilder struct {
	DepthIntrinsics *PinholeCameraIntrinsics
	// ColorIntrinsics is nil when the color image is already aligned to the depth grid.
	ColorIntrinsics *PinholeCameraIntrinsics
	// DepthToColor is applied before projecting into the color sensor when set.
	DepthToColor *Extrinsics
	DepthScale   float64
}

// NewPointCloudBuilder returns a builder for frames that are already pixel aligned.
func NewPointCloudBuilder(intrinsics *PinholeCameraIntrinsics, depthScale float64) (*PointCloudBuilder, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if depthScale <= 0 {
		return nil, errors.Errorf("invalid depth scale %v", depthScale)
	}
	return &PointCloudBuilder{DepthIntrinsics: intrinsics, DepthScale: depthScale}, nil
}

func (b *PointCloudBuilder) colorIntrinsics() *PinholeCameraIntrinsics {
	if b.ColorIntrinsics != nil {
		return b.ColorIntrinsics
	}
	return b.DepthIntrinsics
}

func (b *PointCloudBuilder) check(dm *rimage.DepthMap, img *rimage.ColorImage) error {
	if !dm.Valid() {
		return errors.Wrap(ErrMalformedFrame, "missing depth image")
	}
	if !img.Valid() {
		return errors.Wrap(ErrMalformedFrame, "missing color image")
	}
	if err := b.DepthIntrinsics.CheckValid(); err != nil {
		return errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if err := b.DepthIntrinsics.CheckDepthMap(dm); err != nil {
		return errors.Wrap(ErrMalformedFrame, err.Error())
	}
	ci := b.colorIntrinsics()
	if ci.Width != img.Width() || ci.Height != img.Height() {
		return errors.Wrapf(ErrMalformedFrame, "color dimension and intrinsics don't match Color(%d,%d) != Intrinsics(%d,%d)",
			img.Width(), img.Height(), ci.Width, ci.Height)
	}
	if b.DepthScale <= 0 {
		return errors.Wrapf(ErrMalformedFrame, "invalid depth scale %v", b.DepthScale)
	}
	return nil
}

// Build deprojects every pixel with valid depth, colors it from the color image, and moves it
// into display axes. Pixels without depth are dropped, so the cloud has exactly one point per
// valid depth pixel.
func (b *PointCloudBuilder) Build(dm *rimage.DepthMap, img *rimage.ColorImage) (*pointcloud.PointCloud, error) {
	if err := b.check(dm, img); err != nil {
		return nil, err
	}
	n := dm.ValidCount()
	positions := make([]r3.Vector, 0, n)
	colors := make([]color.NRGBA, 0, n)
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == rimage.NoDepth {
				continue
			}
			p := b.DepthIntrinsics.PixelToPoint(float64(x), float64(y), float64(z)*b.DepthScale)
			colors = append(colors, b.sample(p, img))
			positions = append(positions, CorrectAxes(p))
		}
	}
	return pointcloud.NewFromSlices(positions, colors)
}

// TextureCoordinate projects a camera space point into the color sensor and returns the
// coordinate normalized by the color image size.
func (b *PointCloudBuilder) TextureCoordinate(p r3.Vector) (float64, float64) {
	if b.DepthToColor != nil {
		p = b.DepthToColor.TransformPointToPoint(p.X, p.Y, p.Z)
	}
	ci := b.colorIntrinsics()
	if p.Z <= 0 {
		return -1, -1
	}
	u := (p.X/p.Z)*ci.Fx + ci.Ppx
	v := (p.Y/p.Z)*ci.Fy + ci.Ppy
	return u / float64(ci.Width), v / float64(ci.Height)
}

func (b *PointCloudBuilder) sample(p r3.Vector, img *rimage.ColorImage) color.NRGBA {
	u, v := b.TextureCoordinate(p)
	x := int(math.Round(u * float64(img.Width())))
	y := int(math.Round(v * float64(img.Height())))
	if !img.Contains(x, y) {
		return color.NRGBA{A: 255}
	}
	s0, s1, s2 := img.Samples(x, y)
	if img.Order() == rimage.BGR {
		s0, s2 = s2, s0
	}
	return color.NRGBA{R: s0, G: s1, B: s2, A: 255}
}

// CorrectAxes moves a camera space point into display axes: Z is negated and the result is
// rotated 180 degrees about Z.
func CorrectAxes(p r3.Vector) r3.Vector {
	return r3.Vector{X: -p.X, Y: -p.Y, Z: -p.Z}
}

// UncorrectAxes is the inverse of CorrectAxes.
func UncorrectAxes(p r3.Vector) r3.Vector {
	return r3.Vector{X: -p.X, Y: -p.Y, Z: -p.Z}
}
