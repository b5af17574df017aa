package camera

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/fmfi-uk/rsscan/rimage"
	"github.com/fmfi-uk/rsscan/rimage/transform"
)

func TestStreamProfileValidate(t *testing.T) {
	depth := DefaultDepthProfile
	test.That(t, depth.Validate("depth"), test.ShouldBeNil)
	color := DefaultColorProfile
	test.That(t, color.Validate("color"), test.ShouldBeNil)
	test.That(t, color.ChannelOrder(), test.ShouldEqual, rimage.BGR)

	bad := depth
	bad.Width = 0
	err := bad.Validate("depth")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "width")

	bad = depth
	bad.Format = FormatRGB8
	test.That(t, bad.Validate("depth"), test.ShouldNotBeNil)

	bad = color
	bad.Format = FormatZ16
	test.That(t, bad.Validate("color"), test.ShouldNotBeNil)

	bad = color
	bad.Stream = ""
	test.That(t, bad.Validate("color"), test.ShouldNotBeNil)

	rgb := color
	rgb.Format = FormatRGB8
	test.That(t, rgb.ChannelOrder(), test.ShouldEqual, rimage.RGB)
	test.That(t, rgb.String(), test.ShouldEqual, "color 640x480 rgb8@30")
}

func twoSensorProperties() Properties {
	return Properties{
		DepthIntrinsics: &transform.PinholeCameraIntrinsics{Width: 8, Height: 6, Fx: 8, Fy: 8, Ppx: 3.5, Ppy: 2.5},
		ColorIntrinsics: &transform.PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 4, Fy: 4, Ppx: 1.75, Ppy: 1.25},
		DepthToColor: &transform.Extrinsics{
			RotationMatrix:    []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
			TranslationVector: []float64{0, 0, 0},
		},
		DepthScale: 0.001,
	}
}

func TestAlignFramePairSameGrid(t *testing.T) {
	props := Properties{DepthIntrinsics: &transform.PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 4, Fy: 4, Ppx: 2, Ppy: 1.5}}
	pair := &FramePair{Depth: rimage.NewEmptyDepthMap(4, 3), Color: rimage.NewColorImage(4, 3, rimage.RGB)}

	aligned, err := AlignFramePair(props, pair, ColorStream)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, aligned.AlignedTo, test.ShouldEqual, ColorStream)
	test.That(t, aligned.Depth, test.ShouldEqual, pair.Depth)

	again, err := AlignFramePair(props, aligned, ColorStream)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, aligned)

	_, err = AlignFramePair(props, aligned, DepthStream)
	test.That(t, err, test.ShouldNotBeNil)

	mismatched := &FramePair{Depth: rimage.NewEmptyDepthMap(4, 3), Color: rimage.NewColorImage(8, 6, rimage.RGB)}
	_, err = AlignFramePair(props, mismatched, ColorStream)
	test.That(t, errors.Is(err, transform.ErrMalformedFrame), test.ShouldBeTrue)

	_, err = AlignFramePair(props, &FramePair{Depth: rimage.NewEmptyDepthMap(4, 3)}, ColorStream)
	test.That(t, errors.Is(err, transform.ErrMalformedFrame), test.ShouldBeTrue)
}

func TestAlignFramePairTwoSensors(t *testing.T) {
	props := twoSensorProperties()
	depth := rimage.NewEmptyDepthMap(8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(x, y, 1000)
		}
	}
	color := rimage.NewColorImage(4, 3, rimage.RGB)
	color.SetRGB(2, 1, 255, 0, 0)
	pair := &FramePair{Depth: depth, Color: color}

	toColor, err := AlignFramePair(props, pair, ColorStream)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, toColor.Depth.Width(), test.ShouldEqual, 4)
	test.That(t, toColor.Depth.Height(), test.ShouldEqual, 3)
	test.That(t, toColor.Depth.GetDepth(2, 1), test.ShouldEqual, rimage.Depth(1000))

	toDepth, err := AlignFramePair(props, pair, DepthStream)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, toDepth.Color.Width(), test.ShouldEqual, 8)
	// depth pixel (4,2) projects onto color pixel (2,1)
	r, g, b := toDepth.Color.Samples(4, 2)
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 0, 0})

	builder, err := NewPointCloudBuilder(props, ColorStream)
	test.That(t, err, test.ShouldBeNil)
	cloud, err := builder.Build(toColor.Depth, toColor.Color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, toColor.Depth.ValidCount())
}

func TestNewPointCloudBuilderUnaligned(t *testing.T) {
	props := twoSensorProperties()
	builder, err := NewPointCloudBuilder(props, UnspecifiedStream)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, builder.ColorIntrinsics, test.ShouldEqual, props.ColorIntrinsics)
	test.That(t, builder.DepthToColor, test.ShouldEqual, props.DepthToColor)

	depth := rimage.NewEmptyDepthMap(8, 6)
	depth.Set(4, 2, 1000)
	color := rimage.NewColorImage(4, 3, rimage.RGB)
	color.SetRGB(2, 1, 0, 255, 0)
	cloud, err := builder.Build(depth, color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, cloud.Color(0).G, test.ShouldEqual, uint8(255))

	_, err = NewPointCloudBuilder(Properties{}, ColorStream)
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
}
