package rimage

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestColorImageOrder(t *testing.T) {
	bgr := NewColorImage(2, 1, BGR)
	bgr.SetRGB(1, 0, 10, 20, 30)
	s0, s1, s2 := bgr.Samples(1, 0)
	test.That(t, []uint8{s0, s1, s2}, test.ShouldResemble, []uint8{30, 20, 10})
	test.That(t, bgr.At(1, 0), test.ShouldResemble, color.NRGBA{10, 20, 30, 255})
	test.That(t, bgr.At(5, 5), test.ShouldResemble, color.NRGBA{})

	rgb := ConvertToColorImage(bgr, RGB)
	s0, s1, s2 = rgb.Samples(1, 0)
	test.That(t, []uint8{s0, s1, s2}, test.ShouldResemble, []uint8{10, 20, 30})
}

func TestNewFromBytesValidation(t *testing.T) {
	_, err := NewColorImageFromBytes(2, 2, RGB, make([]uint8, 11))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewColorImageFromBytes(0, 2, RGB, nil)
	test.That(t, err, test.ShouldNotBeNil)
	ci, err := NewColorImageFromBytes(2, 2, RGB, make([]uint8, 12))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ci.Valid(), test.ShouldBeTrue)

	_, err = NewDepthMapFromSlice(3, 3, make([]Depth, 8))
	test.That(t, err, test.ShouldNotBeNil)
	var nilMap *DepthMap
	test.That(t, nilMap.Valid(), test.ShouldBeFalse)
}

func TestDepthMapFileRoundTrip(t *testing.T) {
	dm := NewEmptyDepthMap(4, 3)
	dm.Set(1, 2, 1234)
	dm.Set(3, 0, MaxDepth)
	test.That(t, dm.ValidCount(), test.ShouldEqual, 2)

	path := filepath.Join(t.TempDir(), "depth.png")
	test.That(t, WriteDepthMapToFile(dm, path), test.ShouldBeNil)

	read, err := ReadDepthMapFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Width(), test.ShouldEqual, 4)
	test.That(t, read.Height(), test.ShouldEqual, 3)
	test.That(t, read.GetDepth(1, 2), test.ShouldEqual, Depth(1234))
	test.That(t, read.GetDepth(3, 0), test.ShouldEqual, MaxDepth)
	test.That(t, read.GetDepth(0, 0), test.ShouldEqual, NoDepth)
}

func TestReadDepthMapRejectsColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "color.png")
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 2, 2))), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	_, err = ReadDepthMapFromFile(path)
	test.That(t, err, test.ShouldNotBeNil)

	ci, err := ReadColorImageFromFile(path, BGR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ci.Order(), test.ShouldEqual, BGR)
}
