package pointcloud

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/fmfi-uk/rsscan/logging"
)

const asciiPLY = `ply
format ascii 1.0
comment written by the scene integrator
element vertex 3
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
0 0 0 255 0 0
1 2 3 0 255 0
-1.5 0.25 2 0 0 255
`

func TestReadPLY(t *testing.T) {
	cloud, err := ReadPLY(strings.NewReader(asciiPLY))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)
	test.That(t, cloud.Position(1), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cloud.Position(2), test.ShouldResemble, r3.Vector{X: -1.5, Y: 0.25, Z: 2})
	test.That(t, cloud.Color(0), test.ShouldResemble, color.NRGBA{255, 0, 0, 255})
	test.That(t, cloud.Color(2), test.ShouldResemble, color.NRGBA{0, 0, 255, 255})
}

func TestPCDRoundTrip(t *testing.T) {
	cloud, err := NewFromSlices(
		[]r3.Vector{{X: 0.5, Y: -0.25, Z: 1}, {X: 2, Y: 3, Z: -4}},
		[]color.NRGBA{{10, 20, 30, 255}, {200, 100, 0, 255}},
	)
	test.That(t, err, test.ShouldBeNil)

	for _, typ := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		var buf bytes.Buffer
		test.That(t, ToPCD(cloud, &buf, typ), test.ShouldBeNil)
		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Size(), test.ShouldEqual, 2)
		for i := 0; i < 2; i++ {
			test.That(t, read.Position(i).X, test.ShouldAlmostEqual, cloud.Position(i).X, 1e-5)
			test.That(t, read.Position(i).Y, test.ShouldAlmostEqual, cloud.Position(i).Y, 1e-5)
			test.That(t, read.Position(i).Z, test.ShouldAlmostEqual, cloud.Position(i).Z, 1e-5)
			test.That(t, read.Color(i), test.ShouldResemble, cloud.Color(i))
		}
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDType(7)), test.ShouldNotBeNil)
}

func TestPCDCompressedLargeCloud(t *testing.T) {
	positions := make([]r3.Vector, 0, 1000)
	for i := 0; i < 1000; i++ {
		positions = append(positions, r3.Vector{X: float64(i%10) * 0.1, Y: float64(i/10) * 0.01, Z: -2})
	}
	cloud, err := NewFromSlices(positions, nil)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDCompressed), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "DATA binary_compressed\n")
	test.That(t, buf.Len(), test.ShouldBeLessThan, 1000*12)

	read, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 1000)
	test.That(t, read.MetaData().HasColor, test.ShouldBeFalse)
	test.That(t, read.Position(999).Y, test.ShouldAlmostEqual, 0.99, 1e-6)
	test.That(t, read.Position(999).X, test.ShouldAlmostEqual, 0.9, 1e-6)
}

func TestNewFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	plyPath := filepath.Join(dir, "integrated.ply")
	test.That(t, os.WriteFile(plyPath, []byte(asciiPLY), 0o600), test.ShouldBeNil)
	cloud, err := NewFromFile(plyPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)

	pcdPath := filepath.Join(dir, "frame.pcd")
	test.That(t, WriteToPCDFile(cloud, pcdPath), test.ShouldBeNil)
	again, err := NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Size(), test.ShouldEqual, 3)

	_, err = NewFromFile(filepath.Join(dir, "scan.obj"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewFromFile(filepath.Join(dir, "missing.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
