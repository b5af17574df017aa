package cli

import (
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/fmfi-uk/rsscan/pointcloud"
)

func writeConfig(t *testing.T, cfg map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	test.That(t, err, test.ShouldBeNil)
	fn := filepath.Join(t.TempDir(), "rsscan.json")
	test.That(t, os.WriteFile(fn, data, 0o600), test.ShouldBeNil)
	return fn
}

func writeWall(t *testing.T, fn string) {
	t.Helper()
	var points []r3.Vector
	for x := -0.5; x <= 0.5; x += 0.05 {
		for y := -0.4; y <= 0.4; y += 0.05 {
			points = append(points, r3.Vector{X: x, Y: y, Z: -2})
		}
	}
	cloud, err := pointcloud.NewFromSlices(points, make([]color.NRGBA, len(points)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.WriteToPCDFile(cloud, fn), test.ShouldBeNil)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"rsscan"}, args...))
	return out.String(), err
}

func TestParsePick(t *testing.T) {
	x, y, err := parsePick("12, 34")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x, test.ShouldEqual, 12)
	test.That(t, y, test.ShouldEqual, 34)

	for _, bad := range []string{"12", "a,1", "1,b", "1,2,3"} {
		_, _, err := parsePick(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestStreamCommand(t *testing.T) {
	out, err := run(t, "stream", "--frames", "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "cloud 1:")
	test.That(t, out, test.ShouldContainSubstring, "cloud 2:")
	test.That(t, out, test.ShouldNotContainSubstring, "cloud 3:")
	test.That(t, out, test.ShouldContainSubstring, "built ")

	_, err = run(t, "stream", "--frames", "0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMeasureCommand(t *testing.T) {
	scan := filepath.Join(t.TempDir(), "integrated.pcd")
	writeWall(t, scan)
	fn := writeConfig(t, map[string]interface{}{
		"camera":    map[string]interface{}{"source": "fake"},
		"scan_path": scan,
	})

	out, err := run(t, "--config", fn, "measure", "--width", "64", "--height", "48",
		"--pick", "26,24", "--pick", "38,24", "--pick", "0,0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "distance between point")
	test.That(t, out, test.ShouldContainSubstring, "2 of 3 picks hit the scan")
	test.That(t, out, test.ShouldContainSubstring, "1 distances")

	_, err = run(t, "--config", fn, "measure", "--pick", "nope")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMeasureCommandMissingScan(t *testing.T) {
	fn := writeConfig(t, map[string]interface{}{
		"camera":    map[string]interface{}{"source": "fake"},
		"scan_path": filepath.Join(t.TempDir(), "missing.ply"),
	})
	_, err := run(t, "--config", fn, "measure", "--pick", "1,1")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReconstructCommand(t *testing.T) {
	fn := writeConfig(t, map[string]interface{}{
		"camera": map[string]interface{}{"source": "fake"},
		"reconstruction": map[string]interface{}{
			"command": "sh",
			"args":    []string{"-c", "exit 0", "sh"},
		},
	})
	out, err := run(t, "--config", fn, "reconstruct")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "make fragments")
	test.That(t, out, test.ShouldContainSubstring, "integrate scene")
	test.That(t, out, test.ShouldContainSubstring, "total")

	_, err = run(t, "reconstruct")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExportCommand(t *testing.T) {
	scan := filepath.Join(t.TempDir(), "integrated.pcd")
	writeWall(t, scan)
	fn := writeConfig(t, map[string]interface{}{
		"camera":    map[string]interface{}{"source": "fake"},
		"scan_path": scan,
	})
	dir := t.TempDir()
	out, err := run(t, "--config", fn, "export", "--dir", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, filepath.Join(dir, "integrated.pcd"))
	_, err = os.Stat(filepath.Join(dir, "integrated.pcd"))
	test.That(t, err, test.ShouldBeNil)
}
