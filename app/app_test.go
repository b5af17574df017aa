package app

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/components/camera/fake"
	"github.com/fmfi-uk/rsscan/config"
	"github.com/fmfi-uk/rsscan/controls"
	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/measure"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/reconstruct"
	"github.com/fmfi-uk/rsscan/scene"
	"github.com/fmfi-uk/rsscan/scene/headless"
)

type harness struct {
	viewer *Viewer
	scene  *headless.Scene
	loop   *dispatch.Loop
}

// do runs fn on the UI context.
func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, h.loop.Do(ctx, fn), test.ShouldBeNil)
}

func (h *harness) click(t *testing.T, b controls.Button) error {
	t.Helper()
	var err error
	h.do(t, func() { err = h.viewer.Click(context.Background(), b) })
	return err
}

func (h *harness) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var ok bool
		h.do(t, func() { ok = cond() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type blockingPipeline struct {
	release chan struct{}
}

func (p *blockingPipeline) Run(ctx context.Context) (*reconstruct.Report, error) {
	report := &reconstruct.Report{JobID: uuid.New()}
	select {
	case <-ctx.Done():
		report.Failed = "make fragments"
		return report, reconstruct.ErrCanceled
	case <-p.release:
		report.Stages = []reconstruct.StageReport{{Name: "make fragments", Elapsed: time.Millisecond}}
		return report, nil
	}
}

type countingExporter struct {
	exported chan string
}

func (e countingExporter) Export(ctx context.Context, scanPath string) (string, error) {
	e.exported <- scanPath
	return scanPath + ".out", nil
}

func writeScan(t *testing.T, path string, points ...r3.Vector) {
	t.Helper()
	colors := make([]color.NRGBA, len(points))
	cloud, err := pointcloud.NewFromSlices(points, colors)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.WriteToPCDFile(cloud, path), test.ShouldBeNil)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	loop := dispatch.NewLoop(logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	scn := headless.NewScene(scene.Viewport{Width: 64, Height: 48}, loop, logger)
	if opts.Config == nil {
		opts.Config = config.Default()
		opts.Config.ScanPath = filepath.Join(t.TempDir(), "integrated.pcd")
		opts.Config.Camera.Depth = &camera.StreamProfile{
			Stream: camera.DepthStream, Width: 64, Height: 48, Format: camera.FormatZ16, FPS: 100,
		}
		opts.Config.Camera.Color = &camera.StreamProfile{
			Stream: camera.ColorStream, Width: 64, Height: 48, Format: camera.FormatBGR8, FPS: 100,
		}
	}
	if opts.Source == nil {
		opts.Source = fake.NewCamera(fake.Config{}, logger)
	}
	opts.Scene = scn
	opts.Poster = loop
	opts.ReloadDelay = 20 * time.Millisecond
	v, err := New(opts, logger)
	test.That(t, err, test.ShouldBeNil)

	h := &harness{viewer: v, scene: scn, loop: loop}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		var err error
		h.do(t, func() { err = v.Close(closeCtx) })
		test.That(t, err, test.ShouldBeNil)
		loop.Close()
		cancel()
		<-done
	})
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStreamAndMeasureOnStream(t *testing.T) {
	h := newHarness(t, Options{})
	test.That(t, h.viewer.Layout()[controls.StartScan].Visible, test.ShouldBeFalse)

	test.That(t, h.click(t, controls.Measure), test.ShouldBeError, ErrNoCloud)
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.do(t, func() {
		layout := h.viewer.Layout()
		test.That(t, layout[controls.Stream].Text, test.ShouldEqual, "Stop streaming camera view")
		test.That(t, layout[controls.StartScan].Visible, test.ShouldBeTrue)
		test.That(t, layout[controls.ShowScan].Visible, test.ShouldBeFalse)
	})
	h.eventually(t, func() bool { return h.scene.HasGeometry(scene.StreamGeometry) && h.viewer.latest != nil })

	test.That(t, h.click(t, controls.Measure), test.ShouldBeNil)
	h.do(t, func() {
		test.That(t, h.viewer.Engine().State(), test.ShouldEqual, measure.Active)
		test.That(t, h.viewer.State().Measuring, test.ShouldBeTrue)
	})

	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.do(t, func() {
		test.That(t, h.viewer.State(), test.ShouldResemble, controls.State{})
		test.That(t, h.viewer.Engine().State(), test.ShouldEqual, measure.Inactive)
	})
	h.eventually(t, func() bool { return !h.scene.HasGeometry(scene.StreamGeometry) })
	// nothing the stopped loop posted brings the cloud back
	h.do(t, func() {})
	h.do(t, func() { test.That(t, h.scene.HasGeometry(scene.StreamGeometry), test.ShouldBeFalse) })
}

func displayedStream(t *testing.T, h *harness) *pointcloud.PointCloud {
	t.Helper()
	geom, _, err := h.scene.Geometry(scene.StreamGeometry)
	test.That(t, err, test.ShouldBeNil)
	cloud, ok := geom.(*scene.CloudGeometry)
	test.That(t, ok, test.ShouldBeTrue)
	return cloud.Cloud
}

func TestMeasuringHoldsStreamedCloud(t *testing.T) {
	h := newHarness(t, Options{})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.eventually(t, func() bool { return h.viewer.latest != nil })

	test.That(t, h.click(t, controls.Measure), test.ShouldBeNil)
	var measured *pointcloud.PointCloud
	h.do(t, func() {
		measured = h.viewer.Engine().Cloud()
		test.That(t, measured, test.ShouldEqual, h.viewer.latest)
		test.That(t, displayedStream(t, h), test.ShouldEqual, measured)
	})

	// clouds keep arriving but the measured one stays on screen
	h.eventually(t, func() bool { return h.viewer.Stream().Held() >= 3 })
	h.do(t, func() {
		test.That(t, displayedStream(t, h), test.ShouldEqual, measured)
		test.That(t, h.viewer.Engine().Cloud(), test.ShouldEqual, measured)
		test.That(t, h.viewer.latest, test.ShouldEqual, measured)
	})

	test.That(t, h.click(t, controls.Measure), test.ShouldBeNil)
	h.eventually(t, func() bool { return displayedStream(t, h) != measured })
	h.do(t, func() { test.That(t, h.viewer.latest, test.ShouldNotEqual, measured) })
}

// stallingSource blocks in NextFramePair, ignoring cancellation, until released.
type stallingSource struct {
	*fake.Camera
	stall   atomic.Bool
	blocked chan struct{}
	release chan struct{}
}

func (s *stallingSource) NextFramePair(ctx context.Context) (*camera.FramePair, error) {
	if s.stall.Load() {
		select {
		case s.blocked <- struct{}{}:
		default:
		}
		<-s.release
		return nil, camera.ErrTimeout
	}
	return s.Camera.NextFramePair(ctx)
}

func TestRestartWhileStopping(t *testing.T) {
	src := &stallingSource{
		Camera:  fake.NewCamera(fake.Config{}, logging.NewTestLogger(t)),
		blocked: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, Options{Source: src})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.eventually(t, func() bool { return h.viewer.latest != nil })

	src.stall.Store(true)
	select {
	case <-src.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition loop did not ask for a frame")
	}
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)

	// the UI context is not held up by the draining loop
	start := time.Now()
	test.That(t, h.click(t, controls.Stream), test.ShouldBeError, ErrStreamStopping)
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
	h.do(t, func() { test.That(t, h.viewer.State().Stream, test.ShouldEqual, controls.NotStreaming) })

	src.stall.Store(false)
	close(src.release)
	h.eventually(t, func() bool {
		select {
		case <-h.viewer.Stream().Done():
			return true
		default:
			return false
		}
	})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.eventually(t, func() bool { return h.viewer.latest != nil })
}

func TestShowScanAndMeasure(t *testing.T) {
	h := newHarness(t, Options{})
	scanPath := h.viewer.cfg.ScanPath

	err := h.click(t, controls.ShowScan)
	test.That(t, err, test.ShouldNotBeNil)
	h.do(t, func() { test.That(t, h.viewer.State().ShowingScan, test.ShouldBeFalse) })

	var points []r3.Vector
	for x := -0.5; x <= 0.5; x += 0.05 {
		for y := -0.4; y <= 0.4; y += 0.05 {
			points = append(points, r3.Vector{X: x, Y: y, Z: -2})
		}
	}
	writeScan(t, scanPath, points...)

	test.That(t, h.click(t, controls.ShowScan), test.ShouldBeNil)
	h.do(t, func() {
		test.That(t, h.scene.HasGeometry(scene.SavedScanGeometry), test.ShouldBeTrue)
		_, mat, err := h.scene.Geometry(scene.SavedScanGeometry)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.PointSize, test.ShouldEqual, ScanPointSize)
		test.That(t, h.viewer.Layout()[controls.Stream].Visible, test.ShouldBeFalse)
	})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeError)

	test.That(t, h.click(t, controls.Measure), test.ShouldBeNil)
	for _, x := range []int{26, 38} {
		h.do(t, func() {
			h.scene.DispatchMouse(scene.MouseEvent{
				Type: scene.MouseButtonDown, X: x, Y: 24, Buttons: scene.ButtonLeft, Modifiers: scene.ModCtrl,
			})
		})
		// the readback is posted, so wait for it to run
		h.do(t, func() {})
	}
	h.do(t, func() {
		test.That(t, h.viewer.Engine().Picks(), test.ShouldHaveLength, 2)
		test.That(t, h.scene.HasGeometry(measure.MarkerName(2)), test.ShouldBeTrue)
		test.That(t, h.viewer.Engine().Distances(), test.ShouldHaveLength, 1)
	})

	test.That(t, h.click(t, controls.ShowScan), test.ShouldBeNil)
	h.do(t, func() {
		test.That(t, h.scene.HasGeometry(scene.SavedScanGeometry), test.ShouldBeFalse)
		test.That(t, h.scene.HasGeometry(measure.MarkerName(1)), test.ShouldBeFalse)
		test.That(t, h.viewer.Engine().State(), test.ShouldEqual, measure.Inactive)
		test.That(t, h.viewer.State(), test.ShouldResemble, controls.State{})
	})
}

func TestScanReloadsOnChange(t *testing.T) {
	h := newHarness(t, Options{})
	scanPath := h.viewer.cfg.ScanPath
	writeScan(t, scanPath, r3.Vector{Z: -2})

	test.That(t, h.click(t, controls.ShowScan), test.ShouldBeNil)
	test.That(t, h.click(t, controls.Measure), test.ShouldBeNil)

	// write elsewhere and rename, as the reconstruction does
	tmp := filepath.Join(t.TempDir(), "next.pcd")
	writeScan(t, tmp, r3.Vector{Z: -2}, r3.Vector{X: 0.1, Z: -2}, r3.Vector{X: 0.2, Z: -2})
	test.That(t, os.Rename(tmp, scanPath), test.ShouldBeNil)

	h.eventually(t, func() bool { return h.viewer.scan.Size() == 3 })
	h.do(t, func() {
		geom, _, err := h.scene.Geometry(scene.SavedScanGeometry)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, geom.Size(), test.ShouldEqual, 3)
		test.That(t, h.viewer.Engine().State(), test.ShouldEqual, measure.Active)
	})
}

func TestScanJob(t *testing.T) {
	pipeline := &blockingPipeline{release: make(chan struct{})}
	h := newHarness(t, Options{Pipeline: pipeline})

	test.That(t, h.click(t, controls.StartScan), test.ShouldBeError)
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	test.That(t, h.click(t, controls.StartScan), test.ShouldBeNil)
	h.do(t, func() {
		test.That(t, h.viewer.State().Stream, test.ShouldEqual, controls.Scanning)
		test.That(t, h.viewer.Layout()[controls.StartScan].Text, test.ShouldEqual, "Finish scan")
		test.That(t, h.viewer.ScanJob(), test.ShouldNotBeNil)
	})

	close(pipeline.release)
	h.eventually(t, func() bool { return h.viewer.ScanJob() == nil })
	h.do(t, func() { test.That(t, h.viewer.State().Stream, test.ShouldEqual, controls.Streaming) })

	// finishing early cancels the job
	pipeline.release = make(chan struct{})
	test.That(t, h.click(t, controls.StartScan), test.ShouldBeNil)
	var job *reconstruct.Job
	h.do(t, func() { job = h.viewer.ScanJob() })
	test.That(t, h.click(t, controls.StartScan), test.ShouldBeNil)
	<-job.Done()
	_, err := job.Result()
	test.That(t, errors.Is(err, reconstruct.ErrCanceled), test.ShouldBeTrue)
	h.eventually(t, func() bool { return h.viewer.ScanJob() == nil })
	h.do(t, func() { test.That(t, h.viewer.State().Stream, test.ShouldEqual, controls.Streaming) })
}

func TestScanWithoutPipeline(t *testing.T) {
	h := newHarness(t, Options{})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	test.That(t, h.click(t, controls.StartScan), test.ShouldBeError, ErrNoPipeline)
	h.do(t, func() { test.That(t, h.viewer.State().Stream, test.ShouldEqual, controls.Streaming) })
}

func TestExportAndCalibrate(t *testing.T) {
	exporter := countingExporter{exported: make(chan string, 1)}
	h := newHarness(t, Options{Exporter: exporter})

	test.That(t, h.click(t, controls.Calibrate), test.ShouldBeError, ErrCalibrationNotImplemented)
	test.That(t, h.click(t, controls.Export), test.ShouldBeNil)
	test.That(t, <-exporter.exported, test.ShouldEqual, h.viewer.cfg.ScanPath)

	noExport := newHarness(t, Options{})
	test.That(t, noExport.click(t, controls.Export), test.ShouldBeError, ErrNoExporter)
}

func TestPCDExporter(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	scanPath := filepath.Join(dir, "integrated.pcd")
	writeScan(t, scanPath, r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 4, Y: 5, Z: 6})

	out := t.TempDir()
	dest, err := PCDExporter{Dir: out, Logger: logger}.Export(context.Background(), scanPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dest, test.ShouldEqual, filepath.Join(out, "integrated.pcd"))

	cloud, err := pointcloud.NewFromFile(dest, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)

	_, err = PCDExporter{Dir: out, Logger: logger}.Export(context.Background(), filepath.Join(dir, "missing.ply"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStreamEndsOnItsOwn(t *testing.T) {
	h := newHarness(t, Options{Source: &endingSource{FrameSource: fake.NewCamera(fake.Config{}, logging.NewTestLogger(t))}})
	test.That(t, h.click(t, controls.Stream), test.ShouldBeNil)
	h.eventually(t, func() bool { return h.viewer.State().Stream == controls.NotStreaming })
	h.do(t, func() { test.That(t, h.scene.HasGeometry(scene.StreamGeometry), test.ShouldBeFalse) })
}

// endingSource delivers three frame pairs and then ends.
type endingSource struct {
	camera.FrameSource
	frames int
}

func (s *endingSource) NextFramePair(ctx context.Context) (*camera.FramePair, error) {
	if s.frames == 3 {
		return nil, camera.ErrEndOfStream
	}
	s.frames++
	return s.FrameSource.NextFramePair(ctx)
}

func TestNewFrameSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	source, err := NewFrameSource(config.Camera{Source: config.SourceFake}, logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok := source.(*fake.Camera)
	test.That(t, ok, test.ShouldBeTrue)

	_, err = NewFrameSource(config.Camera{Source: config.SourceReplay}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewFrameSource(config.Camera{Source: "kinect"}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
