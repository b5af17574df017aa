// Package app wires the control panel to the acquisition loop, the saved scan, the
// reconstruction job and the measurement engine.
//
// A Viewer belongs to the UI context. Every exported method must run there, typically through
// dispatch.Loop.Do; background work reports back by posting to the same context.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/config"
	"github.com/fmfi-uk/rsscan/controls"
	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/measure"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/reconstruct"
	"github.com/fmfi-uk/rsscan/scene"
	"github.com/fmfi-uk/rsscan/stream"
	"github.com/fmfi-uk/rsscan/utils"
)

// ScanPointSize is the point size the saved scan is drawn with.
const ScanPointSize = 5

// DefaultReloadDelay is how long the saved scan must stay unchanged before it is reloaded.
const DefaultReloadDelay = 500 * time.Millisecond

var (
	// ErrCalibrationNotImplemented is returned by the calibrate button.
	ErrCalibrationNotImplemented = errors.New("camera calibration is not implemented")
	// ErrNoCloud is returned when measuring starts with nothing on screen to measure.
	ErrNoCloud = errors.New("no point cloud is displayed")
	// ErrNoPipeline is returned when a scan is started without a reconstruction configured.
	ErrNoPipeline = errors.New("no reconstruction pipeline configured")
	// ErrNoExporter is returned when export is clicked without an exporter.
	ErrNoExporter = errors.New("no exporter configured")
	// ErrStreamStopping is returned when streaming is restarted before the previous loop exited.
	ErrStreamStopping = errors.New("camera stream is still stopping")
)

// Options are the collaborators of a Viewer. Source, Scene and Poster are required.
type Options struct {
	Config   *config.Config
	Source   camera.FrameSource
	Scene    scene.Scene
	Poster   dispatch.Poster
	Pipeline reconstruct.Pipeline
	Exporter Exporter
	// Display shows measured distances; nil logs them.
	Display measure.DistanceDisplay
	// ReloadDelay debounces saved scan changes; zero means DefaultReloadDelay.
	ReloadDelay time.Duration
}

type measureTarget int

const (
	measureNothing measureTarget = iota
	measureScan
	measureStream
)

// Viewer is the application behind the control panel.
type Viewer struct {
	logger   logging.Logger
	cfg      *config.Config
	scene    scene.Scene
	poster   dispatch.Poster
	pipeline reconstruct.Pipeline
	exporter Exporter
	delay    time.Duration

	stream *stream.Controller
	engine *measure.PickEngine
	// workers run blocking follow-ups so the UI context never waits on them
	workers *utils.StoppableWorkers

	state  controls.State
	latest *pointcloud.PointCloud
	scan   *pointcloud.PointCloud
	watch  *utils.StoppableWorkers
	job    *reconstruct.Job
	target measureTarget

	// generations drop follow-ups that were posted for an earlier stream or scan
	streamGen int
	scanGen   int
}

// New returns a viewer with every button in its initial state.
func New(opts Options, logger logging.Logger) (*Viewer, error) {
	if opts.Source == nil || opts.Scene == nil || opts.Poster == nil {
		return nil, errors.New("viewer needs a frame source, a scene and a poster")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	logger = logger.Sublogger("app")
	v := &Viewer{
		logger:   logger,
		cfg:      cfg,
		scene:    opts.Scene,
		poster:   opts.Poster,
		pipeline: opts.Pipeline,
		exporter: opts.Exporter,
		delay:    opts.ReloadDelay,
		workers:  utils.NewStoppableWorkers(),
	}
	if v.delay <= 0 {
		v.delay = DefaultReloadDelay
	}

	depth, color := cfg.Camera.Profiles()
	v.stream = stream.NewController(opts.Source, opts.Scene, opts.Poster, stream.Config{
		Depth:   depth,
		Color:   color,
		OnCloud: v.onStreamedCloud,
		Hold:    v.holdStream,
	}, logger)

	display := opts.Display
	if display == nil {
		display = measure.LogDisplay{Logger: logger}
	}
	v.engine = measure.NewPickEngine(opts.Scene, display, measure.Config{MarkerRadius: cfg.Measure.MarkerRadius}, logger)
	return v, nil
}

// State returns the state of the control panel.
func (v *Viewer) State() controls.State {
	return v.state
}

// Layout returns how every button should be drawn.
func (v *Viewer) Layout() controls.Layout {
	return controls.Apply(v.state)
}

// Engine returns the measurement engine.
func (v *Viewer) Engine() *measure.PickEngine {
	return v.engine
}

// Stream returns the acquisition controller.
func (v *Viewer) Stream() *stream.Controller {
	return v.stream
}

// Click handles a click on a panel button. The panel state only changes when the action
// succeeded.
func (v *Viewer) Click(ctx context.Context, b controls.Button) error {
	next, err := controls.Click(v.state, b)
	if err != nil {
		return err
	}
	v.logger.Debugw("click", "button", b)
	switch b {
	case controls.Stream:
		err = v.toggleStream(ctx, &next)
	case controls.StartScan:
		err = v.toggleScan(&next)
	case controls.ShowScan:
		err = v.toggleSavedScan(&next)
	case controls.Measure:
		err = v.toggleMeasure(&next)
	case controls.Export:
		err = v.export()
	case controls.Calibrate:
		err = v.calibrate()
	}
	if err != nil {
		return err
	}
	v.state = next
	return nil
}

func (v *Viewer) toggleStream(ctx context.Context, next *controls.State) error {
	if next.Stream != controls.NotStreaming {
		select {
		case <-v.stream.Done():
		default:
			return ErrStreamStopping
		}
		v.streamGen++
		if err := v.stream.Start(ctx); err != nil {
			return err
		}
		gen, done := v.streamGen, v.stream.Done()
		v.workers.AddWorkers(func(ctx context.Context) {
			select {
			case <-done:
				v.poster.Post(func() { v.onStreamEnded(gen) })
			case <-ctx.Done():
			}
		})
		return nil
	}
	v.streamGen++
	v.releaseStream(next)
	v.workers.AddWorkers(func(ctx context.Context) {
		if err := v.stream.StopAndClear(ctx); err != nil {
			v.logger.Warnw("cannot clear streamed cloud", "error", err)
		}
	})
	return nil
}

// releaseStream drops everything that depends on the stream running.
func (v *Viewer) releaseStream(next *controls.State) {
	if v.job != nil {
		v.job.Cancel()
	}
	if v.target == measureStream {
		v.stopMeasuring(next)
	}
	next.Stream = controls.NotStreaming
	v.latest = nil
}

// onStreamEnded runs when a loop exited without being stopped, for example at the end of a
// replayed dataset.
func (v *Viewer) onStreamEnded(gen int) {
	if gen != v.streamGen || v.state.Stream == controls.NotStreaming {
		return
	}
	v.streamGen++
	v.logger.Info("stream ended")
	v.releaseStream(&v.state)
	v.scene.RemoveGeometry(scene.StreamGeometry)
}

// holdStream keeps the measured cloud on screen while measuring on the stream.
func (v *Viewer) holdStream() bool {
	return v.target == measureStream
}

func (v *Viewer) onStreamedCloud(cloud *pointcloud.PointCloud) {
	if v.state.Stream == controls.NotStreaming {
		return
	}
	v.latest = cloud
}

func (v *Viewer) toggleMeasure(next *controls.State) error {
	if !next.Measuring {
		v.stopMeasuring(next)
		return nil
	}
	switch {
	case v.state.ShowingScan && v.scan != nil:
		v.engine.Activate(v.scan)
		v.target = measureScan
	case v.latest != nil:
		v.engine.Activate(v.latest)
		v.target = measureStream
	default:
		return ErrNoCloud
	}
	return nil
}

// stopMeasuring deactivates the engine and releases the measure button.
func (v *Viewer) stopMeasuring(next *controls.State) {
	v.engine.Deactivate()
	v.target = measureNothing
	next.Measuring = false
}

func (v *Viewer) calibrate() error {
	v.logger.Warn("camera calibration is not implemented")
	return ErrCalibrationNotImplemented
}

// Close stops streaming, the reconstruction and every background worker.
func (v *Viewer) Close(ctx context.Context) error {
	if v.job != nil {
		v.job.Cancel()
	}
	v.stopWatching()
	err := v.stream.Close(ctx)
	v.workers.Stop()
	if v.job != nil {
		select {
		case <-v.job.Done():
		case <-ctx.Done():
			err = multierr.Combine(err, errors.Wrap(ctx.Err(), "reconstruction did not exit"))
		}
	}
	return err
}
