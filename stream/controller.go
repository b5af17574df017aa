// Package stream runs the acquisition loop that turns camera frames into point clouds and hands
// them to the UI context.
package stream

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/scene"
)

// State is the lifecycle state of the controller.
type State int

// Controller states.
const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Config selects the streams the controller asks the source for.
type Config struct {
	Depth    camera.StreamProfile
	Color    camera.StreamProfile
	Material scene.Material
	// OnCloud runs on the UI context after each streamed cloud was added to the scene.
	OnCloud func(*pointcloud.PointCloud)
	// Hold runs on the UI context before each replace. While it returns true the displayed
	// cloud stays and newly built clouds are dropped.
	Hold func() bool
}

// Controller owns the acquisition loop. There is never more than one loop running.
//
// Only the running flag is shared with the loop goroutine. Stop clears it; the loop notices
// before its next frame, so at most one cloud built before Stop may still be posted. The
// posted replace is idempotent and anything the caller posts after Done is ordered after it.
type Controller struct {
	logger logging.Logger
	source camera.FrameSource
	scene  scene.Scene
	poster dispatch.Poster
	cfg    Config

	running atomic.Bool
	built   atomic.Int64
	dropped atomic.Int64
	held    atomic.Int64

	mu     sync.Mutex
	done   chan struct{}
	cancel context.CancelFunc
}

// NewController returns an idle controller. The scene is only touched from functions posted
// through poster.
func NewController(source camera.FrameSource, scn scene.Scene, poster dispatch.Poster, cfg Config, logger logging.Logger) *Controller {
	if cfg.Material == (scene.Material{}) {
		cfg.Material = scene.DefaultPointMaterial()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		logger: logger.Sublogger("stream"),
		source: source,
		scene:  scn,
		poster: poster,
		cfg:    cfg,
		done:   done,
	}
}

// State returns whether the loop is running.
func (c *Controller) State() State {
	if c.running.Load() {
		return Running
	}
	return Idle
}

// Done returns a channel that is closed once the most recently started loop has exited.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Frames returns how many clouds were built and how many frame pairs were skipped.
func (c *Controller) Frames() (int64, int64) {
	return c.built.Load(), c.dropped.Load()
}

// Held returns how many built clouds were not shown because the displayed one was held.
func (c *Controller) Held() int64 {
	return c.held.Load()
}

// Start configures and starts the source, then spawns the loop. It does nothing while running.
// A loop that is still draining after Stop is waited for first. When the source fails, the
// controller stays idle and no loop is spawned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "previous acquisition loop is still running")
	}

	if err := c.source.Configure(ctx, c.cfg.Depth, c.cfg.Color); err != nil {
		return errors.Wrap(err, "cannot configure frame source")
	}
	if err := c.source.Start(ctx); err != nil {
		return errors.Wrap(err, "cannot start frame source")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.done = done
	c.cancel = cancel
	c.running.Store(true)
	c.logger.Infow("streaming", "depth", c.cfg.Depth.String(), "color", c.cfg.Color.String())

	goutils.PanicCapturingGo(func() {
		defer close(done)
		defer cancel()
		c.loop(loopCtx)
		if err := c.source.Stop(context.Background()); err != nil {
			c.logger.Warnw("cannot stop frame source", "error", err)
		}
	})
	return nil
}

// Stop asks the loop to exit and returns without waiting. Use Done to observe the exit.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.logger.Info("stopping")
}

func (c *Controller) loop(ctx context.Context) {
	for c.running.Load() {
		cloud, err := c.nextCloud(ctx)
		if errors.Is(err, camera.ErrEndOfStream) {
			c.running.Store(false)
			c.logger.Infow("frame source ended", "error", err)
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.dropped.Inc()
				c.logger.Debugw("skipping frame pair", "error", err)
			}
			continue
		}
		c.built.Inc()
		c.post(cloud)
	}
}

func (c *Controller) nextCloud(ctx context.Context) (*pointcloud.PointCloud, error) {
	pair, err := c.source.NextFramePair(ctx)
	if err != nil {
		return nil, err
	}
	aligned, err := c.source.Align(pair, camera.ColorStream)
	if err != nil {
		return nil, err
	}
	builder, err := camera.NewPointCloudBuilder(c.source.Properties(), aligned.AlignedTo)
	if err != nil {
		return nil, err
	}
	return builder.Build(aligned.Depth, aligned.Color)
}

// post hands the cloud to the UI context as a replace of the stream geometry.
func (c *Controller) post(cloud *pointcloud.PointCloud) {
	ok := c.poster.Post(func() {
		if c.cfg.Hold != nil && c.cfg.Hold() {
			c.held.Inc()
			return
		}
		c.scene.RemoveGeometry(scene.StreamGeometry)
		if err := c.scene.AddGeometry(scene.StreamGeometry, scene.NewCloudGeometry(cloud), c.cfg.Material); err != nil {
			c.logger.Warnw("cannot show streamed cloud", "error", err)
			return
		}
		if c.cfg.OnCloud != nil {
			c.cfg.OnCloud(cloud)
		}
	})
	if !ok {
		c.logger.Debug("UI context closed, dropping streamed cloud")
	}
}

// StopAndClear stops the loop and, once it exited, posts removal of the stream geometry. It
// blocks until the removal was posted or ctx is done.
func (c *Controller) StopAndClear(ctx context.Context) error {
	c.Stop()
	select {
	case <-c.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.poster.Post(func() { c.scene.RemoveGeometry(scene.StreamGeometry) }) {
		return dispatch.ErrClosed
	}
	return nil
}

// Close stops streaming and waits for the loop to exit.
func (c *Controller) Close(ctx context.Context) error {
	c.Stop()
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return multierr.Combine(ctx.Err(), errors.New("acquisition loop did not exit"))
	}
}
