// Package fake implements a fake depth camera that renders a sphere in front of a checkered wall.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/rimage"
	"github.com/fmfi-uk/rsscan/rimage/transform"
)

const (
	initialWidth  = 1280
	initialHeight = 720

	// scene in meters, camera space
	wallDepth    = 1.5
	sphereRadius = 0.2
	sphereDepth  = 1.0
	// columns on the left without depth, as on stereo depth sensors
	shadowColumns = 4
)

// ErrFrameDropped is returned for frames the source was told to drop.
var ErrFrameDropped = errors.New("fake camera dropped a frame")

var fakeIntrinsics = &transform.PinholeCameraIntrinsics{
	Width:  1280,
	Height: 720,
	Fx:     900.538,
	Fy:     900.818,
	Ppx:    648.934,
	Ppy:    367.736,
}

// fakeModel scales the reference intrinsics to the requested resolution.
func fakeModel(width, height int) *transform.PinholeCameraIntrinsics {
	if width <= 0 || height <= 0 {
		width, height = initialWidth, initialHeight
	}
	widthRatio := float64(width) / float64(initialWidth)
	heightRatio := float64(height) / float64(initialHeight)
	return &transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fakeIntrinsics.Fx * widthRatio,
		Fy:     fakeIntrinsics.Fy * heightRatio,
		Ppx:    fakeIntrinsics.Ppx * widthRatio,
		Ppy:    fakeIntrinsics.Ppy * heightRatio,
	}
}

// Config are the attributes of the fake camera.
type Config struct {
	// DropEvery makes every n-th frame fail. Zero never drops.
	DropEvery int
	// Clock paces frames at the configured rate; nil means the wall clock.
	Clock clock.Clock
}

// Camera is a fake RGBD camera whose depth and color sensors share one grid.
type Camera struct {
	logger logging.Logger
	clk    clock.Clock

	mu         sync.Mutex
	dropEvery  int
	depth      camera.StreamProfile
	color      camera.StreamProfile
	intrinsics *transform.PinholeCameraIntrinsics
	configured bool
	started    bool
	ticker     *clock.Ticker
	frames     int
	cached     *camera.FramePair
}

// NewCamera returns a new fake camera.
func NewCamera(conf Config, logger logging.Logger) *Camera {
	clk := conf.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Camera{
		logger:    logger.Sublogger("fake_camera"),
		clk:       clk,
		dropEvery: conf.DropEvery,
	}
}

// Configure implements camera.FrameSource.
func (c *Camera) Configure(ctx context.Context, depth, color camera.StreamProfile) error {
	if err := depth.Validate("depth"); err != nil {
		return err
	}
	if err := color.Validate("color"); err != nil {
		return err
	}
	if depth.Width != color.Width || depth.Height != color.Height {
		return errors.Errorf("fake camera streams depth and color on one grid, got %v and %v", depth, color)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("cannot configure a streaming camera")
	}
	c.depth = depth
	c.color = color
	c.intrinsics = fakeModel(depth.Width, depth.Height)
	c.configured = true
	c.cached = nil
	c.logger.Debugw("configured", "depth", depth.String(), "color", color.String())
	return nil
}

// Start implements camera.FrameSource.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return camera.ErrNotConfigured
	}
	if c.started {
		return nil
	}
	if c.depth.FPS > 0 {
		c.ticker = c.clk.Ticker(time.Second / time.Duration(c.depth.FPS))
	}
	c.started = true
	c.frames = 0
	return nil
}

// NextFramePair implements camera.FrameSource. Frames are paced by the clock when the depth
// profile asks for a rate.
func (c *Camera) NextFramePair(ctx context.Context) (*camera.FramePair, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, camera.ErrNotStarted
	}
	ticker := c.ticker
	c.mu.Unlock()

	if ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, camera.ErrNotStarted
	}
	c.frames++
	if c.dropEvery > 0 && c.frames%c.dropEvery == 0 {
		return nil, ErrFrameDropped
	}
	if c.cached == nil {
		c.cached = render(c.intrinsics, c.color.ChannelOrder())
	}
	// frames are never mutated downstream, so every pair shares the rendering
	return &camera.FramePair{Depth: c.cached.Depth, Color: c.cached.Color}, nil
}

// Align implements camera.FrameSource.
func (c *Camera) Align(pair *camera.FramePair, target camera.Stream) (*camera.FramePair, error) {
	return camera.AlignFramePair(c.Properties(), pair, target)
}

// Stop implements camera.FrameSource.
func (c *Camera) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.started = false
	return nil
}

// Properties implements camera.FrameSource.
func (c *Camera) Properties() camera.Properties {
	c.mu.Lock()
	defer c.mu.Unlock()
	return camera.Properties{
		DepthIntrinsics: c.intrinsics,
		ColorIntrinsics: c.intrinsics,
		DepthScale:      transform.DefaultDepthScale,
		ChannelOrder:    c.color.ChannelOrder(),
		FrameRate:       float32(c.depth.FPS),
	}
}

// render draws the sphere and the wall. Depth is in millimeters.
func render(params *transform.PinholeCameraIntrinsics, order rimage.ChannelOrder) *camera.FramePair {
	dm := rimage.NewEmptyDepthMap(params.Width, params.Height)
	img := rimage.NewColorImage(params.Width, params.Height, order)
	for y := 0; y < params.Height; y++ {
		for x := 0; x < params.Width; x++ {
			if x < shadowColumns {
				continue
			}
			// ray through the pixel with unit z
			ray := params.PixelToPoint(float64(x), float64(y), 1)
			dx, dy := ray.X, ray.Y
			if t, ok := hitSphere(dx, dy); ok {
				dm.Set(x, y, rimage.Depth(math.Round(t*1000)))
				shade := uint8(255 * (1 - (t-(sphereDepth-sphereRadius))/sphereRadius*0.6))
				img.SetRGB(x, y, shade, 32, 32)
				continue
			}
			dm.Set(x, y, rimage.Depth(wallDepth*1000))
			// 10cm checkers on the wall
			cx := int(math.Floor(dx * wallDepth / 0.1))
			cy := int(math.Floor(dy * wallDepth / 0.1))
			if (cx+cy)%2 == 0 {
				img.SetRGB(x, y, 220, 220, 220)
			} else {
				img.SetRGB(x, y, 40, 90, 160)
			}
		}
	}
	return &camera.FramePair{Depth: dm, Color: img}
}

// hitSphere intersects the ray (dx, dy, 1) with the sphere and returns the nearest z.
func hitSphere(dx, dy float64) (float64, bool) {
	// |t*d - c|^2 = r^2 with c = (0, 0, sphereDepth)
	a := dx*dx + dy*dy + 1
	b := -2 * sphereDepth
	cc := sphereDepth*sphereDepth - sphereRadius*sphereRadius
	disc := b*b - 4*a*cc
	if disc < 0 {
		return 0, false
	}
	t := (-b - math.Sqrt(disc)) / (2 * a)
	return t, t > 0
}
