// Package replay implements a frame source that plays back a recorded RGBD dataset.
//
// A dataset directory holds color/ and depth/ frames with matching sorted names and a
// camera_intrinsic.json written by the recorder.
package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/rimage"
	"github.com/fmfi-uk/rsscan/rimage/transform"
)

const (
	colorDir       = "color"
	depthDir       = "depth"
	intrinsicsFile = "camera_intrinsic.json"
)

// ErrEndOfDataset is returned once every frame was played and the source does not loop.
var ErrEndOfDataset = errors.Wrap(camera.ErrEndOfStream, "reached end of dataset")

// Config describes how to configure the replay source.
type Config struct {
	Dataset string `json:"dataset"`
	// Loop restarts from the first frame after the last one.
	Loop bool `json:"loop,omitempty"`
	// DepthScale converts depth units to meters; zero means millimeters.
	DepthScale float64 `json:"depth_scale,omitempty"`
	// IntrinsicsPath overrides the recorder's intrinsics with a pinhole intrinsics file.
	IntrinsicsPath string `json:"intrinsics_path,omitempty"`
	// Clock paces frames; nil means the wall clock.
	Clock clock.Clock `json:"-"`
}

// Validate checks that the config attributes are valid for a replay source.
func (cfg *Config) Validate(path string) error {
	if cfg.Dataset == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "dataset")
	}
	if cfg.DepthScale < 0 {
		return goutils.NewConfigValidationError(path, errors.New("depth_scale cannot be negative"))
	}
	return nil
}

// recorderIntrinsics is the intrinsics file of the recorder. The matrix is column-major.
type recorderIntrinsics struct {
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	IntrinsicMatrix []float64 `json:"intrinsic_matrix"`
}

// ReadIntrinsics reads a recorder camera_intrinsic.json.
func ReadIntrinsics(path string) (*transform.PinholeCameraIntrinsics, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading intrinsics")
	}
	var raw recorderIntrinsics
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "error parsing %q", path)
	}
	if len(raw.IntrinsicMatrix) != 9 {
		return nil, errors.Errorf("intrinsic_matrix must have 9 elements, has %d", len(raw.IntrinsicMatrix))
	}
	params := &transform.PinholeCameraIntrinsics{
		Width:  raw.Width,
		Height: raw.Height,
		Fx:     raw.IntrinsicMatrix[0],
		Fy:     raw.IntrinsicMatrix[4],
		Ppx:    raw.IntrinsicMatrix[6],
		Ppy:    raw.IntrinsicMatrix[7],
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// Source plays back a dataset. Color and depth frames are on one grid.
type Source struct {
	cfg    Config
	clk    clock.Clock
	logger logging.Logger

	mu         sync.Mutex
	intrinsics *transform.PinholeCameraIntrinsics
	colorFiles []string
	depthFiles []string
	order      rimage.ChannelOrder
	fps        int
	configured bool
	started    bool
	next       int
	ticker     *clock.Ticker
}

// NewSource returns a replay source for the dataset in the config.
func NewSource(cfg Config, logger logging.Logger) (*Source, error) {
	if err := cfg.Validate("replay"); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Source{cfg: cfg, clk: clk, logger: logger.Sublogger("replay")}, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".ppm":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Configure implements camera.FrameSource. The profiles must match the recorded resolution.
func (s *Source) Configure(ctx context.Context, depth, color camera.StreamProfile) error {
	if err := depth.Validate("depth"); err != nil {
		return err
	}
	if err := color.Validate("color"); err != nil {
		return err
	}
	intrinsics, err := s.readIntrinsics()
	if err != nil {
		return err
	}
	for _, p := range []camera.StreamProfile{depth, color} {
		if p.Width != intrinsics.Width || p.Height != intrinsics.Height {
			return errors.Errorf("dataset was recorded at %dx%d, cannot stream %v", intrinsics.Width, intrinsics.Height, p)
		}
	}
	colorFiles, err := listFrames(filepath.Join(s.cfg.Dataset, colorDir))
	if err != nil {
		return errors.Wrap(err, "listing color frames")
	}
	depthFiles, err := listFrames(filepath.Join(s.cfg.Dataset, depthDir))
	if err != nil {
		return errors.Wrap(err, "listing depth frames")
	}
	if len(colorFiles) == 0 || len(colorFiles) != len(depthFiles) {
		return errors.Errorf("dataset has %d color and %d depth frames", len(colorFiles), len(depthFiles))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("cannot configure a streaming source")
	}
	s.intrinsics = intrinsics
	s.colorFiles = colorFiles
	s.depthFiles = depthFiles
	s.order = color.ChannelOrder()
	s.fps = depth.FPS
	s.configured = true
	s.logger.Infow("configured", "dataset", s.cfg.Dataset, "frames", len(colorFiles))
	return nil
}

func (s *Source) readIntrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if s.cfg.IntrinsicsPath == "" {
		return ReadIntrinsics(filepath.Join(s.cfg.Dataset, intrinsicsFile))
	}
	return transform.NewPinholeCameraIntrinsicsFromJSONFile(s.cfg.IntrinsicsPath)
}

// Start implements camera.FrameSource. Playback restarts from the first frame.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return camera.ErrNotConfigured
	}
	if s.started {
		return nil
	}
	if s.fps > 0 {
		s.ticker = s.clk.Ticker(time.Second / time.Duration(s.fps))
	}
	s.next = 0
	s.started = true
	return nil
}

// NextFramePair implements camera.FrameSource. The color and depth files of a frame are
// decoded concurrently.
func (s *Source) NextFramePair(ctx context.Context) (*camera.FramePair, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, camera.ErrNotStarted
	}
	ticker := s.ticker
	s.mu.Unlock()

	if ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, camera.ErrNotStarted
	}
	if s.next >= len(s.colorFiles) {
		if !s.cfg.Loop {
			s.mu.Unlock()
			return nil, ErrEndOfDataset
		}
		s.next = 0
	}
	colorFN, depthFN := s.colorFiles[s.next], s.depthFiles[s.next]
	order := s.order
	s.next++
	s.mu.Unlock()

	var pair camera.FramePair
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := rimage.ReadColorImageFromFile(colorFN, order)
		pair.Color = img
		return err
	})
	g.Go(func() error {
		dm, err := rimage.ReadDepthMapFromFile(depthFN)
		pair.Depth = dm
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Align implements camera.FrameSource.
func (s *Source) Align(pair *camera.FramePair, target camera.Stream) (*camera.FramePair, error) {
	return camera.AlignFramePair(s.Properties(), pair, target)
}

// Stop implements camera.FrameSource.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.started = false
	return nil
}

// Properties implements camera.FrameSource.
func (s *Source) Properties() camera.Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	scale := s.cfg.DepthScale
	if scale == 0 {
		scale = transform.DefaultDepthScale
	}
	return camera.Properties{
		DepthIntrinsics: s.intrinsics,
		ColorIntrinsics: s.intrinsics,
		DepthScale:      scale,
		ChannelOrder:    s.order,
		FrameRate:       float32(s.fps),
	}
}

// Len returns the number of recorded frames.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.colorFiles)
}
