// Package camera defines the depth camera frame sources the scanner acquires from.
package camera

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/fmfi-uk/rsscan/rimage"
	"github.com/fmfi-uk/rsscan/rimage/transform"
)

var (
	// ErrTimeout is returned by NextFramePair when the device did not deliver a frame pair in time.
	ErrTimeout = errors.New("timed out waiting for frame pair")
	// ErrNotStarted is returned when frames are requested from a source that is not streaming.
	ErrNotStarted = errors.New("frame source is not started")
	// ErrNotConfigured is returned when a source is started before it was configured.
	ErrNotConfigured = errors.New("frame source is not configured")
	// ErrEndOfStream is returned by sources that have no more frames to deliver.
	ErrEndOfStream = errors.New("frame source has no more frames")
)

// Stream names one of the two sensors of an RGBD camera.
type Stream string

// The sensors of an RGBD camera.
const (
	UnspecifiedStream = Stream("")
	DepthStream       = Stream("depth")
	ColorStream       = Stream("color")
)

// Formats a stream profile may request.
const (
	FormatZ16  = "z16"
	FormatBGR8 = "bgr8"
	FormatRGB8 = "rgb8"
)

// StreamProfile describes the resolution, pixel format and rate requested from one sensor.
type StreamProfile struct {
	Stream Stream `json:"stream"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	FPS    int    `json:"fps"`
}

// DefaultDepthProfile is the depth profile the scanner streams with.
var DefaultDepthProfile = StreamProfile{Stream: DepthStream, Width: 640, Height: 480, Format: FormatZ16, FPS: 30}

// DefaultColorProfile is the color profile the scanner streams with.
var DefaultColorProfile = StreamProfile{Stream: ColorStream, Width: 640, Height: 480, Format: FormatBGR8, FPS: 30}

// Validate ensures all parts of the profile are valid.
func (p *StreamProfile) Validate(path string) error {
	if p.Width <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "width")
	}
	if p.Height <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "height")
	}
	if p.FPS < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("fps cannot be negative, got %d", p.FPS))
	}
	switch p.Stream {
	case DepthStream:
		if p.Format != FormatZ16 {
			return utils.NewConfigValidationError(path, errors.Errorf("depth format must be %q, got %q", FormatZ16, p.Format))
		}
	case ColorStream:
		if p.Format != FormatBGR8 && p.Format != FormatRGB8 {
			return utils.NewConfigValidationError(path,
				errors.Errorf("color format must be %q or %q, got %q", FormatBGR8, FormatRGB8, p.Format))
		}
	case UnspecifiedStream:
		return utils.NewConfigValidationFieldRequiredError(path, "stream")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown stream %q", p.Stream))
	}
	return nil
}

// ChannelOrder returns the channel order a color profile delivers.
func (p StreamProfile) ChannelOrder() rimage.ChannelOrder {
	if p.Format == FormatBGR8 {
		return rimage.BGR
	}
	return rimage.RGB
}

func (p StreamProfile) String() string {
	return fmt.Sprintf("%s %dx%d %s@%d", p.Stream, p.Width, p.Height, p.Format, p.FPS)
}

// Properties is a lookup for a source's calibration and settings.
type Properties struct {
	DepthIntrinsics *transform.PinholeCameraIntrinsics
	ColorIntrinsics *transform.PinholeCameraIntrinsics
	DepthToColor    *transform.Extrinsics
	// DepthScale converts depth device units to meters.
	DepthScale   float64
	ChannelOrder rimage.ChannelOrder
	FrameRate    float32
}

// FramePair is a depth frame and a color frame captured together.
type FramePair struct {
	Depth *rimage.DepthMap
	Color *rimage.ColorImage
	// AlignedTo names the sensor whose grid both frames are on, if they were aligned.
	AlignedTo Stream
}

// A FrameSource delivers depth and color frame pairs from an RGBD device.
type FrameSource interface {
	// Configure selects the depth and color stream profiles. It must be called before Start.
	Configure(ctx context.Context, depth, color StreamProfile) error
	// Start begins streaming.
	Start(ctx context.Context) error
	// NextFramePair blocks until the next pair is available. It fails with ErrTimeout when the
	// device does not deliver in time.
	NextFramePair(ctx context.Context) (*FramePair, error)
	// Align resamples one frame of the pair onto the grid of the target sensor.
	Align(pair *FramePair, target Stream) (*FramePair, error)
	// Stop ends streaming. A stopped source may be configured and started again.
	Stop(ctx context.Context) error
	// Properties returns the calibration of the configured streams.
	Properties() Properties
}

// NewPointCloudBuilder returns a builder that matches how the pair was aligned.
func NewPointCloudBuilder(props Properties, alignedTo Stream) (*transform.PointCloudBuilder, error) {
	scale := props.DepthScale
	if scale == 0 {
		scale = transform.DefaultDepthScale
	}
	switch alignedTo {
	case ColorStream:
		return transform.NewPointCloudBuilder(props.ColorIntrinsics, scale)
	case DepthStream:
		return transform.NewPointCloudBuilder(props.DepthIntrinsics, scale)
	case UnspecifiedStream:
		builder, err := transform.NewPointCloudBuilder(props.DepthIntrinsics, scale)
		if err != nil {
			return nil, err
		}
		builder.ColorIntrinsics = props.ColorIntrinsics
		builder.DepthToColor = props.DepthToColor
		return builder, nil
	default:
		return nil, errors.Errorf("unknown stream %q", alignedTo)
	}
}
