package app

import (
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/components/camera/fake"
	"github.com/fmfi-uk/rsscan/components/camera/replay"
	"github.com/fmfi-uk/rsscan/config"
	"github.com/fmfi-uk/rsscan/logging"
)

// NewFrameSource returns the frame source the camera section asks for.
func NewFrameSource(cfg config.Camera, logger logging.Logger) (camera.FrameSource, error) {
	if err := cfg.Validate("camera"); err != nil {
		return nil, err
	}
	switch cfg.Source {
	case config.SourceFake:
		return fake.NewCamera(fake.Config{DropEvery: cfg.DropEvery}, logger), nil
	case config.SourceReplay:
		return replay.NewSource(*cfg.Replay, logger)
	default:
		return nil, errors.Errorf("unknown source %q", cfg.Source)
	}
}
