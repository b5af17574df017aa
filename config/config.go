// Package config defines the structures to configure the scanner and the ability to read
// them from JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/fmfi-uk/rsscan/components/camera"
	"github.com/fmfi-uk/rsscan/components/camera/replay"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/reconstruct"
)

// DefaultScanPath is where the reconstruction writes the integrated scene.
const DefaultScanPath = "dataset/realsense/scene/integrated.ply"

// SourceKind selects the frame source implementation.
type SourceKind string

// The frame sources the scanner can acquire from.
const (
	SourceFake   = SourceKind("fake")
	SourceReplay = SourceKind("replay")
)

// Camera configures the frame source and the streams requested from it.
type Camera struct {
	Source SourceKind            `json:"source"`
	Depth  *camera.StreamProfile `json:"depth,omitempty"`
	Color  *camera.StreamProfile `json:"color,omitempty"`

	// DropEvery makes the fake source drop every n-th frame pair.
	DropEvery int            `json:"drop_every,omitempty"`
	Replay    *replay.Config `json:"replay,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Camera) Validate(path string) error {
	switch c.Source {
	case SourceFake:
		if c.DropEvery < 0 {
			return utils.NewConfigValidationError(path, errors.New("drop_every cannot be negative"))
		}
	case SourceReplay:
		if c.Replay == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "replay")
		}
		if err := c.Replay.Validate(path + ".replay"); err != nil {
			return err
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "source")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown source %q", c.Source))
	}
	if c.Depth != nil {
		if err := c.Depth.Validate(path + ".depth"); err != nil {
			return err
		}
	}
	if c.Color != nil {
		if err := c.Color.Validate(path + ".color"); err != nil {
			return err
		}
	}
	return nil
}

// Profiles returns the configured stream profiles, falling back to the defaults.
func (c *Camera) Profiles() (camera.StreamProfile, camera.StreamProfile) {
	depth, color := camera.DefaultDepthProfile, camera.DefaultColorProfile
	if c.Depth != nil {
		depth = *c.Depth
	}
	if c.Color != nil {
		color = *c.Color
	}
	return depth, color
}

// Measure configures how picks are drawn.
type Measure struct {
	MarkerRadius float64 `json:"marker_radius,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (m *Measure) Validate(path string) error {
	if m.MarkerRadius < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("marker_radius cannot be negative, got %v", m.MarkerRadius))
	}
	return nil
}

// Config is the scanner's configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	Camera         Camera              `json:"camera"`
	ScanPath       string              `json:"scan_path,omitempty"`
	Reconstruction *reconstruct.Config `json:"reconstruction,omitempty"`
	Measure        Measure             `json:"measure,omitempty"`
	LogLevel       string              `json:"log_level,omitempty"`
}

// Ensure validates the config and fills in defaults.
func (c *Config) Ensure() error {
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}
	if c.Reconstruction != nil {
		if err := c.Reconstruction.Validate("reconstruction"); err != nil {
			return err
		}
	}
	if err := c.Measure.Validate("measure"); err != nil {
		return err
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return utils.NewConfigValidationError("log_level", err)
	}
	if c.ScanPath == "" {
		c.ScanPath = DefaultScanPath
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// Default returns a config that streams from the fake camera.
func Default() *Config {
	return &Config{
		Camera:   Camera{Source: SourceFake},
		ScanPath: DefaultScanPath,
	}
}

// Read reads a config from the given file. Environment variables in the file are expanded.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "source", cfg.Camera.Source, "scan_path", cfg.ScanPath)
	return &cfg, nil
}
