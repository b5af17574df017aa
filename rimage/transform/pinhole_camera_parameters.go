// Package transform holds the camera models used to move between depth pixels and 3D points,
// the depth-to-color alignment, and the builder that turns a frame pair into a point cloud.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/rimage"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics is the pinhole model of one sensor: its resolution, focal lengths and
// principal point, all in pixels.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	switch {
	case params == nil:
		return NewNoIntrinsicsError("Intrinsics do not exist")
	case params.Width <= 0 || params.Height <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	case params.Fx <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	case params.Fy <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	case params.Ppx < 0 || params.Ppy < 0:
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal point (%#v, %#v)", params.Ppx, params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile reads intrinsics from a JSON file and validates them.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading intrinsics")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(data, intrinsics); err != nil {
		return nil, errors.Wrapf(err, "error parsing %q", jsonPath)
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "in %q", jsonPath)
	}
	return intrinsics, nil
}

// PixelToPoint deprojects pixel (x, y) seen at depth z meters into the sensor's frame, where
// +Z looks out of the lens, +X to the right of the image and +Y down it.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	if params == nil {
		return r3.Vector{}
	}
	return r3.Vector{
		X: (x - params.Ppx) / params.Fx * z,
		Y: (y - params.Ppy) / params.Fy * z,
		Z: z,
	}
}

// PointToPixel projects a point in the sensor's frame to the nearest pixel. Points on the
// sensor plane land on (-1, -1) so bounds checks drop them.
func (params *PinholeCameraIntrinsics) PointToPixel(p r3.Vector) (float64, float64) {
	if p.Z == 0 {
		return -1, -1
	}
	return math.Round(p.X/p.Z*params.Fx + params.Ppx), math.Round(p.Y/p.Z*params.Fy + params.Ppy)
}

// CheckDepthMap returns an error when the depth map does not have the size the intrinsics describe.
func (params *PinholeCameraIntrinsics) CheckDepthMap(dm *rimage.DepthMap) error {
	if !dm.Valid() {
		return errors.New("no depth channel")
	}
	if params.Width != dm.Width() || params.Height != dm.Height() {
		return errors.Errorf("depth dimension and intrinsics don't match Depth(%d,%d) != Intrinsics(%d,%d)",
			dm.Width(), dm.Height(), params.Width, params.Height)
	}
	return nil
}
