package transform

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/fmfi-uk/rsscan/rimage"
)

// Extrinsics holds the rigid body transform between the depth and the color sensor.
// RotationMatrix is row-major 3x3, TranslationVector is in millimeters.
type Extrinsics struct {
	RotationMatrix    []float64 `json:"rotation_rads"`
	TranslationVector []float64 `json:"translation_mm"`
}

// CheckValid checks the sizes of the rotation and the translation.
func (ext *Extrinsics) CheckValid() error {
	if ext == nil {
		return errors.New("extrinsics do not exist")
	}
	if len(ext.RotationMatrix) != 9 {
		return errors.Errorf("rotation matrix must have 9 elements, has %d", len(ext.RotationMatrix))
	}
	if len(ext.TranslationVector) != 3 {
		return errors.Errorf("translation vector must have 3 elements, has %d", len(ext.TranslationVector))
	}
	return nil
}

// TransformPointToPoint applies the rigid body transform to a point given in meters.
func (ext *Extrinsics) TransformPointToPoint(x, y, z float64) r3.Vector {
	rot := mat.NewDense(3, 3, ext.RotationMatrix)
	var out mat.VecDense
	out.MulVec(rot, mat.NewVecDense(3, []float64{x, y, z}))
	return r3.Vector{
		X: out.AtVec(0) + ext.TranslationVector[0]/1000.,
		Y: out.AtVec(1) + ext.TranslationVector[1]/1000.,
		Z: out.AtVec(2) + ext.TranslationVector[2]/1000.,
	}
}

// DepthColorIntrinsicsExtrinsics holds the intrinsics of both sensors of an RGBD camera and
// the transform from the depth sensor frame to the color sensor frame.
type DepthColorIntrinsicsExtrinsics struct {
	ColorCamera  PinholeCameraIntrinsics `json:"color_intrinsic_parameters"`
	DepthCamera  PinholeCameraIntrinsics `json:"depth_intrinsic_parameters"`
	ExtrinsicD2C Extrinsics              `json:"depth_to_color_extrinsic_parameters"`
}

// CheckValid checks every part of the camera description.
func (dcie *DepthColorIntrinsicsExtrinsics) CheckValid() error {
	if dcie == nil {
		return NewNoIntrinsicsError("pointer to DepthColorIntrinsicsExtrinsics is nil")
	}
	if err := dcie.ColorCamera.CheckValid(); err != nil {
		return errors.Wrap(err, "color camera")
	}
	if err := dcie.DepthCamera.CheckValid(); err != nil {
		return errors.Wrap(err, "depth camera")
	}
	return dcie.ExtrinsicD2C.CheckValid()
}

// NewDepthColorIntrinsicsExtrinsicsFromJSONFile reads both intrinsics and the extrinsics from a JSON file.
func NewDepthColorIntrinsicsExtrinsicsFromJSONFile(jsonPath string) (*DepthColorIntrinsicsExtrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	params := &DepthColorIntrinsicsExtrinsics{}
	if err := json.Unmarshal(byteValue, params); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// AlignDepthToColor re-projects every valid depth pixel into the color sensor and returns a
// depth map on the color grid. depthScale converts device units to meters. When two depth
// pixels land on the same color pixel the nearer one wins.
func (dcie *DepthColorIntrinsicsExtrinsics) AlignDepthToColor(dm *rimage.DepthMap, depthScale float64) (*rimage.DepthMap, error) {
	if err := dcie.CheckValid(); err != nil {
		return nil, err
	}
	if err := dcie.DepthCamera.CheckDepthMap(dm); err != nil {
		return nil, err
	}
	if depthScale <= 0 {
		return nil, errors.Errorf("invalid depth scale %v", depthScale)
	}
	aligned := rimage.NewEmptyDepthMap(dcie.ColorCamera.Width, dcie.ColorCamera.Height)
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == rimage.NoDepth {
				continue
			}
			ray := dcie.DepthCamera.PixelToPoint(float64(x), float64(y), float64(z)*depthScale)
			p := dcie.ExtrinsicD2C.TransformPointToPoint(ray.X, ray.Y, ray.Z)
			if p.Z <= 0 {
				continue
			}
			cx, cy := dcie.ColorCamera.PointToPixel(p)
			ix, iy := int(cx), int(cy)
			if !aligned.Contains(ix, iy) {
				continue
			}
			units := math.Round(p.Z / depthScale)
			if units < 1 || units > float64(rimage.MaxDepth) {
				continue
			}
			d := rimage.Depth(units)
			if old := aligned.GetDepth(ix, iy); old == rimage.NoDepth || d < old {
				aligned.Set(ix, iy, d)
			}
		}
	}
	return aligned, nil
}
