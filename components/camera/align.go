package camera

import (
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/rimage"
	"github.com/fmfi-uk/rsscan/rimage/transform"
)

// sameGrid reports whether depth and color are already pixel aligned by construction.
func (props Properties) sameGrid() bool {
	if props.DepthIntrinsics == nil || props.ColorIntrinsics == nil || props.DepthToColor == nil {
		return true
	}
	return *props.ColorIntrinsics == *props.DepthIntrinsics
}

// AlignFramePair resamples a pair onto the grid of the target sensor using the source
// calibration. Pairs that are already on the target grid are returned unchanged.
func AlignFramePair(props Properties, pair *FramePair, target Stream) (*FramePair, error) {
	if pair == nil || !pair.Depth.Valid() || !pair.Color.Valid() {
		return nil, errors.Wrap(transform.ErrMalformedFrame, "cannot align incomplete frame pair")
	}
	if pair.AlignedTo == target {
		return pair, nil
	}
	if pair.AlignedTo != UnspecifiedStream {
		return nil, errors.Errorf("frame pair is already aligned to %s", pair.AlignedTo)
	}
	if props.sameGrid() {
		if pair.Depth.Width() != pair.Color.Width() || pair.Depth.Height() != pair.Color.Height() {
			return nil, errors.Wrapf(transform.ErrMalformedFrame, "depth (%d,%d) and color (%d,%d) sizes differ without extrinsics",
				pair.Depth.Width(), pair.Depth.Height(), pair.Color.Width(), pair.Color.Height())
		}
		return &FramePair{Depth: pair.Depth, Color: pair.Color, AlignedTo: target}, nil
	}
	scale := props.DepthScale
	if scale == 0 {
		scale = transform.DefaultDepthScale
	}
	switch target {
	case ColorStream:
		params := &transform.DepthColorIntrinsicsExtrinsics{
			ColorCamera:  *props.ColorIntrinsics,
			DepthCamera:  *props.DepthIntrinsics,
			ExtrinsicD2C: *props.DepthToColor,
		}
		depth, err := params.AlignDepthToColor(pair.Depth, scale)
		if err != nil {
			return nil, err
		}
		return &FramePair{Depth: depth, Color: pair.Color, AlignedTo: ColorStream}, nil
	case DepthStream:
		return &FramePair{Depth: pair.Depth, Color: colorOnDepthGrid(props, pair, scale), AlignedTo: DepthStream}, nil
	case UnspecifiedStream:
		return nil, errors.New("no alignment target given")
	default:
		return nil, errors.Errorf("unknown stream %q", target)
	}
}

// colorOnDepthGrid samples the color of every valid depth pixel. Pixels without depth or
// outside the color sensor stay black.
func colorOnDepthGrid(props Properties, pair *FramePair, scale float64) *rimage.ColorImage {
	dm := pair.Depth
	out := rimage.NewColorImage(dm.Width(), dm.Height(), pair.Color.Order())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == rimage.NoDepth {
				continue
			}
			ray := props.DepthIntrinsics.PixelToPoint(float64(x), float64(y), float64(z)*scale)
			p := props.DepthToColor.TransformPointToPoint(ray.X, ray.Y, ray.Z)
			if p.Z <= 0 {
				continue
			}
			cx, cy := props.ColorIntrinsics.PointToPixel(p)
			if !pair.Color.Contains(int(cx), int(cy)) {
				continue
			}
			s0, s1, s2 := pair.Color.Samples(int(cx), int(cy))
			out.SetSamples(x, y, s0, s1, s2)
		}
	}
	return out
}
