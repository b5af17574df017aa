package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// ChannelOrder is the order in which a device delivers the three color samples of a pixel.
type ChannelOrder int

const (
	// RGB means the first sample is red.
	RGB ChannelOrder = iota
	// BGR means the first sample is blue, as many camera SDKs deliver it.
	BGR
)

func (order ChannelOrder) String() string {
	if order == BGR {
		return "bgr8"
	}
	return "rgb8"
}

// ColorImage is a packed H x W x 3 color frame as delivered by a camera. It keeps the device's
// channel order; consumers decide whether to swap.
type ColorImage struct {
	width, height int
	order         ChannelOrder
	pix           []uint8
}

// NewColorImage returns a black image of the given size and channel order.
func NewColorImage(width, height int, order ChannelOrder) *ColorImage {
	return &ColorImage{width: width, height: height, order: order, pix: make([]uint8, width*height*3)}
}

// NewColorImageFromBytes wraps a packed sample buffer. The buffer must hold exactly
// width*height*3 samples.
func NewColorImageFromBytes(width, height int, order ChannelOrder, pix []uint8) (*ColorImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid color image size (%d,%d)", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, errors.Errorf("color buffer has %d samples, want %d", len(pix), width*height*3)
	}
	return &ColorImage{width: width, height: height, order: order, pix: pix}, nil
}

// ConvertToColorImage copies any image into a ColorImage with the requested channel order.
func ConvertToColorImage(img image.Image, order ChannelOrder) *ColorImage {
	bounds := img.Bounds()
	ci := NewColorImage(bounds.Dx(), bounds.Dy(), order)
	for y := 0; y < ci.height; y++ {
		for x := 0; x < ci.width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			ci.SetRGB(x, y, c.R, c.G, c.B)
		}
	}
	return ci
}

// Width returns the horizontal size in pixels.
func (ci *ColorImage) Width() int { return ci.width }

// Height returns the vertical size in pixels.
func (ci *ColorImage) Height() int { return ci.height }

// Order returns the channel order of the stored samples.
func (ci *ColorImage) Order() ChannelOrder { return ci.order }

// Valid reports whether the image has a size and a buffer that agree.
func (ci *ColorImage) Valid() bool {
	return ci != nil && ci.width > 0 && ci.height > 0 && len(ci.pix) == ci.width*ci.height*3
}

// Contains returns whether the pixel is inside the image.
func (ci *ColorImage) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < ci.width && y < ci.height
}

// Samples returns the three raw samples at (x,y) in storage order.
func (ci *ColorImage) Samples(x, y int) (uint8, uint8, uint8) {
	k := (y*ci.width + x) * 3
	return ci.pix[k], ci.pix[k+1], ci.pix[k+2]
}

// SetSamples stores three raw samples at (x,y) in storage order.
func (ci *ColorImage) SetSamples(x, y int, s0, s1, s2 uint8) {
	k := (y*ci.width + x) * 3
	ci.pix[k], ci.pix[k+1], ci.pix[k+2] = s0, s1, s2
}

// SetRGB stores a color given in RGB, honoring the image's channel order.
func (ci *ColorImage) SetRGB(x, y int, r, g, b uint8) {
	if ci.order == BGR {
		ci.SetSamples(x, y, b, g, r)
		return
	}
	ci.SetSamples(x, y, r, g, b)
}

// ColorModel implements image.Image.
func (ci *ColorImage) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements image.Image.
func (ci *ColorImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, ci.width, ci.height)
}

// At implements image.Image and always answers in RGB.
func (ci *ColorImage) At(x, y int) color.Color {
	if !ci.Contains(x, y) {
		return color.NRGBA{}
	}
	s0, s1, s2 := ci.Samples(x, y)
	if ci.order == BGR {
		return color.NRGBA{R: s2, G: s1, B: s0, A: 255}
	}
	return color.NRGBA{R: s0, G: s1, B: s2, A: 255}
}
