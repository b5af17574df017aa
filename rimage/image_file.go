package rimage

import (
	"image"
	"image/png"
	"os"

	// register image decoders used by recorded datasets.
	_ "image/jpeg"

	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ReadImageFromFile decodes a png, jpeg or ppm file.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return img, nil
}

// ReadColorImageFromFile decodes a color frame and stores it with the given channel order.
func ReadColorImageFromFile(path string, order ChannelOrder) (*ColorImage, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return ConvertToColorImage(img, order), nil
}

// ReadDepthMapFromFile decodes a 16 bit grayscale png depth frame.
func ReadDepthMapFromFile(path string) (*DepthMap, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	dm, err := ConvertImageToDepthMap(img)
	if err != nil {
		return nil, errors.Wrapf(err, "reading depth frame %q", path)
	}
	return dm, nil
}

// WriteDepthMapToFile writes the depth map as a 16 bit grayscale png.
func WriteDepthMapToFile(dm *DepthMap, path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	gray := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			gray.Set(x, y, dm.At(x, y))
		}
	}
	return png.Encode(f, gray)
}
