package images

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Decode decodes encoded image bytes into a raster.
//
// JPEG and PNG sources are rotated upright according to their EXIF
// orientation so that every downstream coordinate is relative to the image as
// displayed.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Image: The decoded, upright image.
//   - ImageFormat: The detected format.
//   - error: An error if the bytes are empty or undecodable.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, FormatUnknown, errors.New("empty image data")
	}

	format := SniffFormat(data)
	if format == FormatWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, format, errors.Wrap(err, "failed to decode WebP")
		}
		return img, format, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, errors.Wrap(err, "failed to decode image")
	}
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return nil, format, errors.Errorf("decoded image has invalid dimensions: %v", img.Bounds())
	}
	return img, format, nil
}

// Downsample bounds img so that neither side exceeds maxDim, keeping the
// aspect ratio. Images that already fit are returned unchanged.
func Downsample(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Bilinear)
}

// DecodeBounded decodes data and downsamples it to maxDim.
//
// Arguments:
//   - data: The encoded image bytes.
//   - maxDim: The maximum width or height of the result.
//
// Returns:
//   - image.Image: The decoded image, no side larger than maxDim.
//   - error: An error if decoding fails.
func DecodeBounded(data []byte, maxDim int) (image.Image, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Downsample(img, maxDim), nil
}
