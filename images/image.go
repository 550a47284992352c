// Package images - Image decoding and downsampling utilities.
package images

import (
	"image"
	"image/draw"
)

// Clone copies img into a new RGBA raster whose bounds start at the origin.
//
// Frame sources may reuse their buffers once a callback returns, so anything
// that outlives the callback holds a clone.
func Clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
