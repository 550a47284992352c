package inference

import (
	"image"
	"image/color"
)

// Buffer is a BGRA pixel buffer, the fixed color layout consumed by detectors.
type Buffer struct {
	// Pix holds the pixels in B, G, R, A order.
	Pix []uint8
	// Stride is the distance in bytes between vertically adjacent pixels.
	Stride int
	// Width and Height are the buffer dimensions in pixels.
	Width, Height int
}

// NewBuffer allocates a zeroed width x height buffer.
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Pix:    make([]uint8, 4*width*height),
		Stride: 4 * width,
		Width:  width,
		Height: height,
	}
}

// ColorModel implements image.Image.
func (b *Buffer) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

// At implements image.Image.
func (b *Buffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}
	}
	i := y*b.Stride + 4*x
	return color.RGBA{R: b.Pix[i+2], G: b.Pix[i+1], B: b.Pix[i], A: b.Pix[i+3]}
}

// FromRGBA converts an RGBA raster into a BGRA buffer of the same size.
func FromRGBA(src *image.RGBA) *Buffer {
	bounds := src.Bounds()
	buf := NewBuffer(bounds.Dx(), bounds.Dy())
	for y := 0; y < buf.Height; y++ {
		srcRow := src.Pix[y*src.Stride:]
		dstRow := buf.Pix[y*buf.Stride:]
		for x := 0; x < buf.Width; x++ {
			s := srcRow[4*x : 4*x+4]
			d := dstRow[4*x : 4*x+4]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		}
	}
	return buf
}
