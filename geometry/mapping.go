package geometry

import (
	"github.com/pkg/errors"
)

// MapModelBoxToSource maps a box in model pixel coordinates back into source
// pixel coordinates.
//
// The padding offset is removed, the box is scaled by the ratio of source to
// content size, and all four edges are clamped into the source bounds. A box
// lying entirely in the padding collapses to zero area.
//
// Arguments:
//   - box: The box in model input pixels.
//   - plan: The plan used to build the model input.
//   - sourceWidth: The source image width.
//   - sourceHeight: The source image height.
//
// Returns:
//   - Rect: The box in source pixels.
//   - error: ErrInvalidGeometry for a degenerate plan or source.
func MapModelBoxToSource(box Rect, plan LetterboxPlan, sourceWidth, sourceHeight int) (Rect, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return Rect{}, errors.Wrapf(ErrInvalidGeometry,
			"source dimensions %dx%d", sourceWidth, sourceHeight)
	}
	if err := plan.Validate(); err != nil {
		return Rect{}, err
	}

	srcW := float64(sourceWidth)
	srcH := float64(sourceHeight)
	sx := srcW / float64(plan.ContentWidth)
	sy := srcH / float64(plan.ContentHeight)

	x1 := clamp((box.X-float64(plan.ContentX))*sx, 0, srcW)
	y1 := clamp((box.Y-float64(plan.ContentY))*sy, 0, srcH)
	x2 := clamp((box.MaxX()-float64(plan.ContentX))*sx, 0, srcW)
	y2 := clamp((box.MaxY()-float64(plan.ContentY))*sy, 0, srcH)

	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}, nil
}

// MapSourceBoxToModel is the forward transform of MapModelBoxToSource. It is
// used to place source-space regions on the model canvas.
func MapSourceBoxToModel(box Rect, plan LetterboxPlan) (Rect, error) {
	if err := plan.Validate(); err != nil {
		return Rect{}, err
	}

	sx := float64(plan.ContentWidth) / float64(plan.SourceWidth)
	sy := float64(plan.ContentHeight) / float64(plan.SourceHeight)

	return Rect{
		X:      box.X*sx + float64(plan.ContentX),
		Y:      box.Y*sy + float64(plan.ContentY),
		Width:  box.Width * sx,
		Height: box.Height * sy,
	}, nil
}

// Normalize scales a pixel rect into [0,1]^2 relative to width x height.
func Normalize(r Rect, width, height int) (Rect, error) {
	if width <= 0 || height <= 0 {
		return Rect{}, errors.Wrapf(ErrInvalidGeometry, "normalize against %dx%d", width, height)
	}
	w := float64(width)
	h := float64(height)
	return Rect{X: r.X / w, Y: r.Y / h, Width: r.Width / w, Height: r.Height / h}, nil
}

// Denormalize is the inverse of Normalize.
func Denormalize(r Rect, width, height int) (Rect, error) {
	if width <= 0 || height <= 0 {
		return Rect{}, errors.Wrapf(ErrInvalidGeometry, "denormalize against %dx%d", width, height)
	}
	w := float64(width)
	h := float64(height)
	return Rect{X: r.X * w, Y: r.Y * h, Width: r.Width * w, Height: r.Height * h}, nil
}

// ClampNormalized bounds a normalized box to the unit square: the origin into
// [0,1], the width into [0,1-x] and the height into [0,1-y].
func ClampNormalized(r Rect) Rect {
	x := clamp(r.X, 0, 1)
	y := clamp(r.Y, 0, 1)
	return Rect{
		X:      x,
		Y:      y,
		Width:  clamp(r.Width, 0, 1-x),
		Height: clamp(r.Height, 0, 1-y),
	}
}
