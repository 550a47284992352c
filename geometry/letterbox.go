package geometry

import (
	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned for degenerate image or canvas dimensions.
var ErrInvalidGeometry = errors.New("invalid geometry")

// LetterboxPlan describes how a source image was centered and scaled, keeping
// its aspect ratio, into a SquareSide x SquareSide canvas.
//
// One of ContentWidth or ContentHeight equals SquareSide. The other is no
// larger and is centered with a floored offset; the trailing pad is implicit.
type LetterboxPlan struct {
	ContentX      int `json:"content_x" yaml:"content_x"`
	ContentY      int `json:"content_y" yaml:"content_y"`
	ContentWidth  int `json:"content_width" yaml:"content_width"`
	ContentHeight int `json:"content_height" yaml:"content_height"`
	SquareSide    int `json:"square_side" yaml:"square_side"`
	SourceWidth   int `json:"source_width" yaml:"source_width"`
	SourceHeight  int `json:"source_height" yaml:"source_height"`
}

// ComputeLetterboxPlan computes the letterbox parameters for a source image.
//
// All rounding is floor, done in integer arithmetic so that both mapping
// directions agree on the same content rectangle.
//
// Arguments:
//   - sourceWidth: The source image width in pixels.
//   - sourceHeight: The source image height in pixels.
//   - squareSide: The side of the square model input.
//
// Returns:
//   - LetterboxPlan: The computed plan.
//   - error: ErrInvalidGeometry if any dimension is not positive.
//
// @example
// plan, _ := ComputeLetterboxPlan(640, 480, 416)
// // plan.ContentWidth == 416, plan.ContentHeight == 312, plan.ContentY == 52
func ComputeLetterboxPlan(sourceWidth, sourceHeight, squareSide int) (LetterboxPlan, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return LetterboxPlan{}, errors.Wrapf(ErrInvalidGeometry,
			"source dimensions %dx%d", sourceWidth, sourceHeight)
	}
	if squareSide <= 0 {
		return LetterboxPlan{}, errors.Wrapf(ErrInvalidGeometry, "square side %d", squareSide)
	}

	plan := LetterboxPlan{
		SquareSide:   squareSide,
		SourceWidth:  sourceWidth,
		SourceHeight: sourceHeight,
	}

	switch {
	case sourceWidth > sourceHeight:
		plan.ContentWidth = squareSide
		plan.ContentHeight = max(1, squareSide*sourceHeight/sourceWidth)
		plan.ContentY = (squareSide - plan.ContentHeight) / 2
	case sourceWidth < sourceHeight:
		plan.ContentHeight = squareSide
		plan.ContentWidth = max(1, squareSide*sourceWidth/sourceHeight)
		plan.ContentX = (squareSide - plan.ContentWidth) / 2
	default:
		plan.ContentWidth = squareSide
		plan.ContentHeight = squareSide
	}

	return plan, nil
}

// ContentRect returns the region of the canvas covered by the source image.
func (p LetterboxPlan) ContentRect() Rect {
	return Rect{
		X:      float64(p.ContentX),
		Y:      float64(p.ContentY),
		Width:  float64(p.ContentWidth),
		Height: float64(p.ContentHeight),
	}
}

// Validate checks that the plan can be used for inverse mapping.
func (p LetterboxPlan) Validate() error {
	if p.SquareSide <= 0 || p.ContentWidth <= 0 || p.ContentHeight <= 0 ||
		p.SourceWidth <= 0 || p.SourceHeight <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "degenerate plan %+v", p)
	}
	if p.ContentX < 0 || p.ContentY < 0 ||
		p.ContentX+p.ContentWidth > p.SquareSide || p.ContentY+p.ContentHeight > p.SquareSide {
		return errors.Wrapf(ErrInvalidGeometry, "content outside canvas %+v", p)
	}
	return nil
}
