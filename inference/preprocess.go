package inference

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/pkg/errors"
)

// LetterboxColor is the padding color of the model canvas.
var LetterboxColor = color.RGBA{A: 255}

// Letterbox renders img into a square model input according to plan.
//
// The image keeps its aspect ratio: it is scaled to the plan's content size
// and drawn at the content offset over a black canvas.
//
// Arguments:
//   - img: The source image. Its size must match the plan's source size.
//   - plan: The plan computed for the source.
//
// Returns:
//   - *Buffer: The SquareSide x SquareSide BGRA buffer.
//   - error: geometry.ErrInvalidGeometry if the plan does not describe img.
//
// @example
// plan, _ := geometry.ComputeLetterboxPlan(640, 480, 416)
// buf, err := Letterbox(frame, plan)
func Letterbox(img image.Image, plan geometry.LetterboxPlan) (*Buffer, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != plan.SourceWidth || b.Dy() != plan.SourceHeight {
		return nil, errors.Wrapf(geometry.ErrInvalidGeometry,
			"image is %dx%d, plan expects %dx%d", b.Dx(), b.Dy(), plan.SourceWidth, plan.SourceHeight)
	}

	side := plan.SquareSide
	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{LetterboxColor}, image.Point{}, draw.Src)

	var content image.Image = img
	if b.Dx() != plan.ContentWidth || b.Dy() != plan.ContentHeight {
		content = resize.Resize(uint(plan.ContentWidth), uint(plan.ContentHeight), img, resize.Bilinear)
	}

	dst := image.Rect(plan.ContentX, plan.ContentY,
		plan.ContentX+plan.ContentWidth, plan.ContentY+plan.ContentHeight)
	draw.Draw(canvas, dst, content, content.Bounds().Min, draw.Src)

	return FromRGBA(canvas), nil
}

// LetterboxImage computes the plan for img and renders it in one step.
func LetterboxImage(img image.Image, side int) (*Buffer, geometry.LetterboxPlan, error) {
	b := img.Bounds()
	plan, err := geometry.ComputeLetterboxPlan(b.Dx(), b.Dy(), side)
	if err != nil {
		return nil, geometry.LetterboxPlan{}, err
	}
	buf, err := Letterbox(img, plan)
	if err != nil {
		return nil, geometry.LetterboxPlan{}, err
	}
	return buf, plan, nil
}
