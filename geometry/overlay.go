package geometry

// FitToView maps a source-normalized box into the coordinates of a view that
// shows the source aspect-fit (whole image visible, centered).
//
// When rotate90 is set the view shows the source rotated 90 degrees clockwise,
// so the drawn source is sourceSize with width and height swapped.
//
// Arguments:
//   - rectNorm: The box normalized to the unrotated source.
//   - source: The unrotated source size in pixels.
//   - view: The view size in points.
//   - rotate90: Whether the view is rotated relative to the source.
//
// Returns:
//   - Rect: The box in view coordinates.
//   - error: ErrInvalidGeometry for degenerate sizes.
func FitToView(rectNorm Rect, source, view Size, rotate90 bool) (Rect, error) {
	r0, err := Denormalize(rectNorm, source.Width, source.Height)
	if err != nil {
		return Rect{}, err
	}
	if view.Width <= 0 || view.Height <= 0 {
		return Rect{}, ErrInvalidGeometry
	}

	srcW := float64(source.Width)
	srcH := float64(source.Height)
	r := r0
	if rotate90 {
		r = Rect{
			X:      float64(source.Height) - (r0.Y + r0.Height),
			Y:      r0.X,
			Width:  r0.Height,
			Height: r0.Width,
		}
		srcW, srcH = srcH, srcW
	}

	viewW := float64(view.Width)
	viewH := float64(view.Height)
	scale := min(viewW/srcW, viewH/srcH)
	offX := (viewW - srcW*scale) / 2
	offY := (viewH - srcH*scale) / 2

	return Rect{
		X:      r.X*scale + offX,
		Y:      r.Y*scale + offY,
		Width:  r.Width * scale,
		Height: r.Height * scale,
	}, nil
}
