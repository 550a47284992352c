// Package geometry - Letterbox planning and coordinate mapping between source
// image space, model input space and normalized overlay space.
package geometry

import "fmt"

// Rect is an axis-aligned box given by its top-left corner and size.
type Rect struct {
	X, Y, Width, Height float64
}

// Size is an integer pixel size.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// MaxX returns the right edge of the rectangle.
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY returns the bottom edge of the rectangle.
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Area returns the area of the rectangle, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f x %.2f)", r.X, r.Y, r.Width, r.Height)
}

// IoU returns the intersection over union of two rectangles.
//
// The intersection starts at the maximum of the two top-left corners and ends
// at the minimum of the two bottom-right corners. Non-overlapping boxes score
// zero.
//
// Arguments:
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float64: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
//	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}
//	iou := a.IoU(b) // 25 / 175 = 0.142857
//
// ```
func (r Rect) IoU(o Rect) float64 {
	ix1 := max(r.X, o.X)
	iy1 := max(r.Y, o.Y)
	ix2 := min(r.MaxX(), o.MaxX())
	iy2 := min(r.MaxY(), o.MaxY())

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// clamp bounds v into [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
