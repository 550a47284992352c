// Package inference - The black-box detector contract and its model input.
package inference

// Record field names every detector output record is expected to carry.
const (
	FieldX     = "x"
	FieldY     = "y"
	FieldW     = "w"
	FieldH     = "h"
	FieldLabel = "label"
	FieldScore = "score"
)

// Record is one raw detector output. Boxes are top-left x, y and size w, h,
// normalized to the model input square; label is a string and score a number
// in [0, 1]. Records are untyped because detectors are foreign code and may
// omit or mistype fields.
type Record map[string]any

// Detector is the opaque object detection model.
//
// Implementations are not safe for concurrent use; callers must serialize
// Detect calls.
type Detector interface {
	// InputSize returns the side of the square model input in pixels.
	InputSize() int
	// Detect runs one inference over a buffer of InputSize x InputSize pixels.
	Detect(buf *Buffer) ([]Record, error)
}
