package inference

import (
	"fmt"

	"github.com/nvr-ai/go-detect/geometry"
)

// Detection is one detected object mapped back onto the source image.
type Detection struct {
	// ID is "<label>#<index>" where index is the record's position in the raw output.
	ID string `json:"id"`
	// Box is normalized to [0,1]^2 relative to the source image.
	Box geometry.Rect `json:"box"`
	// Label is the class name reported by the detector.
	Label string `json:"label"`
	// Score is the confidence in [0,1].
	Score float32 `json:"score"`
}

// Caption formats the detection for an overlay label, e.g. "person 87%".
func (d Detection) Caption() string {
	return fmt.Sprintf("%s %d%%", d.Label, int(d.Score*100))
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %s", d.Caption(), d.Box)
}

// EqualDetections reports whether two detection lists are identical.
func EqualDetections(a, b []Detection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
