package onnx

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
)

// Candidate is one decoded prediction in model input pixels.
type Candidate struct {
	Box     geometry.Rect
	ClassID int
	Label   string
	Score   float32
}

// DecodeOptions controls DecodeYOLO.
type DecodeOptions struct {
	Side                int
	Classes             []string
	ConfidenceThreshold float32
	// Relevant keeps only these labels when non-empty.
	Relevant map[string]bool
}

// DecodeYOLO reads a [1, 4+C, A] YOLO output: for every anchor a, rows 0-3
// hold the centre x, centre y, width and height in input pixels and rows 4..
// hold the per-class scores. The best class of each anchor is kept if it
// reaches the confidence threshold.
//
// Arguments:
//   - output: The flattened output tensor.
//   - opts: Input side, class names and threshold.
//
// Returns:
//   - []Candidate: Surviving candidates, highest score first.
//   - error: When the output length does not match the expected shape.
func DecodeYOLO(output []float32, opts DecodeOptions) ([]Candidate, error) {
	anchors := Anchors(opts.Side)
	numClasses := len(opts.Classes)
	if want := (4 + numClasses) * anchors; len(output) != want {
		return nil, errors.Errorf("output has %d values, want %d (4+%d classes x %d anchors)",
			len(output), want, numClasses, anchors)
	}

	candidates := make([]Candidate, 0, 64)
	for a := 0; a < anchors; a++ {
		classID := -1
		best := math32.Inf(-1)
		for c := 0; c < numClasses; c++ {
			if p := output[anchors*(c+4)+a]; p > best {
				best = p
				classID = c
			}
		}
		if classID < 0 || best < opts.ConfidenceThreshold {
			continue
		}
		label := opts.Classes[classID]
		if len(opts.Relevant) > 0 && !opts.Relevant[label] {
			continue
		}

		xc, yc := output[a], output[anchors+a]
		w, h := output[2*anchors+a], output[3*anchors+a]
		candidates = append(candidates, Candidate{
			Box: geometry.Rect{
				X:      float64(xc - w/2),
				Y:      float64(yc - h/2),
				Width:  float64(w),
				Height: float64(h),
			},
			ClassID: classID,
			Label:   label,
			Score:   best,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

// ApplyGreedyNMS keeps the strongest of every group of candidates that
// overlap by more than iouThreshold.
//
// Arguments:
//   - candidates: Sorted by descending score.
//   - iouThreshold: IoU above which the weaker candidate is suppressed.
//   - classAware: Only suppress candidates that share a class.
//
// Returns:
//   - []Candidate: The kept candidates, still in score order.
func ApplyGreedyNMS(candidates []Candidate, iouThreshold float32, classAware bool) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	kept := make([]Candidate, 0, n)
	used := make([]bool, n)
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		anchor := candidates[i]
		kept = append(kept, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if classAware && candidates[j].ClassID != anchor.ClassID {
				continue
			}
			if anchor.Box.IoU(candidates[j].Box) > float64(iouThreshold) {
				used[j] = true
			}
		}
	}
	return kept
}

// Records converts candidates to detector records normalized to the input
// square.
func Records(candidates []Candidate, side int) []inference.Record {
	s := float64(side)
	out := make([]inference.Record, len(candidates))
	for i, c := range candidates {
		out[i] = inference.Record{
			inference.FieldX:     c.Box.X / s,
			inference.FieldY:     c.Box.Y / s,
			inference.FieldW:     c.Box.Width / s,
			inference.FieldH:     c.Box.Height / s,
			inference.FieldLabel: c.Label,
			inference.FieldScore: float64(c.Score),
		}
	}
	return out
}

// FillTensor writes buf into a 1x3xSxS float tensor as planar RGB in [0,1].
func FillTensor(buf *inference.Buffer, dst []float32) error {
	plane := buf.Width * buf.Height
	if len(dst) != 3*plane {
		return errors.Errorf("tensor holds %d values, buffer needs %d", len(dst), 3*plane)
	}
	const scale = float32(1) / 255
	for y := 0; y < buf.Height; y++ {
		row := buf.Pix[y*buf.Stride:]
		for x := 0; x < buf.Width; x++ {
			p := row[4*x : 4*x+4]
			i := y*buf.Width + x
			dst[i] = float32(p[2]) * scale
			dst[plane+i] = float32(p[1]) * scale
			dst[2*plane+i] = float32(p[0]) * scale
		}
	}
	return nil
}
