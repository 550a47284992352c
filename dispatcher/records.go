package dispatcher

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"go.uber.org/zap"
)

// Translate converts raw records into detections normalized to the plan's
// source image.
//
// Records missing any of x, y, w, h, label or score, or carrying values of the
// wrong type, are dropped. Boxes are clamped into the unit square before they
// are mapped, so out of range model output never leaves this function.
//
// Arguments:
//   - records: Raw detector output, boxes normalized to the model square.
//   - plan: The letterbox plan the model input was rendered with.
//   - logger: Receives a debug entry per dropped record. May be nil.
//
// Returns:
//   - []inference.Detection: One detection per valid record, in input order.
func Translate(records []inference.Record, plan geometry.LetterboxPlan, logger *zap.Logger) []inference.Detection {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]inference.Detection, 0, len(records))
	for i, r := range records {
		det, err := translateRecord(i, r, plan)
		if err != nil {
			logger.Debug("dropping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, det)
	}
	return out
}

func translateRecord(index int, r inference.Record, plan geometry.LetterboxPlan) (inference.Detection, error) {
	var vals [4]float64
	for i, key := range [...]string{inference.FieldX, inference.FieldY, inference.FieldW, inference.FieldH} {
		v, err := number(r, key)
		if err != nil {
			return inference.Detection{}, err
		}
		vals[i] = v
	}
	label, ok := r[inference.FieldLabel].(string)
	if !ok {
		return inference.Detection{}, fmt.Errorf("field %q missing or not a string", inference.FieldLabel)
	}
	score, err := number(r, inference.FieldScore)
	if err != nil {
		return inference.Detection{}, err
	}

	box := geometry.ClampNormalized(geometry.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]})
	model, err := geometry.Denormalize(box, plan.SquareSide, plan.SquareSide)
	if err != nil {
		return inference.Detection{}, err
	}
	src, err := geometry.MapModelBoxToSource(model, plan, plan.SourceWidth, plan.SourceHeight)
	if err != nil {
		return inference.Detection{}, err
	}
	norm, err := geometry.Normalize(src, plan.SourceWidth, plan.SourceHeight)
	if err != nil {
		return inference.Detection{}, err
	}

	return inference.Detection{
		ID:    fmt.Sprintf("%s#%d", label, index),
		Box:   norm,
		Label: label,
		Score: math32.Max(0, math32.Min(1, float32(score))),
	}, nil
}

// number reads a numeric field. NaN and infinities count as malformed.
func number(r inference.Record, key string) (float64, error) {
	raw, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("field %q missing", key)
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		v = f
	default:
		return 0, fmt.Errorf("field %q has type %T", key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("field %q is not finite", key)
	}
	return v, nil
}
