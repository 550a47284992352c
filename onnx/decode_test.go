package onnx

import (
	"testing"

	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yoloOutput builds a [1, 4+C, A] tensor for a side-32 input.
type yoloOutput struct {
	anchors int
	classes int
	data    []float32
}

func newYOLOOutput(side, classes int) *yoloOutput {
	a := Anchors(side)
	return &yoloOutput{anchors: a, classes: classes, data: make([]float32, (4+classes)*a)}
}

func (o *yoloOutput) set(anchor int, xc, yc, w, h float32, scores ...float32) {
	o.data[anchor] = xc
	o.data[o.anchors+anchor] = yc
	o.data[2*o.anchors+anchor] = w
	o.data[3*o.anchors+anchor] = h
	for c, s := range scores {
		o.data[(4+c)*o.anchors+anchor] = s
	}
}

func TestAnchors(t *testing.T) {
	assert.Equal(t, 8400, Anchors(640))
	assert.Equal(t, 3549, Anchors(416))
	assert.Equal(t, 21, Anchors(32))
}

// TestDecodeYOLO verifies the best class of every anchor is kept when it
// reaches the threshold and candidates come back strongest first.
//
// @example
// go test -v -run TestDecodeYOLO
func TestDecodeYOLO(t *testing.T) {
	out := newYOLOOutput(32, 2)
	out.set(0, 10, 10, 8, 8, 0.9, 0.1)
	out.set(1, 11, 10, 8, 8, 0.8, 0.2)
	out.set(2, 25, 25, 6, 6, 0.1, 0.6)
	out.set(3, 5, 5, 2, 2, 0.2, 0.3)

	got, err := DecodeYOLO(out.data, DecodeOptions{
		Side:                32,
		Classes:             []string{"cat", "dog"},
		ConfidenceThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "cat", got[0].Label)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.Equal(t, geometry.Rect{X: 6, Y: 6, Width: 8, Height: 8}, got[0].Box)
	assert.Equal(t, "cat", got[1].Label)
	assert.Equal(t, "dog", got[2].Label)
	assert.Equal(t, 1, got[2].ClassID)
}

func TestDecodeYOLORelevantClasses(t *testing.T) {
	out := newYOLOOutput(32, 2)
	out.set(0, 10, 10, 8, 8, 0.9, 0.1)
	out.set(2, 25, 25, 6, 6, 0.1, 0.6)

	got, err := DecodeYOLO(out.data, DecodeOptions{
		Side:                32,
		Classes:             []string{"cat", "dog"},
		ConfidenceThreshold: 0.5,
		Relevant:            map[string]bool{"dog": true},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dog", got[0].Label)
}

func TestDecodeYOLOShapeMismatch(t *testing.T) {
	_, err := DecodeYOLO(make([]float32, 10), DecodeOptions{Side: 32, Classes: []string{"cat"}})
	assert.Error(t, err)
}

func TestApplyGreedyNMS(t *testing.T) {
	candidates := []Candidate{
		{Box: geometry.Rect{X: 6, Y: 6, Width: 8, Height: 8}, ClassID: 0, Score: 0.9},
		{Box: geometry.Rect{X: 7, Y: 6, Width: 8, Height: 8}, ClassID: 0, Score: 0.8},
		{Box: geometry.Rect{X: 7, Y: 6, Width: 8, Height: 8}, ClassID: 1, Score: 0.7},
		{Box: geometry.Rect{X: 22, Y: 22, Width: 6, Height: 6}, ClassID: 1, Score: 0.6},
	}

	agnostic := ApplyGreedyNMS(candidates, 0.7, false)
	require.Len(t, agnostic, 2)
	assert.InDelta(t, 0.9, agnostic[0].Score, 1e-6)
	assert.InDelta(t, 0.6, agnostic[1].Score, 1e-6)

	aware := ApplyGreedyNMS(candidates, 0.7, true)
	require.Len(t, aware, 3)
	assert.Equal(t, 1, aware[1].ClassID)

	assert.Nil(t, ApplyGreedyNMS(nil, 0.5, false))
}

func TestRecordsNormalizeToSquare(t *testing.T) {
	records := Records([]Candidate{
		{Box: geometry.Rect{X: 8, Y: 16, Width: 16, Height: 8}, Label: "cat", Score: 0.75},
	}, 32)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, 0.25, r[inference.FieldX])
	assert.Equal(t, 0.5, r[inference.FieldY])
	assert.Equal(t, 0.5, r[inference.FieldW])
	assert.Equal(t, 0.25, r[inference.FieldH])
	assert.Equal(t, "cat", r[inference.FieldLabel])
	assert.Equal(t, 0.75, r[inference.FieldScore])
}

func TestFillTensorPlanarRGB(t *testing.T) {
	buf := inference.NewBuffer(2, 1)
	copy(buf.Pix, []uint8{
		0, 0, 255, 255, // red, stored BGRA
		255, 0, 0, 255, // blue
	})
	dst := make([]float32, 6)
	require.NoError(t, FillTensor(buf, dst))
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 1}, dst)

	assert.Error(t, FillTensor(buf, make([]float32, 5)))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrInvalidConfig), "model path required")

	cfg.ModelPath = "yolov8n.onnx"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.InputSize = 100
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = cfg
	bad.NMSThreshold = 1.5
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = cfg
	bad.Provider = "tpu"
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))

	assert.Equal(t, 80, len(cfg.classes()))
	assert.Equal(t, 0, ClassMapping(COCOClasses)["person"])
}

func TestNewDetectorValidatesBeforeRuntime(t *testing.T) {
	_, err := NewDetector(Config{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewDetector(Config{ModelPath: "does-not-exist.onnx"}, nil)
	assert.Error(t, err)
}
