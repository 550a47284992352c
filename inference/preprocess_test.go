package inference

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/nvr-ai/go-detect/geometry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

func rgbaAt(buf *Buffer, x, y int) color.RGBA {
	return buf.At(x, y).(color.RGBA)
}

func TestLetterboxLandscape(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	buf, plan, err := LetterboxImage(solidImage(640, 480, red), 416)
	require.NoError(t, err)

	assert.Equal(t, 416, buf.Width)
	assert.Equal(t, 416, buf.Height)
	assert.Len(t, buf.Pix, 416*416*4)
	assert.Equal(t, 52, plan.ContentY)

	// Padding rows above and below the content are black.
	for _, y := range []int{0, 51, 364, 415} {
		c := rgbaAt(buf, 208, y)
		assert.Equal(t, uint8(0), c.R, "row %d should be padding", y)
		assert.Equal(t, uint8(255), c.A)
	}

	// Content rows carry the source colour.
	for _, y := range []int{52, 200, 363} {
		c := rgbaAt(buf, 208, y)
		assert.InDelta(t, 255, int(c.R), 2, "row %d should be content", y)
		assert.InDelta(t, 0, int(c.G), 2)
	}
}

func TestLetterboxPortrait(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	buf, plan, err := LetterboxImage(solidImage(480, 640, blue), 416)
	require.NoError(t, err)
	assert.Equal(t, 52, plan.ContentX)

	assert.Equal(t, uint8(0), rgbaAt(buf, 51, 208).B)
	assert.InDelta(t, 255, int(rgbaAt(buf, 52, 208).B), 2)
	assert.InDelta(t, 255, int(rgbaAt(buf, 363, 208).B), 2)
	assert.Equal(t, uint8(0), rgbaAt(buf, 364, 208).B)
}

func TestLetterboxBGRALayout(t *testing.T) {
	c := color.RGBA{R: 10, G: 20, B: 30, A: 255}
	buf, _, err := LetterboxImage(solidImage(416, 416, c), 416)
	require.NoError(t, err)

	// Square sources are copied without resampling.
	assert.Equal(t, []uint8{30, 20, 10, 255}, buf.Pix[0:4])
	assert.Equal(t, c, rgbaAt(buf, 415, 415))
}

func TestLetterboxPlanMismatch(t *testing.T) {
	plan, err := geometry.ComputeLetterboxPlan(640, 480, 416)
	require.NoError(t, err)

	_, err = Letterbox(solidImage(320, 240, color.RGBA{A: 255}), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))

	_, err = Letterbox(solidImage(640, 480, color.RGBA{A: 255}), geometry.LetterboxPlan{})
	assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))
}

func TestBufferAtOutOfBounds(t *testing.T) {
	buf := NewBuffer(2, 2)
	assert.Equal(t, color.RGBA{}, buf.At(-1, 0))
	assert.Equal(t, color.RGBA{}, buf.At(2, 2))
	assert.Equal(t, image.Rect(0, 0, 2, 2), buf.Bounds())
}

func TestDetectionCaption(t *testing.T) {
	d := Detection{Label: "person", Score: 0.876}
	assert.Equal(t, "person 87%", d.Caption())

	a := []Detection{{ID: "person#0", Label: "person", Score: 0.5}}
	b := []Detection{{ID: "person#0", Label: "person", Score: 0.5}}
	assert.True(t, EqualDetections(a, b))
	b[0].Score = 0.6
	assert.False(t, EqualDetections(a, b))
	assert.False(t, EqualDetections(a, nil))
}

func TestStaticDetectorCopiesRecords(t *testing.T) {
	det := NewStaticDetector(416)
	assert.Equal(t, 416, det.InputSize())

	first, err := det.Detect(NewBuffer(416, 416))
	require.NoError(t, err)
	require.Len(t, first, 2)

	first[0][FieldLabel] = "mutated"
	second, err := det.Detect(NewBuffer(416, 416))
	require.NoError(t, err)
	assert.Equal(t, "person", second[0][FieldLabel])
}
