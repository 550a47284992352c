package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a gradient image for decode tests.
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(1, width-1)),
				G: uint8(y * 255 / max(1, height-1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestSniffFormat(t *testing.T) {
	img := createTestImage(8, 8)

	assert.Equal(t, FormatPNG, SniffFormat(encodePNG(t, img)))
	assert.Equal(t, FormatJPEG, SniffFormat(encodeJPEG(t, img)))
	assert.Equal(t, FormatWebP, SniffFormat([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, FormatUnknown, SniffFormat([]byte("not an image")))
	assert.Equal(t, FormatUnknown, SniffFormat(nil))
}

func TestDecode(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		decoded, format, err := Decode(encodePNG(t, createTestImage(64, 48)))
		require.NoError(t, err)
		assert.Equal(t, FormatPNG, format)
		assert.Equal(t, 64, decoded.Bounds().Dx())
		assert.Equal(t, 48, decoded.Bounds().Dy())
	})

	t.Run("jpeg", func(t *testing.T) {
		decoded, format, err := Decode(encodeJPEG(t, createTestImage(120, 90)))
		require.NoError(t, err)
		assert.Equal(t, FormatJPEG, format)
		assert.Equal(t, 120, decoded.Bounds().Dx())
		assert.Equal(t, 90, decoded.Bounds().Dy())
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := Decode(nil)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := Decode([]byte("definitely not an image"))
		assert.Error(t, err)
	})
}

func TestDownsample(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim        int
		wantW, wantH  int
	}{
		{"landscape is bounded by width", 800, 600, 256, 256, 192},
		{"portrait is bounded by height", 600, 800, 256, 192, 256},
		{"already small is unchanged", 100, 50, 256, 100, 50},
		{"zero bound is unchanged", 100, 50, 0, 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Downsample(createTestImage(tt.width, tt.height), tt.maxDim)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestDecodeBounded(t *testing.T) {
	out, err := DecodeBounded(encodePNG(t, createTestImage(1000, 500)), 200)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Bounds().Dx(), 200)
	assert.LessOrEqual(t, out.Bounds().Dy(), 200)

	_, err = DecodeBounded([]byte{0x01, 0x02}, 200)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	src := createTestImage(20, 10)
	sub := src.SubImage(image.Rect(5, 2, 15, 8))

	clone := Clone(sub)
	assert.Equal(t, image.Rect(0, 0, 10, 6), clone.Bounds())
	assert.Equal(t, src.At(5, 2), clone.At(0, 0))

	// Mutating the source must not affect the clone.
	src.Set(5, 2, color.RGBA{})
	assert.NotEqual(t, src.At(5, 2), clone.At(0, 0))
}
