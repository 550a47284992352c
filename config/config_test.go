package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-detect/onnx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 50*time.Millisecond, cfg.Live.MinInterval.Std())
	assert.Equal(t, 30, cfg.Batch.MaxItems)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  path: models/yolov8n.onnx
  input_size: 640
  provider: CoreML
  relevant_classes: [person, car]
live:
  min_interval: 100ms
cache:
  preview_size: 1024
log:
  level: debug
  development: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "models/yolov8n.onnx", cfg.Model.Path)
	assert.Equal(t, 640, cfg.Model.InputSize)
	assert.Equal(t, "coreml", cfg.Model.Provider)
	assert.Equal(t, float32(0.5), cfg.Model.ConfidenceThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Live.MinInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Live.MeterWindow.Std())
	assert.Equal(t, 1024, cfg.Cache.PreviewSize)
	assert.Equal(t, 256, cfg.Cache.ThumbnailSize)
	assert.True(t, cfg.Log.Development)

	oc := cfg.Model.ONNX()
	assert.Equal(t, onnx.ProviderCoreML, oc.Provider)
	assert.Equal(t, []string{"person", "car"}, oc.RelevantClasses)
	assert.Equal(t, "images", oc.InputName)
	assert.NoError(t, oc.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"input size", "model: {input_size: 100}"},
		{"confidence", "model: {confidence_threshold: 1.5}"},
		{"provider", "model: {provider: tpu}"},
		{"negative interval", "live: {min_interval: -1s}"},
		{"zero window", "live: {meter_window: 0s}"},
		{"preview below thumbnail", "cache: {thumbnail_size: 512, preview_size: 256}"},
		{"no concurrency", "cache: {concurrency: 0}"},
		{"no items", "batch: {max_items: 0}"},
		{"log level", "log: {level: loud}"},
		{"report interval", "log: {report_interval: 0s}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("live: {min_interval: soon}"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalid))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
