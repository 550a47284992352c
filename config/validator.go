package config

import (
	"strings"

	"github.com/nvr-ai/go-detect/onnx"
	"github.com/pkg/errors"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks the configuration for values the pipeline cannot run with.
func Validate(cfg *Config) error {
	m := cfg.Model
	if m.InputSize <= 0 || m.InputSize%32 != 0 {
		return errors.Wrapf(ErrInvalid, "model.input_size must be a positive multiple of 32, got %d", m.InputSize)
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		return errors.Wrapf(ErrInvalid, "model.confidence_threshold must be in [0,1], got %v", m.ConfidenceThreshold)
	}
	if m.NMSThreshold < 0 || m.NMSThreshold > 1 {
		return errors.Wrapf(ErrInvalid, "model.nms_threshold must be in [0,1], got %v", m.NMSThreshold)
	}
	switch onnx.Provider(strings.ToLower(m.Provider)) {
	case onnx.ProviderCPU, onnx.ProviderCoreML, onnx.ProviderOpenVINO, onnx.ProviderCUDA:
		cfg.Model.Provider = strings.ToLower(m.Provider)
	default:
		return errors.Wrapf(ErrInvalid, "model.provider %q is not supported", m.Provider)
	}

	if cfg.Live.MinInterval < 0 {
		return errors.Wrap(ErrInvalid, "live.min_interval must be >= 0")
	}
	if cfg.Live.MeterWindow <= 0 {
		return errors.Wrap(ErrInvalid, "live.meter_window must be > 0")
	}

	c := cfg.Cache
	if c.ThumbnailSize <= 0 {
		return errors.Wrap(ErrInvalid, "cache.thumbnail_size must be > 0")
	}
	if c.PreviewSize < c.ThumbnailSize {
		return errors.Wrapf(ErrInvalid, "cache.preview_size %d is smaller than cache.thumbnail_size %d",
			c.PreviewSize, c.ThumbnailSize)
	}
	if c.Concurrency <= 0 {
		return errors.Wrap(ErrInvalid, "cache.concurrency must be > 0")
	}

	if cfg.Batch.MaxItems <= 0 {
		return errors.Wrap(ErrInvalid, "batch.max_items must be > 0")
	}
	if cfg.Batch.PrefetchRadius < 0 {
		return errors.Wrap(ErrInvalid, "batch.prefetch_radius must be >= 0")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalid, "log.level %q is not supported", cfg.Log.Level)
	}
	if cfg.Log.ReportInterval <= 0 {
		return errors.Wrap(ErrInvalid, "log.report_interval must be > 0")
	}
	return nil
}
