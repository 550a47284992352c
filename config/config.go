// Package config loads the YAML configuration of the detect tool.
package config

import (
	"os"
	"time"

	"github.com/nvr-ai/go-detect/onnx"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration.
type Config struct {
	Model ModelConfig `yaml:"model"`
	Live  LiveConfig  `yaml:"live"`
	Cache CacheConfig `yaml:"cache"`
	Batch BatchConfig `yaml:"batch"`
	Log   LogConfig   `yaml:"log"`
}

// ModelConfig selects and tunes the detector.
type ModelConfig struct {
	Path                string   `yaml:"path"`
	LibraryPath         string   `yaml:"library_path"`
	InputSize           int      `yaml:"input_size"`           // square side, multiple of 32
	ConfidenceThreshold float32  `yaml:"confidence_threshold"` // [0,1]
	NMSThreshold        float32  `yaml:"nms_threshold"`        // [0,1]
	Provider            string   `yaml:"provider"`             // cpu, coreml, openvino, cuda
	RelevantClasses     []string `yaml:"relevant_classes"`
	// Static replaces the model with a detector returning fixed boxes.
	Static bool `yaml:"static"`
}

// LiveConfig contains live stream settings.
type LiveConfig struct {
	Device      string   `yaml:"device"` // device index or stream URL
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	MinInterval Duration `yaml:"min_interval"` // minimum time between inferences
	MeterWindow Duration `yaml:"meter_window"`
	Overlay     bool     `yaml:"overlay"`
}

// CacheConfig bounds decoded image memory.
type CacheConfig struct {
	ThumbnailSize int `yaml:"thumbnail_size"`
	PreviewSize   int `yaml:"preview_size"`
	Concurrency   int `yaml:"concurrency"`
}

// BatchConfig contains batch run settings.
type BatchConfig struct {
	MaxItems       int `yaml:"max_items"`
	PrefetchRadius int `yaml:"prefetch_radius"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`

	// ReportInterval is the period of the pipeline status report.
	ReportInterval Duration `yaml:"report_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			InputSize:           416,
			ConfidenceThreshold: 0.5,
			NMSThreshold:        0.7,
			Provider:            string(onnx.ProviderCPU),
		},
		Live: LiveConfig{
			Device:      "0",
			MinInterval: Duration(time.Second / 20),
			MeterWindow: Duration(500 * time.Millisecond),
			Overlay:     true,
		},
		Cache: CacheConfig{
			ThumbnailSize: 256,
			PreviewSize:   2048,
			Concurrency:   4,
		},
		Batch: BatchConfig{
			MaxItems:       30,
			PrefetchRadius: 1,
		},
		Log: LogConfig{
			Level:          "info",
			ReportInterval: Duration(10 * time.Second),
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// ONNX returns the detector configuration for the model section.
func (m ModelConfig) ONNX() onnx.Config {
	cfg := onnx.DefaultConfig()
	cfg.ModelPath = m.Path
	cfg.LibraryPath = m.LibraryPath
	cfg.InputSize = m.InputSize
	cfg.ConfidenceThreshold = m.ConfidenceThreshold
	cfg.NMSThreshold = m.NMSThreshold
	cfg.Provider = onnx.Provider(m.Provider)
	cfg.RelevantClasses = m.RelevantClasses
	return cfg
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
