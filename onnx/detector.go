// Package onnx implements the detector contract on ONNX Runtime for
// YOLO-style exports.
package onnx

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment loads the runtime library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath, envErr = SharedLibPath()
			if envErr != nil {
				return
			}
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		envErr = errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime environment")
	})
	return envErr
}

// Detector runs a YOLO model on ONNX Runtime. It is not safe for concurrent
// use; wrap it in a dispatcher.
type Detector struct {
	config   Config
	classes  []string
	relevant map[string]bool
	logger   *zap.Logger

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewDetector opens a session for cfg.
//
// Arguments:
//   - cfg: The detector configuration. Zero thresholds and names are taken
//     from DefaultConfig.
//   - logger: May be nil.
//
// Returns:
//   - *Detector: The detector. Call Close to release the session.
//   - error: ErrInvalidConfig or a runtime error.
func NewDetector(cfg Config, logger *zap.Logger) (*Detector, error) {
	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", cfg.ModelPath)
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	d := &Detector{
		config:   cfg,
		classes:  cfg.classes(),
		relevant: map[string]bool{},
		logger:   logger.With(zap.String("component", "onnx")),
	}
	for _, name := range cfg.RelevantClasses {
		d.relevant[name] = true
	}

	side := int64(cfg.InputSize)
	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, side, side))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	d.output, err = ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(4+len(d.classes)), int64(Anchors(cfg.InputSize))))
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := sessionOptions(cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	defer options.Destroy()

	d.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{d.input},
		[]ort.ArbitraryTensor{d.output},
		options,
	)
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "create onnxruntime session")
	}

	d.logger.Info("onnx detector initialized",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_size", cfg.InputSize),
		zap.String("provider", string(cfg.Provider)),
		zap.Float32("confidence", cfg.ConfidenceThreshold),
		zap.Int("classes", len(d.classes)))
	return d, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.InputSize == 0 {
		cfg.InputSize = def.InputSize
	}
	if cfg.InputName == "" {
		cfg.InputName = def.InputName
	}
	if cfg.OutputName == "" {
		cfg.OutputName = def.OutputName
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.NMSThreshold == 0 {
		cfg.NMSThreshold = def.NMSThreshold
	}
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	return cfg
}

func sessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	// A zero thread count keeps the runtime default.
	options.SetIntraOpNumThreads(cfg.IntraOpThreads)
	options.SetInterOpNumThreads(cfg.InterOpThreads)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	switch cfg.Provider {
	case ProviderCoreML:
		err = options.AppendExecutionProviderCoreML(0)
	case ProviderOpenVINO:
		err = options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		})
	case ProviderCUDA:
		var cuda *ort.CUDAProviderOptions
		cuda, err = ort.NewCUDAProviderOptions()
		if err == nil {
			defer cuda.Destroy()
			err = options.AppendExecutionProviderCUDA(cuda)
		}
	}
	if err != nil {
		options.Destroy()
		return nil, errors.Wrapf(err, "enable %s provider", cfg.Provider)
	}
	return options, nil
}

// InputSize implements inference.Detector.
func (d *Detector) InputSize() int { return d.config.InputSize }

// Detect implements inference.Detector.
func (d *Detector) Detect(buf *inference.Buffer) ([]inference.Record, error) {
	if d.session == nil {
		return nil, errors.New("detector closed")
	}
	if err := FillTensor(buf, d.input.GetData()); err != nil {
		return nil, errors.Wrap(err, "prepare input")
	}
	if err := d.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run inference")
	}

	candidates, err := DecodeYOLO(d.output.GetData(), DecodeOptions{
		Side:                d.config.InputSize,
		Classes:             d.classes,
		ConfidenceThreshold: d.config.ConfidenceThreshold,
		Relevant:            d.relevant,
	})
	if err != nil {
		return nil, err
	}
	kept := ApplyGreedyNMS(candidates, d.config.NMSThreshold, d.config.ClassAware)
	d.logger.Debug("inference done", zap.Int("candidates", len(candidates)), zap.Int("kept", len(kept)))
	return Records(kept, d.config.InputSize), nil
}

// Close releases the session and tensors.
func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
}
