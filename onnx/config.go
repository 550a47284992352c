package onnx

import (
	"github.com/pkg/errors"
)

// Provider names an ONNX Runtime execution provider.
type Provider string

const (
	// ProviderCPU runs on the default CPU provider.
	ProviderCPU Provider = "cpu"
	// ProviderCoreML uses Apple CoreML.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
)

// ErrInvalidConfig is returned for configurations that cannot build a session.
var ErrInvalidConfig = errors.New("invalid onnx config")

// Config for the ONNX detector.
type Config struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"modelPath" yaml:"model_path"`
	// LibraryPath is the onnxruntime shared library. Empty picks the
	// platform default under third_party/.
	LibraryPath string `json:"libraryPath" yaml:"library_path"`
	// InputSize is the side of the square model input.
	InputSize int `json:"inputSize" yaml:"input_size"`
	// InputName and OutputName are the graph tensor names.
	InputName  string `json:"inputName"  yaml:"input_name"`
	OutputName string `json:"outputName" yaml:"output_name"`
	// ConfidenceThreshold drops candidates scoring below it.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidence_threshold"`
	// NMSThreshold suppresses candidates overlapping a stronger one by more.
	NMSThreshold float32 `json:"nmsThreshold" yaml:"nms_threshold"`
	// ClassAware restricts suppression to candidates of the same class.
	ClassAware bool `json:"classAware" yaml:"class_aware"`
	// Classes are the label names by class index. Empty means COCO.
	Classes []string `json:"classes" yaml:"classes"`
	// RelevantClasses keeps only these labels. Empty keeps all.
	RelevantClasses []string `json:"relevantClasses" yaml:"relevant_classes"`
	// Provider selects the execution provider.
	Provider Provider `json:"provider" yaml:"provider"`
	// IntraOpThreads and InterOpThreads size the runtime thread pools. Zero
	// uses the runtime default.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"interOpThreads" yaml:"inter_op_threads"`
}

// DefaultConfig returns the configuration of a 416 YOLO export.
func DefaultConfig() Config {
	return Config{
		InputSize:           416,
		InputName:           "images",
		OutputName:          "output0",
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.7,
		Provider:            ProviderCPU,
	}
}

// Validate checks the fields needed to open a session.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.Wrap(ErrInvalidConfig, "model path is required")
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return errors.Wrapf(ErrInvalidConfig, "input size %d must be a positive multiple of 32", c.InputSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "nms threshold %v outside [0,1]", c.NMSThreshold)
	}
	switch c.Provider {
	case "", ProviderCPU, ProviderCoreML, ProviderOpenVINO, ProviderCUDA:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown provider %q", c.Provider)
	}
	return nil
}

func (c Config) classes() []string {
	if len(c.Classes) > 0 {
		return c.Classes
	}
	return COCOClasses
}

// Anchors returns the number of YOLO prediction anchors for an input side,
// one per cell of the stride 8, 16 and 32 grids.
func Anchors(side int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := side / stride
		n += g * g
	}
	return n
}
