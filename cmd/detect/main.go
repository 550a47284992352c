// Command detect runs the object detection pipeline over a directory of
// images or a live capture device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/dispatcher"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/onnx"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	modelPath  string
	static     bool
)

var rootCmd = &cobra.Command{
	Use:           "detect",
	Short:         "Object detection over image batches and live video",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "", "ONNX model path (overrides model.path)")
	rootCmd.PersistentFlags().BoolVar(&static, "static", false, "use a fixed-output detector instead of a model")
	rootCmd.AddCommand(batchCmd, liveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime holds what every subcommand needs.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	profiler   *profiler.Profiler
	closeModel func()
}

func setup() (*runtime, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if static {
		cfg.Model.Static = true
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	det, closeModel, err := newDetector(cfg.Model, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return newRuntime(cfg, logger, det, closeModel), nil
}

func newRuntime(cfg *config.Config, logger *zap.Logger, det inference.Detector, closeModel func()) *runtime {
	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher.New(det, dispatcher.WithLogger(logger)),
		profiler: profiler.New(profiler.Options{
			ReportInterval: cfg.Log.ReportInterval.Std(),
			Logger:         logger,
		}),
		closeModel: closeModel,
	}
	rt.profiler.AddMetricsCollector(profiler.CollectorFunc(func() map[string]float64 {
		st := rt.dispatcher.Stats()
		return map[string]float64{
			"dispatcher_calls":      float64(st.Calls),
			"dispatcher_failures":   float64(st.Failures),
			"dispatcher_latency_ms": float64(st.Average()) / float64(time.Millisecond),
		}
	}))
	rt.profiler.Start()
	return rt
}

func newDetector(m config.ModelConfig, logger *zap.Logger) (inference.Detector, func(), error) {
	if m.Static {
		logger.Info("using static detector", zap.Int("input_size", m.InputSize))
		return inference.NewStaticDetector(m.InputSize), func() {}, nil
	}
	if m.Path == "" {
		return nil, nil, errors.New("no model configured: pass --model or --static")
	}
	det, err := onnx.NewDetector(m.ONNX(), logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open model")
	}
	return det, det.Close, nil
}

func (r *runtime) Close() {
	r.profiler.Stop()
	r.dispatcher.Close()
	r.closeModel()
	_ = r.logger.Sync()
}
