// Package webcam is a gocv frame source for the live session.
package webcam

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrReadFailed is returned when the device stops producing frames.
var ErrReadFailed = errors.New("cannot read capture device")

// Config selects and sizes the capture device.
type Config struct {
	// Device is a device index or a video file/stream URL.
	Device any
	// Width and Height request a capture resolution. Zero keeps the default.
	Width, Height int
}

// Source reads frames from a video capture device.
type Source struct {
	capture *gocv.VideoCapture
	device  any
	logger  *zap.Logger
}

// Open opens the configured capture device.
func Open(cfg Config, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	capture, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, errors.Wrapf(err, "open capture device %v", cfg.Device)
	}
	if cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &Source{
		capture: capture,
		device:  cfg.Device,
		logger:  logger.With(zap.String("component", "webcam"), zap.Any("device", cfg.Device)),
	}, nil
}

// Run delivers frames to sink until ctx is done or the device fails. The
// frame passed to sink is only valid for the duration of the call.
func (s *Source) Run(ctx context.Context, sink func(image.Image) bool) error {
	mat := gocv.NewMat()
	defer mat.Close()

	s.logger.Info("capture started")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if ok := s.capture.Read(&mat); !ok {
			return errors.Wrapf(ErrReadFailed, "device %v", s.device)
		}
		if mat.Empty() {
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			s.logger.Debug("frame conversion failed", zap.Error(err))
			continue
		}
		sink(img)
	}
}

// Close releases the device.
func (s *Source) Close() error {
	return s.capture.Close()
}
