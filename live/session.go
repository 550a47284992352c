package live

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/coordinator"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dispatcher is the serialized detector the session submits frames to.
type Dispatcher interface {
	InputSize() int
	Detect(ctx context.Context, buf *inference.Buffer, plan geometry.LetterboxPlan) ([]inference.Detection, error)
	Warmup(ctx context.Context) error
}

// State is a copy of the session's coordinator-owned state.
type State struct {
	Running    bool
	Overlay    bool
	ModelReady bool
	// Token identifies the current start/stop cycle.
	Token        uuid.UUID
	Detections   []inference.Detection
	FrameSize    geometry.Size
	Rotate90     bool
	CameraFPS    float64
	InferenceFPS float64
	Gate         GateStats
}

// snapshot is the immutable view producers read without touching the loop.
type snapshot struct {
	running    bool
	overlay    bool
	modelReady bool
	token      uuid.UUID
	frameSize  geometry.Size
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock sets the time source used by the gate and meters.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithMinInterval sets the minimum time between accepted frames.
func WithMinInterval(d time.Duration) Option {
	return func(s *Session) { s.minInterval = d }
}

// WithMeterWindow sets the reporting window of the FPS meters.
func WithMeterWindow(d time.Duration) Option {
	return func(s *Session) { s.meterWindow = d }
}

// WithLoop runs the session on a shared coordinator loop. The session does
// not close a loop it did not create.
func WithLoop(loop *coordinator.Loop) Option {
	return func(s *Session) { s.loop = loop }
}

// WithObserver registers fn to be called on the coordinator loop whenever the
// visible state changes. fn must not block or call back into the session.
func WithObserver(fn func(State)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithOverlay sets the initial overlay toggle. It defaults to on.
func WithOverlay(on bool) Option {
	return func(s *Session) { s.state.Overlay = on }
}

// Session drives live detection: frames from a source pass the gate, are
// letterboxed and detected off the producer goroutine, and results are
// published on the coordinator loop if their token is still current.
type Session struct {
	dispatcher  Dispatcher
	logger      *zap.Logger
	clock       clock.Clock
	minInterval time.Duration
	meterWindow time.Duration
	observer    func(State)

	loop     *coordinator.Loop
	ownsLoop bool

	gate        *Gate
	cameraMeter *Meter
	inferMeter  *Meter

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool // guarded by closeMu; no inflight.Add once set

	snap atomic.Pointer[snapshot]

	// state is owned by the loop.
	state State
}

// NewSession returns a stopped session.
//
// Arguments:
//   - d: The dispatcher frames are detected with.
//   - opts: Functional options.
//
// Returns:
//   - *Session: The session. Call Close to release it.
//
// @example
// s := live.NewSession(d, live.WithLogger(logger))
// _ = s.Prepare(ctx)
// _ = s.Start(ctx)
// source.Run(ctx, s.OfferFrame)
func NewSession(d Dispatcher, opts ...Option) *Session {
	s := &Session{
		dispatcher:  d,
		logger:      zap.NewNop(),
		clock:       clock.New(),
		minInterval: DefaultMinInterval,
		meterWindow: DefaultMeterWindow,
		state:       State{Overlay: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "live"))
	if s.loop == nil {
		s.loop = coordinator.New()
		s.ownsLoop = true
	}
	s.gate = NewGate(s.minInterval)
	s.cameraMeter = NewMeter(s.clock, s.meterWindow)
	s.inferMeter = NewMeter(s.clock, s.meterWindow)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state.Token = uuid.New()
	s.publish()
	return s
}

// Prepare warms the detector up and marks the model ready. Frames offered
// before it returns are dropped ahead of the gate.
func (s *Session) Prepare(ctx context.Context) error {
	err := s.dispatcher.Warmup(ctx)
	if postErr := s.loop.Do(ctx, func() {
		s.state.ModelReady = err == nil
		s.publish()
	}); postErr != nil {
		return postErr
	}
	if err != nil {
		s.logger.Warn("model warmup failed", zap.Error(err))
		return err
	}
	s.logger.Info("model ready", zap.Int("input_size", s.dispatcher.InputSize()))
	return nil
}

// Start begins a new detection cycle with a fresh token. Starting a running
// session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if s.state.Running {
			return
		}
		s.state.Running = true
		s.state.Token = uuid.New()
		s.state.Detections = nil
		s.cameraMeter.Reset()
		s.inferMeter.Reset()
		s.state.CameraFPS, s.state.InferenceFPS = 0, 0
		s.publish()
		s.notify()
		s.logger.Info("live session started",
			zap.Stringer("token", s.state.Token), zap.Bool("overlay", s.state.Overlay))
	})
}

// Stop ends the current cycle. Results still in flight are discarded when
// they arrive.
func (s *Session) Stop(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if !s.state.Running {
			return
		}
		s.state.Running = false
		s.state.Token = uuid.New()
		s.state.Detections = nil
		s.publish()
		s.notify()
		s.logger.Info("live session stopped")
	})
}

// SetOverlay turns detection display on or off. While off, frames are not
// offered for inference and no detections are shown.
func (s *Session) SetOverlay(ctx context.Context, on bool) error {
	return s.loop.Do(ctx, func() {
		if s.state.Overlay == on {
			return
		}
		s.state.Overlay = on
		if !on {
			s.state.Detections = nil
		}
		s.publish()
		s.notify()
	})
}

// State returns a copy of the current state.
func (s *Session) State(ctx context.Context) (State, error) {
	var st State
	err := s.loop.Do(ctx, func() { st = s.copyState() })
	return st, err
}

// Gate returns the admission gate.
func (s *Session) Gate() *Gate { return s.gate }

// OfferFrame is the frame source callback. It never blocks on inference and
// does not retain img after returning. It reports whether the frame was
// admitted for detection.
func (s *Session) OfferFrame(img image.Image) bool {
	snap := s.snap.Load()
	if !snap.running {
		return false
	}

	if fps, ok := s.cameraMeter.Tick(); ok {
		s.loop.Post(func() { s.state.CameraFPS = fps })
	}

	b := img.Bounds()
	if size := (geometry.Size{Width: b.Dx(), Height: b.Dy()}); size != snap.frameSize {
		s.loop.Post(func() { s.setFrameSize(size) })
	}

	if !snap.overlay || !snap.modelReady {
		return false
	}
	release, ok := s.gate.Offer(s.clock.Now())
	if !ok {
		return false
	}

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		release()
		return false
	}
	s.inflight.Add(1)
	s.closeMu.RUnlock()

	frame := images.Clone(img)
	go s.detect(snap.token, frame, release)
	return true
}

// Close stops the session, waits for in-flight detections and closes the
// loop if the session created it. Frames offered during or after Close are
// rejected.
func (s *Session) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	_ = s.Stop(context.Background())
	s.cancel()
	s.inflight.Wait()
	if s.ownsLoop {
		s.loop.Close()
	}
}

func (s *Session) detect(token uuid.UUID, frame *image.RGBA, release func()) {
	defer s.inflight.Done()
	defer release()

	buf, plan, err := inference.LetterboxImage(frame, s.dispatcher.InputSize())
	if err != nil {
		s.logger.Debug("frame rejected", zap.Error(err))
		return
	}
	detections, err := s.dispatcher.Detect(s.ctx, buf, plan)
	if err != nil {
		s.logger.Debug("frame detection failed", zap.Error(err))
		return
	}

	s.loop.Post(func() {
		if !s.state.Running || s.state.Token != token {
			s.logger.Debug("dropping stale live result", zap.Stringer("token", token))
			return
		}
		if fps, ok := s.inferMeter.Tick(); ok {
			s.state.InferenceFPS = fps
		}
		if !s.state.Overlay || inference.EqualDetections(s.state.Detections, detections) {
			return
		}
		s.state.Detections = detections
		s.notify()
	})
}

func (s *Session) setFrameSize(size geometry.Size) {
	if s.state.FrameSize == size {
		return
	}
	s.state.FrameSize = size
	s.state.Rotate90 = size.Width > size.Height
	s.publish()
	s.notify()
}

// publish must run on the loop, or before the session is shared.
func (s *Session) publish() {
	s.snap.Store(&snapshot{
		running:    s.state.Running,
		overlay:    s.state.Overlay,
		modelReady: s.state.ModelReady,
		token:      s.state.Token,
		frameSize:  s.state.FrameSize,
	})
}

func (s *Session) notify() {
	if s.observer != nil {
		s.observer(s.copyState())
	}
}

func (s *Session) copyState() State {
	st := s.state
	st.Detections = append([]inference.Detection(nil), s.state.Detections...)
	st.Gate = s.gate.Stats()
	return st
}

// OverlayBoxes maps detections into a view of the given size, rotating them
// when the session tracks a rotated frame.
func OverlayBoxes(st State, view geometry.Size) ([]geometry.Rect, error) {
	if st.FrameSize.Width <= 0 || st.FrameSize.Height <= 0 {
		return nil, errors.Wrap(geometry.ErrInvalidGeometry, "no frame size yet")
	}
	out := make([]geometry.Rect, 0, len(st.Detections))
	for _, d := range st.Detections {
		r, err := geometry.FitToView(d.Box, st.FrameSize, view, st.Rotate90)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
