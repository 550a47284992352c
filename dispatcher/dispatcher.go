// Package dispatcher serializes calls into a non-reentrant detector and turns
// its raw records into source-normalized detections.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrDetectorFailure is returned when the detector fails or panics.
	ErrDetectorFailure = errors.New("detector failure")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithQueueDepth sets how many callers may be queued for the worker before
// Detect blocks on submission.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.queueDepth = n
		}
	}
}

type request struct {
	buf   *inference.Buffer
	reply chan result
}

type result struct {
	records []inference.Record
	err     error
}

// Stats are the cumulative counters of a Dispatcher.
type Stats struct {
	Calls    int64
	Failures int64
	Total    time.Duration
}

// Average returns the mean detector latency.
func (s Stats) Average() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

// Dispatcher owns a detector and the single goroutine allowed to call it.
type Dispatcher struct {
	detector   inference.Detector
	side       int
	logger     *zap.Logger
	queueDepth int

	requests  chan request
	done      chan struct{}
	stopped   chan struct{} // closed once run has returned
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New starts a dispatcher around det.
//
// Arguments:
//   - det: The detector. It is only ever called from the dispatcher's worker.
//   - opts: Functional options.
//
// Returns:
//   - *Dispatcher: The running dispatcher. Call Close to stop the worker.
//
// @example
// d := dispatcher.New(inference.NewStaticDetector(416), dispatcher.WithLogger(logger))
// defer d.Close()
func New(det inference.Detector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		detector: det,
		side:     det.InputSize(),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "dispatcher"))
	d.requests = make(chan request, d.queueDepth)

	d.wg.Add(1)
	go d.run()
	return d
}

// InputSize returns the model input side of the wrapped detector.
func (d *Dispatcher) InputSize() int { return d.side }

// Detect runs the detector once over buf and maps the surviving records back
// to the source described by plan.
//
// Concurrent callers queue behind each other. A cancelled ctx abandons the
// wait but not a detector call that has already started.
//
// Arguments:
//   - ctx: Bounds the wait for the worker.
//   - buf: The model input, InputSize x InputSize pixels.
//   - plan: The letterbox plan buf was rendered with. Its source size is the
//     space detections are normalized against.
//
// Returns:
//   - []inference.Detection: Detections in raw output order, malformed
//     records dropped.
//   - error: ErrDetectorFailure, geometry.ErrInvalidGeometry, ErrClosed or the
//     context error.
func (d *Dispatcher) Detect(ctx context.Context, buf *inference.Buffer, plan geometry.LetterboxPlan) ([]inference.Detection, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.SquareSide != d.side {
		return nil, errors.Wrapf(geometry.ErrInvalidGeometry,
			"plan side %d, detector expects %d", plan.SquareSide, d.side)
	}
	records, err := d.invoke(ctx, buf)
	if err != nil {
		return nil, err
	}
	return Translate(records, plan, d.logger), nil
}

// Warmup runs one inference over an all-zero input and discards the output.
func (d *Dispatcher) Warmup(ctx context.Context) error {
	start := time.Now()
	if _, err := d.invoke(ctx, inference.NewBuffer(d.side, d.side)); err != nil {
		return errors.Wrap(err, "warmup")
	}
	d.logger.Info("detector warmed up", zap.Duration("took", time.Since(start)))
	return nil
}

// Stats returns a copy of the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Close stops the worker after the call in progress, if any, returns.
// Queued callers receive ErrClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, buf *inference.Buffer) ([]inference.Record, error) {
	if buf == nil || buf.Width != d.side || buf.Height != d.side {
		w, h := 0, 0
		if buf != nil {
			w, h = buf.Width, buf.Height
		}
		return nil, errors.Wrapf(geometry.ErrInvalidGeometry,
			"buffer is %dx%d, detector expects %dx%d", w, h, d.side, d.side)
	}

	select {
	case <-d.done:
		return nil, ErrClosed
	default:
	}

	req := request{buf: buf, reply: make(chan result, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.records, res.err
	case <-d.stopped:
		// The worker may have answered while draining.
		select {
		case res := <-req.reply:
			return res.records, res.err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			d.drain()
			return
		case req := <-d.requests:
			req.reply <- d.call(req.buf)
		}
	}
}

// drain fails requests that were queued when Close was called.
func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.requests:
			req.reply <- result{err: ErrClosed}
		default:
			return
		}
	}
}

func (d *Dispatcher) call(buf *inference.Buffer) (res result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = result{err: errors.Wrapf(ErrDetectorFailure, "panic: %v", r)}
		}
		d.record(time.Since(start), res.err)
		if res.err != nil {
			d.logger.Warn("detector call failed", zap.Error(res.err))
		}
	}()

	records, err := d.detector.Detect(buf)
	if err != nil {
		return result{err: errors.Wrapf(ErrDetectorFailure, "%v", err)}
	}
	return result{records: records}
}

func (d *Dispatcher) record(took time.Duration, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Calls++
	d.stats.Total += took
	if err != nil {
		d.stats.Failures++
	}
}
