package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/coordinator"
	"github.com/nvr-ai/go-detect/geometry"
	"github.com/nvr-ai/go-detect/inference"
	"go.uber.org/zap"
)

// DefaultPrefetchRadius is how many neighbours of the current item keep a
// preview while a batch runs.
const DefaultPrefetchRadius = 1

// Source provides the images of a selection.
type Source interface {
	Replace(ctx context.Context, refs []string) ([]uuid.UUID, error)
	Clear(ctx context.Context) error
	Prepare(ctx context.Context, id uuid.UUID, side int) (*inference.Buffer, geometry.LetterboxPlan, error)
	PrefetchWindow(center uuid.UUID, radius int)
}

// Detector is the serialized detector items are submitted to.
type Detector interface {
	InputSize() int
	Detect(ctx context.Context, buf *inference.Buffer, plan geometry.LetterboxPlan) ([]inference.Detection, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithLoop runs the scheduler on a shared coordinator loop.
func WithLoop(loop *coordinator.Loop) Option {
	return func(s *Scheduler) { s.loop = loop }
}

// WithPrefetchRadius sets the preview window kept around the current item.
func WithPrefetchRadius(r int) Option {
	return func(s *Scheduler) { s.radius = r }
}

// WithObserver registers fn to be called on the coordinator loop after every
// change. fn must not block or call back into the scheduler.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

type item struct {
	id         uuid.UUID
	ref        string
	detections []inference.Detection
	status     Status
}

// Scheduler is the batch state machine. Items are processed one at a time in
// selection order by a worker goroutine; every result is tagged with the run
// token it was issued under and dropped if that run is no longer current.
type Scheduler struct {
	source   Source
	detector Detector
	logger   *zap.Logger
	radius   int
	observer func(Snapshot)

	loop     *coordinator.Loop
	ownsLoop bool
	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup

	// Owned by the loop.
	state     State
	token     uuid.UUID
	items     []*item
	current   int
	completed int
	resume    chan struct{}
	finished  chan struct{}
}

// New returns an idle scheduler.
func New(source Source, detector Detector, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		detector: detector,
		logger:   zap.NewNop(),
		radius:   DefaultPrefetchRadius,
		token:    uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "batch"))
	if s.loop == nil {
		s.loop = coordinator.New()
		s.ownsLoop = true
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Select commits refs as the new selection. Any run in progress is cancelled.
// An empty selection leaves the scheduler idle.
func (s *Scheduler) Select(ctx context.Context, refs []string) ([]uuid.UUID, error) {
	if err := s.loop.Do(ctx, func() { s.invalidate("selection replaced") }); err != nil {
		return nil, err
	}
	ids, err := s.source.Replace(ctx, refs)
	if err != nil {
		return nil, err
	}
	err = s.loop.Do(ctx, func() {
		s.items = make([]*item, len(ids))
		for i, id := range ids {
			s.items[i] = &item{id: id, ref: refs[i]}
		}
		s.current, s.completed = 0, 0
		s.state = Idle
		if len(ids) > 0 {
			s.state = Ready
		}
		s.notify()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Clear drops the selection and returns to idle.
func (s *Scheduler) Clear(ctx context.Context) error {
	if err := s.loop.Do(ctx, func() {
		s.invalidate("selection cleared")
		s.items = nil
		s.current, s.completed = 0, 0
		s.state = Idle
		s.notify()
	}); err != nil {
		return err
	}
	return s.source.Clear(ctx)
}

// Start processes every item from the beginning under a fresh run token. It
// does nothing without a selection and otherwise always restarts, even after
// a completed run.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if len(s.items) == 0 {
			return
		}
		s.invalidate("restarted")
		s.token = uuid.New()
		s.finished = make(chan struct{})
		s.current, s.completed = 0, 0
		ids := make([]uuid.UUID, len(s.items))
		for i, it := range s.items {
			it.detections = nil
			it.status = Status{}
			ids[i] = it.id
		}
		s.state = Running
		s.logger.Info("batch started", zap.Int("items", len(ids)), zap.Stringer("token", s.token))
		s.notify()

		s.workers.Add(1)
		go s.work(s.token, ids)
	})
}

// Pause holds the worker before the next item. The item in flight finishes.
// It is a no-op unless the batch is running.
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if s.state != Running {
			return
		}
		s.state = Paused
		s.resume = make(chan struct{})
		s.logger.Info("batch paused", zap.Int("completed", s.completed))
		s.notify()
	})
}

// Resume continues a paused batch where it stopped. It is a no-op unless the
// batch is paused.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if s.state != Paused {
			return
		}
		s.state = Running
		s.wake()
		s.logger.Info("batch resumed", zap.Int("completed", s.completed))
		s.notify()
	})
}

// Cancel invalidates the current run. No further items are dequeued and the
// result of an item already being detected is discarded. It is always safe.
func (s *Scheduler) Cancel(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		wasActive := s.state.Active()
		s.invalidate("cancelled")
		if wasActive {
			s.state = Cancelled
			s.logger.Info("batch cancelled", zap.Int("completed", s.completed), zap.Int("total", len(s.items)))
			s.notify()
		}
	})
}

// Progress returns the position of the current run.
func (s *Scheduler) Progress(ctx context.Context) (Progress, error) {
	var p Progress
	err := s.loop.Do(ctx, func() { p = s.progress() })
	return p, err
}

// Items returns a copy of the item records.
func (s *Scheduler) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.loop.Do(ctx, func() { items = s.copyItems() })
	return items, err
}

// Wait blocks until the current run completes or is cancelled. It returns
// immediately when no run is active.
func (s *Scheduler) Wait(ctx context.Context) error {
	var finished chan struct{}
	if err := s.loop.Do(ctx, func() {
		if s.state.Active() {
			finished = s.finished
		}
	}); err != nil || finished == nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any run, waits for the worker to exit and closes the loop if
// the scheduler created it.
func (s *Scheduler) Close() {
	_ = s.Cancel(context.Background())
	s.cancel()
	s.workers.Wait()
	if s.ownsLoop {
		s.loop.Close()
	}
}

// invalidate mints a new token so every outstanding completion becomes stale
// and releases anything blocked on the old run. It runs on the loop.
func (s *Scheduler) invalidate(reason string) {
	if s.state.Active() {
		s.logger.Debug("invalidating run", zap.String("reason", reason), zap.Stringer("token", s.token))
	}
	s.token = uuid.New()
	s.wake()
	if s.finished != nil {
		close(s.finished)
		s.finished = nil
	}
}

func (s *Scheduler) wake() {
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
}

func (s *Scheduler) progress() Progress {
	return Progress{
		State:     s.state,
		Current:   s.current,
		Completed: s.completed,
		Total:     len(s.items),
		Token:     s.token,
	}
}

func (s *Scheduler) copyItems() []Item {
	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = Item{
			ID:         it.id,
			Ref:        it.ref,
			Detections: append([]inference.Detection(nil), it.detections...),
			Status:     it.status,
		}
	}
	return out
}

func (s *Scheduler) notify() {
	if s.observer != nil {
		s.observer(Snapshot{Progress: s.progress(), Items: s.copyItems()})
	}
}
