package batch

import (
	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/inference"
	"go.uber.org/zap"
)

// work processes ids in order for one run. It exits at the first step where
// token is no longer current.
func (s *Scheduler) work(token uuid.UUID, ids []uuid.UUID) {
	defer s.workers.Done()

	side := s.detector.InputSize()
	for i, id := range ids {
		if !s.dequeue(token, i, id) {
			return
		}

		buf, plan, err := s.source.Prepare(s.ctx, id, side)
		if err != nil {
			s.loop.Post(func() { s.finish(token, i, nil, err) })
			continue
		}
		s.loop.Post(func() { s.mark(token, i, Status{Phase: PhaseRunning}) })

		detections, err := s.detector.Detect(s.ctx, buf, plan)
		s.loop.Post(func() { s.finish(token, i, detections, err) })
	}
}

// dequeue waits while the run is paused and then claims item i. It reports
// false when the run has been superseded.
func (s *Scheduler) dequeue(token uuid.UUID, i int, id uuid.UUID) bool {
	for {
		var (
			proceed bool
			wait    chan struct{}
		)
		err := s.loop.Do(s.ctx, func() {
			if s.token != token || !s.state.Active() {
				return
			}
			if s.state == Paused {
				wait = s.resume
				return
			}
			proceed = true
			s.current = i + 1
			s.items[i].status = Status{Phase: PhaseLoading}
			s.source.PrefetchWindow(id, s.radius)
			s.notify()
		})
		if err != nil || wait == nil {
			return err == nil && proceed
		}
		select {
		case <-wait:
		case <-s.ctx.Done():
			return false
		}
	}
}

// mark runs on the loop.
func (s *Scheduler) mark(token uuid.UUID, i int, status Status) {
	if s.token != token {
		return
	}
	s.items[i].status = status
	s.notify()
}

// finish records the outcome of item i. It runs on the loop.
func (s *Scheduler) finish(token uuid.UUID, i int, detections []inference.Detection, err error) {
	if s.token != token {
		s.logger.Debug("dropping stale result", zap.Int("index", i), zap.Stringer("token", token))
		return
	}

	it := s.items[i]
	if err != nil {
		it.status = Status{Phase: PhaseFailed, Reason: err.Error()}
		s.logger.Warn("item failed", zap.Int("index", i), zap.String("ref", it.ref), zap.Error(err))
	} else {
		it.detections = detections
		it.status = Status{Phase: PhaseDone, Count: len(detections)}
	}
	s.completed++

	if s.completed == len(s.items) {
		s.state = Completed
		if s.finished != nil {
			close(s.finished)
			s.finished = nil
		}
		s.logger.Info("batch completed", zap.Int("items", s.completed))
	}
	s.notify()
}
