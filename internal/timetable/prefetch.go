package timetable

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/jw6ventures/timetable/internal/metrics"
)

// warmFunc fetches a range unless a fresh snapshot exists. It reports
// whether an upstream fetch happened.
type warmFunc func(ctx context.Context, userID int64, start, end time.Time) (bool, error)

// Scheduler runs prefetches and pruning in the background after a request.
type Scheduler struct {
	warm   warmFunc
	pruner *Pruner
	delay  time.Duration

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     conc.WaitGroup
}

// NewScheduler builds a Scheduler. A nil pruner disables pruning.
func NewScheduler(warm warmFunc, pruner *Pruner, delay time.Duration) *Scheduler {
	return &Scheduler{warm: warm, pruner: pruner, delay: delay, stop: make(chan struct{})}
}

// Schedule returns immediately. After the delay it warms the previous and
// next week when r is a week range, then gives the pruner a chance to run.
// The work is detached from ctx's cancellation.
func (s *Scheduler) Schedule(ctx context.Context, userID int64, r Range) {
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Go(func() {
		if !s.sleep() {
			return
		}
		if r.Week && r.Start != nil && r.End != nil {
			for _, shift := range []int{-7, 7} {
				s.prefetch(bg, userID, r.Start.AddDate(0, 0, shift), r.End.AddDate(0, 0, shift))
			}
		}
		if s.pruner != nil {
			s.pruner.MaybeRun(bg)
		}
	})
}

func (s *Scheduler) prefetch(ctx context.Context, userID int64, start, end time.Time) {
	var fetched bool
	ok := nonFatal(ctx, opPrefetch, func(ctx context.Context) error {
		var err error
		fetched, err = s.warm(ctx, userID, start, end)
		return err
	})
	switch {
	case !ok:
		metrics.Prefetches.WithLabelValues("failed").Inc()
	case fetched:
		metrics.Prefetches.WithLabelValues("fetched").Inc()
	default:
		metrics.Prefetches.WithLabelValues("fresh").Inc()
	}
}

func (s *Scheduler) sleep() bool {
	if s.delay <= 0 {
		select {
		case <-s.stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	}
}

// Close drops pending work that has not started and refuses new work.
// Call Wait afterwards to drain running tasks.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
}

// Wait blocks until all scheduled work has finished.
func (s *Scheduler) Wait() {
	if r := s.wg.WaitAndRecover(); r != nil {
		log.Printf("[ERROR] background task panicked: %v", r.Value)
	}
}
