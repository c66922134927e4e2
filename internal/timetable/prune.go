package timetable

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jw6ventures/timetable/internal/metrics"
	"github.com/jw6ventures/timetable/internal/store"
)

// Pruner deletes expired and surplus snapshot rows, at most once per interval.
type Pruner struct {
	snapshots store.SnapshotRepository
	clock     Clock
	interval  time.Duration
	maxAge    time.Duration
	keep      int

	mu      sync.Mutex
	lastRun time.Time
}

// NewPruner builds a Pruner. keep is the number of newest rows retained per
// (user, start, end) group.
func NewPruner(snapshots store.SnapshotRepository, clock Clock, interval, maxAge time.Duration, keep int) *Pruner {
	if clock == nil {
		clock = SystemClock
	}
	return &Pruner{snapshots: snapshots, clock: clock, interval: interval, maxAge: maxAge, keep: keep}
}

// MaybeRun sweeps unless a sweep started less than one interval ago. It
// reports whether a sweep was attempted. Failures are logged; the next
// interval retries.
func (p *Pruner) MaybeRun(ctx context.Context) bool {
	if !p.claim(false) {
		return false
	}
	nonFatal(ctx, opPrune, p.Sweep)
	return true
}

// Start sweeps once per interval until ctx is cancelled. It blocks.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.claim(true)
			nonFatal(ctx, opPrune, p.Sweep)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pruner) claim(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if !force && !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.interval {
		return false
	}
	p.lastRun = now
	return true
}

// Sweep removes rows older than the maximum age, then trims each bounded
// range group to its newest rows.
func (p *Pruner) Sweep(ctx context.Context) error {
	cutoff := p.clock.Now().Add(-p.maxAge)
	aged, err := p.snapshots.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.PrunedSnapshots.WithLabelValues("age").Add(float64(aged))

	trimmed, err := p.snapshots.TrimHistory(ctx, p.keep)
	if err != nil {
		return fmt.Errorf("trim snapshot history: %w", err)
	}
	metrics.PrunedSnapshots.WithLabelValues("history").Add(float64(trimmed))

	if aged > 0 || trimmed > 0 {
		log.Printf("[INFO] pruned %d expired and %d surplus snapshots", aged, trimmed)
	}
	return nil
}
