package timetable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/timetable/internal/metrics"
	"github.com/jw6ventures/timetable/internal/store"
)

func TestPrunerKeepsNewestAndDropsExpired(t *testing.T) {
	st, mem := store.NewMemory()
	clock := newFakeClock(harnessStart)
	ctx := context.Background()
	start, end := day(2024, 1, 1), day(2024, 1, 7).Add(24*time.Hour-time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.Snapshots.Insert(ctx, store.Snapshot{
			UserID: 1, RangeStart: start, RangeEnd: &end,
			Payload: []byte(`[]`), CreatedAt: harnessStart.Add(-time.Duration(i) * time.Hour),
		}))
	}
	// Older than 45 days; its day key has no end so only age applies.
	require.NoError(t, st.Snapshots.Insert(ctx, store.Snapshot{
		UserID: 2, RangeStart: day(2023, 11, 1), Payload: []byte(`[]`), CreatedAt: harnessStart.Add(-46 * 24 * time.Hour),
	}))

	p := NewPruner(st.Snapshots, clock, 6*time.Hour, 45*24*time.Hour, 2)
	require.True(t, p.MaybeRun(ctx))

	rows := mem.AllSnapshots()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, int64(1), row.UserID)
		assert.True(t, row.CreatedAt.After(harnessStart.Add(-2*time.Hour)), "kept %s", row.CreatedAt)
	}
}

func TestPrunerThrottle(t *testing.T) {
	st, _ := store.NewMemory()
	clock := newFakeClock(harnessStart)
	p := NewPruner(st.Snapshots, clock, 6*time.Hour, 45*24*time.Hour, 2)
	ctx := context.Background()

	assert.True(t, p.MaybeRun(ctx))
	clock.Advance(5 * time.Hour)
	assert.False(t, p.MaybeRun(ctx))
	clock.Advance(time.Hour)
	assert.True(t, p.MaybeRun(ctx))
}

type brokenSnapshots struct {
	store.SnapshotRepository
	calls int
}

func (b *brokenSnapshots) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	b.calls++
	return 0, errors.New("connection reset")
}

func TestPrunerFailureIsRetriedNextInterval(t *testing.T) {
	st, _ := store.NewMemory()
	broken := &brokenSnapshots{SnapshotRepository: st.Snapshots}
	clock := newFakeClock(harnessStart)
	p := NewPruner(broken, clock, 6*time.Hour, 45*24*time.Hour, 2)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.NonFatalFailures.WithLabelValues(opPrune.name))

	assert.True(t, p.MaybeRun(ctx))
	assert.False(t, p.MaybeRun(ctx))
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NonFatalFailures.WithLabelValues(opPrune.name)))

	clock.Advance(6 * time.Hour)
	assert.True(t, p.MaybeRun(ctx))
	assert.Equal(t, 2, broken.calls)
}

func TestPrunerStartStopsWithContext(t *testing.T) {
	st, _ := store.NewMemory()
	p := NewPruner(st.Snapshots, nil, time.Millisecond, time.Hour, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.lastRun.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}
