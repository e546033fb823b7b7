package background_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/fleetgate/internal/background"
)

type fakeSources struct {
	evictedAt []time.Time
	count     int
}

func (f *fakeSources) EvictIdle(now time.Time) int {
	f.evictedAt = append(f.evictedAt, now)
	return 2
}

func (f *fakeSources) SourceCount() int { return f.count }

type fakeBlocks struct{ purged int }

func (f *fakeBlocks) PurgeExpired(now time.Time) int {
	f.purged++
	return 1
}

func (f *fakeBlocks) ActiveCount(now time.Time) int { return 0 }

type fakePruner struct{ calls int }

func (f *fakePruner) PruneFingerprints(now time.Time) int {
	f.calls++
	return 0
}

type fakeEvents struct {
	cutoff time.Time
	err    error
}

func (f *fakeEvents) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_SweepsEveryTarget(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sources := &fakeSources{count: 4}
	blocks := &fakeBlocks{}
	pruner := &fakePruner{}
	events := &fakeEvents{}

	cm := background.NewCleanupManager(background.CleanupTargets{
		Sources:      sources,
		Blocks:       blocks,
		Fingerprints: pruner,
		Events:       events,
	}, discardLogger(), time.Minute, 90*24*time.Hour).WithClock(func() time.Time { return now })

	cm.RunOnce(context.Background())

	assert.Equal(t, []time.Time{now}, sources.evictedAt)
	assert.Equal(t, 1, blocks.purged)
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, now.Add(-90*24*time.Hour), events.cutoff)
}

func TestRunOnce_EventPurgeFailureIsLogged(t *testing.T) {
	events := &fakeEvents{err: errors.New("connection refused")}
	cm := background.NewCleanupManager(background.CleanupTargets{Events: events}, discardLogger(), time.Minute, time.Hour)

	assert.NotPanics(t, func() { cm.RunOnce(context.Background()) })
	assert.False(t, events.cutoff.IsZero())
}

func TestRunOnce_NoRetentionSkipsEvents(t *testing.T) {
	events := &fakeEvents{}
	cm := background.NewCleanupManager(background.CleanupTargets{Events: events}, discardLogger(), time.Minute, 0)

	cm.RunOnce(context.Background())

	assert.True(t, events.cutoff.IsZero())
}

func TestStart_StopsOnStop(t *testing.T) {
	sources := &fakeSources{}
	cm := background.NewCleanupManager(background.CleanupTargets{Sources: sources}, discardLogger(), time.Hour, 0)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	cm.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cm := background.NewCleanupManager(background.CleanupTargets{}, discardLogger(), time.Hour, 0)

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop on cancel")
	}
}
