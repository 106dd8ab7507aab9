package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "coldchain-cloud/internal/alerts/domain"
)

func newScheduler(t *testing.T, f *fixture, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	opts = append([]SchedulerOption{WithSchedulerClock(f.clock)}, opts...)
	scheduler, err := NewScheduler(f.service, f.repo, opts...)
	require.NoError(t, err)
	return scheduler
}

func (f *fixture) reload(t *testing.T, id string) *alerts.Alert {
	t.Helper()
	alert, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, alert)
	return alert
}

func TestSchedulerPromotesOpeningHoursAlert(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	ctx := context.Background()
	triggered := f.clock.Now()
	alert := f.trigger(t, alerts.TypeHighTemp, triggered)

	f.clock.Set(triggered.Add(alerts.Layer2After - time.Second))
	require.NoError(t, scheduler.Tick(ctx))
	assert.Equal(t, alerts.Layer1, f.reload(t, alert.ID).Layer)

	f.clock.Set(triggered.Add(alerts.Layer2After))
	require.NoError(t, scheduler.Tick(ctx))
	promoted := f.reload(t, alert.ID)
	assert.Equal(t, alerts.Layer2, promoted.Layer)
	assert.Equal(t, alerts.StatusEscalating, promoted.Status)
	require.NotNil(t, promoted.Layer2At)
	assert.Equal(t, triggered.Add(alerts.Layer2After), *promoted.Layer2At)

	// Acknowledging does not stop escalation.
	_, err := f.service.Acknowledge(ctx, alert.ID)
	require.NoError(t, err)

	f.clock.Set(triggered.Add(alerts.Layer3After))
	require.NoError(t, scheduler.Tick(ctx))
	final := f.reload(t, alert.ID)
	assert.Equal(t, alerts.Layer3, final.Layer)
	require.NotNil(t, final.Layer3At)
	assert.Equal(t, triggered.Add(alerts.Layer2After), *final.Layer2At)
	assert.Equal(t, alerts.Layer3, final.NotifiedLayer)

	f.clock.Set(triggered.Add(2 * time.Hour))
	require.NoError(t, scheduler.Tick(ctx))
	assert.Equal(t, []alerts.Layer{alerts.Layer1, alerts.Layer2, alerts.Layer3}, f.dispatcher.layers())
}

func TestSchedulerPromotesStepwiseAfterGap(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	triggered := f.clock.Now()
	alert := f.trigger(t, alerts.TypeHighTemp, triggered)

	f.clock.Set(triggered.Add(45 * time.Minute))
	require.NoError(t, scheduler.Tick(context.Background()))

	final := f.reload(t, alert.ID)
	assert.Equal(t, alerts.Layer3, final.Layer)
	require.NotNil(t, final.Layer2At)
	require.NotNil(t, final.Layer3At)
	assert.Equal(t, []alerts.Layer{alerts.Layer1, alerts.Layer2, alerts.Layer3}, f.dispatcher.layers())
}

func TestSchedulerSkipsClearedAndResolvedAlerts(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	ctx := context.Background()
	triggered := f.clock.Now()
	cleared := f.trigger(t, alerts.TypeHighTemp, triggered)
	resolved := f.trigger(t, alerts.TypeDoorOpen, triggered)

	require.NoError(t, f.service.HandleSignals(ctx, f.cell, []alerts.Signal{
		{Type: alerts.TypeHighTemp, Kind: alerts.SignalClear, At: triggered.Add(time.Minute)},
	}))
	_, err := f.service.Resolve(ctx, resolved.ID, "door closed by staff")
	require.NoError(t, err)

	f.clock.Set(triggered.Add(time.Hour))
	require.NoError(t, scheduler.Tick(ctx))

	assert.Equal(t, alerts.Layer1, f.reload(t, cleared.ID).Layer)
	assert.Equal(t, alerts.Layer1, f.reload(t, resolved.ID).Layer)
	assert.Nil(t, f.reload(t, cleared.ID).Layer2At)
}

func TestSchedulerDoesNotPromoteAfterCloseAlert(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	triggered := time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	f.clock.Set(triggered)
	alert := f.trigger(t, alerts.TypePowerLoss, triggered)

	// Still unresolved the next morning.
	f.clock.Set(triggered.Add(12 * time.Hour))
	require.NoError(t, scheduler.Tick(context.Background()))
	assert.Equal(t, alerts.Layer2, f.reload(t, alert.ID).Layer)
	assert.Nil(t, f.reload(t, alert.ID).Layer3At)
}

func TestSchedulerRetriesFailedDispatch(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	ctx := context.Background()
	f.dispatcher.setFail(true)
	alert := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())
	assert.Equal(t, alerts.Layer(0), f.reload(t, alert.ID).NotifiedLayer)

	f.clock.Set(f.clock.Now().Add(time.Minute))
	require.NoError(t, scheduler.Tick(ctx))
	assert.Len(t, f.dispatcher.layers(), 2)

	f.dispatcher.setFail(false)
	require.NoError(t, scheduler.Tick(ctx))
	assert.Equal(t, alerts.Layer1, f.reload(t, alert.ID).NotifiedLayer)

	require.NoError(t, scheduler.Tick(ctx))
	assert.Len(t, f.dispatcher.layers(), 3)
}

func TestSchedulerConcurrentTicksPromoteOnce(t *testing.T) {
	f := newFixture(t)
	first := newScheduler(t, f)
	second := newScheduler(t, f)
	triggered := f.clock.Now()
	alert := f.trigger(t, alerts.TypeHighTemp, triggered)
	f.clock.Set(triggered.Add(alerts.Layer2After + time.Second))

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{first, second, first, second} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			_ = s.Tick(context.Background())
		}(s)
	}
	wg.Wait()

	assert.Equal(t, alerts.Layer2, f.reload(t, alert.ID).Layer)
	count := 0
	for _, layer := range f.dispatcher.layers() {
		if layer == alerts.Layer2 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSchedulerRunsSweepersFirst(t *testing.T) {
	f := newFixture(t)
	var swept []time.Time
	scheduler := newScheduler(t, f, WithSweepers(SweeperFunc(func(_ context.Context, now time.Time) error {
		swept = append(swept, now)
		return nil
	})))
	require.NoError(t, scheduler.Tick(context.Background()))
	assert.Equal(t, []time.Time{f.clock.Now()}, swept)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type gatedDispatcher struct {
	recordingDispatcher
	gate chan struct{}
}

func (d *gatedDispatcher) Dispatch(ctx context.Context, alert alerts.Alert, layer alerts.Layer) error {
	<-d.gate
	return d.recordingDispatcher.Dispatch(ctx, alert, layer)
}

func TestSchedulerDeliversEntryLayerWhenDispatchWorkersBusy(t *testing.T) {
	gated := &gatedDispatcher{gate: make(chan struct{})}
	f := newFixture(t, WithDispatcher(gated), WithDispatchConcurrency(1))
	scheduler := newScheduler(t, f)
	ctx := context.Background()
	now := f.clock.Now()

	require.NoError(t, f.service.HandleSignals(ctx, f.cell, []alerts.Signal{
		{Type: alerts.TypeHighTemp, Kind: alerts.SignalTrigger, At: now, Value: -10, Threshold: -15},
		{Type: alerts.TypePowerLoss, Kind: alerts.SignalTrigger, At: now},
	}))
	close(gated.gate)
	f.service.Wait()
	assert.Len(t, gated.layers(), 1)

	require.NoError(t, scheduler.Tick(ctx))
	open, err := f.repo.ListOpenByColdCell(ctx, f.cell.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, alert := range open {
		assert.Equal(t, alerts.Layer1, alert.NotifiedLayer, alert.Type)
	}
	assert.Equal(t, []alerts.Layer{alerts.Layer1, alerts.Layer1}, gated.layers())
}

func TestRaisedAgainAfterResolveStartsOwnEscalationClock(t *testing.T) {
	f := newFixture(t)
	scheduler := newScheduler(t, f)
	ctx := context.Background()
	expiry := f.clock.Now().Add(2 * time.Minute)
	first := f.trigger(t, alerts.TypeDoorOpen, expiry)

	resolvedAt := expiry.Add(39 * time.Minute)
	f.clock.Set(resolvedAt)
	_, err := f.service.Resolve(ctx, first.ID, "door propped open for loading")
	require.NoError(t, err)

	// The condition still carries its original expiry.
	f.clock.Set(resolvedAt.Add(time.Minute))
	second := f.trigger(t, alerts.TypeDoorOpen, expiry)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, resolvedAt, second.TriggeredAt)
	assert.Equal(t, alerts.Layer1, second.Layer)

	require.NoError(t, scheduler.Tick(ctx))
	assert.Equal(t, alerts.Layer1, f.reload(t, second.ID).Layer)

	f.clock.Set(resolvedAt.Add(alerts.Layer2After))
	require.NoError(t, scheduler.Tick(ctx))
	assert.Equal(t, alerts.Layer2, f.reload(t, second.ID).Layer)
}
