package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	assets "coldchain-cloud/internal/assets/domain"
	assetmemory "coldchain-cloud/internal/assets/infrastructure/memory"
	"coldchain-cloud/internal/auth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

type dispatchCall struct {
	alertID string
	layer   alerts.Layer
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	fail  bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, alert alerts.Alert, layer alerts.Layer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{alertID: alert.ID, layer: layer})
	if d.fail {
		return errors.New("provider unavailable")
	}
	return nil
}

func (d *recordingDispatcher) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *recordingDispatcher) layers() []alerts.Layer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]alerts.Layer, 0, len(d.calls))
	for _, call := range d.calls {
		out = append(out, call.layer)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event AlertEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo       *alertmemory.AlertRepository
	cells      *assetmemory.ColdCellRepository
	configs    *assetmemory.EscalationConfigRepository
	clock      *fakeClock
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	service    *Service
	cell       assets.ColdCell
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	cell := assets.ColdCell{
		ID:                      "cell-1",
		CustomerID:              "customer-1",
		Name:                    "Freezer A",
		MinTemp:                 -25,
		MaxTemp:                 -15,
		DoorAlarmDelaySeconds:   120,
		RequireResolutionReason: true,
	}
	f := &fixture{
		repo:       alertmemory.NewAlertRepository(),
		cells:      assetmemory.NewColdCellRepository(cell),
		configs:    assetmemory.NewEscalationConfigRepository(),
		clock:      &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		dispatcher: &recordingDispatcher{},
		notifier:   &recordingNotifier{},
		cell:       cell,
	}
	opts = append([]ServiceOption{
		WithClock(f.clock),
		WithDispatcher(f.dispatcher),
		WithNotifier(f.notifier),
	}, opts...)
	service, err := NewService(f.repo, f.cells, f.configs, opts...)
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) trigger(t *testing.T, typ alerts.Type, at time.Time) *alerts.Alert {
	t.Helper()
	require.NoError(t, f.service.HandleSignals(context.Background(), f.cell, []alerts.Signal{
		{Type: typ, Kind: alerts.SignalTrigger, At: at, Value: -10, Threshold: -15},
	}))
	f.service.Wait()
	open, err := f.repo.ListOpenByColdCell(context.Background(), f.cell.ID)
	require.NoError(t, err)
	for i := range open {
		if open[i].Type == typ {
			return &open[i]
		}
	}
	t.Fatalf("no open %s alert", typ)
	return nil
}

func TestHandleSignalsEntryLayerBySlot(t *testing.T) {
	cases := []struct {
		name     string
		at       time.Time
		layer    alerts.Layer
		status   alerts.Status
		slot     alerts.Slot
		layer2At bool
		layer3At bool
	}{
		{name: "opening hours", at: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), layer: alerts.Layer1, status: alerts.StatusActive, slot: alerts.SlotOpen},
		{name: "after close", at: time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC), layer: alerts.Layer2, status: alerts.StatusEscalating, slot: alerts.SlotAfterClose, layer2At: true},
		{name: "night", at: time.Date(2026, 5, 5, 2, 0, 0, 0, time.UTC), layer: alerts.Layer3, status: alerts.StatusEscalating, slot: alerts.SlotNight, layer3At: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			alert := f.trigger(t, alerts.TypeHighTemp, tc.at)

			assert.Equal(t, tc.layer, alert.Layer)
			assert.Equal(t, tc.status, alert.Status)
			assert.Equal(t, tc.slot, alert.EntrySlot)
			assert.Equal(t, tc.at, alert.TriggeredAt)
			if tc.layer2At {
				require.NotNil(t, alert.Layer2At)
				assert.Equal(t, tc.at, *alert.Layer2At)
			} else {
				assert.Nil(t, alert.Layer2At)
			}
			if tc.layer3At {
				require.NotNil(t, alert.Layer3At)
				assert.Equal(t, tc.at, *alert.Layer3At)
			} else {
				assert.Nil(t, alert.Layer3At)
			}
			assert.Equal(t, []alerts.Layer{tc.layer}, f.dispatcher.layers())
			assert.Equal(t, tc.layer, alert.NotifiedLayer)
		})
	}
}

func TestHandleSignalsUsesCustomerTimezone(t *testing.T) {
	f := newFixture(t)
	cfg := assets.DefaultEscalationConfig(f.cell.CustomerID)
	cfg.Timezone = "America/New_York"
	require.NoError(t, f.configs.Save(context.Background(), &cfg))

	// 20:00 UTC is 16:00 in New York, still within opening hours.
	alert := f.trigger(t, alerts.TypeLowTemp, time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, alerts.Layer1, alert.Layer)
	assert.Equal(t, alerts.SlotOpen, alert.EntrySlot)
}

func TestHandleSignalsDeduplicates(t *testing.T) {
	f := newFixture(t)
	first := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())
	second := f.trigger(t, alerts.TypeHighTemp, f.clock.Now().Add(time.Minute))

	assert.Equal(t, first.ID, second.ID)
	all, err := f.repo.List(context.Background(), alerts.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, []string{EventTriggered}, f.notifier.types())
}

func TestHandleSignalsClearHaltsButDoesNotResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alert := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())

	require.NoError(t, f.service.HandleSignals(ctx, f.cell, []alerts.Signal{
		{Type: alerts.TypeHighTemp, Kind: alerts.SignalClear, At: f.clock.Now().Add(time.Minute)},
	}))
	stored, err := f.repo.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, stored.ConditionCleared)
	assert.Equal(t, alerts.StatusActive, stored.Status)

	// A relapse re-arms escalation on the same alert.
	again := f.trigger(t, alerts.TypeHighTemp, f.clock.Now().Add(2*time.Minute))
	assert.Equal(t, alert.ID, again.ID)
	assert.False(t, again.ConditionCleared)
	assert.Equal(t, []string{EventTriggered, EventConditionCleared, EventConditionReturned}, f.notifier.types())
}

func TestHandleSignalsTriggerThenClearInOneBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened := f.clock.Now()
	require.NoError(t, f.service.HandleSignals(ctx, f.cell, []alerts.Signal{
		{Type: alerts.TypeDoorOpen, Kind: alerts.SignalTrigger, At: opened.Add(2 * time.Minute)},
		{Type: alerts.TypeDoorOpen, Kind: alerts.SignalClear, At: opened.Add(2*time.Minute + time.Second)},
	}))
	open, err := f.repo.ListOpenByColdCell(ctx, f.cell.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, opened.Add(2*time.Minute), open[0].TriggeredAt)
	assert.True(t, open[0].ConditionCleared)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithIdentity(context.Background(), "customer-1", auth.RoleOperator, "user-7")
	alert := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())

	f.clock.Set(f.clock.Now().Add(5 * time.Minute))
	acked, err := f.service.Acknowledge(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, "user-7", acked.AcknowledgedBy)
	firstAck := *acked.AcknowledgedAt

	f.clock.Set(f.clock.Now().Add(5 * time.Minute))
	again, err := f.service.Acknowledge(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, firstAck, *again.AcknowledgedAt)
	assert.Equal(t, alert.Layer, again.Layer)

	_, err = f.service.Acknowledge(ctx, "missing")
	require.ErrorIs(t, err, alerts.ErrNotFound)

	other := auth.WithIdentity(context.Background(), "customer-2", auth.RoleOperator, "intruder")
	_, err = f.service.Acknowledge(other, alert.ID)
	require.ErrorIs(t, err, alerts.ErrNotFound)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alert := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())

	_, err := f.service.Resolve(ctx, alert.ID, "   ")
	require.ErrorIs(t, err, alerts.ErrValidation)

	resolved, err := f.service.Resolve(ctx, alert.ID, "compressor restarted")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "compressor restarted", resolved.ResolutionReason)

	_, err = f.service.Resolve(ctx, alert.ID, "again")
	require.ErrorIs(t, err, alerts.ErrConflict)

	_, err = f.service.Acknowledge(ctx, alert.ID)
	require.ErrorIs(t, err, alerts.ErrConflict)

	// A new trigger after resolution opens a fresh alert.
	fresh := f.trigger(t, alerts.TypeHighTemp, f.clock.Now().Add(time.Hour))
	assert.NotEqual(t, alert.ID, fresh.ID)
}

func TestResolveWithoutReasonWhenNotRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cells.UpdateSettings(ctx, f.cell.ID, assets.ColdCellSettings{
		MinTemp: -25, MaxTemp: -15, DoorAlarmDelaySeconds: 120, RequireResolutionReason: false,
	}, f.clock.Now()))
	alert := f.trigger(t, alerts.TypeHighTemp, f.clock.Now())

	resolved, err := f.service.Resolve(ctx, alert.ID, "")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	assert.Empty(t, resolved.ResolutionReason)
}

func TestListScopesToCallerCustomer(t *testing.T) {
	f := newFixture(t)
	f.trigger(t, alerts.TypeHighTemp, f.clock.Now())

	mine := auth.WithIdentity(context.Background(), "customer-1", auth.RoleViewer, "u")
	list, err := f.service.List(mine, alerts.Filter{CustomerID: "customer-2"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	theirs := auth.WithIdentity(context.Background(), "customer-2", auth.RoleViewer, "u")
	list, err = f.service.List(theirs, alerts.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
