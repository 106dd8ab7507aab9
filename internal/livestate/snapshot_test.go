package livestate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	assets "coldchain-cloud/internal/assets/domain"
	assetmemory "coldchain-cloud/internal/assets/infrastructure/memory"
	doors "coldchain-cloud/internal/doors/domain"
	doormemory "coldchain-cloud/internal/doors/infrastructure/memory"
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

type fixture struct {
	clock     *fakeClock
	doors     *doormemory.DoorStateRepository
	alerts    *alertmemory.AlertRepository
	configs   *assetmemory.EscalationConfigRepository
	snapshots *SnapshotService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 21, 30, 0, 0, time.UTC)}
	cells := assetmemory.NewColdCellRepository(assets.ColdCell{ID: "cell-1", CustomerID: "customer-1", MinTemp: -25, MaxTemp: -15})
	configs := assetmemory.NewEscalationConfigRepository()
	doorRepo := doormemory.NewDoorStateRepository()
	alertRepo := alertmemory.NewAlertRepository()
	snapshots, err := NewSnapshotService(doorRepo, alertRepo, cells, configs, clock)
	require.NoError(t, err)
	return &fixture{clock: clock, doors: doorRepo, alerts: alertRepo, configs: configs, snapshots: snapshots}
}

func TestSnapshotDoorCountersRollOverInCustomerTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := assets.DefaultEscalationConfig("customer-1")
	cfg.Timezone = "Europe/Berlin"
	require.NoError(t, f.configs.Save(ctx, &cfg))

	// 2026-05-04 20:00 UTC is 22:00 in Berlin.
	state := doors.DoorState{
		ColdCellID:    "cell-1",
		State:         doors.StateClosed,
		LastChangedAt: time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC),
		LastReadingAt: time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC),
		Counters:      doors.DayCounters{Date: "2026-05-04", Opens: 4, Closes: 4, OpenSeconds: 300},
	}
	_, err := f.doors.Save(ctx, &state)
	require.NoError(t, err)

	msg, err := f.snapshots.Snapshot(ctx, "cell-1")
	require.NoError(t, err)
	assert.Equal(t, 4, msg.DoorStatsToday.Opens)

	// 22:30 UTC is already 00:30 on the next Berlin day.
	f.clock.Set(time.Date(2026, 5, 4, 22, 30, 0, 0, time.UTC))
	msg, err = f.snapshots.Snapshot(ctx, "cell-1")
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshot, msg.Type)
	assert.Equal(t, doors.StateClosed, msg.DoorState)
	assert.Equal(t, doors.DayCounters{Date: "2026-05-05"}, msg.DoorStatsToday)
}

func TestSnapshotUnknownColdCell(t *testing.T) {
	f := newFixture(t)
	_, err := f.snapshots.Snapshot(context.Background(), "cell-x")
	assert.ErrorIs(t, err, assets.ErrNotFound)
}

func TestPublisherPushesAlertAndDoorUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hub := NewHub()
	sub := hub.Subscribe("cell-1")
	defer sub.Close()
	publisher, err := NewPublisher(f.snapshots, hub, nil)
	require.NoError(t, err)

	alert := &alerts.Alert{
		ID: "alert-1", CustomerID: "customer-1", ColdCellID: "cell-1",
		Type: alerts.TypeHighTemp, Status: alerts.StatusActive, Layer: alerts.Layer1,
		TriggeredAt: f.clock.Now(),
	}
	require.NoError(t, f.alerts.Create(ctx, alert))
	publisher.Notify(ctx, alertapp.AlertEvent{Type: alertapp.EventTriggered, Alert: *alert})

	msg := <-sub.C()
	first := msg.GeneratedAt
	assert.Equal(t, TypeAlert, msg.Type)
	assert.Equal(t, alertapp.EventTriggered, msg.Event)
	require.Len(t, msg.Alerts, 1)
	assert.Equal(t, alerts.TypeHighTemp, msg.Alerts[0].Type)

	state := doors.DoorState{ColdCellID: "cell-1", State: doors.StateOpen, LastChangedAt: f.clock.Now(), LastReadingAt: f.clock.Now()}
	_, err = f.doors.Save(ctx, &state)
	require.NoError(t, err)
	publisher.DoorChanged(ctx, state)

	msg = <-sub.C()
	assert.Equal(t, TypeDoor, msg.Type)
	assert.Equal(t, doors.StateOpen, msg.DoorState)
	require.NotNil(t, msg.DoorLastChangedAt)
	// The clock did not move; the second message is still strictly newer.
	assert.True(t, msg.GeneratedAt.After(first))
}
