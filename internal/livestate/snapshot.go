package livestate

import (
	"context"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
	doors "coldchain-cloud/internal/doors/domain"
)

// AlertLister loads the unresolved alerts of a cold cell.
type AlertLister interface {
	ListOpenByColdCell(ctx context.Context, coldCellID string) ([]alerts.Alert, error)
}

// ColdCellReader loads cold cells.
type ColdCellReader interface {
	Get(ctx context.Context, id string) (*assets.ColdCell, error)
}

// EscalationConfigReader loads per-customer configuration for the timezone.
type EscalationConfigReader interface {
	Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error)
}

// DoorReader loads door state.
type DoorReader interface {
	Get(ctx context.Context, coldCellID string) (*doors.DoorState, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SnapshotService builds cold cell state from the authoritative stores.
type SnapshotService struct {
	doors   DoorReader
	alerts  AlertLister
	cells   ColdCellReader
	configs EscalationConfigReader
	clock   Clock
}

// NewSnapshotService constructs a snapshot service. A nil clock uses wall time.
func NewSnapshotService(doorRepo DoorReader, alertRepo AlertLister, cells ColdCellReader, configs EscalationConfigReader, clock Clock) (*SnapshotService, error) {
	if doorRepo == nil || alertRepo == nil || cells == nil || configs == nil {
		return nil, errors.New("snapshot: nil dependency")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &SnapshotService{doors: doorRepo, alerts: alertRepo, cells: cells, configs: configs, clock: clock}, nil
}

// Snapshot returns the current state of coldCellID. Door counters from a
// previous local day read as zero.
func (s *SnapshotService) Snapshot(ctx context.Context, coldCellID string) (Message, error) {
	cell, err := s.cells.Get(ctx, coldCellID)
	if err != nil {
		return Message{}, err
	}
	if cell == nil {
		return Message{}, assets.ErrNotFound
	}
	now := s.clock.Now().UTC()
	msg := Message{Type: TypeSnapshot, ColdCellID: coldCellID, GeneratedAt: now}

	loc := time.UTC
	if cfg, err := s.configs.Get(ctx, cell.CustomerID); err == nil && cfg != nil {
		if l, err := cfg.Location(); err == nil {
			loc = l
		}
	}

	door, err := s.doors.Get(ctx, coldCellID)
	if err != nil {
		return Message{}, err
	}
	if door != nil {
		msg.DoorState = door.State
		changed := door.LastChangedAt
		msg.DoorLastChangedAt = &changed
		msg.DoorStatsToday = door.Today(now, loc)
	} else {
		msg.DoorStatsToday = doors.DayCounters{Date: doors.LocalDate(now, loc)}
	}

	open, err := s.alerts.ListOpenByColdCell(ctx, coldCellID)
	if err != nil {
		return Message{}, err
	}
	msg.Alerts = summarize(open)
	return msg, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
