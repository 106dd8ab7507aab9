package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
	doors "coldchain-cloud/internal/doors/domain"
)

// DoorTimerSweeper raises DOOR_OPEN for doors left open past their delay
// while the logger sends no new readings.
type DoorTimerSweeper struct {
	doors   doors.Repository
	cells   ColdCellReader
	handler SignalHandler
	logger  *zap.Logger
}

// NewDoorTimerSweeper constructs a sweeper.
func NewDoorTimerSweeper(doorRepo doors.Repository, cells ColdCellReader, handler SignalHandler, logger *zap.Logger) *DoorTimerSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoorTimerSweeper{doors: doorRepo, cells: cells, handler: handler, logger: logger}
}

// Sweep checks every open door.
func (s *DoorTimerSweeper) Sweep(ctx context.Context, now time.Time) error {
	open, err := s.doors.ListOpen(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, door := range open {
		cell, err := s.cells.Get(ctx, door.ColdCellID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cell == nil {
			continue
		}
		signals := alerts.EvaluateDoorTimer(*cell, door, now)
		if len(signals) == 0 {
			continue
		}
		if err := s.handler.HandleSignals(ctx, *cell, signals); err != nil {
			s.logger.Warn("door timer signal failed", zap.String("cold_cell_id", cell.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HeartbeatSweeper marks devices offline once they miss their heartbeat and
// raises POWER_LOSS for their cold cell.
type HeartbeatSweeper struct {
	devices assets.DeviceRepository
	cells   ColdCellReader
	handler SignalHandler
	logger  *zap.Logger
}

// NewHeartbeatSweeper constructs a sweeper.
func NewHeartbeatSweeper(devices assets.DeviceRepository, cells ColdCellReader, handler SignalHandler, logger *zap.Logger) *HeartbeatSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeartbeatSweeper{devices: devices, cells: cells, handler: handler, logger: logger}
}

// Sweep checks every online device.
func (s *HeartbeatSweeper) Sweep(ctx context.Context, now time.Time) error {
	online, err := s.devices.ListOnline(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, device := range online {
		if !device.HeartbeatLapsed(now) {
			continue
		}
		applied, err := s.devices.MarkOffline(ctx, device.Serial, device.LastSeenAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !applied {
			continue
		}
		s.logger.Info("device offline",
			zap.String("serial", device.Serial),
			zap.Time("last_seen_at", device.LastSeenAt),
		)
		cell, err := s.cells.Get(ctx, device.ColdCellID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cell == nil {
			continue
		}
		if err := s.handler.HandleSignals(ctx, *cell, alerts.EvaluateDeviceOffline(device, now)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
