package application

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
	doors "coldchain-cloud/internal/doors/domain"
	"coldchain-cloud/internal/observability/metrics"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const deviceLockStripes = 64

// SignalHandler applies evaluator output to alert state.
type SignalHandler interface {
	HandleSignals(ctx context.Context, cell assets.ColdCell, signals []alerts.Signal) error
}

// DoorObserver is told about door states that were stored.
type DoorObserver interface {
	DoorChanged(ctx context.Context, state doors.DoorState)
}

// ColdCellReader loads cold cells.
type ColdCellReader interface {
	Get(ctx context.Context, id string) (*assets.ColdCell, error)
}

// EscalationConfigReader loads per-customer escalation configuration.
type EscalationConfigReader interface {
	Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Result describes what happened to a submitted reading.
type Result struct {
	ColdCellID string `json:"cold_cell_id"`
	Duplicate  bool   `json:"duplicate"`
	Stale      bool   `json:"stale"`
	Fault      string `json:"fault,omitempty"`
	Signals    int    `json:"signals"`
}

// IngestService stores readings and drives them through evaluation into the
// alert state machine.
type IngestService struct {
	readings   telemetry.ReadingRepository
	devices    assets.DeviceRepository
	cells      ColdCellReader
	configs    EscalationConfigReader
	doors      doors.Repository
	conditions alerts.ConditionStateRepository
	handler    SignalHandler
	observer   DoorObserver
	clock      Clock
	logger     *zap.Logger
	locks      [deviceLockStripes]sync.Mutex
}

// Option customizes the ingest service.
type Option func(*IngestService)

// WithDoorObserver assigns an observer for stored door states.
func WithDoorObserver(observer DoorObserver) Option {
	return func(s *IngestService) {
		s.observer = observer
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *IngestService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Dependencies groups the stores the ingest path reads and writes.
type Dependencies struct {
	Readings   telemetry.ReadingRepository
	Devices    assets.DeviceRepository
	Cells      ColdCellReader
	Configs    EscalationConfigReader
	Doors      doors.Repository
	Conditions alerts.ConditionStateRepository
	Handler    SignalHandler
}

// NewIngestService constructs an ingest service.
func NewIngestService(deps Dependencies, opts ...Option) (*IngestService, error) {
	switch {
	case deps.Readings == nil:
		return nil, errors.New("ingest: nil reading repository")
	case deps.Devices == nil:
		return nil, errors.New("ingest: nil device repository")
	case deps.Cells == nil:
		return nil, errors.New("ingest: nil cold cell reader")
	case deps.Configs == nil:
		return nil, errors.New("ingest: nil escalation config reader")
	case deps.Doors == nil:
		return nil, errors.New("ingest: nil door state repository")
	case deps.Conditions == nil:
		return nil, errors.New("ingest: nil condition state repository")
	case deps.Handler == nil:
		return nil, errors.New("ingest: nil signal handler")
	}
	s := &IngestService{
		readings:   deps.Readings,
		devices:    deps.Devices,
		cells:      deps.Cells,
		configs:    deps.Configs,
		doors:      deps.Doors,
		conditions: deps.Conditions,
		handler:    deps.Handler,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit ingests one reading. Duplicates and readings older than the device's
// last-seen time are stored at most once and do not change state.
func (s *IngestService) Submit(ctx context.Context, reading telemetry.SensorReading) (Result, error) {
	now := s.clock.Now().UTC()
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = now
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	if err := reading.Validate(now); err != nil {
		return Result{}, err
	}

	device, err := s.devices.Get(ctx, reading.DeviceSerial)
	if err != nil {
		return Result{}, err
	}
	if device == nil {
		return Result{}, fmt.Errorf("device %s: %w", reading.DeviceSerial, assets.ErrNotFound)
	}
	reading.ColdCellID = device.ColdCellID
	result := Result{ColdCellID: device.ColdCellID}

	unlock := s.lockDevice(reading.DeviceSerial)
	defer unlock()

	inserted, err := s.readings.Append(ctx, reading)
	if err != nil {
		return result, fmt.Errorf("append reading: %w", err)
	}
	if !inserted {
		metrics.IncReadingDropped("duplicate")
		result.Duplicate = true
		return result, nil
	}

	touch, err := s.devices.Touch(ctx, reading.DeviceSerial, reading.RecordedAt)
	if err != nil {
		return result, fmt.Errorf("touch device: %w", err)
	}
	if !touch.Applied {
		metrics.IncReadingDropped("stale")
		result.Stale = true
		return result, nil
	}

	cell, err := s.cells.Get(ctx, device.ColdCellID)
	if err != nil {
		return result, err
	}
	if cell == nil {
		return result, fmt.Errorf("cold cell %s: %w", device.ColdCellID, assets.ErrNotFound)
	}

	prevDoor, err := s.doors.Get(ctx, cell.ID)
	if err != nil {
		return result, fmt.Errorf("load door state: %w", err)
	}
	faultSince, err := s.conditions.PendingSince(ctx, cell.ID, alerts.TypeSensorError)
	if err != nil {
		return result, fmt.Errorf("load pending fault: %w", err)
	}

	eval := alerts.EvaluateReading(alerts.ReadingInput{
		Cell:            *cell,
		Reading:         reading,
		Door:            prevDoor,
		DeviceRecovered: touch.WasOffline,
		FaultSince:      faultSince,
	})
	result.Fault = eval.Fault

	signals := eval.Signals
	if reading.DoorOpen != nil {
		stored, err := s.applyDoor(ctx, *cell, prevDoor, *reading.DoorOpen, reading.RecordedAt)
		if err != nil {
			return result, err
		}
		if !stored {
			// A newer door reading won; its evaluation owns the door alert.
			signals = withoutType(signals, alerts.TypeDoorOpen)
		}
	}

	if err := s.updatePendingFault(ctx, cell.ID, faultSince, eval.FaultSince); err != nil {
		return result, err
	}

	result.Signals = len(signals)
	if err := s.handler.HandleSignals(ctx, *cell, signals); err != nil {
		return result, fmt.Errorf("handle signals: %w", err)
	}
	return result, nil
}

func (s *IngestService) applyDoor(ctx context.Context, cell assets.ColdCell, prev *doors.DoorState, open bool, at time.Time) (bool, error) {
	next := doors.DoorState{ColdCellID: cell.ID}
	if prev != nil {
		next = *prev
		if !prev.LastReadingAt.IsZero() && !at.After(prev.LastReadingAt) {
			return false, nil
		}
	}
	next.Apply(open, at, s.location(ctx, cell.CustomerID))
	saved, err := s.doors.Save(ctx, &next)
	if err != nil {
		return false, fmt.Errorf("save door state: %w", err)
	}
	if saved && s.observer != nil {
		s.observer.DoorChanged(ctx, next)
	}
	return saved, nil
}

func (s *IngestService) updatePendingFault(ctx context.Context, coldCellID string, before, after time.Time) error {
	switch {
	case after.IsZero() && !before.IsZero():
		return s.conditions.Clear(ctx, coldCellID, alerts.TypeSensorError)
	case !after.IsZero() && !after.Equal(before):
		return s.conditions.SetPendingSince(ctx, coldCellID, alerts.TypeSensorError, after)
	}
	return nil
}

func (s *IngestService) location(ctx context.Context, customerID string) *time.Location {
	cfg, err := s.configs.Get(ctx, customerID)
	if err != nil || cfg == nil {
		return time.UTC
	}
	loc, err := cfg.Location()
	if err != nil {
		s.logger.Warn("invalid customer timezone, using UTC",
			zap.String("customer_id", customerID), zap.Error(err))
		return time.UTC
	}
	return loc
}

func (s *IngestService) lockDevice(serial string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serial))
	mu := &s.locks[h.Sum32()%deviceLockStripes]
	mu.Lock()
	return mu.Unlock
}

func withoutType(signals []alerts.Signal, alertType alerts.Type) []alerts.Signal {
	out := signals[:0:0]
	for _, signal := range signals {
		if signal.Type != alertType {
			out = append(out, signal)
		}
	}
	return out
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
