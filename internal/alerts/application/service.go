package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	assets "coldchain-cloud/internal/assets/domain"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/observability/metrics"
)

// Lifecycle event types published to notifiers.
const (
	EventTriggered         = "triggered"
	EventConditionCleared  = "condition_cleared"
	EventConditionReturned = "condition_returned"
	EventAcknowledged      = "acknowledged"
	EventEscalated         = "escalated"
	EventResolved          = "resolved"
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Dispatcher delivers the notifications of one escalation layer. A nil error
// means every channel and contact of the layer was served.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert alerts.Alert, layer alerts.Layer) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// ColdCellReader loads cold cells.
type ColdCellReader interface {
	Get(ctx context.Context, id string) (*assets.ColdCell, error)
}

// EscalationConfigReader loads per-customer escalation configuration.
type EscalationConfigReader interface {
	Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error)
}

// Service owns alert creation, deduplication, acknowledgement, promotion and resolution.
type Service struct {
	alerts     alerts.Repository
	cells      ColdCellReader
	configs    EscalationConfigReader
	notifier   AlertNotifier
	dispatcher Dispatcher
	clock      Clock
	logger     *zap.Logger
	locks      *keyedMutex
	newID      func() string

	dispatchSlots chan struct{}
	inflight      sync.WaitGroup
}

const defaultDispatchConcurrency = 16

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithDispatcher assigns the notification dispatcher.
func WithDispatcher(dispatcher Dispatcher) ServiceOption {
	return func(s *Service) {
		s.dispatcher = dispatcher
	}
}

// WithDispatchConcurrency bounds how many entry-layer dispatches run in the
// background at once. Alerts beyond the bound are delivered by the scheduler.
func WithDispatchConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.dispatchSlots = make(chan struct{}, n)
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService constructs an alert service.
func NewService(repo alerts.Repository, cells ColdCellReader, configs EscalationConfigReader, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if cells == nil {
		return nil, errors.New("alerts: nil cold cell reader")
	}
	if configs == nil {
		return nil, errors.New("alerts: nil escalation config reader")
	}
	service := &Service{
		alerts:  repo,
		cells:   cells,
		configs: configs,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		locks:   newKeyedMutex(),
		newID:   uuid.NewString,

		dispatchSlots: make(chan struct{}, defaultDispatchConcurrency),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleSignals applies evaluator output for one cold cell. Signals are
// processed in order; a failing signal does not stop the rest.
func (s *Service) HandleSignals(ctx context.Context, cell assets.ColdCell, signals []alerts.Signal) error {
	if s == nil {
		return errors.New("alerts: nil service")
	}
	if len(signals) == 0 {
		return nil
	}
	release := s.locks.Lock("cell:" + cell.ID)
	defer release()

	openAlerts, err := s.alerts.ListOpenByColdCell(ctx, cell.ID)
	if err != nil {
		return err
	}
	open := make(map[alerts.Type]*alerts.Alert, len(openAlerts))
	for i := range openAlerts {
		open[openAlerts[i].Type] = &openAlerts[i]
	}

	var errs []error
	for _, signal := range signals {
		switch signal.Kind {
		case alerts.SignalTrigger:
			created, err := s.trigger(ctx, cell, signal, open[signal.Type])
			if err != nil {
				errs = append(errs, fmt.Errorf("trigger %s: %w", signal.Type, err))
				continue
			}
			if created != nil {
				open[signal.Type] = created
			}
		case alerts.SignalClear:
			if err := s.clear(ctx, signal, open[signal.Type]); err != nil {
				errs = append(errs, fmt.Errorf("clear %s: %w", signal.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) trigger(ctx context.Context, cell assets.ColdCell, signal alerts.Signal, existing *alerts.Alert) (*alerts.Alert, error) {
	if existing != nil {
		if existing.ConditionCleared {
			applied, err := s.alerts.SetConditionCleared(ctx, existing.ID, false, signal.At)
			if err != nil {
				return nil, err
			}
			if applied {
				existing.ConditionCleared = false
				s.notify(ctx, EventConditionReturned, *existing)
			}
		}
		return nil, nil
	}

	at, err := s.raiseTime(ctx, cell.ID, signal)
	if err != nil {
		return nil, err
	}
	signal.At = at

	cfg := s.escalationConfig(ctx, cell.CustomerID)
	slot, err := alerts.SlotAt(cfg, signal.At)
	if err != nil {
		s.logger.Warn("invalid escalation config, using defaults",
			zap.String("customer_id", cell.CustomerID), zap.Error(err))
		slot, err = alerts.SlotAt(assets.DefaultEscalationConfig(cell.CustomerID), signal.At)
		if err != nil {
			return nil, err
		}
	}
	layer := alerts.EntryLayer(slot)
	now := s.clock.Now().UTC()
	alert := &alerts.Alert{
		ID:            s.newID(),
		CustomerID:    cell.CustomerID,
		ColdCellID:    cell.ID,
		Type:          signal.Type,
		Status:        alerts.StatusForLayer(layer),
		Layer:         layer,
		EntrySlot:     slot,
		ObservedValue: signal.Value,
		Threshold:     signal.Threshold,
		TriggeredAt:   signal.At.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if layer > alerts.Layer1 {
		alert.StampLayer(layer, signal.At)
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		if errors.Is(err, alerts.ErrConflict) {
			// Another writer raised the same alert first.
			s.logger.Debug("alert deduplicated",
				zap.String("cold_cell_id", cell.ID), zap.String("type", string(signal.Type)))
			return nil, nil
		}
		return nil, err
	}
	s.logger.Info("alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("cold_cell_id", cell.ID),
		zap.String("type", string(alert.Type)),
		zap.String("slot", string(slot)),
		zap.Int("layer", int(layer)),
	)
	s.notify(ctx, EventTriggered, *alert)
	s.dispatchEntry(ctx, alert.ID)
	return alert, nil
}

// raiseTime returns the trigger time of a new alert. A condition that
// outlived the resolution of its previous alert is raised no earlier than
// that resolution, so the new alert starts its own escalation clock.
func (s *Service) raiseTime(ctx context.Context, coldCellID string, signal alerts.Signal) (time.Time, error) {
	previous, err := s.alerts.List(ctx, alerts.Filter{
		ColdCellID: coldCellID,
		Type:       signal.Type,
		Status:     alerts.StatusResolved,
		Limit:      1,
	})
	if err != nil {
		return time.Time{}, err
	}
	if len(previous) == 0 || previous[0].ResolvedAt == nil {
		return signal.At, nil
	}
	resolvedAt := *previous[0].ResolvedAt
	if !resolvedAt.After(signal.At) {
		return signal.At, nil
	}
	s.logger.Debug("condition outlived previous alert",
		zap.String("cold_cell_id", coldCellID),
		zap.String("type", string(signal.Type)),
		zap.Time("condition_at", signal.At),
		zap.Time("resolved_at", resolvedAt),
	)
	return resolvedAt, nil
}

// dispatchEntry delivers the first notification of a new alert in the
// background. When every worker is busy the alert keeps NotifiedLayer 0 and
// the scheduler's retry delivers it.
func (s *Service) dispatchEntry(ctx context.Context, id string) {
	if s.dispatcher == nil {
		return
	}
	select {
	case s.dispatchSlots <- struct{}{}:
	default:
		s.logger.Debug("dispatch workers busy, deferring to scheduler", zap.String("alert_id", id))
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() { <-s.dispatchSlots }()

		release := s.locks.Lock("alert:" + id)
		defer release()
		alert, err := s.alerts.Get(ctx, id)
		if err != nil {
			s.logger.Warn("load alert for dispatch failed", zap.String("alert_id", id), zap.Error(err))
			return
		}
		if alert == nil || !alert.Open() || alert.NotifiedLayer >= alert.Layer {
			return
		}
		s.dispatch(ctx, *alert, alert.Layer)
	}()
}

// Wait blocks until background dispatches started so far have finished.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.inflight.Wait()
}

func (s *Service) clear(ctx context.Context, signal alerts.Signal, existing *alerts.Alert) error {
	if existing == nil || existing.ConditionCleared {
		return nil
	}
	applied, err := s.alerts.SetConditionCleared(ctx, existing.ID, true, signal.At)
	if err != nil {
		return err
	}
	if applied {
		existing.ConditionCleared = true
		s.notify(ctx, EventConditionCleared, *existing)
	}
	return nil
}

// Acknowledge records the first acknowledgement of an alert. Repeated calls
// return the alert unchanged.
func (s *Service) Acknowledge(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.Open() {
		return nil, fmt.Errorf("acknowledge resolved alert %s: %w", id, alerts.ErrConflict)
	}
	if alert.Acknowledged() {
		return alert, nil
	}
	now := s.clock.Now().UTC()
	by := auth.SubjectFromContext(ctx)
	applied, err := s.alerts.Acknowledge(ctx, alert.ID, by, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !current.Open() {
			return nil, fmt.Errorf("acknowledge resolved alert %s: %w", id, alerts.ErrConflict)
		}
		return current, nil
	}
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	alert.UpdatedAt = now
	s.notify(ctx, EventAcknowledged, *alert)
	return alert, nil
}

// Resolve closes an alert. The reason may only be empty when the cold cell
// does not require one.
func (s *Service) Resolve(ctx context.Context, id, reason string) (*alerts.Alert, error) {
	alert, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.Open() {
		return nil, fmt.Errorf("resolve alert %s: already resolved: %w", id, alerts.ErrConflict)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		required, err := s.reasonRequired(ctx, alert.ColdCellID)
		if err != nil {
			return nil, err
		}
		if required {
			return nil, fmt.Errorf("resolve alert %s: reason required: %w", id, alerts.ErrValidation)
		}
	}

	release := s.locks.Lock("alert:" + alert.ID)
	defer release()

	now := s.clock.Now().UTC()
	by := auth.SubjectFromContext(ctx)
	applied, err := s.alerts.Resolve(ctx, alert.ID, reason, by, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("resolve alert %s: already resolved: %w", id, alerts.ErrConflict)
	}
	alert.Status = alerts.StatusResolved
	alert.ResolvedAt = &now
	alert.ResolutionReason = reason
	alert.ResolvedBy = by
	alert.UpdatedAt = now
	s.logger.Info("alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("resolved_by", by),
	)
	s.notify(ctx, EventResolved, *alert)
	return alert, nil
}

// Get returns one alert visible to the calling customer.
func (s *Service) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	return s.load(ctx, id)
}

// List returns alerts of the calling customer matching filter.
func (s *Service) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if customerID := auth.CustomerIDFromContext(ctx); customerID != "" {
		filter.CustomerID = customerID
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.alerts.List(ctx, filter)
}

// ListOpenByColdCell returns the unresolved alerts of one cold cell.
func (s *Service) ListOpenByColdCell(ctx context.Context, coldCellID string) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.alerts.ListOpenByColdCell(ctx, coldCellID)
}

// Advance promotes an open alert to the layer due at now and retries any
// layer whose notification has not fully succeeded yet.
func (s *Service) Advance(ctx context.Context, id string, now time.Time) error {
	if s == nil {
		return errors.New("alerts: nil service")
	}
	release := s.locks.Lock("alert:" + id)
	defer release()

	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil || !alert.Open() {
		return nil
	}

	dispatched := false
	if !alert.ConditionCleared {
		due := alerts.DueLayer(*alert, now)
		for alert.Layer < due {
			next := alert.Layer + 1
			applied, err := s.alerts.Promote(ctx, alert.ID, alert.Layer, next, now)
			if err != nil {
				return err
			}
			if !applied {
				// State changed underneath; the next tick sees the fresh row.
				return nil
			}
			alert.Layer = next
			alert.Status = alerts.StatusForLayer(next)
			alert.StampLayer(next, now)
			alert.UpdatedAt = now.UTC()
			metrics.IncAlertPromotion(int(next))
			s.logger.Info("alert escalated",
				zap.String("alert_id", alert.ID),
				zap.Int("layer", int(next)),
			)
			s.notify(ctx, EventEscalated, *alert)
			dispatched = true
			if s.dispatch(ctx, *alert, next) {
				alert.NotifiedLayer = next
			}
		}
	}

	if !dispatched && alert.NotifiedLayer < alert.Layer {
		s.logger.Debug("retrying notification",
			zap.String("alert_id", alert.ID),
			zap.Int("layer", int(alert.Layer)),
		)
		s.dispatch(ctx, *alert, alert.Layer)
	}
	return nil
}

// dispatch runs after the state change is stored. Failures are logged and
// left for the next scheduler tick.
func (s *Service) dispatch(ctx context.Context, alert alerts.Alert, layer alerts.Layer) bool {
	if s.dispatcher == nil {
		return false
	}
	if err := s.dispatcher.Dispatch(ctx, alert, layer); err != nil {
		s.logger.Warn("notification dispatch incomplete",
			zap.String("alert_id", alert.ID),
			zap.Int("layer", int(layer)),
			zap.Error(err),
		)
		return false
	}
	if err := s.alerts.MarkNotified(ctx, alert.ID, layer); err != nil {
		s.logger.Error("mark notified failed",
			zap.String("alert_id", alert.ID),
			zap.Int("layer", int(layer)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Service) load(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("alert id required: %w", alerts.ErrValidation)
	}
	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %s: %w", id, alerts.ErrNotFound)
	}
	if customerID := auth.CustomerIDFromContext(ctx); customerID != "" && alert.CustomerID != customerID {
		// Hide other customers' alerts.
		return nil, fmt.Errorf("alert %s: %w", id, alerts.ErrNotFound)
	}
	return alert, nil
}

func (s *Service) reasonRequired(ctx context.Context, coldCellID string) (bool, error) {
	cell, err := s.cells.Get(ctx, coldCellID)
	if err != nil {
		return false, err
	}
	if cell == nil {
		return true, nil
	}
	return cell.RequireResolutionReason, nil
}

func (s *Service) escalationConfig(ctx context.Context, customerID string) assets.EscalationConfig {
	cfg, err := s.configs.Get(ctx, customerID)
	if err != nil {
		s.logger.Warn("load escalation config failed, using defaults",
			zap.String("customer_id", customerID), zap.Error(err))
		return assets.DefaultEscalationConfig(customerID)
	}
	if cfg == nil {
		return assets.DefaultEscalationConfig(customerID)
	}
	return *cfg
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

const maxListLimit = 500

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
