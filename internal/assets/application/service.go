package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	assets "coldchain-cloud/internal/assets/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SettingsService updates per-cell alert settings and per-customer
// escalation configuration.
type SettingsService struct {
	cells   assets.ColdCellRepository
	configs assets.EscalationConfigRepository
	clock   Clock
	logger  *zap.Logger
}

// Option customizes the service.
type Option func(*SettingsService)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *SettingsService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SettingsService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSettingsService constructs a service.
func NewSettingsService(cells assets.ColdCellRepository, configs assets.EscalationConfigRepository, opts ...Option) (*SettingsService, error) {
	if cells == nil {
		return nil, errors.New("settings service: nil cold cell repository")
	}
	if configs == nil {
		return nil, errors.New("settings service: nil escalation config repository")
	}
	s := &SettingsService{cells: cells, configs: configs, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ColdCell returns the cell when it belongs to customerID. An empty
// customerID skips the ownership check.
func (s *SettingsService) ColdCell(ctx context.Context, customerID, id string) (*assets.ColdCell, error) {
	cell, err := s.cells.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cell == nil || (customerID != "" && cell.CustomerID != customerID) {
		return nil, fmt.Errorf("cold cell %s: %w", id, assets.ErrNotFound)
	}
	return cell, nil
}

// UpdateColdCellSettings validates and stores new thresholds.
func (s *SettingsService) UpdateColdCellSettings(ctx context.Context, customerID, id string, settings assets.ColdCellSettings) (*assets.ColdCell, error) {
	if _, err := s.ColdCell(ctx, customerID, id); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := s.cells.UpdateSettings(ctx, id, settings, s.clock.Now()); err != nil {
		return nil, err
	}
	s.logger.Info("cold cell settings updated",
		zap.String("cold_cell_id", id),
		zap.Float64("min_temp", settings.MinTemp),
		zap.Float64("max_temp", settings.MaxTemp),
		zap.Int("door_alarm_delay_seconds", settings.DoorAlarmDelaySeconds),
	)
	return s.ColdCell(ctx, customerID, id)
}

// EscalationConfig returns the stored configuration or the defaults.
func (s *SettingsService) EscalationConfig(ctx context.Context, customerID string) (assets.EscalationConfig, error) {
	if customerID == "" {
		return assets.EscalationConfig{}, fmt.Errorf("%w: customer id required", assets.ErrInvalid)
	}
	cfg, err := s.configs.Get(ctx, customerID)
	if err != nil {
		return assets.EscalationConfig{}, err
	}
	if cfg == nil {
		return assets.DefaultEscalationConfig(customerID), nil
	}
	return *cfg, nil
}

// SaveEscalationConfig validates and stores cfg for customerID.
func (s *SettingsService) SaveEscalationConfig(ctx context.Context, customerID string, cfg assets.EscalationConfig) (assets.EscalationConfig, error) {
	cfg.CustomerID = customerID
	if cfg.Timezone == "" {
		cfg.Timezone = assets.DefaultTimezone
	}
	if err := cfg.Validate(); err != nil {
		return assets.EscalationConfig{}, err
	}
	cfg.UpdatedAt = s.clock.Now().UTC()
	if err := s.configs.Save(ctx, &cfg); err != nil {
		return assets.EscalationConfig{}, err
	}
	s.logger.Info("escalation config saved",
		zap.String("customer_id", customerID),
		zap.String("timezone", cfg.Timezone),
		zap.Int("backup_contacts", len(cfg.BackupContacts)),
	)
	return cfg, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
