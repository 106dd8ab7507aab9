package assets

import (
	"context"
	"fmt"
	"time"
)

// ColdCell is a monitored refrigeration or freezer unit.
type ColdCell struct {
	ID                      string    `json:"id"`
	CustomerID              string    `json:"customer_id"`
	Name                    string    `json:"name"`
	MinTemp                 float64   `json:"min_temp"`
	MaxTemp                 float64   `json:"max_temp"`
	DoorAlarmDelaySeconds   int       `json:"door_alarm_delay_seconds"`
	RequireResolutionReason bool      `json:"require_resolution_reason"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// DoorAlarmDelay returns the grace period before an open door raises an alert.
func (c ColdCell) DoorAlarmDelay() time.Duration {
	if c.DoorAlarmDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(c.DoorAlarmDelaySeconds) * time.Second
}

// Validate checks cold cell invariants.
func (c ColdCell) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: cold cell: empty id", ErrInvalid)
	}
	if c.CustomerID == "" {
		return fmt.Errorf("%w: cold cell: empty customer id", ErrInvalid)
	}
	return ValidateThresholds(c.MinTemp, c.MaxTemp, c.DoorAlarmDelaySeconds)
}

// ValidateThresholds rejects empty temperature ranges and negative delays.
func ValidateThresholds(minTemp, maxTemp float64, doorDelaySeconds int) error {
	if minTemp >= maxTemp {
		return fmt.Errorf("%w: min temperature %.2f must be below max %.2f", ErrInvalid, minTemp, maxTemp)
	}
	if doorDelaySeconds < 0 {
		return fmt.Errorf("%w: door alarm delay must not be negative", ErrInvalid)
	}
	return nil
}

// ColdCellSettings is the mutable per-cell alerting configuration.
type ColdCellSettings struct {
	MinTemp                 float64 `json:"min_temp"`
	MaxTemp                 float64 `json:"max_temp"`
	DoorAlarmDelaySeconds   int     `json:"door_alarm_delay_seconds"`
	RequireResolutionReason bool    `json:"require_resolution_reason"`
}

// Validate checks settings invariants.
func (s ColdCellSettings) Validate() error {
	return ValidateThresholds(s.MinTemp, s.MaxTemp, s.DoorAlarmDelaySeconds)
}

// ColdCellRepository manages cold cell persistence.
type ColdCellRepository interface {
	Get(ctx context.Context, id string) (*ColdCell, error)
	UpdateSettings(ctx context.Context, id string, settings ColdCellSettings, updatedAt time.Time) error
}
