package alerts

import (
	"context"
	"time"
)

// Type is the alert condition category.
type Type string

const (
	TypeHighTemp    Type = "HIGH_TEMP"
	TypeLowTemp     Type = "LOW_TEMP"
	TypePowerLoss   Type = "POWER_LOSS"
	TypeSensorError Type = "SENSOR_ERROR"
	TypeDoorOpen    Type = "DOOR_OPEN"
)

// Valid returns true when the type is supported.
func (t Type) Valid() bool {
	switch t {
	case TypeHighTemp, TypeLowTemp, TypePowerLoss, TypeSensorError, TypeDoorOpen:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusEscalating Status = "ESCALATING"
	StatusResolved   Status = "RESOLVED"
)

// Layer is the escalation tier.
type Layer int

const (
	Layer1 Layer = 1
	Layer2 Layer = 2
	Layer3 Layer = 3
)

// Valid returns true for tiers 1..3.
func (l Layer) Valid() bool {
	return l >= Layer1 && l <= Layer3
}

// StatusForLayer maps an unresolved alert's layer to its status.
func StatusForLayer(layer Layer) Status {
	if layer > Layer1 {
		return StatusEscalating
	}
	return StatusActive
}

// Alert is a raised condition on a cold cell. Alerts are never deleted.
type Alert struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id"`
	ColdCellID       string     `json:"cold_cell_id"`
	Type             Type       `json:"type"`
	Status           Status     `json:"status"`
	Layer            Layer      `json:"layer"`
	EntrySlot        Slot       `json:"entry_slot"`
	ConditionCleared bool       `json:"condition_cleared"`
	ObservedValue    float64    `json:"observed_value"`
	Threshold        float64    `json:"threshold"`
	TriggeredAt      time.Time  `json:"triggered_at"`
	Layer2At         *time.Time `json:"layer2_at,omitempty"`
	Layer3At         *time.Time `json:"layer3_at,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string     `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	NotifiedLayer    Layer      `json:"notified_layer"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Open reports whether the alert is not yet resolved.
func (a Alert) Open() bool {
	return a.Status != StatusResolved
}

// Acknowledged reports whether someone acknowledged the alert.
func (a Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// StampLayer records the moment the alert reached layer.
func (a *Alert) StampLayer(layer Layer, at time.Time) {
	stamp := at.UTC()
	switch layer {
	case Layer2:
		if a.Layer2At == nil {
			a.Layer2At = &stamp
		}
	case Layer3:
		if a.Layer3At == nil {
			a.Layer3At = &stamp
		}
	}
}

// Filter narrows alert listings. Zero values mean "any".
type Filter struct {
	CustomerID string
	ColdCellID string
	Status     Status
	Type       Type
	From       time.Time
	To         time.Time
	Limit      int
}

// Repository persists alerts. Mutations other than Create are conditional
// updates that report whether they applied.
type Repository interface {
	// Create fails with ErrConflict when an open alert exists for the cold cell and type.
	Create(ctx context.Context, alert *Alert) error
	// Get returns nil when the alert does not exist.
	Get(ctx context.Context, id string) (*Alert, error)
	ListOpenByColdCell(ctx context.Context, coldCellID string) ([]Alert, error)
	ListOpen(ctx context.Context) ([]Alert, error)
	List(ctx context.Context, filter Filter) ([]Alert, error)
	SetConditionCleared(ctx context.Context, id string, cleared bool, at time.Time) (bool, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) (bool, error)
	// Promote moves an open, not cleared alert from layer from to layer to.
	Promote(ctx context.Context, id string, from, to Layer, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, id string, layer Layer) error
	Resolve(ctx context.Context, id, reason, by string, at time.Time) (bool, error)
}

// ConditionStateRepository tracks conditions that must persist before they trigger.
type ConditionStateRepository interface {
	// PendingSince returns the zero time when nothing is pending.
	PendingSince(ctx context.Context, coldCellID string, alertType Type) (time.Time, error)
	SetPendingSince(ctx context.Context, coldCellID string, alertType Type, since time.Time) error
	Clear(ctx context.Context, coldCellID string, alertType Type) error
}
