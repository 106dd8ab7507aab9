package livestate

import (
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	doors "coldchain-cloud/internal/doors/domain"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeDoor     = "door"
	TypeAlert    = "alert"
)

// AlertSummary is the client-visible part of an unresolved alert.
type AlertSummary struct {
	ID               string        `json:"id"`
	Type             alerts.Type   `json:"type"`
	Status           alerts.Status `json:"status"`
	Layer            alerts.Layer  `json:"layer"`
	ConditionCleared bool          `json:"conditionCleared"`
	Acknowledged     bool          `json:"acknowledged"`
	TriggeredAt      time.Time     `json:"triggeredAt"`
}

// Message is the latest known state of one cold cell. Every message is a
// complete state, so clients only ever apply the newest one.
type Message struct {
	Type              string            `json:"type"`
	ColdCellID        string            `json:"coldCellId"`
	DoorState         doors.State       `json:"doorState,omitempty"`
	DoorLastChangedAt *time.Time        `json:"doorLastChangedAt,omitempty"`
	DoorStatsToday    doors.DayCounters `json:"doorStatsToday"`
	Alerts            []AlertSummary    `json:"alerts"`
	Event             string            `json:"event,omitempty"`
	GeneratedAt       time.Time         `json:"generatedAt"`
}

func summarize(list []alerts.Alert) []AlertSummary {
	out := make([]AlertSummary, 0, len(list))
	for _, alert := range list {
		out = append(out, AlertSummary{
			ID:               alert.ID,
			Type:             alert.Type,
			Status:           alert.Status,
			Layer:            alert.Layer,
			ConditionCleared: alert.ConditionCleared,
			Acknowledged:     alert.Acknowledged(),
			TriggeredAt:      alert.TriggeredAt,
		})
	}
	return out
}
