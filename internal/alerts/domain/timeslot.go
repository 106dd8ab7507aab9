package alerts

import (
	"time"

	assets "coldchain-cloud/internal/assets/domain"
)

// Slot is the operating window a moment falls into for a customer.
type Slot string

const (
	SlotOpen       Slot = "OPEN"
	SlotAfterClose Slot = "AFTER_CLOSE"
	SlotNight      Slot = "NIGHT"
)

// Fixed escalation deltas for alerts raised during opening hours, measured from TriggeredAt.
const (
	Layer2After = 15 * time.Minute
	Layer3After = 30 * time.Minute
)

// SlotAt resolves the slot of at in the customer's timezone:
// OPEN = [opening, closing), AFTER_CLOSE = [closing, nightStart), NIGHT = [nightStart, opening).
func SlotAt(cfg assets.EscalationConfig, at time.Time) (Slot, error) {
	loc, err := cfg.Location()
	if err != nil {
		return "", err
	}
	opening, err := assets.ParseClock(cfg.OpeningTime)
	if err != nil {
		return "", err
	}
	closing, err := assets.ParseClock(cfg.ClosingTime)
	if err != nil {
		return "", err
	}
	night, err := assets.ParseClock(cfg.NightStart)
	if err != nil {
		return "", err
	}
	clock := assets.ClockOf(at.In(loc))
	switch {
	case clock.Within(opening, closing):
		return SlotOpen, nil
	case clock.Within(closing, night):
		return SlotAfterClose, nil
	default:
		return SlotNight, nil
	}
}

// EntryLayer is the layer an alert starts at when triggered during slot.
func EntryLayer(slot Slot) Layer {
	switch slot {
	case SlotAfterClose:
		return Layer2
	case SlotNight:
		return Layer3
	default:
		return Layer1
	}
}

// DueLayer is the layer an alert should have reached at now. Only alerts
// raised during opening hours climb over time; others stay at their entry layer.
func DueLayer(alert Alert, now time.Time) Layer {
	entry := EntryLayer(alert.EntrySlot)
	if alert.EntrySlot != SlotOpen && alert.EntrySlot != "" {
		return entry
	}
	elapsed := now.Sub(alert.TriggeredAt)
	switch {
	case elapsed >= Layer3After:
		return Layer3
	case elapsed >= Layer2After:
		return Layer2
	default:
		return Layer1
	}
}
