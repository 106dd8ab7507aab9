package assets

import (
	"context"
	"fmt"
	"time"
)

// Default operating hours used for customers without a stored configuration.
const (
	DefaultOpeningTime = "07:00"
	DefaultClosingTime = "17:00"
	DefaultNightStart  = "23:00"
	DefaultTimezone    = "UTC"
)

// Contact is a notification recipient.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// EscalationConfig holds per-customer operating windows and contacts.
type EscalationConfig struct {
	CustomerID     string    `json:"customer_id"`
	OpeningTime    string    `json:"opening_time"`
	ClosingTime    string    `json:"closing_time"`
	NightStart     string    `json:"night_start"`
	Timezone       string    `json:"timezone"`
	PrimaryContact Contact   `json:"primary_contact"`
	BackupContacts []Contact `json:"backup_contacts"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultEscalationConfig returns the fallback configuration for a customer.
func DefaultEscalationConfig(customerID string) EscalationConfig {
	return EscalationConfig{
		CustomerID:  customerID,
		OpeningTime: DefaultOpeningTime,
		ClosingTime: DefaultClosingTime,
		NightStart:  DefaultNightStart,
		Timezone:    DefaultTimezone,
	}
}

// Location loads the configured timezone.
func (c EscalationConfig) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, name, err)
	}
	return loc, nil
}

// Validate checks that the three boundaries parse, differ and are cyclically ordered.
func (c EscalationConfig) Validate() error {
	if c.CustomerID == "" {
		return fmt.Errorf("%w: escalation config: empty customer id", ErrInvalid)
	}
	opening, err := ParseClock(c.OpeningTime)
	if err != nil {
		return err
	}
	closing, err := ParseClock(c.ClosingTime)
	if err != nil {
		return err
	}
	night, err := ParseClock(c.NightStart)
	if err != nil {
		return err
	}
	if opening == closing || closing == night || night == opening {
		return fmt.Errorf("%w: opening, closing and night start must differ", ErrInvalid)
	}
	// Walking forward from opening must reach closing before night start.
	if forward(opening, closing) >= forward(opening, night) {
		return fmt.Errorf("%w: closing time must fall between opening and night start", ErrInvalid)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for i, contact := range c.BackupContacts {
		if contact.Phone == "" && contact.Email == "" {
			return fmt.Errorf("%w: backup contact %d has no phone or email", ErrInvalid, i+1)
		}
	}
	return nil
}

// Clock is a local time of day in minutes after midnight.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(value string) (Clock, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalid, value)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf returns the time of day of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// Within reports membership in the half-open window [from, to), wrapping past midnight.
func (c Clock) Within(from, to Clock) bool {
	if from <= to {
		return c >= from && c < to
	}
	return c >= from || c < to
}

func forward(from, to Clock) int {
	d := int(to - from)
	if d < 0 {
		d += 24 * 60
	}
	return d
}

// EscalationConfigRepository manages per-customer escalation configuration.
type EscalationConfigRepository interface {
	// Get returns nil when the customer has no stored configuration.
	Get(ctx context.Context, customerID string) (*EscalationConfig, error)
	Save(ctx context.Context, cfg *EscalationConfig) error
}
