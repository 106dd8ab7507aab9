package telemetry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrInvalidReading indicates a structurally malformed reading.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// Physical limits outside of which a temperature is treated as a sensor fault.
const (
	MinPlausibleTemp = -100.0
	MaxPlausibleTemp = 100.0
)

// MaxFutureSkew bounds how far ahead of the server clock a reading may be stamped.
const MaxFutureSkew = 5 * time.Minute

// SensorReading is one telemetry sample from a logger. Sensor fields are
// pointers so missing values are distinguishable from zero.
type SensorReading struct {
	DeviceSerial string    `json:"device_serial"`
	ColdCellID   string    `json:"cold_cell_id"`
	Temperature  *float64  `json:"temperature,omitempty"`
	Humidity     *float64  `json:"humidity,omitempty"`
	DoorOpen     *bool     `json:"door_open,omitempty"`
	PowerOn      *bool     `json:"power_on,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Validate rejects readings that cannot be attributed or ordered.
func (r SensorReading) Validate(now time.Time) error {
	if r.DeviceSerial == "" {
		return errors.Join(ErrInvalidReading, errors.New("missing device serial"))
	}
	if r.RecordedAt.IsZero() {
		return errors.Join(ErrInvalidReading, errors.New("missing recorded timestamp"))
	}
	if !now.IsZero() && r.RecordedAt.After(now.Add(MaxFutureSkew)) {
		return errors.Join(ErrInvalidReading, errors.New("recorded timestamp is in the future"))
	}
	return nil
}

// Fault describes why sensor fields are unusable. Empty means the reading is healthy.
func (r SensorReading) Fault() string {
	switch {
	case r.Temperature == nil:
		return "missing temperature"
	case math.IsNaN(*r.Temperature) || math.IsInf(*r.Temperature, 0):
		return "temperature not a number"
	case *r.Temperature < MinPlausibleTemp || *r.Temperature > MaxPlausibleTemp:
		return "temperature out of physical range"
	case r.DoorOpen == nil:
		return "missing door state"
	case r.PowerOn == nil:
		return "missing power state"
	}
	return ""
}

// TemperatureValid reports whether the temperature can be compared against thresholds.
func (r SensorReading) TemperatureValid() bool {
	if r.Temperature == nil {
		return false
	}
	v := *r.Temperature
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= MinPlausibleTemp && v <= MaxPlausibleTemp
}

// ReadingRepository persists readings append-only.
type ReadingRepository interface {
	// Append returns false when a reading for the same device and timestamp already exists.
	Append(ctx context.Context, reading SensorReading) (bool, error)
	ListByColdCell(ctx context.Context, coldCellID string, from, to time.Time) ([]SensorReading, error)
}
