package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Payload is the wire form of a reading sent by loggers over HTTP or MQTT.
// Either recorded_at (RFC3339) or ts (unix seconds or milliseconds) stamps it.
type Payload struct {
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	DoorOpen    *bool      `json:"door_open"`
	PowerOn     *bool      `json:"power_on"`
	RecordedAt  *time.Time `json:"recorded_at"`
	TS          int64      `json:"ts"`
}

// DecodePayload parses body into a reading for the device serial.
func DecodePayload(serial string, body []byte) (SensorReading, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return SensorReading{}, errors.Join(ErrInvalidReading, fmt.Errorf("invalid json: %w", err))
	}
	reading := SensorReading{
		DeviceSerial: serial,
		Temperature:  payload.Temperature,
		Humidity:     payload.Humidity,
		DoorOpen:     payload.DoorOpen,
		PowerOn:      payload.PowerOn,
	}
	switch {
	case payload.RecordedAt != nil:
		reading.RecordedAt = payload.RecordedAt.UTC()
	case payload.TS != 0:
		at, err := parseTimestamp(payload.TS)
		if err != nil {
			return SensorReading{}, err
		}
		reading.RecordedAt = at
	}
	return reading, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.Join(ErrInvalidReading, errors.New("invalid ts"))
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
