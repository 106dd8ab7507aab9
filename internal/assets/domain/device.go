package assets

import (
	"context"
	"time"
)

// DeviceStatus is the connectivity state of a logger.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "ONLINE"
	DeviceOffline DeviceStatus = "OFFLINE"
)

// DefaultHeartbeatInterval applies when a device has no explicit interval.
const DefaultHeartbeatInterval = 5 * time.Minute

// Device is a refrigeration logger attached to one cold cell.
type Device struct {
	Serial                   string       `json:"serial"`
	ColdCellID               string       `json:"cold_cell_id"`
	Status                   DeviceStatus `json:"status"`
	LastSeenAt               time.Time    `json:"last_seen_at,omitempty"`
	HeartbeatIntervalSeconds int          `json:"heartbeat_interval_seconds"`
}

// HeartbeatInterval returns the expected reporting interval.
func (d Device) HeartbeatInterval() time.Duration {
	if d.HeartbeatIntervalSeconds <= 0 {
		return DefaultHeartbeatInterval
	}
	return time.Duration(d.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatLapsed reports whether an online device missed its heartbeat at now.
func (d Device) HeartbeatLapsed(now time.Time) bool {
	if d.Status != DeviceOnline || d.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(d.LastSeenAt) > d.HeartbeatInterval()
}

// TouchResult describes a last-seen update.
type TouchResult struct {
	Applied    bool
	WasOffline bool
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Get(ctx context.Context, serial string) (*Device, error)
	// Touch marks the device online and advances last-seen only when seenAt is newer.
	Touch(ctx context.Context, serial string, seenAt time.Time) (TouchResult, error)
	ListOnline(ctx context.Context) ([]Device, error)
	// MarkOffline flips an online device offline if its last-seen is still lastSeenAt.
	MarkOffline(ctx context.Context, serial string, lastSeenAt time.Time) (bool, error)
}
