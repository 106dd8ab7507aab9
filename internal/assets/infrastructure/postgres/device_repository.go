package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	assets "coldchain-cloud/internal/assets/domain"
)

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db, table: defaultDevicesTable}
}

// Get loads a device by serial.
func (r *DeviceRepository) Get(ctx context.Context, serial string) (*assets.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT serial, cold_cell_id, status, last_seen_at, heartbeat_interval_seconds
FROM %s
WHERE serial = $1
LIMIT 1`, r.table)
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, serial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Touch advances last-seen and marks the device online. Readings older than
// the stored last-seen leave the row untouched.
func (r *DeviceRepository) Touch(ctx context.Context, serial string, seenAt time.Time) (assets.TouchResult, error) {
	if r == nil || r.db == nil {
		return assets.TouchResult{}, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
WITH prev AS (
	SELECT serial, status FROM %[1]s WHERE serial = $2 FOR UPDATE
)
UPDATE %[1]s AS d
SET last_seen_at = $1, status = 'ONLINE'
FROM prev
WHERE d.serial = prev.serial
	AND (d.last_seen_at IS NULL OR d.last_seen_at < $1)
RETURNING prev.status`, r.table)
	var previous string
	err := r.db.QueryRowContext(ctx, query, seenAt.UTC(), serial).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.Get(ctx, serial)
		if getErr != nil {
			return assets.TouchResult{}, getErr
		}
		if existing == nil {
			return assets.TouchResult{}, assets.ErrNotFound
		}
		return assets.TouchResult{}, nil
	}
	if err != nil {
		return assets.TouchResult{}, err
	}
	return assets.TouchResult{Applied: true, WasOffline: previous == string(assets.DeviceOffline)}, nil
}

// ListOnline returns online devices ordered by serial.
func (r *DeviceRepository) ListOnline(ctx context.Context) ([]assets.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT serial, cold_cell_id, status, last_seen_at, heartbeat_interval_seconds
FROM %s
WHERE status = 'ONLINE'
ORDER BY serial`, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []assets.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

// MarkOffline flips a device offline if nothing was heard since lastSeenAt.
func (r *DeviceRepository) MarkOffline(ctx context.Context, serial string, lastSeenAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'OFFLINE'
WHERE serial = $1 AND status = 'ONLINE' AND last_seen_at = $2`, r.table)
	result, err := r.db.ExecContext(ctx, query, serial, lastSeenAt.UTC())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

type deviceScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceScanner) (*assets.Device, error) {
	var (
		device   assets.Device
		status   string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&device.Serial, &device.ColdCellID, &status, &lastSeen, &device.HeartbeatIntervalSeconds); err != nil {
		return nil, err
	}
	device.Status = assets.DeviceStatus(status)
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	return &device, nil
}
