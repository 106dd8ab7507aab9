package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const defaultReadingsTable = "sensor_readings"

// ReadingRepository is a Postgres implementation for sensor readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Append inserts a reading. A second reading for the same device and
// timestamp is ignored and reported as not inserted.
func (r *ReadingRepository) Append(ctx context.Context, reading telemetry.SensorReading) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("reading repo: nil db")
	}
	if reading.DeviceSerial == "" || reading.RecordedAt.IsZero() {
		return false, errors.New("reading repo: invalid reading")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_serial,
	cold_cell_id,
	temperature,
	humidity,
	door_open,
	power_on,
	recorded_at,
	received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (device_serial, recorded_at) DO NOTHING`, r.table)

	result, err := r.db.ExecContext(ctx, query,
		reading.DeviceSerial,
		reading.ColdCellID,
		nullFloat(reading.Temperature),
		nullFloat(reading.Humidity),
		nullBool(reading.DoorOpen),
		nullBool(reading.PowerOn),
		reading.RecordedAt.UTC(),
		reading.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListByColdCell returns readings in [from, to) ordered by time.
func (r *ReadingRepository) ListByColdCell(ctx context.Context, coldCellID string, from, to time.Time) ([]telemetry.SensorReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_serial, cold_cell_id, temperature, humidity, door_open, power_on, recorded_at, received_at
FROM %s
WHERE cold_cell_id = $1 AND recorded_at >= $2 AND recorded_at < $3
ORDER BY recorded_at`, r.table)

	rows, err := r.db.QueryContext(ctx, query, coldCellID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []telemetry.SensorReading
	for rows.Next() {
		var (
			reading     telemetry.SensorReading
			temperature sql.NullFloat64
			humidity    sql.NullFloat64
			doorOpen    sql.NullBool
			powerOn     sql.NullBool
		)
		if err := rows.Scan(
			&reading.DeviceSerial,
			&reading.ColdCellID,
			&temperature,
			&humidity,
			&doorOpen,
			&powerOn,
			&reading.RecordedAt,
			&reading.ReceivedAt,
		); err != nil {
			return nil, err
		}
		if temperature.Valid {
			reading.Temperature = &temperature.Float64
		}
		if humidity.Valid {
			reading.Humidity = &humidity.Float64
		}
		if doorOpen.Valid {
			reading.DoorOpen = &doorOpen.Bool
		}
		if powerOn.Valid {
			reading.PowerOn = &powerOn.Bool
		}
		reading.RecordedAt = reading.RecordedAt.UTC()
		reading.ReceivedAt = reading.ReceivedAt.UTC()
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
