package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	assets "coldchain-cloud/internal/assets/domain"
)

const defaultColdCellsTable = "cold_cells"

// ColdCellRepository is a Postgres implementation for cold cells.
type ColdCellRepository struct {
	db    DBTX
	table string
}

// ColdCellOption configures the repository.
type ColdCellOption func(*ColdCellRepository)

// WithColdCellTable overrides the default table name.
func WithColdCellTable(table string) ColdCellOption {
	return func(repo *ColdCellRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewColdCellRepository constructs a repository.
func NewColdCellRepository(db DBTX, opts ...ColdCellOption) *ColdCellRepository {
	repo := &ColdCellRepository{db: db, table: defaultColdCellsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a cold cell by id.
func (r *ColdCellRepository) Get(ctx context.Context, id string) (*assets.ColdCell, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cold cell repo: nil db")
	}
	if id == "" {
		return nil, errors.New("cold cell repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, customer_id, name, min_temp, max_temp, door_alarm_delay_seconds,
	require_resolution_reason, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var cell assets.ColdCell
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&cell.ID,
		&cell.CustomerID,
		&cell.Name,
		&cell.MinTemp,
		&cell.MaxTemp,
		&cell.DoorAlarmDelaySeconds,
		&cell.RequireResolutionReason,
		&cell.CreatedAt,
		&cell.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cell.CreatedAt = cell.CreatedAt.UTC()
	cell.UpdatedAt = cell.UpdatedAt.UTC()
	return &cell, nil
}

// UpdateSettings replaces the alerting settings of a cold cell.
func (r *ColdCellRepository) UpdateSettings(ctx context.Context, id string, settings assets.ColdCellSettings, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("cold cell repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET min_temp = $1,
	max_temp = $2,
	door_alarm_delay_seconds = $3,
	require_resolution_reason = $4,
	updated_at = $5
WHERE id = $6`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		settings.MinTemp,
		settings.MaxTemp,
		settings.DoorAlarmDelaySeconds,
		settings.RequireResolutionReason,
		updatedAt.UTC(),
		id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return assets.ErrNotFound
	}
	return nil
}
