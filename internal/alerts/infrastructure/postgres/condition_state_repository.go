package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// ConditionStateRepository stores conditions waiting out a tolerance window.
type ConditionStateRepository struct {
	db *sql.DB
}

// NewConditionStateRepository constructs a repository.
func NewConditionStateRepository(db *sql.DB) *ConditionStateRepository {
	return &ConditionStateRepository{db: db}
}

// PendingSince returns the zero time when nothing is pending.
func (r *ConditionStateRepository) PendingSince(ctx context.Context, coldCellID string, alertType alerts.Type) (time.Time, error) {
	if r == nil || r.db == nil {
		return time.Time{}, errors.New("condition state repo: nil db")
	}
	var since time.Time
	err := r.db.QueryRowContext(ctx, `
SELECT pending_since
FROM alert_condition_states
WHERE cold_cell_id = $1 AND type = $2`, coldCellID, string(alertType)).Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return since.UTC(), nil
}

// SetPendingSince inserts or updates a pending condition.
func (r *ConditionStateRepository) SetPendingSince(ctx context.Context, coldCellID string, alertType alerts.Type, since time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("condition state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_condition_states (cold_cell_id, type, pending_since, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cold_cell_id, type)
DO UPDATE SET
	pending_since = EXCLUDED.pending_since,
	updated_at = EXCLUDED.updated_at`, coldCellID, string(alertType), since.UTC(), time.Now().UTC())
	return err
}

// Clear deletes a pending condition.
func (r *ConditionStateRepository) Clear(ctx context.Context, coldCellID string, alertType alerts.Type) error {
	if r == nil || r.db == nil {
		return errors.New("condition state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM alert_condition_states
WHERE cold_cell_id = $1 AND type = $2`, coldCellID, string(alertType))
	return err
}
