package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	alerts "coldchain-cloud/internal/alerts/domain"
)

const uniqueViolation = "23505"

const alertColumns = `id, customer_id, cold_cell_id, type, status, layer, entry_slot, condition_cleared,
	observed_value, threshold, triggered_at, layer2_at, layer3_at, acknowledged_at, acknowledged_by,
	resolved_at, resolution_reason, resolved_by, notified_layer, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert. The partial unique index on open alerts turns a
// concurrent duplicate into ErrConflict.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.CustomerID == "" || alert.ColdCellID == "" || alert.Type == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (`+alertColumns+`
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21
)`,
		alert.ID,
		alert.CustomerID,
		alert.ColdCellID,
		string(alert.Type),
		string(alert.Status),
		int(alert.Layer),
		string(alert.EntrySlot),
		alert.ConditionCleared,
		alert.ObservedValue,
		alert.Threshold,
		alert.TriggeredAt.UTC(),
		nullableTime(alert.Layer2At),
		nullableTime(alert.Layer3At),
		nullableTime(alert.AcknowledgedAt),
		alert.AcknowledgedBy,
		nullableTime(alert.ResolvedAt),
		alert.ResolutionReason,
		alert.ResolvedBy,
		int(alert.NotifiedLayer),
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert repo: open %s alert exists for %s: %w", alert.Type, alert.ColdCellID, alerts.ErrConflict)
	}
	return err
}

// Get fetches an alert by id.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// ListOpenByColdCell lists unresolved alerts of one cold cell.
func (r *AlertRepository) ListOpenByColdCell(ctx context.Context, coldCellID string) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	return r.query(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE cold_cell_id = $1 AND status <> 'RESOLVED'
ORDER BY triggered_at DESC`, coldCellID)
}

// ListOpen lists every unresolved alert.
func (r *AlertRepository) ListOpen(ctx context.Context) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	return r.query(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE status <> 'RESOLVED'
ORDER BY triggered_at ASC`)
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.ColdCellID != "" {
		add("cold_cell_id = $%d", filter.ColdCellID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("triggered_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("triggered_at < $%d", filter.To.UTC())
	}
	query := "SELECT " + alertColumns + "\nFROM alerts"
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	return r.query(ctx, query, args...)
}

// SetConditionCleared flips the cleared flag of an open alert.
func (r *AlertRepository) SetConditionCleared(ctx context.Context, id string, cleared bool, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	return r.exec(ctx, `
UPDATE alerts
SET condition_cleared = $1, updated_at = $2
WHERE id = $3 AND status <> 'RESOLVED' AND condition_cleared <> $1`, cleared, at.UTC(), id)
}

// Acknowledge stamps the first acknowledgement of an open alert.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	return r.exec(ctx, `
UPDATE alerts
SET acknowledged_at = $1, acknowledged_by = $2, updated_at = $1
WHERE id = $3 AND status <> 'RESOLVED' AND acknowledged_at IS NULL`, at.UTC(), by, id)
}

// Promote moves an open, not cleared alert from layer from to layer to. The
// layer predicate makes concurrent promotions of the same step apply once.
func (r *AlertRepository) Promote(ctx context.Context, id string, from, to alerts.Layer, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if to <= from {
		return false, nil
	}
	stamp := at.UTC()
	var layer2At, layer3At sql.NullTime
	switch to {
	case alerts.Layer2:
		layer2At = sql.NullTime{Time: stamp, Valid: true}
	case alerts.Layer3:
		layer3At = sql.NullTime{Time: stamp, Valid: true}
	}
	return r.exec(ctx, `
UPDATE alerts
SET layer = $1, status = $2,
	layer2_at = COALESCE(layer2_at, $3),
	layer3_at = COALESCE(layer3_at, $4),
	updated_at = $5
WHERE id = $6 AND layer = $7 AND status <> 'RESOLVED' AND NOT condition_cleared`,
		int(to), string(alerts.StatusForLayer(to)), layer2At, layer3At, stamp, id, int(from))
}

// MarkNotified raises the highest fully dispatched layer.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string, layer alerts.Layer) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET notified_layer = $1
WHERE id = $2 AND notified_layer < $1`, int(layer), id)
	return err
}

// Resolve closes an open alert.
func (r *AlertRepository) Resolve(ctx context.Context, id, reason, by string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	return r.exec(ctx, `
UPDATE alerts
SET status = 'RESOLVED', resolved_at = $1, resolution_reason = $2, resolved_by = $3, updated_at = $1
WHERE id = $4 AND status <> 'RESOLVED'`, at.UTC(), reason, by, id)
}

// CountOpen returns the number of unresolved alerts, used by the DB metrics collector.
func (r *AlertRepository) CountOpen(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM alerts WHERE status <> 'RESOLVED'`).Scan(&count)
	return count, err
}

func (r *AlertRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *AlertRepository) query(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var (
		alert                              alerts.Alert
		alertType, status, slot            string
		layer, notifiedLayer               int
		layer2At, layer3At, ackAt, resolve sql.NullTime
	)
	if err := row.Scan(
		&alert.ID,
		&alert.CustomerID,
		&alert.ColdCellID,
		&alertType,
		&status,
		&layer,
		&slot,
		&alert.ConditionCleared,
		&alert.ObservedValue,
		&alert.Threshold,
		&alert.TriggeredAt,
		&layer2At,
		&layer3At,
		&ackAt,
		&alert.AcknowledgedBy,
		&resolve,
		&alert.ResolutionReason,
		&alert.ResolvedBy,
		&notifiedLayer,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Type = alerts.Type(alertType)
	alert.Status = alerts.Status(status)
	alert.Layer = alerts.Layer(layer)
	alert.EntrySlot = alerts.Slot(slot)
	alert.NotifiedLayer = alerts.Layer(notifiedLayer)
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	alert.Layer2At = timePtr(layer2At)
	alert.Layer3At = timePtr(layer3At)
	alert.AcknowledgedAt = timePtr(ackAt)
	alert.ResolvedAt = timePtr(resolve)
	return &alert, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
