package postgres

import (
	"context"
	"database/sql"
	"errors"

	doors "coldchain-cloud/internal/doors/domain"
)

const doorStateColumns = `cold_cell_id, state, last_changed_at, last_reading_at,
	counter_date, opens, closes, open_seconds`

// DoorStateRepository is a Postgres implementation for door state.
type DoorStateRepository struct {
	db *sql.DB
}

// NewDoorStateRepository constructs a repository.
func NewDoorStateRepository(db *sql.DB) *DoorStateRepository {
	return &DoorStateRepository{db: db}
}

// Get returns nil when the cold cell has no recorded door state.
func (r *DoorStateRepository) Get(ctx context.Context, coldCellID string) (*doors.DoorState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("door state repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+doorStateColumns+`
FROM door_states
WHERE cold_cell_id = $1`, coldCellID)
	state, err := scanDoorState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save upserts state unless a newer reading was stored concurrently.
func (r *DoorStateRepository) Save(ctx context.Context, state *doors.DoorState) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("door state repo: nil db")
	}
	if state == nil {
		return false, errors.New("door state repo: nil state")
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO door_states (`+doorStateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (cold_cell_id)
DO UPDATE SET
	state = EXCLUDED.state,
	last_changed_at = EXCLUDED.last_changed_at,
	last_reading_at = EXCLUDED.last_reading_at,
	counter_date = EXCLUDED.counter_date,
	opens = EXCLUDED.opens,
	closes = EXCLUDED.closes,
	open_seconds = EXCLUDED.open_seconds
WHERE door_states.last_reading_at < EXCLUDED.last_reading_at`,
		state.ColdCellID,
		string(state.State),
		state.LastChangedAt.UTC(),
		state.LastReadingAt.UTC(),
		state.Counters.Date,
		state.Counters.Opens,
		state.Counters.Closes,
		state.Counters.OpenSeconds,
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

// ListOpen returns the open doors ordered by cold cell.
func (r *DoorStateRepository) ListOpen(ctx context.Context) ([]doors.DoorState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("door state repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+doorStateColumns+`
FROM door_states
WHERE state = 'OPEN'
ORDER BY cold_cell_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []doors.DoorState
	for rows.Next() {
		state, err := scanDoorState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

type doorStateScanner interface {
	Scan(dest ...any) error
}

func scanDoorState(row doorStateScanner) (*doors.DoorState, error) {
	var (
		state    doors.DoorState
		position string
	)
	if err := row.Scan(
		&state.ColdCellID,
		&position,
		&state.LastChangedAt,
		&state.LastReadingAt,
		&state.Counters.Date,
		&state.Counters.Opens,
		&state.Counters.Closes,
		&state.Counters.OpenSeconds,
	); err != nil {
		return nil, err
	}
	state.State = doors.State(position)
	state.LastChangedAt = state.LastChangedAt.UTC()
	state.LastReadingAt = state.LastReadingAt.UTC()
	return &state, nil
}
