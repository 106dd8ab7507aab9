package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	doors "coldchain-cloud/internal/doors/domain"
)

// DoorStateRepository stores door states in memory.
type DoorStateRepository struct {
	mu     sync.RWMutex
	states map[string]doors.DoorState
}

// NewDoorStateRepository constructs an empty repository.
func NewDoorStateRepository() *DoorStateRepository {
	return &DoorStateRepository{states: make(map[string]doors.DoorState)}
}

// Get returns nil when the cold cell has no recorded door state.
func (r *DoorStateRepository) Get(ctx context.Context, coldCellID string) (*doors.DoorState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[coldCellID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Save stores state when it is newer than the stored one.
func (r *DoorStateRepository) Save(ctx context.Context, state *doors.DoorState) (bool, error) {
	if state == nil {
		return false, errors.New("door state repo: nil state")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.states[state.ColdCellID]; ok && !state.LastReadingAt.After(current.LastReadingAt) {
		return false, nil
	}
	r.states[state.ColdCellID] = *state
	return true, nil
}

// ListOpen returns the open doors ordered by cold cell.
func (r *DoorStateRepository) ListOpen(ctx context.Context) ([]doors.DoorState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []doors.DoorState
	for _, state := range r.states {
		if state.IsOpen() {
			open = append(open, state)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ColdCellID < open[j].ColdCellID })
	return open, nil
}
