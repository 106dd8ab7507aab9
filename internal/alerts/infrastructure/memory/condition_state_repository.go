package memory

import (
	"context"
	"sync"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

type conditionKey struct {
	coldCellID string
	alertType  alerts.Type
}

// ConditionStateRepository keeps pending conditions in memory.
type ConditionStateRepository struct {
	mu      sync.Mutex
	pending map[conditionKey]time.Time
}

// NewConditionStateRepository constructs an empty repository.
func NewConditionStateRepository() *ConditionStateRepository {
	return &ConditionStateRepository{pending: make(map[conditionKey]time.Time)}
}

// PendingSince returns the zero time when nothing is pending.
func (r *ConditionStateRepository) PendingSince(ctx context.Context, coldCellID string, alertType alerts.Type) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[conditionKey{coldCellID, alertType}], nil
}

// SetPendingSince stores the start of a pending condition.
func (r *ConditionStateRepository) SetPendingSince(ctx context.Context, coldCellID string, alertType alerts.Type, since time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[conditionKey{coldCellID, alertType}] = since.UTC()
	return nil
}

// Clear forgets a pending condition.
func (r *ConditionStateRepository) Clear(ctx context.Context, coldCellID string, alertType alerts.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, conditionKey{coldCellID, alertType})
	return nil
}
