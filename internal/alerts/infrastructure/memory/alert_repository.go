package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// AlertRepository is an in-memory alert store with the same conditional
// update semantics as the Postgres repository.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]alerts.Alert
}

// NewAlertRepository constructs an empty repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alerts.Alert)}
}

// Create inserts an alert, enforcing one open alert per cold cell and type.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.ColdCellID == "" || alert.Type == "" {
		return errors.New("alert repo: missing fields")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return alerts.ErrConflict
	}
	for _, existing := range r.alerts {
		if existing.ColdCellID == alert.ColdCellID && existing.Type == alert.Type && existing.Open() {
			return alerts.ErrConflict
		}
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	r.alerts[alert.ID] = cloneAlert(*alert)
	return nil
}

// Get returns nil when the alert does not exist.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	out := cloneAlert(alert)
	return &out, nil
}

// ListOpenByColdCell returns unresolved alerts of one cold cell.
func (r *AlertRepository) ListOpenByColdCell(ctx context.Context, coldCellID string) ([]alerts.Alert, error) {
	return r.collect(func(a alerts.Alert) bool { return a.Open() && a.ColdCellID == coldCellID }, 0), nil
}

// ListOpen returns every unresolved alert.
func (r *AlertRepository) ListOpen(ctx context.Context) ([]alerts.Alert, error) {
	return r.collect(func(a alerts.Alert) bool { return a.Open() }, 0), nil
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	return r.collect(func(a alerts.Alert) bool {
		switch {
		case filter.CustomerID != "" && a.CustomerID != filter.CustomerID:
			return false
		case filter.ColdCellID != "" && a.ColdCellID != filter.ColdCellID:
			return false
		case filter.Status != "" && a.Status != filter.Status:
			return false
		case filter.Type != "" && a.Type != filter.Type:
			return false
		case !filter.From.IsZero() && a.TriggeredAt.Before(filter.From):
			return false
		case !filter.To.IsZero() && !a.TriggeredAt.Before(filter.To):
			return false
		}
		return true
	}, filter.Limit), nil
}

// SetConditionCleared flips the cleared flag of an open alert.
func (r *AlertRepository) SetConditionCleared(ctx context.Context, id string, cleared bool, at time.Time) (bool, error) {
	return r.update(id, func(a *alerts.Alert) bool {
		if !a.Open() || a.ConditionCleared == cleared {
			return false
		}
		a.ConditionCleared = cleared
		a.UpdatedAt = at.UTC()
		return true
	})
}

// Acknowledge stamps the first acknowledgement of an open alert.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) (bool, error) {
	return r.update(id, func(a *alerts.Alert) bool {
		if !a.Open() || a.AcknowledgedAt != nil {
			return false
		}
		stamp := at.UTC()
		a.AcknowledgedAt = &stamp
		a.AcknowledgedBy = by
		a.UpdatedAt = stamp
		return true
	})
}

// Promote moves an open, not cleared alert from one layer to the next.
func (r *AlertRepository) Promote(ctx context.Context, id string, from, to alerts.Layer, at time.Time) (bool, error) {
	if to <= from {
		return false, nil
	}
	return r.update(id, func(a *alerts.Alert) bool {
		if !a.Open() || a.ConditionCleared || a.Layer != from {
			return false
		}
		a.Layer = to
		a.Status = alerts.StatusForLayer(to)
		a.StampLayer(to, at)
		a.UpdatedAt = at.UTC()
		return true
	})
}

// MarkNotified raises the highest fully dispatched layer.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string, layer alerts.Layer) error {
	_, err := r.update(id, func(a *alerts.Alert) bool {
		if layer <= a.NotifiedLayer {
			return false
		}
		a.NotifiedLayer = layer
		return true
	})
	return err
}

// Resolve closes an open alert.
func (r *AlertRepository) Resolve(ctx context.Context, id, reason, by string, at time.Time) (bool, error) {
	return r.update(id, func(a *alerts.Alert) bool {
		if !a.Open() {
			return false
		}
		stamp := at.UTC()
		a.Status = alerts.StatusResolved
		a.ResolvedAt = &stamp
		a.ResolutionReason = reason
		a.ResolvedBy = by
		a.UpdatedAt = stamp
		return true
	})
}

func (r *AlertRepository) update(id string, mutate func(*alerts.Alert) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return false, nil
	}
	if !mutate(&alert) {
		return false, nil
	}
	r.alerts[id] = alert
	return true, nil
}

func (r *AlertRepository) collect(match func(alerts.Alert) bool, limit int) []alerts.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.Alert
	for _, alert := range r.alerts {
		if match(alert) {
			result = append(result, cloneAlert(alert))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TriggeredAt.Equal(result[j].TriggeredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func cloneAlert(a alerts.Alert) alerts.Alert {
	a.Layer2At = cloneTime(a.Layer2At)
	a.Layer3At = cloneTime(a.Layer3At)
	a.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	a.ResolvedAt = cloneTime(a.ResolvedAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
