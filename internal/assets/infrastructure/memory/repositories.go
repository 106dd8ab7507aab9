package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	assets "coldchain-cloud/internal/assets/domain"
)

// ColdCellRepository stores cold cells in memory.
type ColdCellRepository struct {
	mu    sync.RWMutex
	cells map[string]assets.ColdCell
}

// NewColdCellRepository constructs a repository seeded with cells.
func NewColdCellRepository(cells ...assets.ColdCell) *ColdCellRepository {
	repo := &ColdCellRepository{cells: make(map[string]assets.ColdCell)}
	for _, cell := range cells {
		repo.cells[cell.ID] = cell
	}
	return repo
}

// Put inserts or replaces a cold cell.
func (r *ColdCellRepository) Put(cell assets.ColdCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cells[cell.ID] = cell
}

// Get returns nil when the cold cell does not exist.
func (r *ColdCellRepository) Get(ctx context.Context, id string) (*assets.ColdCell, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cell, ok := r.cells[id]
	if !ok {
		return nil, nil
	}
	return &cell, nil
}

// UpdateSettings replaces the alerting settings of a cold cell.
func (r *ColdCellRepository) UpdateSettings(ctx context.Context, id string, settings assets.ColdCellSettings, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cell, ok := r.cells[id]
	if !ok {
		return assets.ErrNotFound
	}
	cell.MinTemp = settings.MinTemp
	cell.MaxTemp = settings.MaxTemp
	cell.DoorAlarmDelaySeconds = settings.DoorAlarmDelaySeconds
	cell.RequireResolutionReason = settings.RequireResolutionReason
	cell.UpdatedAt = updatedAt.UTC()
	r.cells[id] = cell
	return nil
}

// DeviceRepository stores devices in memory.
type DeviceRepository struct {
	mu      sync.Mutex
	devices map[string]assets.Device
}

// NewDeviceRepository constructs a repository seeded with devices.
func NewDeviceRepository(devices ...assets.Device) *DeviceRepository {
	repo := &DeviceRepository{devices: make(map[string]assets.Device)}
	for _, device := range devices {
		repo.devices[device.Serial] = device
	}
	return repo
}

// Get returns nil when the device does not exist.
func (r *DeviceRepository) Get(ctx context.Context, serial string) (*assets.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[serial]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

// Touch marks the device online when seenAt is newer than its last-seen time.
func (r *DeviceRepository) Touch(ctx context.Context, serial string, seenAt time.Time) (assets.TouchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[serial]
	if !ok {
		return assets.TouchResult{}, assets.ErrNotFound
	}
	if !device.LastSeenAt.IsZero() && !seenAt.After(device.LastSeenAt) {
		return assets.TouchResult{}, nil
	}
	result := assets.TouchResult{Applied: true, WasOffline: device.Status == assets.DeviceOffline}
	device.LastSeenAt = seenAt.UTC()
	device.Status = assets.DeviceOnline
	r.devices[serial] = device
	return result, nil
}

// ListOnline returns online devices ordered by serial.
func (r *DeviceRepository) ListOnline(ctx context.Context) ([]assets.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []assets.Device
	for _, device := range r.devices {
		if device.Status == assets.DeviceOnline {
			result = append(result, device)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Serial < result[j].Serial })
	return result, nil
}

// MarkOffline flips a device offline if nothing was heard since lastSeenAt.
func (r *DeviceRepository) MarkOffline(ctx context.Context, serial string, lastSeenAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[serial]
	if !ok || device.Status != assets.DeviceOnline || !device.LastSeenAt.Equal(lastSeenAt) {
		return false, nil
	}
	device.Status = assets.DeviceOffline
	r.devices[serial] = device
	return true, nil
}

// EscalationConfigRepository stores escalation configs in memory.
type EscalationConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]assets.EscalationConfig
}

// NewEscalationConfigRepository constructs an empty repository.
func NewEscalationConfigRepository() *EscalationConfigRepository {
	return &EscalationConfigRepository{configs: make(map[string]assets.EscalationConfig)}
}

// Get returns nil when the customer has no stored configuration.
func (r *EscalationConfigRepository) Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[customerID]
	if !ok {
		return nil, nil
	}
	cfg.BackupContacts = append([]assets.Contact(nil), cfg.BackupContacts...)
	return &cfg, nil
}

// Save stores cfg.
func (r *EscalationConfigRepository) Save(ctx context.Context, cfg *assets.EscalationConfig) error {
	if cfg == nil {
		return errors.New("escalation config repo: nil config")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *cfg
	stored.BackupContacts = append([]assets.Contact(nil), cfg.BackupContacts...)
	r.configs[cfg.CustomerID] = stored
	return nil
}
