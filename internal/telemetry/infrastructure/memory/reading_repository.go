package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

type readingKey struct {
	serial string
	at     int64
}

// ReadingRepository stores readings in memory.
type ReadingRepository struct {
	mu       sync.RWMutex
	seen     map[readingKey]struct{}
	readings []telemetry.SensorReading
}

// NewReadingRepository constructs an empty repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{seen: make(map[readingKey]struct{})}
}

// Append stores reading unless the device already reported this timestamp.
func (r *ReadingRepository) Append(ctx context.Context, reading telemetry.SensorReading) (bool, error) {
	key := readingKey{serial: reading.DeviceSerial, at: reading.RecordedAt.UnixNano()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	r.readings = append(r.readings, reading)
	return true, nil
}

// ListByColdCell returns readings in [from, to) ordered by time.
func (r *ReadingRepository) ListByColdCell(ctx context.Context, coldCellID string, from, to time.Time) ([]telemetry.SensorReading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.SensorReading
	for _, reading := range r.readings {
		if reading.ColdCellID != coldCellID {
			continue
		}
		if reading.RecordedAt.Before(from) || !reading.RecordedAt.Before(to) {
			continue
		}
		out = append(out, reading)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
