package livestate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alertapp "coldchain-cloud/internal/alerts/application"
	doors "coldchain-cloud/internal/doors/domain"
)

// Publisher turns alert lifecycle events and door changes into live messages.
// Messages of one cold cell are built and broadcast one at a time, with
// strictly increasing GeneratedAt.
type Publisher struct {
	snapshots   *SnapshotService
	broadcaster Broadcaster
	logger      *zap.Logger

	mu    sync.Mutex
	cells map[string]*cellSequence
}

type cellSequence struct {
	mu   sync.Mutex
	last time.Time
}

// NewPublisher constructs a publisher.
func NewPublisher(snapshots *SnapshotService, broadcaster Broadcaster, logger *zap.Logger) (*Publisher, error) {
	if snapshots == nil {
		return nil, errors.New("live publisher: nil snapshot service")
	}
	if broadcaster == nil {
		return nil, errors.New("live publisher: nil broadcaster")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		snapshots:   snapshots,
		broadcaster: broadcaster,
		logger:      logger,
		cells:       make(map[string]*cellSequence),
	}, nil
}

// Notify implements the alert notifier contract.
func (p *Publisher) Notify(ctx context.Context, event alertapp.AlertEvent) {
	p.publish(ctx, event.Alert.ColdCellID, TypeAlert, event.Type)
}

// DoorChanged implements the ingest door observer contract.
func (p *Publisher) DoorChanged(ctx context.Context, state doors.DoorState) {
	p.publish(ctx, state.ColdCellID, TypeDoor, "")
}

func (p *Publisher) publish(ctx context.Context, coldCellID, msgType, event string) {
	if p == nil || coldCellID == "" {
		return
	}
	seq := p.sequence(coldCellID)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	msg, err := p.snapshots.Snapshot(ctx, coldCellID)
	if err != nil {
		p.logger.Warn("live snapshot failed", zap.String("cold_cell_id", coldCellID), zap.Error(err))
		return
	}
	if !msg.GeneratedAt.After(seq.last) {
		msg.GeneratedAt = seq.last.Add(time.Nanosecond)
	}
	seq.last = msg.GeneratedAt
	msg.Type = msgType
	msg.Event = event
	p.broadcaster.Broadcast(ctx, msg)
}

func (p *Publisher) sequence(coldCellID string) *cellSequence {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq, ok := p.cells[coldCellID]
	if !ok {
		seq = &cellSequence{}
		p.cells[coldCellID] = seq
	}
	return seq
}
