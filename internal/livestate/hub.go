package livestate

import (
	"context"
	"sync"
	"time"

	"coldchain-cloud/internal/observability/metrics"
)

// Broadcaster delivers a message to every subscriber of its cold cell.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message)
}

// Hub fans messages out to in-process subscribers. Each subscriber holds at
// most one pending message; a newer message replaces an unread older one, so
// Publish never blocks. Messages generated before the last one offered to a
// subscriber are dropped.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub constructs a hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription receives the latest messages of one cold cell.
type Subscription struct {
	hub        *Hub
	coldCellID string
	mailbox    chan Message
	sendMu     sync.Mutex
	latest     time.Time
	closeOnce  sync.Once
}

// Subscribe registers a subscriber for coldCellID.
func (h *Hub) Subscribe(coldCellID string) *Subscription {
	sub := &Subscription{hub: h, coldCellID: coldCellID, mailbox: make(chan Message, 1)}
	h.mu.Lock()
	set, ok := h.subs[coldCellID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[coldCellID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.AddLiveSubscribers(1)
	return sub
}

// Subscribers returns the number of subscribers of coldCellID.
func (h *Hub) Subscribers(coldCellID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[coldCellID])
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	h.Publish(msg)
}

// Publish delivers msg to the subscribers of its cold cell.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[msg.ColdCellID]))
	for sub := range h.subs[msg.ColdCellID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		sub.offer(msg)
	}
}

func (s *Subscription) offer(msg Message) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if msg.GeneratedAt.Before(s.latest) {
		metrics.IncLivePublish("stale")
		return
	}
	s.latest = msg.GeneratedAt
	select {
	case s.mailbox <- msg:
		metrics.IncLivePublish("delivered")
		return
	default:
	}
	// Replace the unread message.
	select {
	case <-s.mailbox:
	default:
	}
	select {
	case s.mailbox <- msg:
		metrics.IncLivePublish("conflated")
	default:
		metrics.IncLivePublish("dropped")
	}
}

// C returns the mailbox. It is never closed; use the request context or
// Close to stop reading.
func (s *Subscription) C() <-chan Message {
	return s.mailbox
}

// ColdCellID returns the subscribed cold cell.
func (s *Subscription) ColdCellID() string {
	return s.coldCellID
}

// Close removes the subscription from its hub. It is safe to call twice.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.coldCellID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.coldCellID)
			}
		}
		h.mu.Unlock()
		metrics.AddLiveSubscribers(-1)
	})
}
