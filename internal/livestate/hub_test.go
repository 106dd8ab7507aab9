package livestate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubConflatesUnreadMessages(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("cell-1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		hub.Publish(Message{Type: TypeDoor, ColdCellID: "cell-1", Event: string(rune('a' + i))})
	}
	select {
	case msg := <-sub.C():
		assert.Equal(t, "e", msg.Event)
	default:
		t.Fatal("expected a pending message")
	}
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected extra message %+v", msg)
	default:
	}
}

func TestHubPublishNeverBlocksOnStalledSubscriber(t *testing.T) {
	hub := NewHub()
	stalled := hub.Subscribe("cell-1")
	defer stalled.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(Message{ColdCellID: "cell-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestHubRoutesByColdCell(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("cell-1")
	other := hub.Subscribe("cell-2")
	defer other.Close()

	hub.Broadcast(context.Background(), Message{ColdCellID: "cell-2"})
	assert.Len(t, first.C(), 0)
	assert.Len(t, other.C(), 1)

	require.Equal(t, 1, hub.Subscribers("cell-1"))
	first.Close()
	first.Close()
	assert.Equal(t, 0, hub.Subscribers("cell-1"))
	hub.Publish(Message{ColdCellID: "cell-1"})
	assert.Len(t, first.C(), 0)
}

func TestHubDropsMessagesOlderThanLastOffered(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("cell-1")
	defer sub.Close()

	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	hub.Publish(Message{ColdCellID: "cell-1", Event: "newer", GeneratedAt: base.Add(time.Second)})
	hub.Publish(Message{ColdCellID: "cell-1", Event: "older", GeneratedAt: base})

	msg := <-sub.C()
	assert.Equal(t, "newer", msg.Event)
	assert.Len(t, sub.C(), 0)

	// Also after the newer one was read.
	hub.Publish(Message{ColdCellID: "cell-1", Event: "older", GeneratedAt: base})
	assert.Len(t, sub.C(), 0)
	hub.Publish(Message{ColdCellID: "cell-1", Event: "same", GeneratedAt: base.Add(time.Second)})
	assert.Len(t, sub.C(), 1)
}
