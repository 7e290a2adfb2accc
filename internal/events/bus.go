// Package events fans out published contact snapshots to subscribers (SSE).
package events

import (
	"sync"

	"github.com/micro-nova/simcontacts/internal/models"
)

const subBufferSize = 8

// Bus is a non-blocking publish-subscribe event bus.
// A subscriber whose buffer is full loses its oldest pending snapshot, so
// the newest one is always delivered.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan models.Snapshot
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.Snapshot),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan models.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Snapshot, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends a snapshot to all subscribers without blocking.
func (b *Bus) Publish(snap models.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: evict the oldest snapshot. Only Publish sends, under b.mu,
		// so the slot freed here stays free.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
