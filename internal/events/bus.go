// Package events provides the in-process pub/sub bus for status and sync
// events. Delivery is best-effort: a slow subscriber never blocks the emitter
// for longer than the per-subscriber timeout; past that the event is dropped
// for that subscriber and logged.
package events

import (
	"sync"
	"time"

	"doc-ingest-platform/internal/logger"
)

// Event types
const (
	DocumentCreated       = "document.created"
	DocumentStatusChanged = "document.status_changed"
	SyncStart             = "sync.start"
	SyncProgress          = "sync.progress"
	SyncComplete          = "sync.complete"
	SyncError             = "sync.error"
)

// Event is what subscribers receive.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// DefaultSubscriberTimeout bounds how long Emit waits on a single subscriber.
const DefaultSubscriberTimeout = 100 * time.Millisecond

type subscriber struct {
	id string
	ch chan Event
}

// Bus is an in-process event bus. Events are delivered in emission order per
// subscriber; ordering across subscribers is independent. Nothing is persisted.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	timeout     time.Duration
}

// NewBus creates a bus with the default per-subscriber timeout.
func NewBus() *Bus {
	return &Bus{timeout: DefaultSubscriberTimeout}
}

// NewBusWithTimeout creates a bus with a custom per-subscriber timeout.
func NewBusWithTimeout(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultSubscriberTimeout
	}
	return &Bus{timeout: timeout}
}

// Subscribe registers a subscriber and returns its delivery channel.
// The buffer absorbs short bursts; a full buffer counts against the
// per-subscriber timeout on emit.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	b.subscribers = append(b.subscribers, subscriber{id: id, ch: ch})
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.id == id {
			close(sub.ch)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Emit broadcasts an event to all subscribers, in subscription order.
func (b *Bus) Emit(eventType string, payload interface{}) {
	evt := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		case <-time.After(b.timeout):
			logger.Warn("event dropped for slow subscriber",
				"subscriber", sub.id, "event_type", eventType)
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
