// Package events is the real-time push channel: a non-blocking in-memory
// fan-out bus plus bridges that forward its events to Redis and AMQP.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Push event types
const (
	TypeSendProgress    = "send_progress"
	TypeAccountUpdate   = "account_update"
	TypeLogEvent        = "log_event"
	TypeCreditUpdate    = "credit_update"
	TypeDeliveredUpdate = "delivered_update"
	TypeSeenUpdate      = "seen_update"
)

// Event is one push notification. Data must be JSON-serializable.
type Event struct {
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// Publisher accepts events without ever blocking the caller
type Publisher interface {
	Publish(e Event)
}

// Bus is an in-memory fan-out. Slow subscribers drop events.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Int64
}

// NewBus creates a bus. It owns no goroutines.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered listener. unsubscribe closes the channel
// and is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(Event) {}
