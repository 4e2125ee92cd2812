// Package event provides a pub/sub bus for store change notifications
// using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies the kind of change an event describes.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionUpdated Type = "session.updated"
	SessionDeleted Type = "session.deleted"
	CurrentChanged Type = "session.current"
	StoreReplaced  Type = "store.replaced"
)

// Event is a single change notification. Exactly one event is published
// per logical store mutation.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber receives events synchronously in publish order.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub. It keeps direct subscriber tracking so type
// information survives delivery, while also mirroring events onto a
// watermill gochannel topic for async consumers.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// Topic is the watermill topic all events are mirrored onto.
const Topic = "ccbridge.events"

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[t] = append(b.subscribers[t], subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribe(t, id) }
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribe("", id) }
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t == "" {
		for i, e := range b.global {
			if e.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				return
			}
		}
		return
	}
	entries := b.subscribers[t]
	for i, e := range entries {
		if e.id == id {
			b.subscribers[t] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// PublishSync delivers the event to all matching subscribers before
// returning, then mirrors it onto the watermill topic.
func (b *Bus) PublishSync(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(b.subscribers[ev.Type])+len(b.global))
	for _, e := range b.subscribers[ev.Type] {
		targets = append(targets, e.fn)
	}
	for _, e := range b.global {
		targets = append(targets, e.fn)
	}
	ps := b.pubsub
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}

	if payload, err := json.Marshal(ev); err == nil {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		_ = ps.Publish(Topic, msg)
	}
}

// Messages exposes the raw watermill subscription for async consumers.
func (b *Bus) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the bus down; further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	return b.pubsub.Close()
}
