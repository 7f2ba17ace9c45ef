// Package events provides the synchronous publish/subscribe bus for sync
// lifecycle notifications.
//
// Delivery is synchronous and in subscription order. Handlers are
// best-effort: a panicking handler is recovered and logged so the remaining
// handlers still run and engine state is never corrupted by a subscriber.
package events

import (
	"log"
	"os"
	"sync"
)

// Type names a lifecycle event.
type Type string

const (
	// DataChanged fires after a record is written locally or applied from remote.
	DataChanged Type = "dataChanged"
	// DataDeleted fires after a record is deleted locally.
	DataDeleted Type = "dataDeleted"
	// SyncComplete fires after a successful push of pending entries.
	SyncComplete Type = "syncComplete"
	// SyncError fires when a push fails in transit. Entries stay pending.
	SyncError Type = "syncError"
	// PullComplete fires after a successful pull pass.
	PullComplete Type = "pullComplete"
	// PullError fires when a pull fails in transit.
	PullError Type = "pullError"
	// Conflict fires when manual-strategy resolution defers to the caller.
	Conflict Type = "conflict"
	// Online and Offline fire on connectivity transitions.
	Online  Type = "online"
	Offline Type = "offline"
	// ImportComplete and ImportError report explicit import outcomes.
	ImportComplete Type = "importComplete"
	ImportError    Type = "importError"
	// DataCleared fires after the store is wiped.
	DataCleared Type = "dataCleared"
)

// Handler receives an event payload. Payload types per event are defined
// in payloads.go.
type Handler func(payload any)

// Subscription is the handle returned by On, used to unsubscribe.
type Subscription struct {
	id    uint64
	event Type
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a thread-safe observer registry keyed by event type.
// The zero value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[Type][]subscriber
	nextID uint64
	logger *log.Logger
}

// New creates an event bus. If logger is nil, recovered handler panics are
// logged to stderr.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		subs:   make(map[Type][]subscriber),
		logger: logger,
	}
}

// On registers a handler for an event type. Handlers run in the order they
// were subscribed.
func (b *Bus) On(event Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[event] = append(b.subs[event], subscriber{id: b.nextID, handler: handler})
	return &Subscription{id: b.nextID, event: event}
}

// Off removes a previously registered handler. Unknown subscriptions are
// ignored (idempotent).
func (b *Bus) Off(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.event]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to all subscribed handlers synchronously, in
// subscription order. A handler panic is recovered so remaining handlers
// still run.
func (b *Bus) Emit(event Type, payload any) {
	b.mu.Lock()
	list := make([]subscriber, len(b.subs[event]))
	copy(list, b.subs[event])
	b.mu.Unlock()

	for _, s := range list {
		b.dispatch(event, s, payload)
	}
}

func (b *Bus) dispatch(event Type, s subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("handler for %s panicked: %v", event, r)
		}
	}()
	s.handler(payload)
}
