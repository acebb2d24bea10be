// Package bus implements the tenant-scoped event broker that carries
// runtime and integration events from the worker to the control service's
// stream gateway, with bounded in-memory replay backed by storage's event
// log.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexusd/nexusd/pkg/storage"
)

// defaultReplay is how many of a tenant's most recent events a new
// subscription is seeded with before live events start flowing.
const defaultReplay = 80

// defaultSubscriberBuffer is the per-subscriber channel size; a subscriber
// that falls this far behind is disconnected rather than silently dropped.
// Must stay >= defaultReplay: Subscribe seeds the channel with the replay
// batch synchronously, before any consumer is draining it, so a buffer
// smaller than the replay count deadlocks on the first connect for any
// tenant with that much history.
const defaultSubscriberBuffer = 256

// Event is the wire envelope published on the bus and persisted to storage.
type Event struct {
	EventID   uint64          `json:"event_id"`
	TenantID  string          `json:"tenant_id"`
	Type      EventType       `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses the event's payload into its concrete Payload type.
func (e *Event) Decode() (Payload, error) {
	return DecodePayload(e.Type, e.Payload)
}

func fromRecord(rec *storage.EventRecord) *Event {
	return &Event{
		EventID:   rec.EventID,
		TenantID:  rec.TenantID,
		Type:      EventType(rec.Type),
		CreatedAt: rec.CreatedAt,
		Payload:   rec.Payload,
	}
}

// EventStore is the slice of storage.Store the bus needs: durable append
// and bounded replay. Kept narrow so tests can fake it without a real
// bbolt file.
type EventStore interface {
	AppendEvent(tenantID, eventType string, payload json.RawMessage, createdAt time.Time) (*storage.EventRecord, error)
	ListRecentEvents(tenantID string, limit int) ([]*storage.EventRecord, error)
}

// DisconnectReason explains why a subscription was force-closed.
type DisconnectReason string

const (
	// DisconnectLagging means the subscriber's buffer filled faster than
	// it was drained; it must reconnect and re-fetch recent history.
	DisconnectLagging DisconnectReason = "lagging"
	// DisconnectShutdown means the broker itself is stopping.
	DisconnectShutdown DisconnectReason = "shutdown"
)

// Subscription is a live, tenant-scoped feed of events.
type Subscription struct {
	tenantID string
	events   chan *Event
	closed   chan DisconnectReason
}

// Events returns the channel new events arrive on.
func (s *Subscription) Events() <-chan *Event { return s.events }

// Closed fires exactly once, with a reason, when the broker force-closes
// this subscription. It is never sent on a client-initiated Unsubscribe.
func (s *Subscription) Closed() <-chan DisconnectReason { return s.closed }

// Broker fans published events out to tenant-scoped subscribers and
// persists every event to the backing EventStore for replay.
type Broker struct {
	store EventStore

	mu   sync.RWMutex
	subs map[string]map[*Subscription]bool
}

// NewBroker builds a Broker backed by store.
func NewBroker(store EventStore) *Broker {
	return &Broker{
		store: store,
		subs:  make(map[string]map[*Subscription]bool),
	}
}

// Publish persists payload under tenantID and fans it out to that tenant's
// live subscribers.
func (b *Broker) Publish(tenantID string, payload Payload) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	rec, err := b.store.AppendEvent(tenantID, string(payload.payloadType()), raw, time.Now())
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	ev := fromRecord(rec)

	b.mu.RLock()
	subs := b.subs[tenantID]
	targets := make([]*Subscription, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- ev:
		default:
			b.disconnect(sub, DisconnectLagging)
		}
	}
	return ev, nil
}

// Subscribe opens a new subscription for tenantID, seeded with up to
// defaultReplay of its most recent persisted events.
func (b *Broker) Subscribe(tenantID string) (*Subscription, error) {
	sub := &Subscription{
		tenantID: tenantID,
		events:   make(chan *Event, defaultSubscriberBuffer),
		closed:   make(chan DisconnectReason, 1),
	}

	recent, err := b.store.ListRecentEvents(tenantID, defaultReplay)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}

	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[*Subscription]bool)
	}
	b.subs[tenantID][sub] = true
	b.mu.Unlock()

	for _, rec := range recent {
		sub.events <- fromRecord(rec)
	}
	return sub, nil
}

// Unsubscribe removes sub from the broker without sending a disconnect
// reason; use this for a client-initiated close (e.g. socket closed).
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.subs[sub.tenantID][sub] {
		// Already force-closed by disconnect or Shutdown.
		return
	}
	b.removeLocked(sub)
	close(sub.closed)
	close(sub.events)
}

func (b *Broker) disconnect(sub *Subscription, reason DisconnectReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
	sub.closed <- reason
	close(sub.closed)
	close(sub.events)
}

func (b *Broker) removeLocked(sub *Subscription) {
	if set, ok := b.subs[sub.tenantID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.tenantID)
		}
	}
}

// SubscriberCount returns the number of active subscriptions for tenantID.
func (b *Broker) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenantID])
}

// Shutdown force-closes every live subscription with DisconnectShutdown.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	all := make([]*Subscription, 0)
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*Subscription]bool)
	b.mu.Unlock()

	for _, sub := range all {
		sub.closed <- DisconnectShutdown
		close(sub.closed)
		close(sub.events)
	}
}
