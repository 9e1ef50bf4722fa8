// Package streambus implements spec.md §4.7's Change Stream Bus: a single
// totally ordered sequence of envelopes delivered to independent,
// best-effort subscribers.
//
// Grounded on the teacher's internal/ws/broadcast.go Broadcaster: a
// per-client bounded send channel, a monotonic atomic sequence number, and
// slow-client disconnection via a non-blocking select/default send. This
// package generalizes that pattern from a fixed WSMessage/session.Store
// pairing to a typed Envelope bus decoupled from any particular transport,
// so internal/api can sit on top of it instead of owning broadcast state
// itself.
package streambus

import (
	"sync"
	"sync/atomic"
	"time"
)

// EnvelopeType enumerates the Change Stream Bus's payload kinds
// (spec.md §4.7).
type EnvelopeType string

const (
	TypeSnapshot       EnvelopeType = "snapshot"
	TypeTraceAdded     EnvelopeType = "trace_added"
	TypeTraceUpdated   EnvelopeType = "trace_updated"
	TypeTraceRemoved   EnvelopeType = "trace_removed"
	TypeEventsAppended EnvelopeType = "events_appended"
	TypeOverviewUpdated EnvelopeType = "overview_updated"
	TypeSourceHealth   EnvelopeType = "source_health"
	TypeHeartbeat      EnvelopeType = "heartbeat"
)

// Envelope is one entry in the bus's totally ordered sequence
// (spec.md §4.7): {id, type, version, payload}.
type Envelope struct {
	ID      int64        `json:"id"`
	Type    EnvelopeType `json:"type"`
	Version int          `json:"version"`
	Payload any          `json:"payload"`
}

const subscriberQueueSize = 256

// Subscription is a single subscriber's FIFO view of the bus. Dropped
// (slow) subscribers must call SnapshotFn again and resubscribe — the bus
// does not guarantee at-least-once delivery (spec.md §4.7 Delivery).
type Subscription struct {
	C      <-chan Envelope
	send   chan Envelope
	closed atomic.Bool
}

func (s *Subscription) deliver(e Envelope) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.send)
	}
}

// SnapshotFn builds the full-state snapshot payload sent to a newly
// (re-)subscribed client.
type SnapshotFn func() any

// Bus is a single totally ordered sequence of envelopes with per-subscriber
// bounded delivery queues (spec.md §4.7).
type Bus struct {
	mu          sync.Mutex
	subs        map[*Subscription]bool
	seq         atomic.Int64
	snapshotFn  SnapshotFn
	versions    map[string]int // per-entity version counter, keyed by entity id
	heartbeat   *time.Ticker
	stop        chan struct{}
	lastPublish atomic.Int64 // unix ms of the last non-heartbeat publish
}

// New creates a Bus. snapshotFn is called once per new/resubscribing
// client; it may be nil until the caller wires it via SetSnapshotFn.
func New(snapshotFn SnapshotFn) *Bus {
	b := &Bus{
		subs:       make(map[*Subscription]bool),
		snapshotFn: snapshotFn,
		versions:   make(map[string]int),
		stop:       make(chan struct{}),
	}
	return b
}

// SetSnapshotFn registers (or replaces) the snapshot builder.
func (b *Bus) SetSnapshotFn(fn SnapshotFn) {
	b.mu.Lock()
	b.snapshotFn = fn
	b.mu.Unlock()
}

// Run emits a heartbeat envelope every 15s whenever no other envelope has
// been published in that window (spec.md §4.7: "heartbeat (every 15s when
// idle)"), until Close is called.
func (b *Bus) Run() {
	b.heartbeat = time.NewTicker(15 * time.Second)
	defer b.heartbeat.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-b.heartbeat.C:
			if time.Since(time.UnixMilli(b.lastPublish.Load())) >= 15*time.Second {
				b.publish(TypeHeartbeat, "", nil)
			}
		}
	}
}

// Close stops the heartbeat loop and disconnects every subscriber.
func (b *Bus) Close() {
	close(b.stop)
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.close()
		delete(b.subs, s)
	}
}

// Subscribe registers a new subscriber and immediately enqueues a fresh
// snapshot envelope for it (spec.md §4.7: snapshot = "full state on
// subscribe").
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Envelope, subscriberQueueSize)
	sub := &Subscription{C: ch, send: ch}

	b.mu.Lock()
	b.subs[sub] = true
	fn := b.snapshotFn
	b.mu.Unlock()

	if fn != nil {
		sub.deliver(b.envelope(TypeSnapshot, "", fn()))
	}
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		sub.close()
	}
}

// nextVersion bumps and returns the version counter for entityID
// (spec.md §4.7: "version increments on every payload-affecting change to
// the referenced entity").
func (b *Bus) nextVersion(entityID string) int {
	if entityID == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[entityID]++
	return b.versions[entityID]
}

func (b *Bus) envelope(t EnvelopeType, entityID string, payload any) Envelope {
	return Envelope{
		ID:      b.seq.Add(1),
		Type:    t,
		Version: b.nextVersion(entityID),
		Payload: payload,
	}
}

// publish delivers an envelope to every subscriber, dropping (and closing)
// any subscriber whose queue is full rather than blocking (spec.md §4.7
// Delivery: "slow subscribers are dropped and resubscribe with a new
// snapshot").
func (b *Bus) publish(t EnvelopeType, entityID string, payload any) {
	e := b.envelope(t, entityID, payload)
	if t != TypeHeartbeat {
		b.lastPublish.Store(time.Now().UnixMilli())
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.deliver(e) {
			b.Unsubscribe(s)
		}
	}
}

// PublishTraceAdded, PublishTraceUpdated, PublishTraceRemoved, and
// PublishEventsAppended map directly to the store.Change kinds that drive
// them (spec.md §4.7 Types).
func (b *Bus) PublishTraceAdded(traceID string, payload any)     { b.publish(TypeTraceAdded, traceID, payload) }
func (b *Bus) PublishTraceUpdated(traceID string, payload any)   { b.publish(TypeTraceUpdated, traceID, payload) }
func (b *Bus) PublishTraceRemoved(traceID string, payload any)   { b.publish(TypeTraceRemoved, traceID, payload) }
func (b *Bus) PublishEventsAppended(traceID string, payload any) { b.publish(TypeEventsAppended, traceID, payload) }
func (b *Bus) PublishOverviewUpdated(payload any)                { b.publish(TypeOverviewUpdated, "", payload) }
func (b *Bus) PublishSourceHealth(payload any)                   { b.publish(TypeSourceHealth, "", payload) }
