// Package relay fans out each message sent by one participant to every
// other participant registered on the same document.
package relay

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/serroba/livedoc/internal/relay")

// Endpoint is a channel registered with the relay.
type Endpoint interface {
	ID() string
	Deliver(from string, data []byte)
}

// Observer is notified of registry changes and of every locally published
// message. Callbacks run outside the relay lock and may call back into it.
type Observer interface {
	Registered(room, id string)
	Unregistered(room, id string)
	Published(room, from string, data []byte)
}

// RemoteObserver is an Observer that also sees messages injected from other
// relay nodes.
type RemoteObserver interface {
	Injected(room, from string, data []byte)
}

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Rooms     int    `json:"rooms"`
	Endpoints int    `json:"endpoints"`
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Relay manages endpoints per room (document ID) and broadcasts messages.
type Relay struct {
	mu sync.RWMutex

	// rooms maps room to endpoint ID to endpoint
	rooms     map[string]map[string]Endpoint
	observers []Observer

	link  Link
	sched Scheduler

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds configuration for creating a relay.
type Config struct {
	Link      Link
	Scheduler Scheduler
}

// New creates a relay. Missing fields default to Direct and RealTime.
func New(cfg Config) *Relay {
	link := cfg.Link
	if link == nil {
		link = Direct{}
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = RealTime{}
	}

	return &Relay{
		rooms: make(map[string]map[string]Endpoint),
		link:  link,
		sched: sched,
	}
}

// Observe adds an observer.
func (r *Relay) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, o)
}

// Register adds an endpoint to a room. An endpoint with the same ID is replaced.
func (r *Relay) Register(room string, e Endpoint) {
	r.mu.Lock()

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Endpoint)
	}

	r.rooms[room][e.ID()] = e
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.Registered(room, e.ID())
	}
}

// Unregister removes an endpoint from a room. Pending deliveries to it are
// dropped when they fire.
func (r *Relay) Unregister(room, id string) {
	r.mu.Lock()

	endpoints, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()

		return
	}

	if _, ok := endpoints[id]; !ok {
		r.mu.Unlock()

		return
	}

	delete(endpoints, id)

	if len(endpoints) == 0 {
		delete(r.rooms, room)
	}

	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.Unregistered(room, id)
	}
}

// Publish sends data to every endpoint in the room except the sender.
// Each delivery is planned and scheduled independently. data must not be
// modified afterwards.
func (r *Relay) Publish(ctx context.Context, room, from string, data []byte) {
	_, span := tracer.Start(ctx, "relay.publish")
	defer span.End()

	r.published.Add(1)

	targets := r.others(room, from)
	span.SetAttributes(
		attribute.String("relay.room", room),
		attribute.String("relay.from", from),
		attribute.Int("relay.fanout", len(targets)),
		attribute.Int("relay.bytes", len(data)),
	)

	r.fanOut(room, from, data, targets)

	for _, o := range r.currentObservers() {
		o.Published(room, from, data)
	}
}

// Inject delivers a message that was published on another relay node.
// Only RemoteObservers are notified, so bridged traffic is never re-bridged.
func (r *Relay) Inject(room, from string, data []byte) {
	r.fanOut(room, from, data, r.others(room, from))

	for _, o := range r.currentObservers() {
		if ro, ok := o.(RemoteObserver); ok {
			ro.Injected(room, from, data)
		}
	}
}

func (r *Relay) currentObservers() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.observers
}

// SendTo delivers data to a single endpoint, if it is registered.
func (r *Relay) SendTo(room, from, to string, data []byte) {
	r.mu.RLock()
	target, ok := r.rooms[room][to]
	r.mu.RUnlock()

	if !ok {
		return
	}

	r.fanOut(room, from, data, []Endpoint{target})
}

func (r *Relay) others(room, from string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]Endpoint, 0, len(r.rooms[room]))

	for id, e := range r.rooms[room] {
		if id == from {
			continue
		}

		targets = append(targets, e)
	}

	return targets
}

func (r *Relay) fanOut(room, from string, data []byte, targets []Endpoint) {
	for _, e := range targets {
		delay, drop := r.link.Plan(from, e.ID())
		if drop {
			r.dropped.Add(1)

			continue
		}

		r.sched.AfterFunc(delay, func() {
			r.deliver(room, from, e, data)
		})
	}
}

// deliver hands data to e unless e left the room while the delivery was in flight.
func (r *Relay) deliver(room, from string, e Endpoint, data []byte) {
	r.mu.RLock()
	current, ok := r.rooms[room][e.ID()]
	r.mu.RUnlock()

	if !ok || current != e {
		r.dropped.Add(1)

		return
	}

	e.Deliver(from, data)
	r.delivered.Add(1)
}

// Count returns the number of endpoints registered in a room.
func (r *Relay) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room])
}

// Members returns the endpoint IDs registered in a room, sorted.
func (r *Relay) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Rooms returns the rooms that have at least one endpoint, sorted.
func (r *Relay) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}

	sort.Strings(rooms)

	return rooms
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	r.mu.RLock()
	rooms := len(r.rooms)
	endpoints := 0

	for _, e := range r.rooms {
		endpoints += len(e)
	}
	r.mu.RUnlock()

	return Stats{
		Rooms:     rooms,
		Endpoints: endpoints,
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}
