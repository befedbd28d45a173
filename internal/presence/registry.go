// Package presence tracks the remote participants a client knows about and
// their cursor markers.
package presence

import (
	"sync"

	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/protocol"
)

// Marker is a remote participant's cursor.
type Marker struct {
	OwnerID  string            `json:"ownerId"`
	Position protocol.Position `json:"position"`
}

// Registry holds the remote participants of one client, in insertion order.
// The local participant is never stored.
type Registry struct {
	local protocol.Participant

	mu           sync.RWMutex
	order        []string
	participants map[string]protocol.Participant
	markers      map[string]*Marker
}

// NewRegistry creates an empty registry for the given local participant.
func NewRegistry(local protocol.Participant) *Registry {
	return &Registry{
		local:        local,
		participants: make(map[string]protocol.Participant),
		markers:      make(map[string]*Marker),
	}
}

// Local returns the local participant.
func (r *Registry) Local() protocol.Participant {
	return r.local
}

// Add inserts or overwrites a remote participant and creates its marker if
// it has none.
func (r *Registry) Add(p protocol.Participant) outcome.Outcome {
	if p.ID == "" {
		return outcome.Ignored(outcome.MissingID)
	}

	if p.ID == r.local.ID {
		return outcome.Ignored(outcome.Self)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}

	r.participants[p.ID] = p

	if _, ok := r.markers[p.ID]; !ok {
		r.markers[p.ID] = &Marker{OwnerID: p.ID}
	}

	return outcome.Applied
}

// Remove deletes a participant and its marker.
func (r *Registry) Remove(id string) outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return outcome.Ignored(outcome.UnknownParticipant)
	}

	delete(r.participants, id)
	delete(r.markers, id)

	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}

	return outcome.Applied
}

// UpdateCursor moves a participant's marker.
func (r *Registry) UpdateCursor(id string, pos *protocol.Position) outcome.Outcome {
	if pos == nil {
		return outcome.Ignored(outcome.MissingPosition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markers[id]
	if !ok {
		return outcome.Ignored(outcome.UnknownParticipant)
	}

	m.Position = *pos

	return outcome.Applied
}

// ListAll returns the local participant followed by the remote participants
// in insertion order.
func (r *Registry) ListAll() []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]protocol.Participant, 0, len(r.order)+1)
	all = append(all, r.local)

	for _, id := range r.order {
		all = append(all, r.participants[id])
	}

	return all
}

// Remote returns the remote participants in insertion order.
func (r *Registry) Remote() []protocol.Participant {
	return r.ListAll()[1:]
}

// Participant returns a remote participant by ID.
func (r *Registry) Participant(id string) (protocol.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]

	return p, ok
}

// Marker returns a copy of a participant's marker.
func (r *Registry) Marker(id string) (Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markers[id]
	if !ok {
		return Marker{}, false
	}

	return *m, true
}

// Markers returns copies of all markers in participant insertion order.
func (r *Registry) Markers() []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markers := make([]Marker, 0, len(r.order))
	for _, id := range r.order {
		markers = append(markers, *r.markers[id])
	}

	return markers
}

// Len returns the number of remote participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.participants)
}

// Clear forgets every remote participant.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.participants = make(map[string]protocol.Participant)
	r.markers = make(map[string]*Marker)
}
