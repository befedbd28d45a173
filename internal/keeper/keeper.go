// Package keeper answers document requests on behalf of the relay.
//
// A keeper watches relay traffic and remembers, per document, the last
// content it saw and the participants that announced themselves. A newcomer's
// document-request is answered with a document-snapshot and a
// presence-snapshot sent only to the newcomer.
package keeper

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/relay"
	"github.com/serroba/livedoc/internal/storage"
)

// ID is the sender ID the keeper uses on the relay.
const ID = "keeper"

// room is what the keeper knows about one document.
type room struct {
	// locals holds the endpoints registered on this node.
	locals map[string]struct{}
	// participants maps the announcing endpoint ID to its participant. Remote
	// endpoints are known only through their announcements.
	participants map[string]protocol.Participant
	order        []string
}

func newRoom() *room {
	return &room{
		locals:       make(map[string]struct{}),
		participants: make(map[string]protocol.Participant),
	}
}

// empty reports whether nobody, local or remote, is known to be present.
func (r *room) empty() bool {
	return len(r.locals) == 0 && len(r.participants) == 0
}

func (r *room) join(endpoint string, p protocol.Participant) {
	if _, ok := r.participants[endpoint]; !ok {
		r.order = append(r.order, endpoint)
	}

	r.participants[endpoint] = p
}

func (r *room) forget(endpoint string) (protocol.Participant, bool) {
	p, ok := r.participants[endpoint]
	if !ok {
		return protocol.Participant{}, false
	}

	delete(r.participants, endpoint)

	for i, id := range r.order {
		if id == endpoint {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}

	return p, true
}

func (r *room) leave(userID string) {
	for endpoint, p := range r.participants {
		if p.ID == userID {
			r.forget(endpoint)

			return
		}
	}
}

func (r *room) list(exclude string) []protocol.Participant {
	users := make([]protocol.Participant, 0, len(r.order))

	for _, endpoint := range r.order {
		if endpoint != exclude {
			users = append(users, r.participants[endpoint])
		}
	}

	return users
}

// Keeper is a relay observer holding transient per-document state.
type Keeper struct {
	relay *relay.Relay
	store storage.Store

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates a keeper and attaches it to r.
func New(r *relay.Relay, store storage.Store) *Keeper {
	k := &Keeper{
		relay: r,
		store: store,
		rooms: make(map[string]*room),
	}

	r.Observe(k)

	return k
}

// Registered records a local endpoint.
func (k *Keeper) Registered(roomID, endpoint string) {
	k.withRoom(roomID, func(rm *room) { rm.locals[endpoint] = struct{}{} })
}

// Unregistered forgets the endpoint and, if it never said goodbye, tells the
// room it left. State is dropped once nobody on any node is known to be left.
func (k *Keeper) Unregistered(roomID, endpoint string) {
	k.mu.Lock()

	var (
		p      protocol.Participant
		leaver bool
	)

	if rm, ok := k.rooms[roomID]; ok {
		delete(rm.locals, endpoint)
		p, leaver = rm.forget(endpoint)
	}
	k.mu.Unlock()

	// Peers on other nodes hear it through the bridge even when no local
	// endpoint is left.
	if leaver {
		k.relay.Publish(context.Background(), roomID, ID, protocol.MustEncode(protocol.NewLeave(p.ID)))
	}

	k.releaseIfEmpty(roomID)
}

// releaseIfEmpty drops the state of a room nobody is known to be in.
func (k *Keeper) releaseIfEmpty(roomID string) {
	k.mu.Lock()

	rm, ok := k.rooms[roomID]
	if ok && !rm.empty() {
		k.mu.Unlock()

		return
	}

	delete(k.rooms, roomID)
	k.mu.Unlock()

	if err := k.store.DeleteSnapshot(roomID); err != nil {
		log.Printf("keeper: drop snapshot doc=%s: %v", roomID, err)
	}
}

// Published implements relay.Observer.
func (k *Keeper) Published(roomID, from string, data []byte) {
	k.observe(roomID, from, data, true)
}

// Injected implements relay.RemoteObserver. Remote requests are answered by
// the keeper of the requester's node.
func (k *Keeper) Injected(roomID, from string, data []byte) {
	k.observe(roomID, from, data, false)
}

func (k *Keeper) observe(roomID, from string, data []byte, local bool) {
	// Leaves synthesized by keepers on other nodes still count.
	if local && from == ID {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return
	}

	switch p := msg.Payload.(type) {
	case protocol.JoinPayload:
		if p.User.ID == "" {
			return
		}

		k.withRoom(roomID, func(rm *room) { rm.join(from, p.User) })
	case protocol.LeavePayload:
		k.withRoom(roomID, func(rm *room) { rm.leave(p.UserID) })
		k.releaseIfEmpty(roomID)
	case protocol.ContentUpdatePayload:
		if p.DocumentID != "" && p.DocumentID != roomID {
			return
		}

		if content, ok := lastReplace(p.Operations); ok {
			k.save(roomID, content)
		}

		k.releaseIfEmpty(roomID)
	case protocol.DocumentSnapshotPayload:
		if p.Content != "" && (p.DocumentID == "" || p.DocumentID == roomID) {
			k.save(roomID, p.Content)
		}

		k.releaseIfEmpty(roomID)
	case protocol.DocumentRequestPayload:
		if local {
			k.answer(roomID, from)
		}
	}
}

func (k *Keeper) withRoom(roomID string, f func(*room)) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rm, ok := k.rooms[roomID]
	if !ok {
		rm = newRoom()
		k.rooms[roomID] = rm
	}

	f(rm)
}

func (k *Keeper) save(roomID, content string) {
	if _, err := k.store.SaveSnapshot(roomID, content); err != nil {
		log.Printf("keeper: save snapshot doc=%s: %v", roomID, err)
	}
}

// answer sends the requester what is known about the document.
func (k *Keeper) answer(roomID, requester string) {
	snap, err := k.store.LoadSnapshot(roomID)

	switch {
	case err == nil && snap.Content != "":
		data := protocol.MustEncode(protocol.NewDocumentSnapshot(roomID, snap.Content))
		k.relay.SendTo(roomID, ID, requester, data)
	case err != nil && !errors.Is(err, storage.ErrSnapshotNotFound):
		log.Printf("keeper: load snapshot doc=%s: %v", roomID, err)
	}

	users := k.Participants(roomID, requester)
	if len(users) > 0 {
		data := protocol.MustEncode(protocol.NewPresenceSnapshot(users))
		k.relay.SendTo(roomID, ID, requester, data)
	}
}

// lastReplace returns the content of the last replace operation that has one.
func lastReplace(ops []protocol.Operation) (string, bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Kind == protocol.OpReplace && ops[i].Content != nil {
			return *ops[i].Content, true
		}
	}

	return "", false
}

// Snapshot returns the latest content known for a document.
func (k *Keeper) Snapshot(docID string) (storage.Snapshot, error) {
	return k.store.LoadSnapshot(docID)
}

// Participants returns the participants announced in a document, in join
// order, leaving out the one announced by the exclude endpoint.
func (k *Keeper) Participants(docID, exclude string) []protocol.Participant {
	k.mu.Lock()
	defer k.mu.Unlock()

	rm, ok := k.rooms[docID]
	if !ok {
		return nil
	}

	return rm.list(exclude)
}

var (
	_ relay.Observer       = (*Keeper)(nil)
	_ relay.RemoteObserver = (*Keeper)(nil)
)
