// Package collab implements the client side of a shared document: the
// connection lifecycle, the join handshake, and routing of inbound messages
// to presence and the document replica.
package collab

import (
	"errors"
	"log"
	"sync"

	"github.com/serroba/livedoc/internal/channel"
	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/presence"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/replica"
)

// Common errors.
var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrAlreadyStarted = errors.New("session already started")
)

// Status is the connection status shown to the user.
type Status string

// Connection statuses.
const (
	StatusConnecting   Status = "Connecting..."
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
	StatusError        Status = "Connection Error"
)

// Session is one participant's connection to one document.
// Inbound messages are handled one at a time on the channel's callbacks.
type Session struct {
	documentID string
	local      protocol.Participant
	channel    channel.Channel
	editor     replica.Editor
	presence   *presence.Registry
	replica    *replica.Replica

	onStatus func(Status)
	onUpdate func(protocol.Message, outcome.Outcome)

	mu      sync.Mutex
	state   channel.State
	status  Status
	started bool
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocumentID  string
	Participant protocol.Participant
	Channel     channel.Channel

	// Editor defaults to an empty replica.Buffer.
	Editor replica.Editor

	// OnStatus is called on every status change.
	OnStatus func(Status)
	// OnUpdate is called after each inbound message is handled.
	OnUpdate func(protocol.Message, outcome.Outcome)
}

// NewSession creates a session in the Connecting state. Start opens it.
func NewSession(cfg SessionConfig) *Session {
	editor := cfg.Editor
	if editor == nil {
		editor = replica.NewBuffer("")
	}

	return &Session{
		documentID: cfg.DocumentID,
		local:      cfg.Participant,
		channel:    cfg.Channel,
		editor:     editor,
		presence:   presence.NewRegistry(cfg.Participant),
		replica:    replica.New(cfg.DocumentID, editor),
		onStatus:   cfg.OnStatus,
		onUpdate:   cfg.OnUpdate,
		state:      channel.Connecting,
		status:     StatusConnecting,
	}
}

// Start opens the channel.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == channel.Closed {
		return ErrSessionClosed
	}

	if s.started {
		return ErrAlreadyStarted
	}

	s.started = true

	s.channel.Open(channel.Handler{
		OnOpen:    s.opened,
		OnMessage: s.receive,
		OnClose:   s.closed,
		OnError:   s.failed,
	})

	return nil
}

func (s *Session) opened() {
	s.mu.Lock()

	if s.state != channel.Connecting {
		s.mu.Unlock()

		return
	}

	s.state = channel.Open
	s.mu.Unlock()

	s.setStatus(StatusConnected)
	s.send(protocol.NewJoin(s.local, s.documentID))
	s.send(protocol.NewDocumentRequest(s.documentID))
}

func (s *Session) closed() {
	if s.markClosed() {
		s.setStatus(StatusDisconnected)
	}
}

func (s *Session) failed(err error) {
	log.Printf("channel error doc=%s user=%s: %v", s.documentID, s.local.ID, err)

	if s.markClosed() {
		s.setStatus(StatusError)
	}

	s.channel.Close()
}

// markClosed reports whether the session was not already closed.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == channel.Closed {
		return false
	}

	s.state = channel.Closed

	return true
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	if s.onStatus != nil {
		s.onStatus(status)
	}
}

func (s *Session) receive(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("dropping message doc=%s user=%s: %v", s.documentID, s.local.ID, err)

		return
	}

	res := s.Handle(msg)

	if s.onUpdate != nil {
		s.onUpdate(msg, res)
	}
}

// Handle applies one inbound message.
func (s *Session) Handle(msg protocol.Message) outcome.Outcome {
	if s.State() != channel.Open {
		return outcome.Ignored(outcome.NotOpen)
	}

	switch msg.Type {
	case protocol.MessageTypeJoin:
		return s.presence.Add(payloadOf[protocol.JoinPayload](msg).User)
	case protocol.MessageTypeLeave:
		return s.presence.Remove(payloadOf[protocol.LeavePayload](msg).UserID)
	case protocol.MessageTypePresenceSnapshot:
		return s.addAll(payloadOf[protocol.PresenceSnapshotPayload](msg).Users)
	case protocol.MessageTypeCursorUpdate:
		p := payloadOf[protocol.CursorUpdatePayload](msg)

		return s.presence.UpdateCursor(p.UserID, p.Position)
	case protocol.MessageTypeContentUpdate:
		p := payloadOf[protocol.ContentUpdatePayload](msg)
		if !s.sameDocument(p.DocumentID) {
			return outcome.Ignored(outcome.WrongDocument)
		}

		return s.replica.ApplyOperations(p.Operations)
	case protocol.MessageTypeDocumentRequest:
		return outcome.Ignored(outcome.Unanswered)
	case protocol.MessageTypeDocumentSnapshot:
		p := payloadOf[protocol.DocumentSnapshotPayload](msg)
		if !s.sameDocument(p.DocumentID) {
			return outcome.Ignored(outcome.WrongDocument)
		}

		return s.replica.LoadSnapshot(p.Content)
	default:
		return outcome.Ignored(outcome.UnknownType)
	}
}

// sameDocument accepts an empty ID for peers that omit it.
func (s *Session) sameDocument(id string) bool {
	return id == "" || id == s.documentID
}

func (s *Session) addAll(users []protocol.Participant) outcome.Outcome {
	if len(users) == 0 {
		return outcome.Ignored(outcome.EmptySnapshot)
	}

	var res outcome.Outcome

	applied := false

	for _, u := range users {
		if r := s.presence.Add(u); r.Applied() {
			applied = true
		} else {
			res = r
		}
	}

	if applied {
		return outcome.Applied
	}

	return res
}

// payloadOf returns the payload of msg as T, or the zero T.
func payloadOf[T any](msg protocol.Message) T {
	switch p := msg.Payload.(type) {
	case T:
		return p
	case *T:
		if p != nil {
			return *p
		}
	}

	var zero T

	return zero
}

// Edit publishes the editor's content if it changed since it was last
// published or applied.
func (s *Session) Edit() (outcome.Outcome, error) {
	switch s.State() {
	case channel.Closed:
		return outcome.Outcome{}, ErrSessionClosed
	case channel.Connecting:
		return outcome.Ignored(outcome.NotOpen), nil
	}

	content, changed := s.replica.CaptureLocal()
	if !changed {
		return outcome.Ignored(outcome.DuplicateContent), nil
	}

	s.send(protocol.NewContentUpdate(s.documentID, content))

	return outcome.Applied, nil
}

// SetContent replaces the local content and publishes it.
func (s *Session) SetContent(content string) (outcome.Outcome, error) {
	switch s.State() {
	case channel.Closed:
		return outcome.Outcome{}, ErrSessionClosed
	case channel.Connecting:
		return outcome.Ignored(outcome.NotOpen), nil
	}

	s.editor.SetContent(content)

	return s.Edit()
}

// MoveCursor publishes the local cursor position.
func (s *Session) MoveCursor(pos protocol.Position) (outcome.Outcome, error) {
	switch s.State() {
	case channel.Closed:
		return outcome.Outcome{}, ErrSessionClosed
	case channel.Connecting:
		return outcome.Ignored(outcome.NotOpen), nil
	}

	s.send(protocol.NewCursorUpdate(s.local.ID, pos))

	return outcome.Applied, nil
}

// Leave tells peers the participant is gone, then closes the session.
func (s *Session) Leave() {
	if s.State() == channel.Open {
		s.send(protocol.NewLeave(s.local.ID))
	}

	s.Close()
}

// Close closes the channel. Peers only learn about it from the relay.
func (s *Session) Close() {
	s.channel.Close()

	if s.markClosed() {
		s.setStatus(StatusDisconnected)
	}
}

func (s *Session) send(msg protocol.Message) {
	s.channel.Send(protocol.MustEncode(msg))
}

// State returns the connection state.
func (s *Session) State() channel.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Status returns the last connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// DocumentID returns the shared document's ID.
func (s *Session) DocumentID() string {
	return s.documentID
}

// Local returns the local participant.
func (s *Session) Local() protocol.Participant {
	return s.local
}

// Participants returns the local participant followed by known peers.
func (s *Session) Participants() []protocol.Participant {
	return s.presence.ListAll()
}

// Presence returns the presence registry.
func (s *Session) Presence() *presence.Registry {
	return s.presence
}

// Replica returns the document replica.
func (s *Session) Replica() *replica.Replica {
	return s.replica
}

// Content returns the local document content.
func (s *Session) Content() string {
	return s.replica.Content()
}

// CharacterCount returns the number of text characters in the document.
func (s *Session) CharacterCount() int {
	return replica.TextLength(s.replica.Content())
}
