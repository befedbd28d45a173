package collab_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serroba/livedoc/internal/channel"
	"github.com/serroba/livedoc/internal/collab"
	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/relay"
	"github.com/stretchr/testify/require"
)

// fakeChannel runs callbacks synchronously when the test drives it.
type fakeChannel struct {
	mu      sync.Mutex
	handler channel.Handler
	state   channel.State
	sent    [][]byte
}

func (f *fakeChannel) ID() string { return "fake" }

func (f *fakeChannel) Open(h channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = h
}

func (f *fakeChannel) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeChannel) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != channel.Open {
		return false
	}

	f.sent = append(f.sent, data)

	return true
}

func (f *fakeChannel) Close() {
	f.mu.Lock()

	if f.state == channel.Closed {
		f.mu.Unlock()

		return
	}

	f.state = channel.Closed
	h := f.handler
	f.mu.Unlock()

	if h.OnClose != nil {
		h.OnClose()
	}
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	f.state = channel.Open
	h := f.handler
	f.mu.Unlock()

	h.OnOpen()
}

func (f *fakeChannel) deliver(msg protocol.Message) {
	f.deliverRaw(protocol.MustEncode(msg))
}

func (f *fakeChannel) deliverRaw(data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	h.OnMessage(data)
}

func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	h.OnError(err)
}

func (f *fakeChannel) Sent(t *testing.T) []protocol.Message {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := make([]protocol.Message, 0, len(f.sent))

	for _, data := range f.sent {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)

		msgs = append(msgs, msg)
	}

	return msgs
}

var (
	me   = protocol.Participant{ID: "me", DisplayName: "Me", Color: "#4285f4", Avatar: "M"}
	alex = protocol.Participant{ID: "user2", DisplayName: "Alex Johnson", Color: "#34a853", Avatar: "A"}
	sam  = protocol.Participant{ID: "user3", DisplayName: "Sam Davis", Color: "#fbbc05", Avatar: "S"}
)

type statusLog struct {
	mu       sync.Mutex
	statuses []collab.Status
}

func (l *statusLog) add(s collab.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statuses = append(l.statuses, s)
}

func (l *statusLog) List() []collab.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]collab.Status(nil), l.statuses...)
}

func newOpenSession(t *testing.T) (*collab.Session, *fakeChannel) {
	t.Helper()

	ch := &fakeChannel{}
	session := collab.NewSession(collab.SessionConfig{
		DocumentID:  "doc-1",
		Participant: me,
		Channel:     ch,
	})

	require.NoError(t, session.Start())
	ch.open()

	return session, ch
}

func TestSession_OpenSendsJoinThenDocumentRequest(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	statuses := &statusLog{}
	session := collab.NewSession(collab.SessionConfig{
		DocumentID:  "doc-1",
		Participant: me,
		Channel:     ch,
		OnStatus:    statuses.add,
	})

	if session.State() != channel.Connecting {
		t.Errorf("expected connecting, got %s", session.State())
	}

	require.NoError(t, session.Start())
	require.ErrorIs(t, session.Start(), collab.ErrAlreadyStarted)

	ch.open()

	require.Equal(t, channel.Open, session.State())
	require.Equal(t, collab.StatusConnected, session.Status())
	require.Equal(t, []collab.Status{collab.StatusConnected}, statuses.List())

	sent := ch.Sent(t)
	require.Len(t, sent, 2)
	require.Equal(t, protocol.NewJoin(me, "doc-1"), sent[0])
	require.Equal(t, protocol.NewDocumentRequest("doc-1"), sent[1])
}

func TestSession_InboundPresence(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)

	ch.deliver(protocol.NewJoin(alex, "doc-1"))
	ch.deliver(protocol.NewPresenceSnapshot([]protocol.Participant{sam, me}))
	ch.deliver(protocol.NewCursorUpdate(alex.ID, protocol.Position{X: 120, Y: 80}))

	require.Equal(t, []protocol.Participant{me, alex, sam}, session.Participants())

	m, ok := session.Presence().Marker(alex.ID)
	require.True(t, ok)
	require.Equal(t, protocol.Position{X: 120, Y: 80}, m.Position)

	ch.deliver(protocol.NewLeave(alex.ID))
	require.Equal(t, []protocol.Participant{me, sam}, session.Participants())
}

func TestSession_HandleOutcomes(t *testing.T) {
	t.Parallel()

	session, _ := newOpenSession(t)
	session.Handle(protocol.NewJoin(alex, "doc-1"))

	tests := []struct {
		name string
		msg  protocol.Message
		want outcome.Outcome
	}{
		{"self join", protocol.NewJoin(me, "doc-1"), outcome.Ignored(outcome.Self)},
		{"join without id", protocol.NewJoin(protocol.Participant{DisplayName: "x"}, "doc-1"), outcome.Ignored(outcome.MissingID)},
		{"unknown leave", protocol.NewLeave("nobody"), outcome.Ignored(outcome.UnknownParticipant)},
		{"cursor of unknown", protocol.NewCursorUpdate("nobody", protocol.Position{}), outcome.Ignored(outcome.UnknownParticipant)},
		{
			"cursor without position",
			protocol.Message{Type: protocol.MessageTypeCursorUpdate, Payload: protocol.CursorUpdatePayload{UserID: alex.ID}},
			outcome.Ignored(outcome.MissingPosition),
		},
		{"self cursor", protocol.NewCursorUpdate(me.ID, protocol.Position{X: 1}), outcome.Ignored(outcome.UnknownParticipant)},
		{"empty presence snapshot", protocol.NewPresenceSnapshot(nil), outcome.Ignored(outcome.EmptySnapshot)},
		{"presence snapshot of self", protocol.NewPresenceSnapshot([]protocol.Participant{me}), outcome.Ignored(outcome.Self)},
		{"document request", protocol.NewDocumentRequest("doc-1"), outcome.Ignored(outcome.Unanswered)},
		{"empty document snapshot", protocol.NewDocumentSnapshot("doc-1", ""), outcome.Ignored(outcome.EmptySnapshot)},
		{"other document content", protocol.NewContentUpdate("doc-2", "x"), outcome.Ignored(outcome.WrongDocument)},
		{"other document snapshot", protocol.NewDocumentSnapshot("doc-2", "x"), outcome.Ignored(outcome.WrongDocument)},
		{
			"content without operations",
			protocol.Message{Type: protocol.MessageTypeContentUpdate, Payload: protocol.ContentUpdatePayload{DocumentID: "doc-1"}},
			outcome.Ignored(outcome.NoOperations),
		},
		{"unknown type", protocol.Message{Type: "get-document"}, outcome.Ignored(outcome.UnknownType)},
		{"pointer payload", protocol.Message{Type: protocol.MessageTypeLeave, Payload: &protocol.LeavePayload{UserID: alex.ID}}, outcome.Applied},
	}

	for _, tt := range tests {
		if got := session.Handle(tt.msg); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestSession_IgnoresWhenNotOpen(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	session := collab.NewSession(collab.SessionConfig{DocumentID: "doc-1", Participant: me, Channel: ch})

	require.Equal(t, outcome.Ignored(outcome.NotOpen), session.Handle(protocol.NewJoin(alex, "doc-1")))

	res, err := session.MoveCursor(protocol.Position{X: 1, Y: 1})
	require.NoError(t, err)
	require.Equal(t, outcome.Ignored(outcome.NotOpen), res)

	res, err = session.SetContent("draft")
	require.NoError(t, err)
	require.Equal(t, outcome.Ignored(outcome.NotOpen), res)

	// The rejected content must not linger in the editor.
	require.Empty(t, session.Content())
}

func TestSession_ContentUpdateLastDeliveredWins(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)

	// A sent X then Y; the relay delivered Y first.
	ch.deliver(protocol.NewContentUpdate("doc-1", "Y"))
	ch.deliver(protocol.NewContentUpdate("doc-1", "X"))

	require.Equal(t, "X", session.Content())
	require.Equal(t, "X", session.Replica().LastApplied())

	// In send order the later update wins.
	ch.deliver(protocol.NewContentUpdate("doc-1", "Y"))
	require.Equal(t, "Y", session.Content())
}

func TestSession_DuplicateContentIsNoOp(t *testing.T) {
	t.Parallel()

	session, _ := newOpenSession(t)

	require.Equal(t, outcome.Applied, session.Handle(protocol.NewContentUpdate("doc-1", "hello")))
	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), session.Handle(protocol.NewContentUpdate("doc-1", "hello")))
	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), session.Handle(protocol.NewDocumentSnapshot("doc-1", "hello")))
}

func TestSession_DocumentSnapshot(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)

	ch.deliver(protocol.NewDocumentSnapshot("doc-1", "<p>Hello <b>world</b></p>"))

	require.Equal(t, "<p>Hello <b>world</b></p>", session.Content())
	require.Equal(t, 11, session.CharacterCount())
}

func TestSession_EditDeduplicates(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)

	res, err := session.SetContent("hello")
	require.NoError(t, err)
	require.Equal(t, outcome.Applied, res)

	res, err = session.SetContent("hello")
	require.NoError(t, err)
	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), res)

	// Content applied from a peer is not published back.
	ch.deliver(protocol.NewContentUpdate("doc-1", "from alex"))

	res, err = session.Edit()
	require.NoError(t, err)
	require.Equal(t, outcome.Ignored(outcome.DuplicateContent), res)

	sent := ch.Sent(t)
	require.Len(t, sent, 3)
	require.Equal(t, protocol.NewContentUpdate("doc-1", "hello"), sent[2])
}

func TestSession_MoveCursorAlwaysPublishes(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)

	for range 2 {
		res, err := session.MoveCursor(protocol.Position{X: 10, Y: 20})
		require.NoError(t, err)
		require.True(t, res.Applied())
	}

	sent := ch.Sent(t)
	require.Len(t, sent, 4)
	require.Equal(t, protocol.NewCursorUpdate(me.ID, protocol.Position{X: 10, Y: 20}), sent[3])
}

func TestSession_MalformedMessageIsDropped(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		updates int
	)

	ch := &fakeChannel{}
	session := collab.NewSession(collab.SessionConfig{
		DocumentID:  "doc-1",
		Participant: me,
		Channel:     ch,
		OnUpdate: func(protocol.Message, outcome.Outcome) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	})

	require.NoError(t, session.Start())
	ch.open()

	ch.deliverRaw([]byte("{not json"))
	ch.deliverRaw([]byte(`{"type":"user-joined"}`))
	ch.deliver(protocol.NewJoin(alex, "doc-1"))

	require.Equal(t, channel.Open, session.State())
	require.Equal(t, 1, updates)
	require.Len(t, session.Participants(), 2)
}

func TestSession_CloseAndError(t *testing.T) {
	t.Parallel()

	t.Run("close", func(t *testing.T) {
		t.Parallel()

		session, ch := newOpenSession(t)
		ch.Close()

		require.Equal(t, channel.Closed, session.State())
		require.Equal(t, collab.StatusDisconnected, session.Status())

		_, err := session.SetContent("late")
		require.ErrorIs(t, err, collab.ErrSessionClosed)

		_, err = session.MoveCursor(protocol.Position{})
		require.ErrorIs(t, err, collab.ErrSessionClosed)

		require.ErrorIs(t, session.Start(), collab.ErrSessionClosed)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		session, ch := newOpenSession(t)
		ch.fail(errors.New("connection reset"))

		require.Equal(t, channel.Closed, session.State())
		require.Equal(t, collab.StatusError, session.Status())
		require.Equal(t, channel.Closed, ch.State())
	})
}

func TestSession_LeaveSaysGoodbye(t *testing.T) {
	t.Parallel()

	session, ch := newOpenSession(t)
	session.Leave()

	sent := ch.Sent(t)
	require.Equal(t, protocol.NewLeave(me.ID), sent[len(sent)-1])
	require.Equal(t, channel.Closed, session.State())
}

// manualScheduler holds timers until the test fires them.
type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, f)
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func (s *manualScheduler) take() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil

	return pending
}

func (s *manualScheduler) FireAll() {
	for _, f := range s.take() {
		f()
	}
}

func (s *manualScheduler) FireReverse() {
	pending := s.take()
	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}

// connectPair opens two sessions on one relay and waits for the handshake.
func connectPair(t *testing.T) (a, b *collab.Session, sched *manualScheduler) {
	t.Helper()

	sched = &manualScheduler{}
	r := relay.New(relay.Config{Scheduler: sched})
	manager := collab.NewManager(collab.ManagerConfig{Relay: r, Scheduler: sched})

	a, err := manager.Join("doc-1", alex)
	require.NoError(t, err)

	b, err = manager.Join("doc-1", sam)
	require.NoError(t, err)

	// Channel setup timers.
	sched.FireAll()

	// join + document-request from each side.
	require.Eventually(t, func() bool { return sched.Len() == 4 }, time.Second, time.Millisecond)
	sched.FireAll()

	require.Eventually(t, func() bool {
		return a.Presence().Len() == 1 && b.Presence().Len() == 1
	}, time.Second, time.Millisecond)

	return a, b, sched
}

func TestSession_OwnBroadcastDoesNotTouchReplica(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	r := relay.New(relay.Config{Scheduler: sched})
	ch := channel.NewLocal(channel.LocalConfig{Relay: r, Room: "doc-1", Scheduler: sched})

	var (
		mu      sync.Mutex
		inbound int
	)

	session := collab.NewSession(collab.SessionConfig{
		DocumentID:  "doc-1",
		Participant: me,
		Channel:     ch,
		OnUpdate: func(protocol.Message, outcome.Outcome) {
			mu.Lock()
			inbound++
			mu.Unlock()
		},
	})

	require.NoError(t, session.Start())
	sched.FireAll()
	require.Eventually(t, func() bool { return session.State() == channel.Open }, time.Second, time.Millisecond)

	res, err := session.SetContent("hello")
	require.NoError(t, err)
	require.True(t, res.Applied())
	require.Equal(t, "hello", session.Replica().LastApplied())

	sched.FireAll()

	mu.Lock()
	defer mu.Unlock()

	if inbound != 0 {
		t.Errorf("expected no inbound messages, got %d", inbound)
	}

	if sched.Len() != 0 || r.Stats().Delivered != 0 {
		t.Errorf("expected nothing delivered to a lone participant, got %+v", r.Stats())
	}
}

func TestSession_ReorderedDeliveryLastDeliveredWins(t *testing.T) {
	t.Parallel()

	a, b, sched := connectPair(t)

	_, err := a.SetContent("X")
	require.NoError(t, err)
	_, err = a.SetContent("Y")
	require.NoError(t, err)

	// Deliver Y, then X.
	sched.FireReverse()

	require.Eventually(t, func() bool { return b.Content() == "X" }, time.Second, time.Millisecond)
	require.Equal(t, "X", b.Replica().LastApplied())
	require.Equal(t, "Y", a.Content())
}

func TestSession_InOrderDeliveryConverges(t *testing.T) {
	t.Parallel()

	a, b, sched := connectPair(t)

	_, err := a.SetContent("X")
	require.NoError(t, err)
	_, err = a.SetContent("Y")
	require.NoError(t, err)

	sched.FireAll()

	require.Eventually(t, func() bool { return b.Content() == "Y" }, time.Second, time.Millisecond)

	_, err = b.MoveCursor(protocol.Position{X: 42, Y: 7})
	require.NoError(t, err)
	sched.FireAll()

	require.Eventually(t, func() bool {
		m, ok := a.Presence().Marker(sam.ID)

		return ok && m.Position == protocol.Position{X: 42, Y: 7}
	}, time.Second, time.Millisecond)
}
