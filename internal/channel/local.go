package channel

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/serroba/livedoc/internal/eventloop"
	"github.com/serroba/livedoc/internal/relay"
)

// DefaultSetupDelay is how long a local channel takes to open.
const DefaultSetupDelay = 500 * time.Millisecond

// Local is an in-process channel attached to one room of a relay.
// It registers with the relay when it opens and deregisters when it closes.
type Local struct {
	id         string
	room       string
	relay      *relay.Relay
	sched      relay.Scheduler
	loop       *eventloop.Loop
	setupDelay time.Duration

	mu      sync.Mutex
	state   State
	opening bool
	handler Handler
}

// LocalConfig holds configuration for creating a local channel.
type LocalConfig struct {
	Relay *relay.Relay
	Room  string

	// ID defaults to a fresh ksuid.
	ID string
	// SetupDelay defaults to DefaultSetupDelay.
	SetupDelay time.Duration
	// Scheduler defaults to relay.RealTime.
	Scheduler relay.Scheduler
}

// NewLocal creates a local channel in the Connecting state.
func NewLocal(cfg LocalConfig) *Local {
	id := cfg.ID
	if id == "" {
		id = ksuid.New().String()
	}

	delay := cfg.SetupDelay
	if delay == 0 {
		delay = DefaultSetupDelay
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = relay.RealTime{}
	}

	return &Local{
		id:         id,
		room:       cfg.Room,
		relay:      cfg.Relay,
		sched:      sched,
		loop:       eventloop.New(),
		setupDelay: delay,
	}
}

// ID returns the channel's endpoint ID on the relay.
func (l *Local) ID() string {
	return l.id
}

// State returns the current lifecycle state.
func (l *Local) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Open schedules the transition to Open after the setup delay.
// Calling Open more than once has no effect.
func (l *Local) Open(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Connecting || l.opening {
		return
	}

	l.opening = true
	l.handler = h

	l.sched.AfterFunc(l.setupDelay, l.established)
}

func (l *Local) established() {
	l.mu.Lock()

	if l.state != Connecting {
		l.mu.Unlock()

		return
	}

	l.state = Open
	h := l.handler
	l.mu.Unlock()

	l.relay.Register(l.room, l)
	l.loop.Post(h.open)
}

// Send publishes data to every other channel in the room.
func (l *Local) Send(data []byte) bool {
	l.mu.Lock()
	open := l.state == Open
	l.mu.Unlock()

	if !open {
		return false
	}

	l.relay.Publish(context.Background(), l.room, l.id, data)

	return true
}

// Close marks the channel closed and leaves the relay.
func (l *Local) Close() {
	l.mu.Lock()

	if l.state == Closed {
		l.mu.Unlock()

		return
	}

	wasOpen := l.state == Open
	l.state = Closed
	h := l.handler
	l.mu.Unlock()

	if wasOpen {
		l.relay.Unregister(l.room, l.id)
	}

	l.loop.Post(h.close)
	l.loop.Stop()
}

// Deliver implements relay.Endpoint.
func (l *Local) Deliver(_ string, data []byte) {
	l.mu.Lock()
	open := l.state == Open
	h := l.handler
	l.mu.Unlock()

	if !open {
		return
	}

	l.loop.Post(func() { h.message(data) })
}
