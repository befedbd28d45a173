// Package channel provides the bidirectional message transport between one
// participant and a relay.
package channel

// State is the lifecycle state of a channel.
type State int

// Channel states. A channel only moves forward: Connecting, Open, Closed.
const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives lifecycle callbacks. Nil fields are skipped. Callbacks run
// one at a time, in the order the events happened.
type Handler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func()
	OnError   func(err error)
}

func (h Handler) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handler) message(data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(data)
	}
}

func (h Handler) close() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Channel is a fire-and-forget message transport.
//
// Open starts connecting and returns immediately. Send reports whether the
// message was handed to the transport; it is a no-op unless the channel is
// open. Close is immediate and idempotent.
type Channel interface {
	ID() string
	Open(h Handler)
	Send(data []byte) bool
	Close()
	State() State
}
