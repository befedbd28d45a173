package channel

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"github.com/serroba/livedoc/internal/eventloop"
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256
)

// DialURL returns the websocket URL of a relay document room.
func DialURL(base, docID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("docId", docID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Socket is a channel over a websocket connection to a relay server.
type Socket struct {
	id     string
	url    string
	dialer *websocket.Dialer
	loop   *eventloop.Loop

	mu      sync.Mutex
	state   State
	opening bool
	handler Handler
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
}

// SocketConfig holds configuration for creating a socket channel.
type SocketConfig struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// SendBuffer is the outbound queue length. Sends are dropped when it is full.
	SendBuffer int
}

// NewSocket creates a socket channel for the given URL in the Connecting state.
func NewSocket(rawURL string, cfg SocketConfig) *Socket {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}

	return &Socket{
		id:     ksuid.New().String(),
		url:    rawURL,
		dialer: dialer,
		loop:   eventloop.New(),
		send:   make(chan []byte, buf),
		done:   make(chan struct{}),
	}
}

// ID returns a local identifier for the connection.
func (s *Socket) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Open dials the relay in the background.
func (s *Socket) Open(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connecting || s.opening {
		return
	}

	s.opening = true
	s.handler = h

	go s.connect()
}

func (s *Socket) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.finish(err)

		return
	}

	s.mu.Lock()

	if s.state != Connecting {
		s.mu.Unlock()
		_ = conn.Close()

		return
	}

	s.state = Open
	s.conn = conn
	h := s.handler
	s.mu.Unlock()

	s.loop.Post(h.open)

	go s.writePump(conn)
	s.readLoop(conn, h)
}

func (s *Socket) readLoop(conn *websocket.Conn, h Handler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				s.finish(nil)
			} else {
				s.finish(err)
			}

			return
		}

		s.loop.Post(func() { h.message(data) })
	}
}

func (s *Socket) writePump(conn *websocket.Conn) {
	for {
		select {
		case data := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.finish(err)

				return
			}
		case <-s.done:
			return
		}
	}
}

// Send queues data for the write pump.
func (s *Socket) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open {
		return false
	}

	select {
	case s.send <- data:
		return true
	default:
		log.Printf("socket send queue full, dropping message id=%s", s.id)

		return false
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *Socket) Close() {
	s.finish(nil)
}

// finish moves the socket to Closed, raising OnError first when err is set.
func (s *Socket) finish(err error) {
	s.mu.Lock()

	if s.state == Closed {
		s.mu.Unlock()

		return
	}

	s.state = Closed
	conn := s.conn
	h := s.handler
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}

	if err != nil {
		s.loop.Post(func() { h.error(err) })
	}

	s.loop.Post(h.close)
	s.loop.Stop()
}
