// Package ws connects websocket clients to the relay.
package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/serroba/livedoc/internal/relay"
)

// ErrClientClosed is returned when writing to a closed client.
var ErrClientClosed = errors.New("client is closed")

const (
	// DefaultSendBuffer is the outbound queue length of a client.
	DefaultSendBuffer = 256

	// writeWait is how long a single write may take.
	writeWait = 10 * time.Second
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client represents a connected participant. It is a relay endpoint.
type Client struct {
	id    string
	docID string
	conn  Conn

	// writeMu serializes writes. mu is never held while writing so a stalled
	// connection cannot block Deliver or Close.
	writeMu sync.Mutex

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

// NewClient creates a new client wrapper.
func NewClient(id, docID string, conn Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}

	return &Client{
		id:    id,
		docID: docID,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
}

// ID implements relay.Endpoint.
func (c *Client) ID() string {
	return c.id
}

// DocID returns the document the client is connected to.
func (c *Client) DocID() string {
	return c.docID
}

// Deliver queues a message for the client. A slow client loses messages
// rather than stalling the relay.
func (c *Client) Deliver(_ string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("client send queue full, dropping message client=%s doc=%s", c.id, c.docID)
	}
}

// Send writes a message to the connection immediately. The write fails if it
// takes longer than writeWait.
func (c *Client) Send(data []byte) error {
	if c.Closed() {
		return ErrClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the client connection. It is safe to call more than once and
// unblocks a write in progress.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	return c.conn.Close()
}

// Closed reports whether the client was closed.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// writePump drains the send queue until the client closes.
func (c *Client) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.Send(data); err != nil {
				if !errors.Is(err, ErrClientClosed) {
					log.Printf("write failed client=%s doc=%s: %v", c.id, c.docID, err)
				}

				_ = c.Close()

				return
			}
		case <-c.done:
			return
		}
	}
}

// Serve registers the client with the relay and publishes everything it
// sends until the connection fails. The client is closed on return.
func Serve(ctx context.Context, r *relay.Relay, c *Client) {
	r.Register(c.docID, c)

	defer func() {
		r.Unregister(c.docID, c.id)
		_ = c.Close()
	}()

	go c.writePump()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.Closed() {
				log.Printf("read failed client=%s doc=%s: %v", c.id, c.docID, err)
			}

			return
		}

		r.Publish(ctx, c.docID, c.id, data)
	}
}

var _ relay.Endpoint = (*Client)(nil)
